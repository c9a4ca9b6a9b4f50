package checkpoint

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

const (
	dtypeF64      = "F64"
	metadataKey   = "__metadata__"
	maxHeaderSize = 100 * 1024 * 1024
)

type tensorInfo struct {
	Dtype       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

type tensor struct {
	name  string
	shape []int
	data  []float64
}

// writeSafetensors writes tensors sorted by name, float64 little-endian.
func writeSafetensors(w io.Writer, tensors []tensor, metadata map[string]string) error {
	sort.Slice(tensors, func(i, j int) bool { return tensors[i].name < tensors[j].name })

	header := make(map[string]any, len(tensors)+1)
	var offset int64
	for _, t := range tensors {
		size := int64(len(t.data)) * 8
		header[t.name] = tensorInfo{Dtype: dtypeF64, Shape: t.shape, DataOffsets: [2]int64{offset, offset + size}}
		offset += size
	}
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	raw, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "failed to encode header")
	}
	// Pad so the data section starts 8-byte aligned.
	for len(raw)%8 != 0 {
		raw = append(raw, ' ')
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(raw))); err != nil {
		return err
	}
	if _, err := bw.Write(raw); err != nil {
		return err
	}
	var buf [8]byte
	for _, t := range tensors {
		for _, v := range t.data {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			if _, err := bw.Write(buf[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// safetensorsFile is a memory-mapped safetensors file.
type safetensorsFile struct {
	r          *mmap.ReaderAt
	tensors    map[string]tensorInfo
	metadata   map[string]string
	dataOffset int64
}

func openSafetensors(path string) (*safetensorsFile, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file %s", path)
	}
	f := &safetensorsFile{r: r}
	if err := f.parseHeader(); err != nil {
		r.Close()
		return nil, err
	}
	return f, nil
}

func (f *safetensorsFile) parseHeader() error {
	var size [8]byte
	if _, err := f.r.ReadAt(size[:], 0); err != nil {
		return errors.Wrap(err, "failed to read header size")
	}
	headerSize := binary.LittleEndian.Uint64(size[:])
	if headerSize > maxHeaderSize || int64(headerSize)+8 > int64(f.r.Len()) {
		return errors.Errorf("header size out of range: %d bytes", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := f.r.ReadAt(headerBytes, 8); err != nil {
		return errors.Wrap(err, "failed to read header JSON")
	}
	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &rawHeader); err != nil {
		return errors.Wrap(err, "failed to parse header JSON")
	}

	f.tensors = make(map[string]tensorInfo, len(rawHeader))
	for key, value := range rawHeader {
		if key == metadataKey {
			if err := json.Unmarshal(value, &f.metadata); err != nil {
				return errors.Wrap(err, "failed to parse __metadata__")
			}
			continue
		}
		var ti tensorInfo
		if err := json.Unmarshal(value, &ti); err != nil {
			return errors.Wrapf(err, "failed to parse tensor metadata for %s", key)
		}
		f.tensors[key] = ti
	}
	f.dataOffset = int64(8 + headerSize)
	return nil
}

// readInto copies the named tensor into dst after checking dtype and shape.
func (f *safetensorsFile) readInto(name string, shape []int, dst []float64) error {
	ti, ok := f.tensors[name]
	if !ok {
		return errors.Errorf("tensor %s missing", name)
	}
	if ti.Dtype != dtypeF64 {
		return errors.Errorf("tensor %s has dtype %s, want %s", name, ti.Dtype, dtypeF64)
	}
	if !equalShape(ti.Shape, shape) {
		return errors.Errorf("tensor %s has shape %v, want %v", name, ti.Shape, shape)
	}
	start, end := ti.DataOffsets[0], ti.DataOffsets[1]
	if end-start != int64(len(dst))*8 || f.dataOffset+end > int64(f.r.Len()) {
		return errors.Errorf("tensor %s has invalid data offsets %v", name, ti.DataOffsets)
	}
	raw := make([]byte, end-start)
	if _, err := f.r.ReadAt(raw, f.dataOffset+start); err != nil {
		return errors.Wrapf(err, "failed to read tensor %s", name)
	}
	for i := range dst {
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return nil
}

func (f *safetensorsFile) Close() error { return f.r.Close() }

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
