//go:build onnx
// +build onnx

package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"gonum.org/v1/gonum/mat"
)

// onnxEncoder runs an exported BERT graph (input_ids, attention_mask,
// token_type_ids -> last_hidden_state) through ONNX Runtime.
type onnxEncoder struct {
	opts        Options
	mu          sync.Mutex
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
	hidden      int
}

func newONNXEncoder(opts Options) (Encoder, error) {
	e := &onnxEncoder{opts: opts}
	if err := e.ensureSession(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *onnxEncoder) HiddenSize() int { return e.hidden }

func (e *onnxEncoder) ensureSession() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		return nil
	}
	if e.opts.ModelPath == "" {
		return fmt.Errorf("onnx model path is required")
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}
	ins, outs, err := ort.GetInputOutputInfo(e.opts.ModelPath)
	if err != nil {
		return fmt.Errorf("get IO info: %w", err)
	}

	var inputNames []string
	for _, ii := range ins {
		if inputRole(ii.Name) != "" {
			inputNames = append(inputNames, ii.Name)
		}
	}
	if len(inputNames) == 0 {
		return fmt.Errorf("could not determine ONNX input names")
	}

	// Prefer last_hidden_state, else the first rank-3 float output.
	var output *ort.InputOutputInfo
	for i, oi := range outs {
		if oi.DataType != ort.TensorElementDataTypeFloat || len(oi.Dimensions) != 3 {
			continue
		}
		if output == nil || strings.Contains(strings.ToLower(oi.Name), "last_hidden_state") {
			output = &outs[i]
		}
	}
	if output == nil {
		return fmt.Errorf("could not determine ONNX hidden state output")
	}
	e.hidden = e.opts.HiddenSize
	if w := output.Dimensions[2]; w > 0 {
		e.hidden = int(w)
	}

	opts, err := e.sessionOptions()
	if err != nil {
		return err
	}
	s, err := ort.NewDynamicAdvancedSession(e.opts.ModelPath, inputNames, []string{output.Name}, opts)
	if opts != nil {
		_ = opts.Destroy()
	}
	if err != nil {
		return fmt.Errorf("create onnx session: %w", err)
	}
	e.session = s
	e.inputNames = inputNames
	e.outputNames = []string{output.Name}
	return nil
}

// sessionOptions returns nil for plain CPU execution.
func (e *onnxEncoder) sessionOptions() (*ort.SessionOptions, error) {
	ep := e.opts.ExecutionProvider
	if ep == "" || ep == "cpu" {
		return nil, nil
	}
	o, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	_ = o.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)
	switch ep {
	case "cuda":
		cu, cerr := ort.NewCUDAProviderOptions()
		if cerr != nil {
			_ = o.Destroy()
			return nil, fmt.Errorf("cuda options: %w", cerr)
		}
		defer cu.Destroy()
		if len(e.opts.EPOptions) > 0 {
			_ = cu.Update(e.opts.EPOptions)
		}
		err = o.AppendExecutionProviderCUDA(cu)
	case "tensorrt":
		trt, terr := ort.NewTensorRTProviderOptions()
		if terr != nil {
			_ = o.Destroy()
			return nil, fmt.Errorf("tensorrt options: %w", terr)
		}
		defer trt.Destroy()
		if len(e.opts.EPOptions) > 0 {
			_ = trt.Update(e.opts.EPOptions)
		}
		err = o.AppendExecutionProviderTensorRT(trt)
	case "coreml":
		coreml := e.opts.EPOptions
		if coreml == nil {
			coreml = map[string]string{}
		}
		err = o.AppendExecutionProviderCoreMLV2(coreml)
	case "dml":
		err = o.AppendExecutionProviderDirectML(e.opts.DeviceID)
	default:
		err = fmt.Errorf("unknown execution provider %q", ep)
	}
	if err != nil {
		_ = o.Destroy()
		return nil, fmt.Errorf("append execution provider %s: %w", ep, err)
	}
	return o, nil
}

func inputRole(name string) string {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "input_ids"):
		return "ids"
	case strings.Contains(n, "attention_mask"):
		return "mask"
	case strings.Contains(n, "token_type"):
		return "segments"
	}
	return ""
}

func (e *onnxEncoder) Encode(ctx context.Context, ids, mask, segments [][]int64) ([]*mat.Dense, error) {
	if err := checkShapes(ids, mask, segments); err != nil {
		return nil, err
	}
	if err := e.ensureSession(); err != nil {
		return nil, err
	}
	all := make([]*mat.Dense, 0, len(ids))
	for i := 0; i < len(ids); i += e.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(i+e.opts.BatchSize, len(ids))
		states, err := e.encodeChunk(ids[i:end], mask[i:end], segments[i:end])
		if err != nil {
			return nil, err
		}
		all = append(all, states...)
	}
	return all, nil
}

func (e *onnxEncoder) encodeChunk(ids, mask, segments [][]int64) ([]*mat.Dense, error) {
	batch := len(ids)
	seq := len(ids[0])
	flat := map[string][]int64{
		"ids":      make([]int64, batch*seq),
		"mask":     make([]int64, batch*seq),
		"segments": make([]int64, batch*seq),
	}
	for i := 0; i < batch; i++ {
		if len(ids[i]) != seq {
			return nil, fmt.Errorf("row %d has length %d, want %d", i, len(ids[i]), seq)
		}
		copy(flat["ids"][i*seq:], ids[i])
		copy(flat["mask"][i*seq:], mask[i])
		copy(flat["segments"][i*seq:], segments[i])
	}

	shape := ort.NewShape(int64(batch), int64(seq))
	inVals := make([]ort.Value, len(e.inputNames))
	for i, name := range e.inputNames {
		t, err := ort.NewTensor(shape, flat[inputRole(name)])
		if err != nil {
			return nil, fmt.Errorf("%s tensor: %w", name, err)
		}
		defer t.Destroy()
		inVals[i] = t
	}

	outs := make([]ort.Value, len(e.outputNames))
	e.mu.Lock()
	err := e.session.Run(inVals, outs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	defer func() {
		for _, v := range outs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	t, ok := outs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type")
	}
	outShape := t.GetShape()
	if len(outShape) != 3 || int(outShape[0]) != batch || int(outShape[1]) != seq {
		return nil, fmt.Errorf("unexpected output shape %v", outShape)
	}
	width := int(outShape[2])
	if width != e.hidden {
		return nil, fmt.Errorf("encoder produced width %d, declared %d", width, e.hidden)
	}
	data := t.GetData()
	states := make([]*mat.Dense, batch)
	for b := 0; b < batch; b++ {
		raw := make([]float64, seq*width)
		for j, v := range data[b*seq*width : (b+1)*seq*width] {
			raw[j] = float64(v)
		}
		states[b] = mat.NewDense(seq, width, raw)
	}
	return states, nil
}

func (e *onnxEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
