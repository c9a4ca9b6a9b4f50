package dataset

import (
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

type parquetRecord struct {
	Text  string `parquet:"text"`
	Label int64  `parquet:"label"`
}

func readParquet(path string) ([]Sample, error) {
	if err := checkParquetColumns(path); err != nil {
		return nil, err
	}

	rows, err := parquet.ReadFile[parquetRecord](path)
	if err != nil {
		return nil, errors.Wrapf(ErrDataAccess, "%s: %v", path, err)
	}

	samples := make([]Sample, len(rows))
	for i, row := range rows {
		label := int(row.Label)
		if err := checkLabel(label); err != nil {
			return nil, errors.Wrapf(err, "%s: record %d", path, i)
		}
		samples[i] = Sample{Text: row.Text, Label: label}
	}
	return samples, nil
}

func checkParquetColumns(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(ErrDataAccess, "%s: %v", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(ErrDataAccess, "%s: %v", path, err)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return errors.Wrapf(ErrDataAccess, "%s: %v", path, err)
	}
	for _, col := range []string{"text", "label"} {
		if _, ok := pf.Schema().Lookup(col); !ok {
			return errors.Wrapf(ErrDataAccess, "%s: missing %s column", path, col)
		}
	}
	return nil
}
