package dataset

import (
	"os"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

// csvRecord uses pointers so a missing column decodes to nil rather than "".
type csvRecord struct {
	Text  *string `csv:"text"`
	Label *string `csv:"label"`
}

func readCSV(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrDataAccess, "%s: %v", path, err)
	}
	defer f.Close()

	var records []*csvRecord
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return nil, errors.Wrapf(ErrDataAccess, "%s: %v", path, err)
	}

	samples := make([]Sample, 0, len(records))
	for i, rec := range records {
		if rec.Text == nil {
			return nil, errors.Wrapf(ErrDataAccess, "%s: record %d: missing text", path, i)
		}
		if rec.Label == nil {
			return nil, errors.Wrapf(ErrDataAccess, "%s: record %d: missing label", path, i)
		}
		label, err := parseLabel(*rec.Label)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: record %d", path, i)
		}
		samples = append(samples, Sample{Text: *rec.Text, Label: label})
	}
	return samples, nil
}
