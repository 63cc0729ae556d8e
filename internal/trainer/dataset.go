package trainer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Dataset is a labelled table: the first column of each row is the label
// and the rest are features.
type Dataset struct {
	Header   []string
	Labels   []float64
	Features [][]float64
}

// Len returns the number of rows.
func (d Dataset) Len() int {
	return len(d.Labels)
}

// ReadDataset reads a CSV file with a header row.
func ReadDataset(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	ds, err := parseDataset(f)
	if err != nil {
		return Dataset{}, fmt.Errorf("dataset %s: %w", path, err)
	}
	return ds, nil
}

func parseDataset(r io.Reader) (Dataset, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Dataset{}, fmt.Errorf("empty file")
	}
	if err != nil {
		return Dataset{}, err
	}

	ds := Dataset{Header: header}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Dataset{}, err
		}

		values := make([]float64, len(row))
		for i, cell := range row {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return Dataset{}, fmt.Errorf("line %d column %q: %w", line, header[i], err)
			}
			values[i] = v
		}
		ds.Labels = append(ds.Labels, values[0])
		ds.Features = append(ds.Features, values[1:])
	}

	if ds.Len() == 0 {
		return Dataset{}, fmt.Errorf("no data rows")
	}
	return ds, nil
}
