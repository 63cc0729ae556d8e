// Package ledger implements the shared experiment ledger: a CSV table kept
// as a single blob-store object that independent processes read, append to
// and poll without any coordinator.
package ledger

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/me/mlledger/pkg/model"
)

// Fixed leading columns of every ledger.
const (
	ColumnTimestamp       = "timestamp"
	ColumnHyperparameters = "hyperparameters"
	ColumnCorrelationKey  = "correlation_key"
	ColumnJobIdentifier   = "job_identifier"
)

// FixedColumns lists the leading columns in order.
var FixedColumns = []string{ColumnTimestamp, ColumnHyperparameters, ColumnCorrelationKey, ColumnJobIdentifier}

// Ledger is the decoded table: metric columns plus records in insertion order.
type Ledger struct {
	// Columns are the metric columns, in the order first observed.
	Columns []string
	Records []model.Record
}

// Bootstrap returns an empty ledger whose metric columns are metricKeys.
func Bootstrap(metricKeys []string) Ledger {
	cols := make([]string, 0, len(metricKeys))
	for _, k := range metricKeys {
		if !slices.Contains(cols, k) {
			cols = append(cols, k)
		}
	}
	return Ledger{Columns: cols}
}

// Schema returns the full header: fixed columns followed by metric columns.
func (l Ledger) Schema() []string {
	return append(slices.Clone(FixedColumns), l.Columns...)
}

// Len returns the number of records.
func (l Ledger) Len() int {
	return len(l.Records)
}

// metricColumns returns the existing columns extended with any metric name
// the records introduce. Existing columns are never dropped or reordered.
func (l Ledger) metricColumns() []string {
	cols := slices.Clone(l.Columns)
	for _, rec := range l.Records {
		for _, m := range rec.Metrics {
			if !slices.Contains(cols, m.Name) {
				cols = append(cols, m.Name)
			}
		}
	}
	return cols
}

// Encode serializes the ledger as CSV with a header row.
func Encode(l Ledger) ([]byte, error) {
	cols := l.metricColumns()
	for _, c := range cols {
		if c == "" || slices.Contains(FixedColumns, c) {
			return nil, &Error{Op: "encode", Kind: ErrInvalidRecord, Err: fmt.Errorf("metric name %q is not allowed", c)}
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append(slices.Clone(FixedColumns), cols...)); err != nil {
		return nil, err
	}

	row := make([]string, len(FixedColumns)+len(cols))
	for _, rec := range l.Records {
		if err := checkTextCells(rec); err != nil {
			return nil, &Error{Op: "encode", Kind: ErrInvalidRecord, Err: err}
		}
		row[0] = rec.FormatTimestamp()
		row[1] = rec.Hyperparameters
		row[2] = rec.CorrelationKey
		row[3] = rec.JobIdentifier
		for i, c := range cols {
			row[len(FixedColumns)+i] = ""
			if v, ok := rec.Metrics.Get(c); ok {
				row[len(FixedColumns)+i] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// checkTextCells rejects carriage returns in text cells. The CSV reader folds
// a quoted \r\n into \n, so such a cell could not be read back verbatim.
func checkTextCells(rec model.Record) error {
	for _, c := range []struct{ name, value string }{
		{ColumnHyperparameters, rec.Hyperparameters},
		{ColumnCorrelationKey, rec.CorrelationKey},
		{ColumnJobIdentifier, rec.JobIdentifier},
	} {
		if strings.ContainsRune(c.value, '\r') {
			return fmt.Errorf("%s contains a carriage return", c.name)
		}
	}
	return nil
}

// Decode parses CSV ledger bytes. Any deviation from the header-plus-rows
// format is reported as ErrMalformedLedger.
func Decode(data []byte) (Ledger, error) {
	r := csv.NewReader(bytes.NewReader(data))
	rows, err := r.ReadAll()
	if err != nil {
		return Ledger{}, malformed("%v", err)
	}
	if len(rows) == 0 {
		return Ledger{}, malformed("missing header row")
	}

	header := rows[0]
	if len(header) < len(FixedColumns) || !slices.Equal(header[:len(FixedColumns)], FixedColumns) {
		return Ledger{}, malformed("header %v does not start with %v", header, FixedColumns)
	}
	cols := slices.Clone(header[len(FixedColumns):])
	seen := make(map[string]bool, len(header))
	for _, c := range header {
		if c == "" {
			return Ledger{}, malformed("empty column name in header")
		}
		if seen[c] {
			return Ledger{}, malformed("duplicate column %q", c)
		}
		seen[c] = true
	}

	l := Ledger{Columns: cols, Records: make([]model.Record, 0, len(rows)-1)}
	for i, row := range rows[1:] {
		line := i + 2
		ts, err := time.ParseInLocation(model.TimestampLayout, row[0], time.UTC)
		if err != nil {
			return Ledger{}, malformed("line %d: bad timestamp %q", line, row[0])
		}

		var metrics model.Metrics
		for j, c := range cols {
			cell := row[len(FixedColumns)+j]
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return Ledger{}, malformed("line %d: column %q: bad value %q", line, c, cell)
			}
			metrics = append(metrics, model.Metric{Name: c, Value: v})
		}

		l.Records = append(l.Records, model.Record{
			Timestamp:       ts,
			Hyperparameters: row[1],
			CorrelationKey:  row[2],
			JobIdentifier:   row[3],
			Metrics:         metrics,
		})
	}
	return l, nil
}
