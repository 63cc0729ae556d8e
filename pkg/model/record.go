package model

import "time"

// TimestampLayout is the textual form of Record.Timestamp in the ledger.
const TimestampLayout = "2006-01-02 15:04:05"

// Record is one experiment outcome published to the ledger by a training job.
type Record struct {
	Timestamp time.Time `json:"timestamp"`

	// Hyperparameters is a serialized mapping stored verbatim. The ledger
	// never parses it.
	Hyperparameters string `json:"hyperparameters"`

	// CorrelationKey is the caller-chosen identifier (usually a commit id)
	// the submitter polls for. Not unique.
	CorrelationKey string `json:"correlation_key"`

	// JobIdentifier is the platform's name for the run that produced this record.
	JobIdentifier string `json:"job_identifier"`

	Metrics Metrics `json:"metrics"`
}

// FormatTimestamp returns the record's timestamp in ledger form.
func (r Record) FormatTimestamp() string {
	return r.Timestamp.UTC().Format(TimestampLayout)
}

// Metric is a single named numeric result.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Metrics is an ordered set of metrics. Order matters: the first record ever
// written fixes the ledger's metric column order.
type Metrics []Metric

// Names returns the metric names in order.
func (m Metrics) Names() []string {
	names := make([]string, len(m))
	for i, metric := range m {
		names[i] = metric.Name
	}
	return names
}

// Get returns the value of the named metric.
func (m Metrics) Get(name string) (float64, bool) {
	for _, metric := range m {
		if metric.Name == name {
			return metric.Value, true
		}
	}
	return 0, false
}
