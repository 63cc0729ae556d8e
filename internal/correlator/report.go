package correlator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/mlledger/pkg/model"
)

// Report is the human-readable summary of a submitted job and the record
// its worker published.
type Report struct {
	JobName         string
	ModelArtifact   string
	Hyperparameters string
	Region          string
	Record          model.Record
	Now             time.Time
}

// LogsURL links to the job's log streams.
func (r Report) LogsURL() string {
	return fmt.Sprintf("https://%s.console.aws.amazon.com/cloudwatch/home?region=%s#logStream:group=/aws/sagemaker/TrainingJobs;prefix=%s",
		r.Region, r.Region, r.JobName)
}

// EndpointURL is where the model will be served once deployed under the
// job's name.
func (r Report) EndpointURL() string {
	return fmt.Sprintf("https://runtime.sagemaker.%s.amazonaws.com/endpoints/%s/invocations", r.Region, r.JobName)
}

// Markdown renders the report.
func (r Report) Markdown() string {
	var b strings.Builder

	b.WriteString("## Training Job Submission Report\n\n")
	fmt.Fprintf(&b, "Training Job name: '%s'\n\n", r.JobName)
	fmt.Fprintf(&b, "Model Artifacts Location:\n\n'%s'\n\n", r.ModelArtifact)
	fmt.Fprintf(&b, "Model hyperparameters: %s\n\n", r.Hyperparameters)
	fmt.Fprintf(&b, "See the Logs in a few minutes at: [CloudWatch](%s)\n\n", r.LogsURL())
	fmt.Fprintf(&b, "Once deployed, the resulting endpoint will be available at this URL:\n\n'%s'\n\n", r.EndpointURL())

	b.WriteString("## Training Job Performance Report\n\n")
	fmt.Fprintf(&b, "Recorded by '%s' at %s UTC (%s).\n\n",
		r.Record.JobIdentifier, r.Record.FormatTimestamp(),
		humanize.RelTime(r.Record.Timestamp, r.Now, "ago", "from now"))
	b.WriteString(MetricsTable(r.Record.Metrics))
	b.WriteString("\n")

	return b.String()
}

// MetricsTable renders metrics as a one-row markdown table.
func MetricsTable(metrics model.Metrics) string {
	if len(metrics) == 0 {
		return "_no metrics recorded_\n"
	}

	names := metrics.Names()
	values := make([]string, len(metrics))
	widths := make([]int, len(metrics))
	for i, m := range metrics {
		values[i] = strconv.FormatFloat(m.Value, 'g', -1, 64)
		widths[i] = max(len(names[i]), len(values[i]), 3)
	}

	var b strings.Builder
	row := func(cells []string) {
		b.WriteString("|")
		for i, cell := range cells {
			fmt.Fprintf(&b, " %-*s |", widths[i], cell)
		}
		b.WriteString("\n")
	}
	row(names)
	b.WriteString("|")
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w+2) + "|")
	}
	b.WriteString("\n")
	row(values)
	return b.String()
}
