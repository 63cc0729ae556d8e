// Package correlator submits a training job and waits for the ledger record
// its worker publishes under the caller's correlation key.
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/me/mlledger/internal/config"
	"github.com/me/mlledger/internal/ledger"
	"github.com/me/mlledger/internal/platform"
	"github.com/me/mlledger/pkg/model"
)

// Output artifact names, written to the configured output directory.
const (
	JobNameFile         = "training_job_name.txt"
	HyperparametersFile = "hyperparameters.txt"
	DetailsFile         = "details.txt"
)

// Correlator runs one submit-and-report cycle.
type Correlator struct {
	platform platform.Platform
	poller   *ledger.Poller
	cfg      config.Config
	out      io.Writer
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithOutput sets where the rendered report is printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Correlator) {
		c.out = w
	}
}

// WithClock overrides the clock used for relative times in the report.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) {
		c.now = now
	}
}

// New creates a Correlator.
func New(p platform.Platform, poller *ledger.Poller, cfg config.Config, logger *slog.Logger, opts ...Option) *Correlator {
	c := &Correlator{
		platform: p,
		poller:   poller,
		cfg:      cfg,
		out:      os.Stdout,
		now:      time.Now,
		logger:   logger.With("component", "correlator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is the outcome of a successful Run.
type Result struct {
	JobName string
	Record  model.Record
	Report  Report
}

// Run submits the job, records its name and hyperparameters, waits for the
// worker's ledger record and renders the report. It returns only when a
// matching record exists, ctx is done, or a fatal error occurs.
func (c *Correlator) Run(ctx context.Context) (*Result, error) {
	if err := c.cfg.Require(config.KeyBucket, config.KeyPrefix, config.KeyRegion, config.KeyCorrelationKey); err != nil {
		return nil, err
	}

	spec := c.JobSpec()
	jobName, err := c.platform.Submit(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("submit training job: %w", err)
	}
	c.logger.Info("training job submitted", "job", jobName, "correlation_key", c.cfg.CorrelationKey)

	hpJSON, err := json.Marshal(spec.Hyperparameters)
	if err != nil {
		return nil, fmt.Errorf("marshal hyperparameters: %w", err)
	}
	if err := c.writeArtifact(JobNameFile, []byte(jobName)); err != nil {
		return nil, err
	}
	if err := c.writeArtifact(HyperparametersFile, hpJSON); err != nil {
		return nil, err
	}

	rec, err := c.poller.AwaitRecord(ctx, c.cfg.CorrelationKey)
	if err != nil {
		return nil, fmt.Errorf("await record for %s: %w", c.cfg.CorrelationKey, err)
	}
	c.logger.Info("record published", "job", jobName, "record_job", rec.JobIdentifier, "metrics", len(rec.Metrics))

	report := Report{
		JobName:         jobName,
		ModelArtifact:   platform.ModelArtifactURI(spec.OutputPath, jobName),
		Hyperparameters: string(hpJSON),
		Region:          c.cfg.Region,
		Record:          rec,
		Now:             c.now(),
	}
	text := report.Markdown()
	if _, err := io.WriteString(c.out, text); err != nil {
		return nil, fmt.Errorf("print report: %w", err)
	}
	if err := c.writeArtifact(DetailsFile, []byte(text)); err != nil {
		return nil, err
	}

	return &Result{JobName: jobName, Record: rec, Report: report}, nil
}

// JobSpec builds the submission from configuration. The worker receives the
// correlation key and ledger location through its environment.
func (c *Correlator) JobSpec() model.JobSpec {
	env := map[string]string{
		"BUCKET_NAME":     c.cfg.Bucket,
		"PREFIX":          c.cfg.Prefix,
		"REGION":          c.cfg.Region,
		"GITHUB_SHA":      c.cfg.CorrelationKey,
		"CORRELATION_KEY": c.cfg.CorrelationKey,
	}
	def := config.Default()
	if c.cfg.Backend != def.Backend {
		env["MLLEDGER_BACKEND"] = c.cfg.Backend
	}
	if c.cfg.Endpoint != "" {
		env["MLLEDGER_ENDPOINT"] = c.cfg.Endpoint
	}
	if c.cfg.LedgerName != def.LedgerName {
		env["MLLEDGER_LEDGER_NAME"] = c.cfg.LedgerName
	}

	return model.JobSpec{
		BaseName:        c.cfg.BaseJobName,
		Name:            c.cfg.JobNameOverride,
		Image:           c.cfg.TrainingImage,
		InstanceType:    c.cfg.TrainingInstanceType,
		InstanceCount:   1,
		Hyperparameters: c.cfg.Hyperparameters,
		Inputs: map[string]string{
			"training":   c.cfg.S3URI("train.csv"),
			"validation": c.cfg.S3URI("valid.csv"),
		},
		OutputPath:  c.cfg.S3URI("output") + "/",
		Environment: env,
		Tags:        c.cfg.DeployTags,
	}
}

func (c *Correlator) writeArtifact(name string, data []byte) error {
	dir := c.cfg.OutputDir
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	c.logger.Debug("wrote artifact", "path", path, "bytes", len(data))
	return nil
}
