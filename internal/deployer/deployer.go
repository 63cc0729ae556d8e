// Package deployer deploys the model of the most recent ledger record.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/me/mlledger/internal/blob"
	"github.com/me/mlledger/internal/ledger"
	"github.com/me/mlledger/internal/platform"
	"github.com/me/mlledger/pkg/model"
)

var (
	// ErrMissingField is returned when the latest record cannot identify a job.
	ErrMissingField = errors.New("missing required field")
	// ErrJobNotFound is returned when the platform has no job by the name
	// the latest record carries.
	ErrJobNotFound = errors.New("training job not found on platform")
)

// Defaults for the endpoint serving the latest model.
const (
	DefaultInstanceType  = "ml.m5.large"
	DefaultInstanceCount = 1
)

// Options tune the endpoint created by DeployLatest.
type Options struct {
	InstanceType  string
	InstanceCount int
	Tags          map[string]string
}

// Deployer resolves the latest ledger record and deploys its job.
type Deployer struct {
	store    blob.Store
	key      string
	platform platform.Platform
	opts     Options
	logger   *slog.Logger
}

// New creates a Deployer reading the ledger at key.
func New(store blob.Store, key string, p platform.Platform, opts Options, logger *slog.Logger) *Deployer {
	if opts.InstanceType == "" {
		opts.InstanceType = DefaultInstanceType
	}
	if opts.InstanceCount <= 0 {
		opts.InstanceCount = DefaultInstanceCount
	}
	return &Deployer{
		store:    store,
		key:      key,
		platform: p,
		opts:     opts,
		logger:   logger.With("component", "deployer"),
	}
}

// Result describes a deployment.
type Result struct {
	Record   model.Record
	Job      *model.Job
	Endpoint string
}

// DeployLatest loads the ledger, picks the latest record, attaches to the
// job it names and deploys that job's model to an endpoint of the same
// name. A missing ledger fails with ledger.ErrNoLedger.
func (d *Deployer) DeployLatest(ctx context.Context) (*Result, error) {
	l, err := ledger.Load(ctx, d.store, d.key)
	if err != nil {
		return nil, err
	}
	d.logger.Info("ledger loaded", "key", d.key, "records", l.Len())

	rec, err := ledger.Latest(l.Records)
	if err != nil {
		return nil, err
	}
	if rec.JobIdentifier == "" {
		return nil, fmt.Errorf("latest record at %s: %s: %w", rec.FormatTimestamp(), ledger.ColumnJobIdentifier, ErrMissingField)
	}
	d.logger.Info("latest training job", "job", rec.JobIdentifier, "timestamp", rec.FormatTimestamp())

	job, err := d.platform.Attach(ctx, rec.JobIdentifier)
	if platform.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s: %w", ErrJobNotFound, rec.JobIdentifier, err)
	}
	if err != nil {
		return nil, fmt.Errorf("attach to %s: %w", rec.JobIdentifier, err)
	}

	endpoint, err := d.platform.Deploy(ctx, job, model.InstanceSpec{
		EndpointName:  rec.JobIdentifier,
		InstanceType:  d.opts.InstanceType,
		InstanceCount: d.opts.InstanceCount,
		Tags:          d.opts.Tags,
	})
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w", rec.JobIdentifier, err)
	}
	d.logger.Info("endpoint requested", "endpoint", endpoint, "instance_type", d.opts.InstanceType)

	return &Result{Record: rec, Job: job, Endpoint: endpoint}, nil
}
