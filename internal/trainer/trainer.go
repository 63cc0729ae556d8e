// Package trainer is the training worker: it fits a model from the job root,
// saves the artifact and appends its metrics to the ledger.
//
// The job root follows the managed-training layout:
//
//	<root>/input/config/hyperparameters.json
//	<root>/input/data/training/train.csv
//	<root>/input/data/validation/valid.csv
//	<root>/model/model.json
package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/me/mlledger/internal/config"
	"github.com/me/mlledger/internal/ledger"
	"github.com/me/mlledger/pkg/model"
)

// Metric names, in the order they are published.
const (
	MetricTrainMSE      = "Train_MSE"
	MetricValidationMSE = "Validation_MSE"
)

// RequiredKeys are the configuration values the worker cannot run without.
var RequiredKeys = []config.Key{
	config.KeyBucket,
	config.KeyPrefix,
	config.KeyRegion,
	config.KeyCorrelationKey,
	config.KeyJobNameOverride,
}

// Trainer runs one training job.
type Trainer struct {
	cfg    config.Config
	writer *ledger.Writer
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Trainer that publishes through writer.
func New(cfg config.Config, writer *ledger.Writer, logger *slog.Logger) *Trainer {
	return &Trainer{
		cfg:    cfg,
		writer: writer,
		now:    time.Now,
		logger: logger.With("component", "trainer"),
	}
}

// Result is the outcome of a training run.
type Result struct {
	Model     Model
	Record    model.Record
	Ledger    ledger.Ledger
	ModelPath string
}

// Run trains, saves the model and appends the ledger record. Missing
// configuration fails before any work is done.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	if err := t.cfg.Require(RequiredKeys...); err != nil {
		return nil, err
	}
	root := t.cfg.MLRoot

	hp, err := readHyperparameters(filepath.Join(root, "input", "config", "hyperparameters.json"))
	if err != nil {
		return nil, err
	}
	t.logger.Info("hyperparameters loaded", "count", len(hp))

	train, err := ReadDataset(filepath.Join(root, "input", "data", "training", "train.csv"))
	if err != nil {
		return nil, err
	}
	valid, err := ReadDataset(filepath.Join(root, "input", "data", "validation", "valid.csv"))
	if err != nil {
		return nil, err
	}
	t.logger.Info("datasets loaded", "train_rows", train.Len(), "validation_rows", valid.Len())

	m := Fit(train)
	m.Hyperparameters = hp
	m.TrainedAt = t.now().UTC().Truncate(time.Second)
	metrics := model.Metrics{
		{Name: MetricTrainMSE, Value: m.MSE(train)},
		{Name: MetricValidationMSE, Value: m.MSE(valid)},
	}
	t.logger.Info("model fitted", MetricTrainMSE, metrics[0].Value, MetricValidationMSE, metrics[1].Value)

	modelDir := filepath.Join(root, "model")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	modelPath := filepath.Join(modelDir, "model.json")
	if err := m.Save(modelPath); err != nil {
		return nil, err
	}

	hpJSON, err := json.Marshal(hp)
	if err != nil {
		return nil, fmt.Errorf("marshal hyperparameters: %w", err)
	}
	rec := model.Record{
		Hyperparameters: string(hpJSON),
		CorrelationKey:  t.cfg.CorrelationKey,
		JobIdentifier:   t.cfg.JobNameOverride,
		Metrics:         metrics,
	}
	l, err := t.writer.Append(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("update ledger: %w", err)
	}
	stored := l.Records[len(l.Records)-1]
	t.logger.Info("ledger updated", "job", rec.JobIdentifier, "correlation_key", rec.CorrelationKey, "records", l.Len())

	return &Result{Model: m, Record: stored, Ledger: l, ModelPath: modelPath}, nil
}

func readHyperparameters(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hyperparameters: %w", err)
	}
	hp := map[string]any{}
	if err := json.Unmarshal(data, &hp); err != nil {
		return nil, fmt.Errorf("parse hyperparameters %s: %w", path, err)
	}
	return hp, nil
}
