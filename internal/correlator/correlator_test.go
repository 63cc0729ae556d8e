package correlator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/me/mlledger/internal/blob"
	"github.com/me/mlledger/internal/config"
	"github.com/me/mlledger/internal/ledger"
	"github.com/me/mlledger/pkg/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePlatform struct {
	name      string
	submitErr error
	specs     []model.JobSpec
}

func (p *fakePlatform) Submit(_ context.Context, spec model.JobSpec) (string, error) {
	p.specs = append(p.specs, spec)
	if p.submitErr != nil {
		return "", p.submitErr
	}
	return p.name, nil
}

func (p *fakePlatform) Attach(context.Context, string) (*model.Job, error) {
	return nil, errors.New("not implemented")
}

func (p *fakePlatform) Deploy(context.Context, *model.Job, model.InstanceSpec) (string, error) {
	return "", errors.New("not implemented")
}

var (
	recordTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	reportTime = recordTime.Add(3 * time.Minute)
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Bucket = "sample-bucket"
	cfg.Prefix = "boston-housing-regression"
	cfg.Region = "us-east-1"
	cfg.CorrelationKey = "abc1234"
	cfg.OutputDir = t.TempDir()
	return cfg
}

func TestRun_WaitsForWorkerRecord(t *testing.T) {
	cfg := testConfig(t)
	store := blob.NewMemoryStore()
	ctx := context.Background()
	writer := ledger.NewWriter(store, cfg.LedgerKey(), discardLogger(), ledger.WithClock(func() time.Time { return recordTime }))

	// An older run with a different key is already in the ledger.
	if _, err := writer.Append(ctx, model.Record{
		CorrelationKey: "old0000", JobIdentifier: "boston-housing-model-0",
		Hyperparameters: `{"nestimators":50}`,
		Metrics:         model.Metrics{{Name: "Train_MSE", Value: 9}, {Name: "Validation_MSE", Value: 11}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sleeps := 0
	poller := ledger.NewPoller(store, cfg.LedgerKey(), cfg.PollInterval, discardLogger(),
		ledger.WithSleep(func(ctx context.Context, d time.Duration) error {
			sleeps++
			if d != 10*time.Second {
				t.Errorf("poll interval = %v, want 10s", d)
			}
			if sleeps == 2 {
				_, err := writer.Append(ctx, model.Record{
					CorrelationKey: "abc1234", JobIdentifier: "boston-housing-model-1",
					Hyperparameters: `{"nestimators":70}`,
					Metrics:         model.Metrics{{Name: "Train_MSE", Value: 3.25}, {Name: "Validation_MSE", Value: 4.5}},
				})
				return err
			}
			return nil
		}))

	p := &fakePlatform{name: "boston-housing-model-1"}
	var out bytes.Buffer
	c := New(p, poller, cfg, discardLogger(), WithOutput(&out), WithClock(func() time.Time { return reportTime }))

	res, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sleeps != 2 {
		t.Errorf("sleeps = %d, want 2", sleeps)
	}
	if res.JobName != "boston-housing-model-1" || res.Record.JobIdentifier != "boston-housing-model-1" {
		t.Errorf("result = %+v", res)
	}

	name, _ := os.ReadFile(filepath.Join(cfg.OutputDir, JobNameFile))
	if string(name) != "boston-housing-model-1" {
		t.Errorf("%s = %q", JobNameFile, name)
	}
	hp, _ := os.ReadFile(filepath.Join(cfg.OutputDir, HyperparametersFile))
	if string(hp) != `{"nestimators":70}` {
		t.Errorf("%s = %q", HyperparametersFile, hp)
	}
	details, _ := os.ReadFile(filepath.Join(cfg.OutputDir, DetailsFile))
	if string(details) != out.String() {
		t.Error("details.txt differs from printed report")
	}

	report := out.String()
	for _, want := range []string{
		"Training Job name: 'boston-housing-model-1'",
		"'s3://sample-bucket/boston-housing-regression/output/boston-housing-model-1/output/model.tar.gz'",
		"https://runtime.sagemaker.us-east-1.amazonaws.com/endpoints/boston-housing-model-1/invocations",
		"3 minutes ago",
		"| Train_MSE | Validation_MSE |",
		"| 3.25      | 4.5            |",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestRun_JobSpecCarriesCorrelationKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend = "file"
	cfg.Endpoint = "/shared/ledgers"
	store := blob.NewMemoryStore()
	writer := ledger.NewWriter(store, cfg.LedgerKey(), discardLogger())
	if _, err := writer.Append(context.Background(), model.Record{
		CorrelationKey: "abc1234", JobIdentifier: "job-1", Metrics: model.Metrics{{Name: "mse", Value: 1}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	p := &fakePlatform{name: "job-1"}
	c := New(p, ledger.NewPoller(store, cfg.LedgerKey(), time.Second, discardLogger()), cfg, discardLogger(), WithOutput(io.Discard))
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	spec := p.specs[0]
	if spec.BaseName != "boston-housing-model" || spec.InstanceCount != 1 {
		t.Errorf("spec = %+v", spec)
	}
	env := spec.Environment
	if env["GITHUB_SHA"] != "abc1234" || env["CORRELATION_KEY"] != "abc1234" || env["BUCKET_NAME"] != "sample-bucket" {
		t.Errorf("environment = %v", env)
	}
	if env["MLLEDGER_BACKEND"] != "file" || env["MLLEDGER_ENDPOINT"] != "/shared/ledgers" {
		t.Errorf("backend not forwarded: %v", env)
	}
	if _, ok := env["MLLEDGER_LEDGER_NAME"]; ok {
		t.Error("default ledger name should not be forwarded")
	}
	if spec.Inputs["training"] != "s3://sample-bucket/boston-housing-regression/train.csv" {
		t.Errorf("inputs = %v", spec.Inputs)
	}
}

func TestRun_SubmitFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	store := blob.NewMemoryStore()
	polled := false
	poller := ledger.NewPoller(store, cfg.LedgerKey(), time.Second, discardLogger(),
		ledger.WithSleep(func(context.Context, time.Duration) error {
			polled = true
			return nil
		}))

	boom := errors.New("quota exceeded")
	c := New(&fakePlatform{submitErr: boom}, poller, cfg, discardLogger(), WithOutput(io.Discard))
	_, err := c.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if polled {
		t.Error("polled after failed submission")
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, JobNameFile)); !os.IsNotExist(err) {
		t.Errorf("job name file written after failed submission: %v", err)
	}
}

func TestRun_MalformedLedgerIsFatal(t *testing.T) {
	cfg := testConfig(t)
	store := blob.NewMemoryStore()
	store.Put(context.Background(), cfg.LedgerKey(), []byte("not,a,ledger\n"))

	c := New(&fakePlatform{name: "job-1"}, ledger.NewPoller(store, cfg.LedgerKey(), time.Second, discardLogger()),
		cfg, discardLogger(), WithOutput(io.Discard))
	_, err := c.Run(context.Background())
	if !errors.Is(err, ledger.ErrMalformedLedger) {
		t.Fatalf("err = %v, want ErrMalformedLedger", err)
	}
}

func TestRun_RequiresConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.CorrelationKey = ""
	cfg.Region = ""
	p := &fakePlatform{name: "job-1"}
	c := New(p, nil, cfg, discardLogger())

	_, err := c.Run(context.Background())
	var missing *config.MissingError
	if !errors.As(err, &missing) || len(missing.Keys) != 2 {
		t.Fatalf("err = %v, want MissingError with 2 keys", err)
	}
	if len(p.specs) != 0 {
		t.Error("submitted despite missing configuration")
	}
}
