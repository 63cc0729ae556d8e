package platform

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/me/mlledger/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleJob(name string) *model.Job {
	return &model.Job{
		Name:            name,
		State:           model.JobStateInProgress,
		Image:           "registry.example/boston:latest",
		Hyperparameters: map[string]any{"nestimators": float64(70)},
		Environment:     map[string]string{"GITHUB_SHA": "abc1234"},
		Tags:            map[string]string{"team": "ml"},
		ModelArtifact:   "s3://sample-bucket/out/" + name + "/output/model.tar.gz",
		CreatedAt:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	st := testStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestStore_JobRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if err := st.CreateJob(ctx, sampleJob("boston-1")); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	got, err := st.GetJob(ctx, "boston-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got == nil {
		t.Fatal("GetJob returned nil")
	}
	if got.State != model.JobStateInProgress {
		t.Errorf("State = %q", got.State)
	}
	if got.Environment["GITHUB_SHA"] != "abc1234" {
		t.Errorf("Environment = %v", got.Environment)
	}
	if got.Hyperparameters["nestimators"] != float64(70) {
		t.Errorf("Hyperparameters = %v", got.Hyperparameters)
	}
	if !got.CreatedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", got.CreatedAt)
	}
	if got.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil", got.CompletedAt)
	}
}

func TestStore_CreateJobDuplicate(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if err := st.CreateJob(ctx, sampleJob("boston-1")); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.CreateJob(ctx, sampleJob("boston-1")); !errors.Is(err, ErrJobExists) {
		t.Errorf("duplicate CreateJob err = %v, want ErrJobExists", err)
	}
}

func TestStore_GetJobMissing(t *testing.T) {
	st := testStore(t)
	got, err := st.GetJob(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got != nil {
		t.Errorf("GetJob = %+v, want nil", got)
	}
}

func TestStore_FinishJob(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	st.CreateJob(ctx, sampleJob("boston-1"))

	at := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	if err := st.FinishJob(ctx, "boston-1", model.JobStateFailed, "exit status 1", at); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}
	got, _ := st.GetJob(ctx, "boston-1")
	if got.State != model.JobStateFailed || got.FailureReason != "exit status 1" {
		t.Errorf("job = %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(at) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, at)
	}

	if err := st.FinishJob(ctx, "boston-1", model.JobStateCompleted, "", at); err == nil {
		t.Error("finishing a finished job succeeded")
	}
	if err := st.FinishJob(ctx, "boston-1", model.JobStateInProgress, "", at); err == nil {
		t.Error("non-terminal state accepted")
	}
}

func TestStore_ListJobsNewestFirst(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	for i, name := range []string{"a", "b", "c"} {
		j := sampleJob(name)
		j.CreatedAt = j.CreatedAt.Add(time.Duration(i) * time.Minute)
		if err := st.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob(%s): %v", name, err)
		}
	}
	jobs, err := st.ListJobs(ctx, 2)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].Name != "c" || jobs[1].Name != "b" {
		t.Errorf("ListJobs = %v", jobNames(jobs))
	}
}

func TestStore_Endpoint(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	st.CreateJob(ctx, sampleJob("boston-1"))

	ep := &model.Endpoint{
		Name:         "boston-1",
		JobName:      "boston-1",
		InstanceType: "ml.m5.large",
		Count:        1,
		Tags:         map[string]string{"env": "prod"},
		CreatedAt:    time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
	if err := st.CreateEndpoint(ctx, ep); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}
	if err := st.CreateEndpoint(ctx, ep); !errors.Is(err, ErrEndpointExists) {
		t.Errorf("duplicate CreateEndpoint err = %v, want ErrEndpointExists", err)
	}

	got, err := st.GetEndpoint(ctx, "boston-1")
	if err != nil || got == nil {
		t.Fatalf("GetEndpoint = %v, %v", got, err)
	}
	if got.InstanceType != "ml.m5.large" || got.Count != 1 || got.Tags["env"] != "prod" {
		t.Errorf("endpoint = %+v", got)
	}

	missing, err := st.GetEndpoint(ctx, "other")
	if err != nil || missing != nil {
		t.Errorf("GetEndpoint(other) = %v, %v", missing, err)
	}
}

func jobNames(jobs []*model.Job) []string {
	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.Name
	}
	return names
}
