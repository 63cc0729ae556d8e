package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/me/mlledger/pkg/model"
)

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	List      *model.ListMeta `json:"list"`
	Error     *model.APIError `json:"error"`
}

func testServer(t *testing.T, opts ...Option) (*Server, *Store) {
	t.Helper()
	st := testStore(t)
	clock := func() time.Time { return time.Date(2026, 3, 1, 10, 4, 5, 0, time.UTC) }
	opts = append([]Option{WithServerClock(clock)}, opts...)
	return NewServer(st, testLogger(), opts...), st
}

func doJSON(t *testing.T, srv http.Handler, method, path, body string, wantStatus int) envelope {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	if env.RequestID == "" || !strings.HasPrefix(env.RequestID, "req_") {
		t.Errorf("request_id = %q", env.RequestID)
	}
	return env
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	env := doJSON(t, srv, "GET", "/api/v1/health", "", http.StatusOK)
	var data healthResponse
	json.Unmarshal(env.Data, &data)
	if data.Status != "healthy" || data.Runner != "disabled" {
		t.Errorf("health = %+v", data)
	}
}

func TestSubmitJob_GeneratesName(t *testing.T) {
	srv, st := testServer(t)
	env := doJSON(t, srv, "POST", "/api/v1/jobs",
		`{"base_name":"boston-housing-model","image":"img","output_path":"s3://b/p/output","environment":{"GITHUB_SHA":"abc"}}`,
		http.StatusCreated)

	var job model.Job
	json.Unmarshal(env.Data, &job)
	if !strings.HasPrefix(job.Name, "boston-housing-model-2026-03-01-10-04-05-") {
		t.Errorf("name = %q", job.Name)
	}
	if job.State != model.JobStateInProgress {
		t.Errorf("state = %q", job.State)
	}
	if job.ModelArtifact != "s3://b/p/output/"+job.Name+"/output/model.tar.gz" {
		t.Errorf("model artifact = %q", job.ModelArtifact)
	}

	stored, _ := st.GetJob(context.Background(), job.Name)
	if stored == nil || stored.Environment["GITHUB_SHA"] != "abc" {
		t.Errorf("stored job = %+v", stored)
	}
}

func TestSubmitJob_Validation(t *testing.T) {
	srv, _ := testServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"no name", `{"image":"img"}`},
		{"bad name", `{"name":"bad_name"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := doJSON(t, srv, "POST", "/api/v1/jobs", tt.body, http.StatusBadRequest)
			if env.Status != "error" || env.Error == nil || env.Error.Code != model.ErrValidation {
				t.Errorf("envelope = %+v", env)
			}
		})
	}
}

func TestSubmitJob_Conflict(t *testing.T) {
	srv, _ := testServer(t)
	doJSON(t, srv, "POST", "/api/v1/jobs", `{"name":"fixed-1"}`, http.StatusCreated)
	env := doJSON(t, srv, "POST", "/api/v1/jobs", `{"name":"fixed-1"}`, http.StatusConflict)
	if env.Error == nil || env.Error.Code != model.ErrConflict {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestSubmitJob_ConcurrentSameName(t *testing.T) {
	srv, _ := testServer(t)

	const n = 8
	codes := make(chan int, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest("POST", "/api/v1/jobs", strings.NewReader(`{"name":"fixed-1"}`))
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)
			codes <- w.Code
		}()
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for c := range codes {
		counts[c]++
	}
	if counts[http.StatusCreated] != 1 || counts[http.StatusConflict] != n-1 {
		t.Errorf("status counts = %v, want one 201 and %d 409", counts, n-1)
	}
}

func TestGetJob(t *testing.T) {
	srv, _ := testServer(t)
	doJSON(t, srv, "POST", "/api/v1/jobs", `{"name":"fixed-1"}`, http.StatusCreated)

	env := doJSON(t, srv, "GET", "/api/v1/jobs/fixed-1", "", http.StatusOK)
	var job model.Job
	json.Unmarshal(env.Data, &job)
	if job.Name != "fixed-1" {
		t.Errorf("name = %q", job.Name)
	}

	env = doJSON(t, srv, "GET", "/api/v1/jobs/missing", "", http.StatusNotFound)
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestListJobs(t *testing.T) {
	srv, _ := testServer(t)
	env := doJSON(t, srv, "GET", "/api/v1/jobs", "", http.StatusOK)
	if string(env.Data) != "[]" {
		t.Errorf("empty list data = %s", env.Data)
	}
	if env.List == nil || env.List.Count != 0 || env.List.Limit != 20 || env.List.More {
		t.Errorf("empty list meta = %+v", env.List)
	}

	for _, name := range []string{"fixed-1", "fixed-2", "fixed-3"} {
		doJSON(t, srv, "POST", "/api/v1/jobs", `{"name":"`+name+`"}`, http.StatusCreated)
	}
	env = doJSON(t, srv, "GET", "/api/v1/jobs?limit=5", "", http.StatusOK)
	var jobs []model.Job
	json.Unmarshal(env.Data, &jobs)
	if len(jobs) != 3 || env.List.More {
		t.Errorf("limit=5: %d jobs, meta %+v", len(jobs), env.List)
	}

	env = doJSON(t, srv, "GET", "/api/v1/jobs?limit=2", "", http.StatusOK)
	jobs = nil
	json.Unmarshal(env.Data, &jobs)
	if len(jobs) != 2 || env.List.Count != 2 || env.List.Limit != 2 || !env.List.More {
		t.Errorf("limit=2: %d jobs, meta %+v", len(jobs), env.List)
	}
	doJSON(t, srv, "GET", "/api/v1/jobs?limit=x", "", http.StatusBadRequest)
}

func TestDeploy(t *testing.T) {
	srv, _ := testServer(t)
	doJSON(t, srv, "POST", "/api/v1/jobs", `{"name":"fixed-1"}`, http.StatusCreated)

	env := doJSON(t, srv, "POST", "/api/v1/jobs/fixed-1/deployments",
		`{"endpoint_name":"fixed-1","instance_type":"ml.m5.large","instance_count":1,"tags":{"env":"prod"}}`,
		http.StatusCreated)
	var ep model.Endpoint
	json.Unmarshal(env.Data, &ep)
	if ep.Name != "fixed-1" || ep.JobName != "fixed-1" || ep.Count != 1 || ep.Tags["env"] != "prod" {
		t.Errorf("endpoint = %+v", ep)
	}

	doJSON(t, srv, "GET", "/api/v1/endpoints/fixed-1", "", http.StatusOK)
	doJSON(t, srv, "POST", "/api/v1/jobs/fixed-1/deployments",
		`{"instance_type":"ml.m5.large"}`, http.StatusConflict)
	doJSON(t, srv, "POST", "/api/v1/jobs/missing/deployments",
		`{"instance_type":"ml.m5.large"}`, http.StatusNotFound)
	doJSON(t, srv, "POST", "/api/v1/jobs/fixed-1/deployments",
		`{"endpoint_name":"other"}`, http.StatusBadRequest)
}

func TestDeploy_FailedJob(t *testing.T) {
	srv, st := testServer(t)
	doJSON(t, srv, "POST", "/api/v1/jobs", `{"name":"fixed-1"}`, http.StatusCreated)
	if err := st.FinishJob(context.Background(), "fixed-1", model.JobStateFailed, "boom", time.Now()); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}
	env := doJSON(t, srv, "POST", "/api/v1/jobs/fixed-1/deployments",
		`{"instance_type":"ml.m5.large"}`, http.StatusConflict)
	if env.Error == nil || !strings.Contains(env.Error.Message, "boom") {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	srv := NewServer(testStore(t), logger)

	doJSON(t, srv, "GET", "/api/v1/jobs/missing", "", http.StatusNotFound)
	out := buf.String()
	for _, want := range []string{"status=404", "path=/api/v1/jobs/missing", "route=/api/v1/jobs/{name}"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %s", out, want)
		}
	}

	buf.Reset()
	doJSON(t, srv, "GET", "/api/v1/health", "", http.StatusOK)
	if buf.Len() != 0 {
		t.Errorf("health check logged at INFO: %q", buf.String())
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	srv, _ := testServer(t)
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"client id kept", "req_1a2b3c4d", true},
		{"none", "", false},
		{"foreign format replaced", "abc; drop", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/health", nil)
			if tt.incoming != "" {
				req.Header.Set(requestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)

			var env envelope
			if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
				t.Fatal(err)
			}
			got := w.Header().Get(requestIDHeader)
			if got != env.RequestID {
				t.Errorf("header %q != envelope %q", got, env.RequestID)
			}
			if tt.keep && got != tt.incoming {
				t.Errorf("request id = %q, want %q", got, tt.incoming)
			}
			if !tt.keep && (got == tt.incoming || !strings.HasPrefix(got, "req_")) {
				t.Errorf("request id = %q, want a generated one", got)
			}
		})
	}
}
