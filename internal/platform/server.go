package platform

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/mlledger/pkg/model"
)

const maxListLimit = 500

// Server is the development platform REST API.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	store     *Store
	runner    *Runner
	startTime time.Time
	now       func() time.Time
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithRunner executes submitted jobs locally. Without a runner, jobs stay
// InProgress and the training process is expected to run elsewhere.
func WithRunner(r *Runner) Option {
	return func(s *Server) {
		s.runner = r
	}
}

// WithServerClock overrides the clock used for job names and timestamps.
func WithServerClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer creates a Server with all routes registered.
func NewServer(st *Store, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "platform-server"),
		store:     st,
		startTime: time.Now(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmitJob)
			r.Get("/", s.handleListJobs)
			r.Get("/{name}", s.handleGetJob)
			r.Post("/{name}/deployments", s.handleDeploy)
		})

		r.Get("/endpoints/{name}", s.handleGetEndpoint)
	})
}

type healthResponse struct {
	Status    string `json:"status"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Runner    string `json:"runner"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	runner := "disabled"
	if s.runner != nil {
		runner = "local"
	}
	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Runner:    runner,
	})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var spec model.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON: "+err.Error()))
		return
	}

	now := s.now().UTC()
	name := spec.Name
	if name == "" {
		if spec.BaseName == "" {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("name or base_name is required"))
			return
		}
		name = GenerateJobName(spec.BaseName, now)
	}
	if err := ValidateJobName(name); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	job := &model.Job{
		Name:            name,
		State:           model.JobStateInProgress,
		Image:           spec.Image,
		Hyperparameters: spec.Hyperparameters,
		Environment:     spec.Environment,
		Tags:            spec.Tags,
		ModelArtifact:   ModelArtifactURI(spec.OutputPath, name),
		CreatedAt:       now,
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		if errors.Is(err, ErrJobExists) {
			respondConflict(w, reqID, "job '%s' already exists", name)
			return
		}
		s.internalError(w, reqID, "create job", err)
		return
	}
	s.logger.Info("job submitted", "job", name, "image", spec.Image)

	if s.runner != nil {
		// The job outlives the request that created it.
		s.runner.Start(context.WithoutCancel(r.Context()), job, spec.Inputs)
	}

	respondCreated(w, reqID, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}

	jobs, err := s.store.ListJobs(r.Context(), limit+1)
	if err != nil {
		s.internalError(w, reqID, "list jobs", err)
		return
	}
	respondJobs(w, reqID, jobs, limit)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "name")

	job, err := s.store.GetJob(r.Context(), name)
	if err != nil {
		s.internalError(w, reqID, "get job", err)
		return
	}
	if job == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("job", name))
		return
	}
	respondOK(w, reqID, job)
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "name")

	var spec model.InstanceSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON: "+err.Error()))
		return
	}
	if spec.EndpointName == "" {
		spec.EndpointName = name
	}
	if spec.InstanceType == "" {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("instance_type is required"))
		return
	}
	if spec.InstanceCount <= 0 {
		spec.InstanceCount = 1
	}

	job, err := s.store.GetJob(r.Context(), name)
	if err != nil {
		s.internalError(w, reqID, "get job", err)
		return
	}
	if job == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("job", name))
		return
	}
	if job.State == model.JobStateFailed {
		respondConflict(w, reqID, "job '%s' failed: %s", name, job.FailureReason)
		return
	}

	ep := &model.Endpoint{
		Name:         spec.EndpointName,
		JobName:      job.Name,
		InstanceType: spec.InstanceType,
		Count:        spec.InstanceCount,
		Tags:         spec.Tags,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateEndpoint(r.Context(), ep); err != nil {
		if errors.Is(err, ErrEndpointExists) {
			respondConflict(w, reqID, "endpoint '%s' already exists", ep.Name)
			return
		}
		s.internalError(w, reqID, "create endpoint", err)
		return
	}
	s.logger.Info("model deployed", "job", job.Name, "endpoint", ep.Name,
		"instance_type", ep.InstanceType, "instance_count", ep.Count)

	respondCreated(w, reqID, ep)
}

func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "name")

	ep, err := s.store.GetEndpoint(r.Context(), name)
	if err != nil {
		s.internalError(w, reqID, "get endpoint", err)
		return
	}
	if ep == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("endpoint", name))
		return
	}
	respondOK(w, reqID, ep)
}

func (s *Server) internalError(w http.ResponseWriter, reqID, op string, err error) {
	s.logger.Error(op, "error", err, "request_id", reqID)
	respondError(w, reqID, http.StatusInternalServerError, &model.APIError{
		Code:    model.ErrInternal,
		Message: op + ": " + err.Error(),
	})
}
