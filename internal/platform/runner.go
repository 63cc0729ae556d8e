package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/me/mlledger/internal/config"
	"github.com/me/mlledger/pkg/model"
)

// maxFailureReason bounds the stderr tail kept as a job's failure reason.
const maxFailureReason = 1024

// Runner executes submitted jobs as local processes. Each job gets its own
// root directory laid out the way the training worker expects it:
//
//	<workDir>/<job>/input/config/hyperparameters.json
//	<workDir>/<job>/input/data/<channel> -> input path
//	<workDir>/<job>/model/
type Runner struct {
	command []string
	workDir string
	store   *Store
	logger  *slog.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewRunner creates a Runner that starts command for every job.
// If workDir is empty, os.TempDir() is used.
func NewRunner(command []string, workDir string, st *Store, logger *slog.Logger) *Runner {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Runner{
		command: command,
		workDir: workDir,
		store:   st,
		logger:  logger.With("component", "runner"),
		now:     time.Now,
	}
}

// JobRoot returns the directory a job runs in.
func (r *Runner) JobRoot(jobName string) string {
	return filepath.Join(r.workDir, jobName)
}

// Start runs the job in a background goroutine. The job's terminal state is
// written to the store when the process exits.
func (r *Runner) Start(ctx context.Context, job *model.Job, inputs map[string]string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		state, reason := model.JobStateCompleted, ""
		if err := r.run(ctx, job, inputs); err != nil {
			state, reason = model.JobStateFailed, err.Error()
			r.logger.Warn("job failed", "job", job.Name, "error", err)
		} else {
			r.logger.Info("job completed", "job", job.Name)
		}
		if err := r.store.FinishJob(context.WithoutCancel(ctx), job.Name, state, reason, r.now().UTC()); err != nil {
			r.logger.Error("record job state", "job", job.Name, "error", err)
		}
	}()
}

// Wait blocks until every started job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, job *model.Job, inputs map[string]string) error {
	if len(r.command) == 0 {
		return fmt.Errorf("no training command configured")
	}

	root := r.JobRoot(job.Name)
	if err := r.prepare(root, job, inputs); err != nil {
		return fmt.Errorf("prepare %s: %w", root, err)
	}

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Dir = root
	cmd.Env = jobEnv(os.Environ(), job, root)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	r.logger.Debug("starting job", "job", job.Name, "command", r.command, "root", root)
	err := cmd.Run()
	r.logger.Debug("job output", "job", job.Name, "stdout", stdoutBuf.String(), "stderr", stderrBuf.String())

	if err != nil {
		tail := strings.TrimSpace(stderrBuf.String())
		if len(tail) > maxFailureReason {
			tail = tail[len(tail)-maxFailureReason:]
		}
		if tail != "" {
			return fmt.Errorf("%w: %s", err, tail)
		}
		return err
	}
	return nil
}

func (r *Runner) prepare(root string, job *model.Job, inputs map[string]string) error {
	configDir := filepath.Join(root, "input", "config")
	for _, dir := range []string{configDir, filepath.Join(root, "input", "data"), filepath.Join(root, "model")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	hp := job.Hyperparameters
	if hp == nil {
		hp = map[string]any{}
	}
	data, err := json.Marshal(hp)
	if err != nil {
		return fmt.Errorf("marshal hyperparameters: %w", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "hyperparameters.json"), data, 0o644); err != nil {
		return err
	}

	for channel, src := range inputs {
		if channel == "" || strings.ContainsAny(channel, `/\`) || channel == "." || channel == ".." {
			return fmt.Errorf("invalid input channel %q", channel)
		}
		abs, err := filepath.Abs(strings.TrimPrefix(src, "file://"))
		if err != nil {
			return fmt.Errorf("input %s: %w", channel, err)
		}
		if err := os.Symlink(abs, filepath.Join(root, "input", "data", channel)); err != nil {
			return fmt.Errorf("input %s: %w", channel, err)
		}
	}
	return nil
}

// jobEnv layers the job's environment over base and points the worker at
// its job root. Keys are emitted in sorted order.
func jobEnv(base []string, job *model.Job, root string) []string {
	vars := make(map[string]string, len(base)+len(job.Environment)+2)
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	for k, v := range job.Environment {
		vars[k] = v
	}
	if _, ok := job.Environment["TRAINING_JOB_NAME"]; !ok {
		vars["TRAINING_JOB_NAME"] = job.Name
	}
	vars[config.EnvMLRoot] = root

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, len(keys))
	for i, k := range keys {
		env[i] = k + "=" + vars[k]
	}
	return env
}
