// Package platform submits training jobs and deploys their models.
//
// Platform is the narrow surface the submitter and the deploy resolver
// need. Client speaks to a platform REST API; Server is a small
// SQLite-backed implementation of that API for local and test runs.
package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/me/mlledger/pkg/model"
)

// Platform submits jobs, reattaches to them by name, and deploys their
// models to endpoints.
type Platform interface {
	Submit(ctx context.Context, spec model.JobSpec) (string, error)
	Attach(ctx context.Context, jobName string) (*model.Job, error)
	Deploy(ctx context.Context, job *model.Job, spec model.InstanceSpec) (string, error)
}

// JobNameTimeLayout is the timestamp layout embedded in generated job names.
const JobNameTimeLayout = "2006-01-02-15-04-05"

// maxJobNameLen matches the 63 character limit of managed training services.
const maxJobNameLen = 63

// GenerateJobName builds "<base>-<timestamp>-<suffix>" where suffix is
// the first eight characters of a random UUID.
func GenerateJobName(base string, now time.Time) string {
	base = strings.Trim(base, "-")
	if base == "" {
		base = "job"
	}
	suffix := uuid.New().String()[:8]
	tail := "-" + now.UTC().Format(JobNameTimeLayout) + "-" + suffix
	if len(base)+len(tail) > maxJobNameLen {
		base = strings.TrimRight(base[:maxJobNameLen-len(tail)], "-")
	}
	return base + tail
}

// ValidateJobName reports whether name is usable as a job name.
func ValidateJobName(name string) error {
	if name == "" {
		return fmt.Errorf("job name is empty")
	}
	if len(name) > maxJobNameLen {
		return fmt.Errorf("job name %q exceeds %d characters", name, maxJobNameLen)
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' && i > 0:
		default:
			return fmt.Errorf("job name %q: invalid character %q", name, r)
		}
	}
	return nil
}

// ModelArtifactURI is where a job's packaged model lands under outputPath.
func ModelArtifactURI(outputPath, jobName string) string {
	if outputPath == "" {
		return ""
	}
	return strings.TrimRight(outputPath, "/") + "/" + jobName + "/output/model.tar.gz"
}
