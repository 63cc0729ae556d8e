package model

import "time"

// JobState represents the lifecycle state of a platform job.
type JobState string

const (
	JobStateInProgress JobState = "InProgress"
	JobStateCompleted  JobState = "Completed"
	JobStateFailed     JobState = "Failed"
)

// IsTerminal returns true if the job will not change state again.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// JobSpec describes a training job to submit.
type JobSpec struct {
	// BaseName is used to generate the job name when Name is empty.
	BaseName string `json:"base_name"`

	// Name overrides the generated job name.
	Name string `json:"name,omitempty"`

	Image           string            `json:"image,omitempty"`
	InstanceType    string            `json:"instance_type,omitempty"`
	InstanceCount   int               `json:"instance_count,omitempty"`
	Hyperparameters map[string]any    `json:"hyperparameters,omitempty"`
	Inputs          map[string]string `json:"inputs,omitempty"`
	OutputPath      string            `json:"output_path,omitempty"`

	// Environment is passed to the training process. The correlation key
	// travels this way.
	Environment map[string]string `json:"environment,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Job is the platform's view of a submitted job; Attach returns one.
type Job struct {
	Name            string            `json:"name"`
	State           JobState          `json:"state"`
	Image           string            `json:"image,omitempty"`
	Hyperparameters map[string]any    `json:"hyperparameters,omitempty"`
	Environment     map[string]string `json:"environment,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
	ModelArtifact   string            `json:"model_artifact,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// InstanceSpec describes where an attached job's model is deployed.
type InstanceSpec struct {
	EndpointName  string            `json:"endpoint_name"`
	InstanceType  string            `json:"instance_type"`
	InstanceCount int               `json:"instance_count"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// Endpoint is a deployed model endpoint.
type Endpoint struct {
	Name         string            `json:"name"`
	JobName      string            `json:"job_name"`
	InstanceType string            `json:"instance_type"`
	Count        int               `json:"instance_count"`
	Tags         map[string]string `json:"tags,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}
