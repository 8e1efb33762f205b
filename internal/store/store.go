// Package store persists generation jobs for the serve surface.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/zipatlas/internal/pipeline"
)

// ErrNotFound is returned when a job ID does not exist.
var ErrNotFound = eris.New("store: job not found")

// JobStatus tracks a job through its lifecycle.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
)

// JobParams records what a job was asked to do.
type JobParams struct {
	InputFile   string   `json:"input_file"`
	ZIPColumn   string   `json:"zip_column"`
	GroupColumn string   `json:"group_column"`
	Retain      []string `json:"retain,omitempty"`
	SampleK     int      `json:"sample_k,omitempty"`
	Seed        uint64   `json:"seed,omitempty"`
}

// Job is one generation request plus its outcome. Result is present once
// the pipeline has run; failed jobs may carry a partial result for
// inspection alongside Error.
type Job struct {
	ID        string           `json:"id"`
	Params    JobParams        `json:"params"`
	Status    JobStatus        `json:"status"`
	Error     string           `json:"error,omitempty"`
	Result    *pipeline.Result `json:"result,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status JobStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for generation jobs.
type Store interface {
	CreateJob(ctx context.Context, params JobParams) (*Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error
	UpdateJobResult(ctx context.Context, jobID string, result *pipeline.Result) error
	FailJob(ctx context.Context, jobID string, message string, result *pipeline.Result) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
