package core

import (
	"time"

	"github.com/clipforge/clipforge/internal/provider"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusTimedOut   JobStatus = "timed_out"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusTimedOut
}

// QueuedJob is a caller-submitted generation request. Immutable once
// created; owned by the dispatcher until admitted.
type QueuedJob struct {
	ID         string
	BatchID    string
	Params     provider.GenerationParams
	EnqueuedAt time.Time
}

// AdmittedJob exists only while the job occupies one of the concurrency
// slots. Created at admission, destroyed on the terminal report.
type AdmittedJob struct {
	QueuedJob
	ProviderJobID string
	AdmittedAt    time.Time
}

// Outcome is a terminal result delivered by the poller (or synthesized by
// the dispatcher for submission failures).
type Outcome struct {
	Status       JobStatus
	ErrorMessage string
}

// Summary holds queue and slot counts for dashboards.
type Summary struct {
	Queued    int `json:"queued"`
	Admitted  int `json:"admitted"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	FreeSlots int `json:"free_slots"`
}

// JobView is a point-in-time lookup of a job's lifecycle state.
type JobView struct {
	ID            string    `json:"id"`
	BatchID       string    `json:"batch_id"`
	Status        JobStatus `json:"status"`
	QueuePosition int       `json:"queue_position,omitempty"`
	ProviderJobID string    `json:"provider_job_id,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// Tracker mirrors the external tracking store used for human review. It is
// best-effort: implementations must never block scheduling.
type Tracker interface {
	UpdateJobState(jobID string, state string, extra map[string]interface{})
	LogError(jobID string, category string, message string, details map[string]interface{})
}

// JobStore persists job and asset records so in-flight work can be
// re-hydrated after a restart. All writes from the scheduling path are
// best-effort; errors are logged, never propagated.
type JobStore interface {
	CreateJob(job *QueuedJob) error
	SetProviderJobID(jobID, providerJobID string) error
	UpdateJobStatus(jobID string, status JobStatus, errMsg string) error
	RecordAsset(jobID, batchID string, kind provider.AssetKind, location string, sizeBytes int64, version int) error
	UpdateDownload(jobID string, status DownloadStatus, retryCount int, errMsg string) error
}
