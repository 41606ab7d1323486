package store

import (
	"time"
)

type JobRecord struct {
	ID            string    `json:"id"`
	BatchID       string    `json:"batch_id"`
	Prompt        string    `json:"prompt"`
	Model         string    `json:"model"`
	DurationSec   float64   `json:"duration_sec"`
	AspectRatio   string    `json:"aspect_ratio"`
	Loop          bool      `json:"loop"`
	ProviderJobID string    `json:"provider_job_id,omitempty"`
	Status        string    `json:"status"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type AssetRecord struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	BatchID   string    `json:"batch_id"`
	Kind      string    `json:"kind"`
	Location  string    `json:"location"`
	SizeBytes int64     `json:"size_bytes"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

type DownloadRecord struct {
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	RetryCount   int       `json:"retry_count"`
	ErrorMessage string    `json:"error_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type JobFilter struct {
	BatchID string
	Status  string
	Limit   int
	Offset  int
}
