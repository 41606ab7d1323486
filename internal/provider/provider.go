package provider

import (
	"context"
)

// AssetKind identifies one of the output artifacts a finished generation
// exposes for download.
type AssetKind string

const (
	AssetVideo     AssetKind = "video"
	AssetThumbnail AssetKind = "thumbnail"
	AssetFilmstrip AssetKind = "filmstrip"
)

// AssetKinds lists every artifact retrieved for a completed job, in
// download order.
var AssetKinds = []AssetKind{AssetVideo, AssetThumbnail, AssetFilmstrip}

type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// GenerationParams describes one synthesis request.
type GenerationParams struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
	AspectRatio string  `json:"aspect_ratio,omitempty"`
	Loop        bool    `json:"loop,omitempty"`
}

// JobState is a point-in-time snapshot of a provider-side job.
type JobState struct {
	State        State   `json:"state"`
	Progress     float64 `json:"progress,omitempty"`
	ErrorMessage string  `json:"error,omitempty"`
}

// Client is the capability the scheduling core consumes. Implementations
// talk to the remote generation service; tests substitute fakes.
type Client interface {
	Start(ctx context.Context, params GenerationParams) (string, error)
	GetStatus(ctx context.Context, providerJobID string) (*JobState, error)
	FetchAsset(ctx context.Context, providerJobID string, kind AssetKind) ([]byte, error)
}
