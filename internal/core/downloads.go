package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/metrics"
	"github.com/clipforge/clipforge/internal/provider"
	"github.com/clipforge/clipforge/internal/storage"
)

var (
	ErrDownloadNotFound     = errors.New("download not found")
	ErrDownloadExpired      = errors.New("download window has expired")
	ErrDownloadNotRetryable = errors.New("only failed downloads can be retried")
)

const downloadTimeout = 2 * time.Minute

type DownloadStatus string

const (
	DownloadPending     DownloadStatus = "pending"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadFailed      DownloadStatus = "failed"
	DownloadExpired     DownloadStatus = "expired"
)

func (s DownloadStatus) Terminal() bool {
	return s == DownloadCompleted || s == DownloadFailed || s == DownloadExpired
}

// DownloadedAsset is one retrieved artifact.
type DownloadedAsset struct {
	Kind      provider.AssetKind `json:"kind"`
	Location  string             `json:"location"`
	SizeBytes int64              `json:"size_bytes"`
	Version   int                `json:"version"`
}

// DownloadJob tracks asset retrieval for one completed generation. The
// provider discards outputs after the retention window, so no attempt is
// made past ExpiresAt.
type DownloadJob struct {
	JobID         string            `json:"job_id"`
	ProviderJobID string            `json:"provider_job_id"`
	BatchID       string            `json:"batch_id"`
	CompletedAt   time.Time         `json:"completed_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
	Status        DownloadStatus    `json:"status"`
	RetryCount    int               `json:"retry_count"`
	Assets        []DownloadedAsset `json:"assets,omitempty"`
	LastError     string            `json:"last_error,omitempty"`
	ExpiringSoon  bool              `json:"expiring_soon,omitempty"`
}

// DownloadManager retrieves all output artifacts for completed jobs inside
// the retention window, with bounded retries and per-(batch, job)
// versioning. Every DownloadJob is owned exclusively by the manager.
type DownloadManager struct {
	client  provider.Client
	storage storage.Store
	store   JobStore
	tracker Tracker
	metrics *metrics.Metrics

	maxRetries    int
	backoffBase   time.Duration
	window        time.Duration
	sweepInterval time.Duration
	expiringSoon  time.Duration

	mu      sync.Mutex
	jobs    map[string]*DownloadJob
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewDownloadManager(client provider.Client, st storage.Store, jobStore JobStore, tracker Tracker, m *metrics.Metrics, cfg *config.DownloadsConfig) *DownloadManager {
	if cfg == nil {
		cfg = &config.DownloadsConfig{}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	backoffBase := cfg.BackoffBase
	if backoffBase == 0 {
		backoffBase = 1 * time.Second
	}
	window := cfg.ExpirationWindow
	if window == 0 {
		window = 1 * time.Hour
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval == 0 {
		sweepInterval = 5 * time.Minute
	}
	expiringSoon := cfg.ExpiringSoon
	if expiringSoon == 0 {
		expiringSoon = 10 * time.Minute
	}

	return &DownloadManager{
		client:        client,
		storage:       st,
		store:         jobStore,
		tracker:       tracker,
		metrics:       m,
		maxRetries:    maxRetries,
		backoffBase:   backoffBase,
		window:        window,
		sweepInterval: sweepInterval,
		expiringSoon:  expiringSoon,
		jobs:          make(map[string]*DownloadJob),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the periodic expiration sweep.
func (m *DownloadManager) Start() {
	m.wg.Add(1)
	go m.sweepLoop()
}

func (m *DownloadManager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
}

// QueueDownload creates the DownloadJob for a completed generation and
// immediately attempts retrieval. A second call for the same job is a
// no-op.
func (m *DownloadManager) QueueDownload(jobID, providerJobID, batchID string, completedAt time.Time) {
	dj := &DownloadJob{
		JobID:         jobID,
		ProviderJobID: providerJobID,
		BatchID:       batchID,
		CompletedAt:   completedAt,
		ExpiresAt:     completedAt.Add(m.window),
		Status:        DownloadPending,
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if _, exists := m.jobs[jobID]; exists {
		m.mu.Unlock()
		return
	}
	m.jobs[jobID] = dj
	m.mu.Unlock()

	m.persistDownload(jobID, DownloadPending, 0, "")

	go m.attempt(jobID)
}

// RetryDownload re-triggers a failed, non-expired download.
func (m *DownloadManager) RetryDownload(jobID string) error {
	m.mu.Lock()
	dj, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return ErrDownloadNotFound
	}
	if dj.Status == DownloadExpired || time.Now().After(dj.ExpiresAt) {
		if dj.Status != DownloadExpired {
			dj.Status = DownloadExpired
			m.mu.Unlock()
			m.reportExpired(jobID)
		} else {
			m.mu.Unlock()
		}
		return ErrDownloadExpired
	}
	if dj.Status != DownloadFailed {
		m.mu.Unlock()
		return ErrDownloadNotRetryable
	}
	dj.Status = DownloadPending
	dj.RetryCount = 0
	dj.LastError = ""
	m.mu.Unlock()

	log.Printf("[downloads] manual retry for job %s", jobID)
	go m.attempt(jobID)

	return nil
}

// Get returns a copy of the download state for a job.
func (m *DownloadManager) Get(jobID string) (*DownloadJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dj, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrDownloadNotFound
	}
	cp := *dj
	cp.Assets = append([]DownloadedAsset(nil), dj.Assets...)
	return &cp, nil
}

func (m *DownloadManager) attempt(jobID string) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	dj, ok := m.jobs[jobID]
	if !ok || dj.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	if time.Now().After(dj.ExpiresAt) {
		dj.Status = DownloadExpired
		m.mu.Unlock()
		m.reportExpired(jobID)
		return
	}
	dj.Status = DownloadDownloading
	providerJobID := dj.ProviderJobID
	batchID := dj.BatchID
	retryCount := dj.RetryCount
	m.mu.Unlock()

	m.persistDownload(jobID, DownloadDownloading, retryCount, "")

	ctx, cancel := context.WithTimeout(context.Background(), downloadTimeout)
	defer cancel()

	version, err := m.nextVersion(ctx, batchID, jobID)
	if err != nil {
		m.handleFailure(jobID, fmt.Errorf("version scan: %w", err))
		return
	}

	var assets []DownloadedAsset
	for _, kind := range provider.AssetKinds {
		data, err := m.client.FetchAsset(ctx, providerJobID, kind)
		if err != nil {
			m.handleFailure(jobID, fmt.Errorf("fetch %s: %w", kind, err))
			return
		}

		assetPath := batchID + "/" + assetName(jobID, version, kind)
		location, err := m.storage.Save(ctx, assetPath, data)
		if err != nil {
			m.handleFailure(jobID, fmt.Errorf("save %s: %w", kind, err))
			return
		}

		assets = append(assets, DownloadedAsset{
			Kind:      kind,
			Location:  location,
			SizeBytes: int64(len(data)),
			Version:   version,
		})

		if m.store != nil {
			if err := m.store.RecordAsset(jobID, batchID, kind, location, int64(len(data)), version); err != nil {
				log.Printf("[downloads] failed to record asset %s for job %s: %v", kind, jobID, err)
			}
		}
	}

	m.mu.Lock()
	dj, ok = m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	dj.Status = DownloadCompleted
	dj.Assets = assets
	finalRetries := dj.RetryCount
	m.mu.Unlock()

	log.Printf("[downloads] job %s completed: %d assets at version %d (%d retries)",
		jobID, len(assets), version, finalRetries)

	m.persistDownload(jobID, DownloadCompleted, finalRetries, "")
	m.metrics.DownloadCompleted()

	if m.tracker != nil {
		locations := make([]string, 0, len(assets))
		for _, a := range assets {
			locations = append(locations, a.Location)
		}
		m.tracker.UpdateJobState(jobID, "assets_downloaded", map[string]interface{}{
			"locations": locations,
			"version":   version,
		})
	}
}

func (m *DownloadManager) handleFailure(jobID string, cause error) {
	m.mu.Lock()
	dj, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	dj.LastError = cause.Error()

	if dj.RetryCount < m.maxRetries && time.Now().Before(dj.ExpiresAt) {
		dj.RetryCount++
		dj.Status = DownloadPending
		retryCount := dj.RetryCount
		m.mu.Unlock()

		backoff := m.backoffBase * time.Duration(1<<uint(retryCount-1))
		log.Printf("[downloads] job %s attempt failed (retry %d/%d in %v): %v",
			jobID, retryCount, m.maxRetries, backoff, cause)

		m.persistDownload(jobID, DownloadPending, retryCount, cause.Error())
		m.metrics.DownloadRetried()

		time.AfterFunc(backoff, func() {
			m.attempt(jobID)
		})
		return
	}

	dj.Status = DownloadFailed
	retryCount := dj.RetryCount
	m.mu.Unlock()

	log.Printf("[downloads] job %s failed after %d retries: %v", jobID, retryCount, cause)

	m.persistDownload(jobID, DownloadFailed, retryCount, cause.Error())
	m.metrics.DownloadFailed()

	if m.tracker != nil {
		m.tracker.LogError(jobID, "download", cause.Error(), map[string]interface{}{
			"retry_count": retryCount,
		})
	}
}

func (m *DownloadManager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep expires stale jobs that no retry timer will ever touch again and
// flags jobs nearing their deadline.
func (m *DownloadManager) sweep() {
	now := time.Now()
	var expired []string

	m.mu.Lock()
	for id, dj := range m.jobs {
		if dj.Status.Terminal() || dj.Status == DownloadDownloading {
			continue
		}
		if now.After(dj.ExpiresAt) {
			dj.Status = DownloadExpired
			expired = append(expired, id)
			continue
		}
		if !dj.ExpiringSoon && dj.ExpiresAt.Sub(now) <= m.expiringSoon {
			dj.ExpiringSoon = true
			log.Printf("[downloads] job %s approaching expiration (%v left)", id, dj.ExpiresAt.Sub(now).Round(time.Second))
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.reportExpired(id)
	}
}

func (m *DownloadManager) reportExpired(jobID string) {
	m.mu.Lock()
	retryCount := 0
	if dj, ok := m.jobs[jobID]; ok {
		retryCount = dj.RetryCount
	}
	m.mu.Unlock()

	log.Printf("[downloads] job %s expired before assets could be retrieved", jobID)

	m.persistDownload(jobID, DownloadExpired, retryCount, "")
	m.metrics.DownloadExpired()

	if m.tracker != nil {
		m.tracker.LogError(jobID, "download", "assets expired before retrieval", map[string]interface{}{
			"retry_count": retryCount,
		})
	}
}

func (m *DownloadManager) persistDownload(jobID string, status DownloadStatus, retryCount int, errMsg string) {
	if m.store == nil {
		return
	}
	if err := m.store.UpdateDownload(jobID, status, retryCount, errMsg); err != nil {
		log.Printf("[downloads] failed to persist download state for %s: %v", jobID, err)
	}
}

// nextVersion scans previously stored assets for the (batch, job) pair and
// returns max+1. Versions never repeat, even across retries, so a re-queued
// download can never overwrite a prior artifact.
func (m *DownloadManager) nextVersion(ctx context.Context, batchID, jobID string) (int, error) {
	names, err := m.storage.List(ctx, batchID)
	if err != nil {
		return 0, err
	}

	maxVersion := 0
	for _, name := range names {
		if v, ok := parseVersion(name, jobID); ok && v > maxVersion {
			maxVersion = v
		}
	}
	return maxVersion + 1, nil
}

// assetName builds "jobID_V{version}" for the primary output and
// "jobID_V{version}_{kind}" for the rest.
func assetName(jobID string, version int, kind provider.AssetKind) string {
	name := fmt.Sprintf("%s_V%d", jobID, version)
	if kind != provider.AssetVideo {
		name += "_" + string(kind)
	}
	return name
}

func parseVersion(name, jobID string) (int, bool) {
	prefix := jobID + "_V"
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	rest := name[len(prefix):]
	if idx := strings.IndexByte(rest, '_'); idx >= 0 {
		rest = rest[:idx]
	}
	v, err := strconv.Atoi(rest)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}
