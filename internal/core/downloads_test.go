package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/provider"
)

func fastDownloadConfig() *config.DownloadsConfig {
	return &config.DownloadsConfig{
		MaxRetries:       3,
		BackoffBase:      time.Millisecond,
		ExpirationWindow: time.Hour,
		SweepInterval:    time.Minute,
		ExpiringSoon:     10 * time.Minute,
	}
}

func waitDownload(t *testing.T, m *DownloadManager, jobID string, status DownloadStatus) *DownloadJob {
	t.Helper()
	var dj *DownloadJob
	require.Eventually(t, func() bool {
		got, err := m.Get(jobID)
		if err != nil {
			return false
		}
		dj = got
		return got.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return dj
}

func TestDownloadAllAssetKinds(t *testing.T) {
	client := newFakeClient()
	store := newMemStore()
	tracker := newTrackerRecorder()

	m := NewDownloadManager(client, store, nil, tracker, nil, fastDownloadConfig())
	m.QueueDownload("j1", "p1", "b1", time.Now())

	dj := waitDownload(t, m, "j1", DownloadCompleted)
	assert.Equal(t, 0, dj.RetryCount)
	require.Len(t, dj.Assets, 3)

	for i, kind := range provider.AssetKinds {
		assert.Equal(t, kind, dj.Assets[i].Kind)
		assert.Equal(t, 1, dj.Assets[i].Version)
		assert.NotZero(t, dj.Assets[i].SizeBytes)
	}

	assert.ElementsMatch(t, []string{
		"b1/j1_V1",
		"b1/j1_V1_thumbnail",
		"b1/j1_V1_filmstrip",
	}, store.paths())
}

func TestDownloadVersionFollowsStoredMax(t *testing.T) {
	client := newFakeClient()
	store := newMemStore()
	store.files["b1/j1_V2"] = []byte("old")
	store.files["b1/j1_V2_thumbnail"] = []byte("old")
	store.files["b1/other_V9"] = []byte("unrelated job")

	m := NewDownloadManager(client, store, nil, nil, nil, fastDownloadConfig())
	m.QueueDownload("j1", "p1", "b1", time.Now())

	dj := waitDownload(t, m, "j1", DownloadCompleted)
	for _, a := range dj.Assets {
		assert.Equal(t, 3, a.Version)
	}
}

func TestDownloadDuplicateQueueIsNoop(t *testing.T) {
	client := newFakeClient()
	var mu sync.Mutex
	fetches := 0
	client.fetchFn = func(providerJobID string, kind provider.AssetKind) ([]byte, error) {
		mu.Lock()
		fetches++
		mu.Unlock()
		return []byte("data"), nil
	}

	m := NewDownloadManager(client, newMemStore(), nil, nil, nil, fastDownloadConfig())
	m.QueueDownload("j1", "p1", "b1", time.Now())
	m.QueueDownload("j1", "p1", "b1", time.Now())

	waitDownload(t, m, "j1", DownloadCompleted)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, fetches)
}

func TestDownloadRetriesWithBackoff(t *testing.T) {
	client := newFakeClient()
	var mu sync.Mutex
	attempts := 0
	client.fetchFn = func(providerJobID string, kind provider.AssetKind) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		if kind == provider.AssetVideo {
			attempts++
			if attempts <= 2 {
				return nil, errors.New("stream truncated")
			}
		}
		return []byte("data"), nil
	}

	m := NewDownloadManager(client, newMemStore(), nil, nil, nil, fastDownloadConfig())
	m.QueueDownload("j1", "p1", "b1", time.Now())

	dj := waitDownload(t, m, "j1", DownloadCompleted)
	assert.Equal(t, 2, dj.RetryCount)
	for _, a := range dj.Assets {
		assert.Equal(t, 1, a.Version)
	}
}

func TestDownloadPartialFailureNeverOverwrites(t *testing.T) {
	client := newFakeClient()
	var mu sync.Mutex
	thumbFails := 1
	client.fetchFn = func(providerJobID string, kind provider.AssetKind) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		if kind == provider.AssetThumbnail && thumbFails > 0 {
			thumbFails--
			return nil, errors.New("not ready")
		}
		return []byte("data"), nil
	}
	store := newMemStore()

	m := NewDownloadManager(client, store, nil, nil, nil, fastDownloadConfig())
	m.QueueDownload("j1", "p1", "b1", time.Now())

	dj := waitDownload(t, m, "j1", DownloadCompleted)
	assert.Equal(t, 1, dj.RetryCount)

	// The first attempt saved the video at V1, so the retry moved to V2.
	for _, a := range dj.Assets {
		assert.Equal(t, 2, a.Version)
	}
	paths := store.paths()
	assert.Contains(t, paths, "b1/j1_V1")
	assert.Contains(t, paths, "b1/j1_V2")
	assert.Contains(t, paths, "b1/j1_V2_thumbnail")
	assert.Contains(t, paths, "b1/j1_V2_filmstrip")
}

func TestDownloadFailsAfterRetriesExhausted(t *testing.T) {
	client := newFakeClient()
	client.fetchFn = func(providerJobID string, kind provider.AssetKind) ([]byte, error) {
		return nil, errors.New("gateway timeout")
	}
	tracker := newTrackerRecorder()

	m := NewDownloadManager(client, newMemStore(), nil, tracker, nil, fastDownloadConfig())
	m.QueueDownload("j1", "p1", "b1", time.Now())

	dj := waitDownload(t, m, "j1", DownloadFailed)
	assert.Equal(t, 3, dj.RetryCount)
	assert.Contains(t, dj.LastError, "gateway timeout")
	assert.GreaterOrEqual(t, tracker.errorCount("j1"), 1)
}

func TestDownloadExpiredBeforeFirstAttempt(t *testing.T) {
	client := newFakeClient()
	var mu sync.Mutex
	fetches := 0
	client.fetchFn = func(providerJobID string, kind provider.AssetKind) ([]byte, error) {
		mu.Lock()
		fetches++
		mu.Unlock()
		return []byte("data"), nil
	}

	m := NewDownloadManager(client, newMemStore(), nil, nil, nil, fastDownloadConfig())
	m.QueueDownload("j1", "p1", "b1", time.Now().Add(-2*time.Hour))

	dj := waitDownload(t, m, "j1", DownloadExpired)
	assert.Equal(t, 0, dj.RetryCount)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, fetches)
}

func TestRetryDownloadRules(t *testing.T) {
	client := newFakeClient()
	var mu sync.Mutex
	failing := true
	client.fetchFn = func(providerJobID string, kind provider.AssetKind) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return nil, errors.New("gateway timeout")
		}
		return []byte("data"), nil
	}

	m := NewDownloadManager(client, newMemStore(), nil, nil, nil, fastDownloadConfig())

	assert.ErrorIs(t, m.RetryDownload("missing"), ErrDownloadNotFound)

	m.QueueDownload("j1", "p1", "b1", time.Now())
	waitDownload(t, m, "j1", DownloadFailed)

	mu.Lock()
	failing = false
	mu.Unlock()

	require.NoError(t, m.RetryDownload("j1"))
	dj := waitDownload(t, m, "j1", DownloadCompleted)
	assert.Equal(t, 0, dj.RetryCount)

	// Completed downloads are not retryable.
	assert.ErrorIs(t, m.RetryDownload("j1"), ErrDownloadNotRetryable)

	// Expired downloads are refused outright.
	m.QueueDownload("j2", "p2", "b1", time.Now().Add(-2*time.Hour))
	waitDownload(t, m, "j2", DownloadExpired)
	assert.ErrorIs(t, m.RetryDownload("j2"), ErrDownloadExpired)
}

func TestSweepExpiresAndFlagsJobs(t *testing.T) {
	m := NewDownloadManager(newFakeClient(), newMemStore(), nil, nil, nil, fastDownloadConfig())

	now := time.Now()
	m.jobs["stale"] = &DownloadJob{
		JobID:     "stale",
		Status:    DownloadPending,
		ExpiresAt: now.Add(-time.Minute),
	}
	m.jobs["closing"] = &DownloadJob{
		JobID:     "closing",
		Status:    DownloadPending,
		ExpiresAt: now.Add(5 * time.Minute),
	}
	m.jobs["fresh"] = &DownloadJob{
		JobID:     "fresh",
		Status:    DownloadPending,
		ExpiresAt: now.Add(30 * time.Minute),
	}
	m.jobs["active"] = &DownloadJob{
		JobID:     "active",
		Status:    DownloadDownloading,
		ExpiresAt: now.Add(-time.Minute),
	}
	m.jobs["done"] = &DownloadJob{
		JobID:     "done",
		Status:    DownloadCompleted,
		ExpiresAt: now.Add(-time.Minute),
	}

	m.sweep()

	stale, _ := m.Get("stale")
	assert.Equal(t, DownloadExpired, stale.Status)

	closing, _ := m.Get("closing")
	assert.Equal(t, DownloadPending, closing.Status)
	assert.True(t, closing.ExpiringSoon)

	fresh, _ := m.Get("fresh")
	assert.Equal(t, DownloadPending, fresh.Status)
	assert.False(t, fresh.ExpiringSoon)

	// In-flight attempts settle on their own; completed jobs stay done.
	active, _ := m.Get("active")
	assert.Equal(t, DownloadDownloading, active.Status)

	done, _ := m.Get("done")
	assert.Equal(t, DownloadCompleted, done.Status)
}

func TestQueueDownloadAfterStopIsNoop(t *testing.T) {
	m := NewDownloadManager(newFakeClient(), newMemStore(), nil, nil, nil, fastDownloadConfig())
	m.Start()
	m.Stop()

	m.QueueDownload("j1", "p1", "b1", time.Now())
	_, err := m.Get("j1")
	assert.ErrorIs(t, err, ErrDownloadNotFound)
}
