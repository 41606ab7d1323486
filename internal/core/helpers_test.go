package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/clipforge/clipforge/internal/provider"
)

// fakeClient is a scriptable provider.Client. Unset hooks fall back to
// always-succeeding defaults.
type fakeClient struct {
	mu          sync.Mutex
	starts      []provider.GenerationParams
	statusCalls map[string]int

	startFn  func(params provider.GenerationParams) (string, error)
	statusFn func(providerJobID string, call int) (*provider.JobState, error)
	fetchFn  func(providerJobID string, kind provider.AssetKind) ([]byte, error)
}

func newFakeClient() *fakeClient {
	return &fakeClient{statusCalls: make(map[string]int)}
}

func (f *fakeClient) Start(ctx context.Context, params provider.GenerationParams) (string, error) {
	f.mu.Lock()
	f.starts = append(f.starts, params)
	n := len(f.starts)
	fn := f.startFn
	f.mu.Unlock()

	if fn != nil {
		return fn(params)
	}
	return fmt.Sprintf("prov-%d", n), nil
}

func (f *fakeClient) GetStatus(ctx context.Context, providerJobID string) (*provider.JobState, error) {
	f.mu.Lock()
	f.statusCalls[providerJobID]++
	call := f.statusCalls[providerJobID]
	fn := f.statusFn
	f.mu.Unlock()

	if fn != nil {
		return fn(providerJobID, call)
	}
	return &provider.JobState{State: provider.StateSucceeded}, nil
}

func (f *fakeClient) FetchAsset(ctx context.Context, providerJobID string, kind provider.AssetKind) ([]byte, error) {
	f.mu.Lock()
	fn := f.fetchFn
	f.mu.Unlock()

	if fn != nil {
		return fn(providerJobID, kind)
	}
	return []byte("data-" + string(kind)), nil
}

func (f *fakeClient) startedPrompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	prompts := make([]string, 0, len(f.starts))
	for _, p := range f.starts {
		prompts = append(prompts, p.Prompt)
	}
	return prompts
}

// recordingWatcher collects the jobs handed to it.
type recordingWatcher struct {
	mu      sync.Mutex
	watched []*AdmittedJob
}

func (w *recordingWatcher) Watch(job *AdmittedJob) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched = append(w.watched, job)
}

func (w *recordingWatcher) jobs() []*AdmittedJob {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*AdmittedJob(nil), w.watched...)
}

// autoWatcher immediately reports every watched job terminal with the
// configured outcome, simulating instant provider completion.
type autoWatcher struct {
	terminals TerminalHandler
	outcome   Outcome
}

func (w *autoWatcher) Watch(job *AdmittedJob) {
	go w.terminals.OnJobTerminal(job.ID, w.outcome)
}

// termRecorder collects terminal reports, counting duplicates.
type termRecorder struct {
	mu       sync.Mutex
	outcomes map[string][]Outcome
}

func newTermRecorder() *termRecorder {
	return &termRecorder{outcomes: make(map[string][]Outcome)}
}

func (r *termRecorder) OnJobTerminal(jobID string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[jobID] = append(r.outcomes[jobID], outcome)
}

func (r *termRecorder) get(jobID string) []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes[jobID]...)
}

type queuedDownload struct {
	jobID         string
	providerJobID string
	batchID       string
	completedAt   time.Time
}

// queueRecorder collects QueueDownload calls.
type queueRecorder struct {
	mu    sync.Mutex
	calls []queuedDownload
}

func (r *queueRecorder) QueueDownload(jobID, providerJobID, batchID string, completedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, queuedDownload{jobID, providerJobID, batchID, completedAt})
}

func (r *queueRecorder) all() []queuedDownload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queuedDownload(nil), r.calls...)
}

// memStore is an in-memory storage.Store.
type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string][]byte)}
}

func (s *memStore) Save(ctx context.Context, path string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = append([]byte(nil), data...)
	return "mem://" + path, nil
}

func (s *memStore) List(ctx context.Context, dir string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := dir + "/"
	var names []string
	for path := range s.files {
		if len(path) > len(prefix) && path[:len(prefix)] == prefix {
			names = append(names, path[len(prefix):])
		}
	}
	return names, nil
}

func (s *memStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("asset not found: %s", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStore) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var paths []string
	for p := range s.files {
		paths = append(paths, p)
	}
	return paths
}

// trackerRecorder collects tracking calls.
type trackerRecorder struct {
	mu     sync.Mutex
	states map[string][]string
	errors map[string][]string
}

func newTrackerRecorder() *trackerRecorder {
	return &trackerRecorder{
		states: make(map[string][]string),
		errors: make(map[string][]string),
	}
}

func (t *trackerRecorder) UpdateJobState(jobID, state string, extra map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[jobID] = append(t.states[jobID], state)
}

func (t *trackerRecorder) LogError(jobID, category, message string, details map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors[jobID] = append(t.errors[jobID], category+": "+message)
}

func (t *trackerRecorder) errorCount(jobID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.errors[jobID])
}
