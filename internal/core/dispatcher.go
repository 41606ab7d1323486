package core

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/metrics"
	"github.com/clipforge/clipforge/internal/provider"
)

var ErrJobNotFound = errors.New("job not found")

const submitTimeout = 30 * time.Second

// Watcher observes an admitted job until it reaches a terminal state and
// reports back through OnJobTerminal.
type Watcher interface {
	Watch(job *AdmittedJob)
}

// Dispatcher owns the FIFO queue and the admitted set. It admits at most
// maxConcurrent jobs to the provider at a time and advances the queue as
// jobs terminate.
type Dispatcher struct {
	client  provider.Client
	store   JobStore
	tracker Tracker
	metrics *metrics.Metrics

	maxConcurrent int

	mu        sync.Mutex
	queue     []*QueuedJob
	admitting map[string]*QueuedJob
	admitted  map[string]*AdmittedJob
	outcomes  map[string]Outcome
	completed int
	failed    int
	passing   bool
	rerun     bool

	watcher Watcher
}

func NewQueuedJob(batchID string, params provider.GenerationParams) *QueuedJob {
	return &QueuedJob{
		ID:         uuid.NewString(),
		BatchID:    batchID,
		Params:     params,
		EnqueuedAt: time.Now(),
	}
}

func NewDispatcher(client provider.Client, store JobStore, tracker Tracker, m *metrics.Metrics, cfg *config.DispatcherConfig) *Dispatcher {
	maxConcurrent := 4
	if cfg != nil && cfg.MaxConcurrent > 0 {
		maxConcurrent = cfg.MaxConcurrent
	}

	return &Dispatcher{
		client:        client,
		store:         store,
		tracker:       tracker,
		metrics:       m,
		maxConcurrent: maxConcurrent,
		admitting:     make(map[string]*QueuedJob),
		admitted:      make(map[string]*AdmittedJob),
		outcomes:      make(map[string]Outcome),
	}
}

// SetWatcher must be called before the first Submit.
func (d *Dispatcher) SetWatcher(w Watcher) {
	d.watcher = w
}

// Submit appends the job to the queue tail and triggers an admission pass.
// It never blocks the caller.
func (d *Dispatcher) Submit(job *QueuedJob) {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	d.mu.Lock()
	d.queue = append(d.queue, job)
	d.mu.Unlock()

	if d.store != nil {
		if err := d.store.CreateJob(job); err != nil {
			log.Printf("[dispatcher] failed to persist job %s: %v", job.ID, err)
		}
	}
	d.metrics.JobSubmitted()

	go d.admissionPass()
}

// SubmitBatch submits jobs preserving their order.
func (d *Dispatcher) SubmitBatch(jobs []*QueuedJob) {
	now := time.Now()

	d.mu.Lock()
	for _, job := range jobs {
		if job.EnqueuedAt.IsZero() {
			job.EnqueuedAt = now
		}
		d.queue = append(d.queue, job)
	}
	d.mu.Unlock()

	for _, job := range jobs {
		if d.store != nil {
			if err := d.store.CreateJob(job); err != nil {
				log.Printf("[dispatcher] failed to persist job %s: %v", job.ID, err)
			}
		}
		d.metrics.JobSubmitted()
	}

	go d.admissionPass()
}

// OnJobTerminal is called by the poller when a job reaches a terminal
// state. Duplicate reports for the same job are discarded; each freed slot
// triggers exactly one admission pass.
func (d *Dispatcher) OnJobTerminal(jobID string, outcome Outcome) {
	d.mu.Lock()
	if _, done := d.outcomes[jobID]; done {
		d.mu.Unlock()
		log.Printf("[dispatcher] duplicate terminal report for job %s discarded", jobID)
		return
	}
	if _, ok := d.admitted[jobID]; !ok {
		d.mu.Unlock()
		log.Printf("[dispatcher] terminal report for unadmitted job %s ignored", jobID)
		return
	}
	delete(d.admitted, jobID)
	d.outcomes[jobID] = outcome
	if outcome.Status == JobStatusCompleted {
		d.completed++
	} else {
		d.failed++
	}
	d.mu.Unlock()

	d.recordOutcome(jobID, outcome)
	d.admissionPass()
}

// admissionPass drains the queue while slots are free. Only one pass runs
// at a time; a pass requested while another is active is absorbed by the
// rerun flag so the active pass re-checks before closing.
func (d *Dispatcher) admissionPass() {
	d.mu.Lock()
	if d.passing {
		d.rerun = true
		d.mu.Unlock()
		return
	}
	d.passing = true
	d.mu.Unlock()

	for {
		d.mu.Lock()
		if len(d.admitted)+len(d.admitting) < d.maxConcurrent && len(d.queue) > 0 {
			job := d.queue[0]
			d.queue = d.queue[1:]
			// The job holds its slot through the Start call so status
			// lookups never lose sight of it mid-admission.
			d.admitting[job.ID] = job
			d.mu.Unlock()
			d.admit(job)
			continue
		}
		if d.rerun {
			d.rerun = false
			d.mu.Unlock()
			continue
		}
		d.passing = false
		d.mu.Unlock()
		return
	}
}

func (d *Dispatcher) admit(job *QueuedJob) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	providerJobID, err := d.client.Start(ctx, job.Params)
	cancel()
	if err != nil {
		// A submission-time error means a malformed request. Terminal,
		// non-retryable, and the job never reached the admitted set.
		log.Printf("[dispatcher] job %s rejected at submission: %v", job.ID, err)
		outcome := Outcome{Status: JobStatusFailed, ErrorMessage: err.Error()}

		d.mu.Lock()
		delete(d.admitting, job.ID)
		d.outcomes[job.ID] = outcome
		d.failed++
		d.mu.Unlock()

		d.recordOutcome(job.ID, outcome)
		return
	}

	admitted := &AdmittedJob{
		QueuedJob:     *job,
		ProviderJobID: providerJobID,
		AdmittedAt:    time.Now(),
	}

	d.mu.Lock()
	delete(d.admitting, job.ID)
	d.admitted[job.ID] = admitted
	slots := len(d.admitted)
	d.mu.Unlock()

	log.Printf("[dispatcher] job %s admitted as provider job %s (%d/%d slots)",
		job.ID, providerJobID, slots, d.maxConcurrent)

	if d.store != nil {
		if err := d.store.SetProviderJobID(job.ID, providerJobID); err != nil {
			log.Printf("[dispatcher] failed to persist provider job id for %s: %v", job.ID, err)
		}
		if err := d.store.UpdateJobStatus(job.ID, JobStatusInProgress, ""); err != nil {
			log.Printf("[dispatcher] failed to persist status for %s: %v", job.ID, err)
		}
	}
	d.metrics.JobAdmitted()
	d.metrics.SetAdmittedSlots(slots)

	if d.tracker != nil {
		d.tracker.UpdateJobState(job.ID, string(JobStatusInProgress), map[string]interface{}{
			"provider_job_id": providerJobID,
		})
	}

	if d.watcher != nil {
		d.watcher.Watch(admitted)
	}
}

func (d *Dispatcher) recordOutcome(jobID string, outcome Outcome) {
	if d.store != nil {
		if err := d.store.UpdateJobStatus(jobID, outcome.Status, outcome.ErrorMessage); err != nil {
			log.Printf("[dispatcher] failed to persist outcome for %s: %v", jobID, err)
		}
	}

	switch outcome.Status {
	case JobStatusCompleted:
		d.metrics.JobCompleted()
	case JobStatusTimedOut:
		d.metrics.JobTimedOut()
	default:
		d.metrics.JobFailed()
	}
	d.mu.Lock()
	d.metrics.SetAdmittedSlots(len(d.admitted))
	d.mu.Unlock()

	if d.tracker != nil {
		d.tracker.UpdateJobState(jobID, string(outcome.Status), nil)
		if outcome.Status != JobStatusCompleted {
			d.tracker.LogError(jobID, "generation", outcome.ErrorMessage, nil)
		}
	}
}

// Summary returns queue and slot counts.
func (d *Dispatcher) Summary() *Summary {
	d.mu.Lock()
	defer d.mu.Unlock()

	inFlight := len(d.admitted) + len(d.admitting)
	return &Summary{
		Queued:    len(d.queue),
		Admitted:  inFlight,
		Completed: d.completed,
		Failed:    d.failed,
		FreeSlots: d.maxConcurrent - inFlight,
	}
}

// GetStatus returns a point-in-time view of a job's lifecycle state.
func (d *Dispatcher) GetStatus(jobID string) (*JobView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, job := range d.queue {
		if job.ID == jobID {
			return &JobView{
				ID:            job.ID,
				BatchID:       job.BatchID,
				Status:        JobStatusQueued,
				QueuePosition: i + 1,
			}, nil
		}
	}

	if job, ok := d.admitting[jobID]; ok {
		// Start call in flight; the slot is held but no provider id exists yet.
		return &JobView{
			ID:      job.ID,
			BatchID: job.BatchID,
			Status:  JobStatusInProgress,
		}, nil
	}

	if job, ok := d.admitted[jobID]; ok {
		return &JobView{
			ID:            job.ID,
			BatchID:       job.BatchID,
			Status:        JobStatusInProgress,
			ProviderJobID: job.ProviderJobID,
		}, nil
	}

	if outcome, ok := d.outcomes[jobID]; ok {
		return &JobView{
			ID:           jobID,
			Status:       outcome.Status,
			ErrorMessage: outcome.ErrorMessage,
		}, nil
	}

	return nil, ErrJobNotFound
}
