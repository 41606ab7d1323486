package core

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/provider"
)

const statusTimeout = 15 * time.Second

// TerminalHandler receives the single terminal outcome of a watched job.
type TerminalHandler interface {
	OnJobTerminal(jobID string, outcome Outcome)
}

// DownloadQueuer starts asset retrieval for a completed job.
type DownloadQueuer interface {
	QueueDownload(jobID, providerJobID, batchID string, completedAt time.Time)
}

// Poller bridges asynchronous provider state into dispatcher events. Each
// admitted job owns an independent ticker; watches share no lock beyond
// the bookkeeping map.
type Poller struct {
	client    provider.Client
	terminals TerminalHandler
	downloads DownloadQueuer

	interval time.Duration
	maxPolls int

	mu      sync.Mutex
	watches map[string]*watch
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type watch struct {
	job    *AdmittedJob
	cancel chan struct{}
	nudge  chan struct{}
}

func NewPoller(client provider.Client, terminals TerminalHandler, downloads DownloadQueuer, cfg *config.PollerConfig) *Poller {
	interval := 30 * time.Second
	maxPolls := 120
	if cfg != nil {
		if cfg.Interval > 0 {
			interval = cfg.Interval
		}
		if cfg.MaxPolls > 0 {
			maxPolls = cfg.MaxPolls
		}
	}

	return &Poller{
		client:    client,
		terminals: terminals,
		downloads: downloads,
		interval:  interval,
		maxPolls:  maxPolls,
		watches:   make(map[string]*watch),
		stopCh:    make(chan struct{}),
	}
}

// Watch starts a polling loop for an admitted job. Watching an already
// watched job is a no-op.
func (p *Poller) Watch(job *AdmittedJob) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if _, exists := p.watches[job.ID]; exists {
		p.mu.Unlock()
		return
	}
	w := &watch{
		job:    job,
		cancel: make(chan struct{}),
		nudge:  make(chan struct{}, 1),
	}
	p.watches[job.ID] = w
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(w)
}

// Nudge short-circuits the next scheduled poll for a provider job, as
// after a push delivery. The timer keeps running regardless, guarding
// against missed deliveries.
func (p *Poller) Nudge(providerJobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.watches {
		if w.job.ProviderJobID == providerJobID {
			select {
			case w.nudge <- struct{}{}:
			default:
			}
			return true
		}
	}
	return false
}

func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
}

func (p *Poller) run(w *watch) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	polls := 0

	if p.poll(w, &polls) {
		return
	}

	for {
		select {
		case <-p.stopCh:
			return
		case <-w.cancel:
			return
		case <-w.nudge:
			if p.poll(w, &polls) {
				return
			}
		case <-ticker.C:
			if p.poll(w, &polls) {
				return
			}
		}
	}
}

// poll performs one status check. It returns true once the watch is done,
// either because the provider reported a terminal state or because the
// poll ceiling was reached.
func (p *Poller) poll(w *watch, polls *int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	state, err := p.client.GetStatus(ctx, w.job.ProviderJobID)
	cancel()

	if err != nil {
		// A transport error fails this poll, not the job.
		log.Printf("[poller] status check failed for job %s (provider %s): %v",
			w.job.ID, w.job.ProviderJobID, err)
	} else {
		switch state.State {
		case provider.StateSucceeded:
			p.finish(w, Outcome{Status: JobStatusCompleted})
			return true
		case provider.StateFailed:
			msg := state.ErrorMessage
			if msg == "" {
				msg = "provider reported failure"
			}
			p.finish(w, Outcome{Status: JobStatusFailed, ErrorMessage: msg})
			return true
		}
	}

	*polls++
	if *polls >= p.maxPolls {
		log.Printf("[poller] job %s exceeded %d polls without terminal state, giving up",
			w.job.ID, p.maxPolls)
		p.finish(w, Outcome{
			Status:       JobStatusTimedOut,
			ErrorMessage: fmt.Sprintf("no terminal state after %d polls", p.maxPolls),
		})
		return true
	}

	return false
}

// finish removes the watch and forwards the outcome exactly once. A
// second finish for the same job is a no-op, so a watch stopped by its
// ceiling and by a duplicate terminal report cannot double-report.
func (p *Poller) finish(w *watch, outcome Outcome) {
	p.mu.Lock()
	if _, ok := p.watches[w.job.ID]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.watches, w.job.ID)
	p.mu.Unlock()

	close(w.cancel)

	p.terminals.OnJobTerminal(w.job.ID, outcome)

	if outcome.Status == JobStatusCompleted && p.downloads != nil {
		p.downloads.QueueDownload(w.job.ID, w.job.ProviderJobID, w.job.BatchID, time.Now())
	}
}
