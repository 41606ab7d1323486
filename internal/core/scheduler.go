package core

import (
	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/metrics"
	"github.com/clipforge/clipforge/internal/provider"
	"github.com/clipforge/clipforge/internal/storage"
)

// Scheduler wires the dispatcher, poller and download manager together.
type Scheduler struct {
	Dispatcher *Dispatcher
	Poller     *Poller
	Downloads  *DownloadManager
}

func NewScheduler(client provider.Client, st storage.Store, jobStore JobStore, tracker Tracker, m *metrics.Metrics, cfg *config.Config) *Scheduler {
	if cfg == nil {
		cfg = &config.Config{}
	}

	dispatcher := NewDispatcher(client, jobStore, tracker, m, &cfg.Dispatcher)
	downloads := NewDownloadManager(client, st, jobStore, tracker, m, &cfg.Downloads)
	poller := NewPoller(client, dispatcher, downloads, &cfg.Poller)
	dispatcher.SetWatcher(poller)

	return &Scheduler{
		Dispatcher: dispatcher,
		Poller:     poller,
		Downloads:  downloads,
	}
}

func (s *Scheduler) Start() {
	s.Downloads.Start()
}

func (s *Scheduler) Stop() {
	s.Poller.Stop()
	s.Downloads.Stop()
}
