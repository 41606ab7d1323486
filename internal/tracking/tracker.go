package tracking

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/clipforge/clipforge/internal/config"
)

// Event types pushed to the external tracking store.
const (
	EventStateChanged = "job_state_changed"
	EventError        = "job_error"
)

type Payload struct {
	Event     string                 `json:"event"`
	JobID     string                 `json:"job_id"`
	State     string                 `json:"state,omitempty"`
	Category  string                 `json:"category,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Signature string                 `json:"signature,omitempty"`
}

// HTTPTracker delivers job events to the tracking store over HTTP. It is
// strictly best-effort: events are queued to a bounded channel and sent by
// background workers, and a full queue drops the event with a log line.
// Scheduling never waits on it.
type HTTPTracker struct {
	endpoint   string
	secret     string
	httpClient *http.Client
	retryCount int
	retryDelay time.Duration

	queue  chan *Payload
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewHTTPTracker(cfg config.TrackingConfig) *HTTPTracker {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}

	t := &HTTPTracker{
		endpoint: cfg.Endpoint,
		secret:   cfg.Secret,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		queue:      make(chan *Payload, cfg.QueueSize),
		stopCh:     make(chan struct{}),
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		t.wg.Add(1)
		go t.worker(i)
	}

	return t
}

func (t *HTTPTracker) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

func (t *HTTPTracker) UpdateJobState(jobID string, state string, extra map[string]interface{}) {
	t.enqueue(&Payload{
		Event:   EventStateChanged,
		JobID:   jobID,
		State:   state,
		Details: extra,
	})
}

func (t *HTTPTracker) LogError(jobID string, category string, message string, details map[string]interface{}) {
	t.enqueue(&Payload{
		Event:    EventError,
		JobID:    jobID,
		Category: category,
		Message:  message,
		Details:  details,
	})
}

func (t *HTTPTracker) enqueue(p *Payload) {
	if t.endpoint == "" {
		return
	}
	p.Timestamp = time.Now()

	select {
	case t.queue <- p:
	default:
		log.Printf("[tracking] queue full, dropping %s event for job %s", p.Event, p.JobID)
	}
}

func (t *HTTPTracker) worker(id int) {
	defer t.wg.Done()

	for {
		select {
		case <-t.stopCh:
			return
		case p := <-t.queue:
			if err := t.sendWithRetry(p); err != nil {
				log.Printf("[tracking worker %d] failed to deliver %s event for job %s: %v",
					id, p.Event, p.JobID, err)
			}
		}
	}
}

func (t *HTTPTracker) sendWithRetry(p *Payload) error {
	var lastErr error
	for attempt := 1; attempt <= t.retryCount; attempt++ {
		err := t.send(p)
		if err == nil {
			return nil
		}
		lastErr = err

		if isClientError(err) {
			return err
		}

		if attempt < t.retryCount {
			backoff := t.retryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-t.stopCh:
				return fmt.Errorf("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (t *HTTPTracker) send(p *Payload) error {
	// Sign a copy: the signature covers the payload as serialized without
	// one, and a retried delivery must produce the same body again.
	msg := *p
	msg.Signature = ""

	body, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if t.secret != "" {
		msg.Signature = signPayload(body, t.secret)
		body, err = json.Marshal(&msg)
		if err != nil {
			return fmt.Errorf("marshal signed payload: %w", err)
		}
	}

	req, err := http.NewRequest(http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Clipforge-Event", msg.Event)
	if msg.Signature != "" {
		req.Header.Set("X-Clipforge-Signature", msg.Signature)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("http error: %d", resp.StatusCode)
	}

	return nil
}

func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "http error: 4")
}

// NopTracker satisfies the tracker interface when no external store is
// configured.
type NopTracker struct{}

func (NopTracker) UpdateJobState(string, string, map[string]interface{}) {}

func (NopTracker) LogError(string, string, string, map[string]interface{}) {}
