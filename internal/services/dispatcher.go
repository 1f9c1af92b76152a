package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/relay-gateway/internal/models"
	"github.com/akagifreeez/relay-gateway/pkg/phone"
)

// RelayClient sends one admitted job to the downstream service.
type RelayClient interface {
	Send(ctx context.Context, target, clientIP string, iterations int) (string, error)
}

const (
	minIterations = 1
	maxIterations = 10
)

// Dispatcher owns the bounded dispatch log and the background relay workers.
// Submit returns as soon as the entry is logged and the job is queued; the
// originating request never waits on downstream I/O. Each entry receives at
// most one terminal status, and a failed relay is never retried.
type Dispatcher struct {
	client   RelayClient
	timeout  time.Duration
	capacity int
	workers  int
	hub      *Hub

	mu      sync.Mutex
	entries []*models.DispatchEntry

	jobs   chan *models.DispatchEntry
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewDispatcher(client RelayClient, timeout time.Duration, capacity, workers int, hub *Hub) *Dispatcher {
	if capacity <= 0 {
		capacity = 1000
	}
	if workers <= 0 {
		workers = 8
	}
	return &Dispatcher{
		client:   client,
		timeout:  timeout,
		capacity: capacity,
		workers:  workers,
		hub:      hub,
		jobs:     make(chan *models.DispatchEntry, workers*4),
	}
}

// Start launches the relay workers. Pending jobs are abandoned when ctx is
// cancelled; their entries keep whatever status they had.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	log.Info().Int("workers", d.workers).Msg("Starting dispatch workers")

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case entry := <-d.jobs:
					d.relay(ctx, entry)
				}
			}
		}()
	}
}

// Stop cancels the workers and waits for in-flight relays to finish.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Submit validates the request, appends an "initiated" log entry and queues
// the downstream relay. It returns the entry without waiting for the relay.
func (d *Dispatcher) Submit(ctx context.Context, cred *models.Credential, target string, iterations int, clientIP string) (*models.DispatchEntry, error) {
	cleaned, err := phone.Normalize(target)
	if err != nil {
		return nil, ErrInvalidInput
	}

	if iterations < minIterations {
		iterations = minIterations
	}
	if iterations > maxIterations {
		iterations = maxIterations
	}

	id, err := newRequestID()
	if err != nil {
		return nil, err
	}

	entry := &models.DispatchEntry{
		RequestID:    id,
		Target:       cleaned,
		CredentialID: cred.ID,
		Iterations:   iterations,
		ClientIP:     clientIP,
		Status:       models.DispatchInitiated,
		CreatedAt:    time.Now(),
	}

	d.mu.Lock()
	// Most-recent-first ring: prepend, drop the oldest past capacity.
	d.entries = append([]*models.DispatchEntry{entry}, d.entries...)
	if len(d.entries) > d.capacity {
		d.entries = d.entries[:d.capacity]
	}
	d.mu.Unlock()

	d.publish(entry)

	select {
	case d.jobs <- entry:
	default:
		// Queue is full. Relay directly from a fresh goroutine rather than
		// blocking admission; the at-most-one-attempt contract holds either way.
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.relay(context.Background(), entry)
		}()
	}

	cp := *entry
	return &cp, nil
}

// Get returns a copy of the entry for requestID, if it is still in the log.
func (d *Dispatcher) Get(requestID string) (*models.DispatchEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, e := range d.entries {
		if e.RequestID == requestID {
			cp := *e
			return &cp, true
		}
	}
	return nil, false
}

// Recent returns up to n entries for a credential, most recent first. An
// empty credentialID matches every entry.
func (d *Dispatcher) Recent(credentialID string, n int) []models.DispatchEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]models.DispatchEntry, 0, n)
	for _, e := range d.entries {
		if credentialID != "" && e.CredentialID != credentialID {
			continue
		}
		out = append(out, *e)
		if len(out) == n {
			break
		}
	}
	return out
}

// Len reports the current number of log entries.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// relay performs the downstream call and records the terminal status.
func (d *Dispatcher) relay(ctx context.Context, entry *models.DispatchEntry) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	response, err := d.client.Send(callCtx, entry.Target, entry.ClientIP, entry.Iterations)
	if err != nil {
		log.Warn().Err(err).Str("request_id", entry.RequestID).Msg("Dispatch relay failed")
		d.fail(entry.RequestID, err.Error())
		return
	}

	log.Info().Str("request_id", entry.RequestID).Msg("Dispatch relay completed")
	d.complete(entry.RequestID, response)
}

func (d *Dispatcher) complete(requestID, response string) {
	d.mutate(requestID, func(e *models.DispatchEntry) {
		now := time.Now()
		e.Status = models.DispatchCompleted
		e.CompletedAt = &now
		e.Response = response
	})
}

func (d *Dispatcher) fail(requestID, errMsg string) {
	d.mutate(requestID, func(e *models.DispatchEntry) {
		now := time.Now()
		e.Status = models.DispatchFailed
		e.FailedAt = &now
		e.Error = errMsg
	})
}

// mutate applies fn to the matching entry. Evicted entries and entries that
// already reached a terminal state are left alone; both are no-ops, not
// errors.
func (d *Dispatcher) mutate(requestID string, fn func(*models.DispatchEntry)) {
	d.mu.Lock()

	var updated *models.DispatchEntry
	for _, e := range d.entries {
		if e.RequestID == requestID {
			if e.Status == models.DispatchInitiated {
				fn(e)
				cp := *e
				updated = &cp
			}
			break
		}
	}
	d.mu.Unlock()

	if updated != nil {
		d.publish(updated)
	}
}

func (d *Dispatcher) publish(entry *models.DispatchEntry) {
	if d.hub != nil {
		d.hub.Publish(*entry)
	}
}

func newRequestID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
