// Package notify delivers outbox events to notification sinks.
//
// The engine writes every transition to the events table in the same
// transaction as the change. The Dispatcher polls that table and pushes new
// events to each sink with its own persisted cursor, so delivery is
// at-least-once and never runs inside an engine critical section.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"reviewflow/internal/domain"
	"reviewflow/internal/metrics"
	"reviewflow/internal/repo"
	"reviewflow/internal/retry"
)

const (
	defaultInterval = 2 * time.Second
	defaultBatch    = 100
)

// Sink receives events. Publish may be called again for an event it already
// accepted, so receivers should dedupe on Message.ID.
type Sink interface {
	Name() string
	Accepts(eventType string) bool
	Publish(ctx context.Context, msg Message) error
}

// Message is the wire form of an outbox event.
type Message struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	ItemID    string          `json:"item_id,omitempty"`
	ActorID   string          `json:"actor_id"`
	OldStatus domain.Status   `json:"old_status,omitempty"`
	NewStatus domain.Status   `json:"new_status,omitempty"`
	Assignees []string        `json:"assignees"`
	TS        string          `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

func NewMessage(evt domain.Event) Message {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	assignees := evt.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	return Message{
		ID:        evt.ID,
		Type:      evt.Type,
		ItemID:    evt.ItemID,
		ActorID:   evt.ActorID,
		OldStatus: evt.OldStatus,
		NewStatus: evt.NewStatus,
		Assignees: assignees,
		TS:        evt.TS,
		Payload:   payload,
	}
}

type Dispatcher struct {
	repo     repo.Repo
	sinks    []Sink
	interval time.Duration
	batch    int
	retry    retry.Policy
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	wake     chan struct{}

	mu      sync.Mutex
	cursors map[string]int64
}

type Option func(*Dispatcher)

func WithInterval(d time.Duration) Option {
	return func(x *Dispatcher) {
		if d > 0 {
			x.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(x *Dispatcher) {
		if n > 0 {
			x.batch = n
		}
	}
}

func WithRetry(p retry.Policy) Option {
	return func(x *Dispatcher) { x.retry = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(x *Dispatcher) { x.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(x *Dispatcher) {
		if l != nil {
			x.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(x *Dispatcher) {
		if now != nil {
			x.now = now
		}
	}
}

func NewDispatcher(r repo.Repo, sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		repo:     r,
		sinks:    sinks,
		interval: defaultInterval,
		batch:    defaultBatch,
		logger:   slog.Default(),
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		cursors:  make(map[string]int64),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Wake asks the loop to poll now. It never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) Sinks() []Sink {
	return d.sinks
}

// Run polls until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.sinks) == 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("notify: dispatch round failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// DispatchOnce delivers one batch to every sink concurrently. A failing sink
// keeps its cursor at the failed event and does not hold up the others.
func (d *Dispatcher) DispatchOnce(ctx context.Context) error {
	var g errgroup.Group
	for _, s := range d.sinks {
		s := s
		g.Go(func() error {
			return d.dispatchSink(ctx, s)
		})
	}
	return g.Wait()
}

func (d *Dispatcher) dispatchSink(ctx context.Context, s Sink) error {
	cursor, err := d.cursorFor(ctx, s.Name())
	if err != nil {
		return err
	}
	evs, err := d.repo.ListEvents(ctx, repo.EventFilters{AfterID: cursor, Limit: d.batch})
	if err != nil {
		return err
	}
	if len(evs) == 0 {
		return nil
	}
	start := cursor
	for _, evt := range evs {
		if s.Accepts(evt.Type) {
			msg := NewMessage(evt)
			err := backoff.Retry(func() error {
				return s.Publish(ctx, msg)
			}, d.retry.BackOff(ctx))
			if err != nil {
				d.metrics.IncrementDeliveryFailure(s.Name())
				d.logger.Warn("notify: delivery failed", "sink", s.Name(), "event_id", evt.ID, "type", evt.Type, "error", err)
				break
			}
			d.metrics.RecordDelivery(s.Name(), evt.ID)
		}
		cursor = evt.ID
	}
	if cursor == start {
		return nil
	}
	return d.setCursor(ctx, s.Name(), cursor)
}

// cursorFor loads the persisted cursor of a sink. A sink seen for the first
// time starts after the newest event instead of replaying history.
func (d *Dispatcher) cursorFor(ctx context.Context, name string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[name]; ok {
		return cur, nil
	}
	cur, found, err := d.repo.DeliveryCursor(ctx, name)
	if err != nil {
		return 0, err
	}
	if !found {
		if cur, err = d.repo.LatestEventID(ctx); err != nil {
			return 0, err
		}
		if err := d.repo.SetDeliveryCursor(ctx, name, cur, d.timestamp()); err != nil {
			return 0, err
		}
	}
	d.cursors[name] = cur
	return cur, nil
}

func (d *Dispatcher) setCursor(ctx context.Context, name string, id int64) error {
	d.mu.Lock()
	d.cursors[name] = id
	d.mu.Unlock()
	return retry.Do(ctx, d.retry, "delivery cursor", func() error {
		return d.repo.SetDeliveryCursor(ctx, name, id, d.timestamp())
	})
}

// Cursor returns the in-memory cursor of a sink, for status output.
func (d *Dispatcher) Cursor(name string) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.cursors[name]
	return cur, ok
}

func (d *Dispatcher) timestamp() string {
	return d.now().UTC().Format(time.RFC3339)
}
