// Package events records domain events in the event_log table inside the
// writing transaction and hands them to a Publisher once it commits.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/mind-engage/mindengage-training/internal/db"
)

const (
	ResourceVersioned       = "resource.versioned"
	ResourceDeleted         = "resource.deleted"
	TaskCreated             = "task.created"
	TaskClosed              = "task.closed"
	AssignmentStatusChanged = "assignment.status_changed"
	KnowledgeCompleted      = "assignment.knowledge_completed"
	SubmissionStarted       = "submission.started"
	SubmissionFinalized     = "submission.finalized"
	SubmissionGraded        = "submission.graded"
	AnswerGraded            = "answer.graded"
)

type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Batch appends events to event_log through q and remembers them so they
// can be published after the surrounding transaction commits.
type Batch struct {
	q      db.Querier
	now    func() time.Time
	events []Event
}

func NewBatch(q db.Querier, now func() time.Time) *Batch {
	if now == nil {
		now = time.Now
	}
	return &Batch{q: q, now: now}
}

func (b *Batch) Add(ctx context.Context, typ, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", typ, err)
	}
	e := Event{ID: uuid.NewString(), Type: typ, Key: key, Data: raw, CreatedAt: b.now().UTC()}
	if _, err := b.q.ExecContext(ctx,
		`INSERT INTO event_log (id, typ, key, data, created_at) VALUES ($1,$2,$3,$4,$5)`,
		e.ID, e.Type, e.Key, string(e.Data), e.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("events: append %s: %w", typ, err)
	}
	b.events = append(b.events, e)
	return nil
}

func (b *Batch) Events() []Event {
	if b == nil {
		return nil
	}
	return b.events
}

// Flush publishes committed events. Failures are logged, not returned: the
// event is already durable in event_log.
func Flush(ctx context.Context, pub Publisher, log *slog.Logger, evs []Event) {
	if pub == nil {
		return
	}
	for _, e := range evs {
		if err := pub.Publish(ctx, e); err != nil && log != nil {
			log.Warn("publish event failed", "type", e.Type, "key", e.Key, "error", err)
		}
	}
}

// NATSPublisher sends each event to <prefix>.<type> on a core NATS
// connection.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "training"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.prefix+"."+e.Type, data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// LogPublisher writes events to a slog logger. Used when no broker is
// configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, e Event) error {
	p.Logger.Info("event", "type", e.Type, "key", e.Key, "data", string(e.Data))
	return nil
}

// Recorder is an in-memory Publisher for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	evs := r.Events()
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}
