package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType names the ledger transitions exported to operators.
type EventType string

const (
	// EventCreditsCharged is emitted after an operation was billed.
	EventCreditsCharged EventType = "credits.charged"
	// EventCreditsRefunded is emitted after a charge was reversed.
	EventCreditsRefunded EventType = "credits.refunded"
	// EventCreditsGranted is emitted when credits are added by an admin, an invite or a purchase.
	EventCreditsGranted EventType = "credits.granted"
	// EventCreditsAdjusted is emitted for admin deductions and balance overrides.
	EventCreditsAdjusted EventType = "credits.adjusted"
	// EventDeductionFailed is emitted when a vendor call succeeded but billing did not.
	EventDeductionFailed EventType = "credits.deduction_failed"
	// EventPriceUpdated is emitted when a service cost override changes.
	EventPriceUpdated EventType = "pricing.updated"
)

// Event envelopes the payload broadcast to hook listeners.
type Event struct {
	ID         string
	Type       EventType
	OccurredAt time.Time
	UserID     string
	ActorID    string
	Metadata   map[string]any
}

// NewEvent stamps an id and time on a new event.
func NewEvent(typ EventType, userID, actorID string, metadata map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		UserID:     userID,
		ActorID:    actorID,
		Metadata:   metadata,
	}
}

// Handler reacts to an Event. Implementations should be idempotent.
type Handler func(context.Context, Event) error

// DefaultTimeout bounds the delivery of one event when none is configured.
const DefaultTimeout = 10 * time.Second

// ErrQueueFull is returned by Publish when the delivery queue has no room.
var ErrQueueFull = errors.New("hooks: delivery queue full")

// Dispatcher coordinates handler registration and event fan-out. The zero
// value delivers inline; NewAsyncDispatcher delivers from a background worker.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler

	queue   chan Event
	done    chan struct{}
	closed  bool
	timeout time.Duration
	log     zerolog.Logger
	dropped atomic.Int64
}

// AsyncOptions configures background delivery.
type AsyncOptions struct {
	// QueueSize defaults to 256. Events published to a full queue are dropped.
	QueueSize int
	// Timeout bounds each event's delivery, defaulting to DefaultTimeout.
	Timeout time.Duration
	Logger  zerolog.Logger
}

// NewAsyncDispatcher starts a worker that delivers published events in order.
// Close drains the queue and stops the worker.
func NewAsyncDispatcher(opts AsyncOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	d := &Dispatcher{
		queue:   make(chan Event, opts.QueueSize),
		done:    make(chan struct{}),
		timeout: opts.Timeout,
		log:     opts.Logger,
	}
	go d.run()
	return d
}

// Register adds a new handler. Handlers fire sequentially in registration order.
func (d *Dispatcher) Register(h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Emit delivers an event to all registered handlers and joins their errors.
// A nil dispatcher drops the event.
func (d *Dispatcher) Emit(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers...)
	d.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publish queues event for the background worker without waiting for
// handlers. A dispatcher without a worker delivers inline.
func (d *Dispatcher) Publish(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if d.queue == nil {
		return d.Emit(ctx, event)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return ErrQueueFull
	}
	select {
	case d.queue <- event:
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped counts events Publish could not queue.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() error {
	if d == nil || d.queue == nil {
		return nil
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
	return nil
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for evt := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.Emit(ctx, evt); err != nil {
			d.log.Warn().Err(err).Str("event", string(evt.Type)).Str("event_id", evt.ID).Msg("hook delivery failed")
		}
		cancel()
	}
}

// ScriptConfig describes how to invoke an external command when events fire.
type ScriptConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	Timeout time.Duration
}

// MarshalEvent converts an Event into the wire format presented to scripts.
var MarshalEvent = JSONMarshaler

// NewScriptHandler returns a Handler that pipes the marshalled event to a
// configured executable via STDIN.
func NewScriptHandler(cfg ScriptConfig) Handler {
	return func(parentCtx context.Context, evt Event) error {
		if cfg.Command == "" {
			return fmt.Errorf("hooks: command not configured")
		}

		payload, err := MarshalEvent(evt)
		if err != nil {
			return fmt.Errorf("hooks: marshal event: %w", err)
		}

		ctx := parentCtx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parentCtx, cfg.Timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			env := cmd.Environ()
			for key, val := range cfg.Env {
				env = append(env, fmt.Sprintf("%s=%s", key, val))
			}
			cmd.Env = env
		}

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("hooks: stdin pipe: %w", err)
		}

		go func() {
			defer stdin.Close()
			_, _ = stdin.Write(payload)
		}()

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("hooks: command failed: %w", err)
		}
		return nil
	}
}

// NewLogHandler writes every event to the structured log. Deduction failures
// are logged at error level so they page whoever watches the stream.
func NewLogHandler(logger zerolog.Logger) Handler {
	return func(_ context.Context, evt Event) error {
		level := zerolog.InfoLevel
		if evt.Type == EventDeductionFailed {
			level = zerolog.ErrorLevel
		}
		logger.WithLevel(level).
			Str("event_id", evt.ID).
			Str("event", string(evt.Type)).
			Str("user_id", evt.UserID).
			Str("actor_id", evt.ActorID).
			Fields(evt.Metadata).
			Msg("hook event")
		return nil
	}
}

// JSONMarshaler serialises the event into a stable JSON envelope.
func JSONMarshaler(evt Event) ([]byte, error) {
	envelope := struct {
		ID         string         `json:"id"`
		Type       EventType      `json:"type"`
		OccurredAt time.Time      `json:"occurred_at"`
		UserID     string         `json:"user_id"`
		ActorID    string         `json:"actor_id"`
		Metadata   map[string]any `json:"metadata"`
	}{
		ID:         evt.ID,
		Type:       evt.Type,
		OccurredAt: evt.OccurredAt,
		UserID:     evt.UserID,
		ActorID:    evt.ActorID,
		Metadata:   evt.Metadata,
	}
	return json.Marshal(envelope)
}
