package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Recorder is the write side used by the lifecycle engine.
type Recorder interface {
	Log(ctx context.Context, action string, opts ...EventOption) error
	LogError(ctx context.Context, action string, err error, opts ...EventOption) error
}

// ContextExtractor pulls a value out of the request context.
type ContextExtractor func(context.Context) (string, bool)

// Logger writes audit events to a Storage.
type Logger struct {
	storage   Storage
	now       func() time.Time
	requestID ContextExtractor
	actorID   ContextExtractor
}

// Option configures a Logger.
type Option func(*Logger)

func WithRequestIDExtractor(fn ContextExtractor) Option {
	return func(l *Logger) { l.requestID = fn }
}

func WithActorExtractor(fn ContextExtractor) Option {
	return func(l *Logger) { l.actorID = fn }
}

// WithClock overrides time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger creates a Logger. Panics if storage is nil.
func NewLogger(storage Storage, opts ...Option) *Logger {
	if storage == nil {
		panic("audit: storage cannot be nil")
	}
	l := &Logger{storage: storage, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ Recorder = (*Logger)(nil)

// Log records a successful action.
func (l *Logger) Log(ctx context.Context, action string, opts ...EventOption) error {
	return l.store(ctx, l.newEvent(ctx, action, ResultSuccess), opts)
}

// LogError records a failed action.
func (l *Logger) LogError(ctx context.Context, action string, err error, opts ...EventOption) error {
	e := l.newEvent(ctx, action, ResultError)
	if err != nil {
		e.Error = err.Error()
	}
	return l.store(ctx, e, opts)
}

func (l *Logger) newEvent(ctx context.Context, action string, result Result) Event {
	e := Event{
		ID:        uuid.NewString(),
		Action:    action,
		Result:    result,
		CreatedAt: l.now().UTC(),
	}
	if l.requestID != nil {
		if v, ok := l.requestID(ctx); ok {
			e.RequestID = v
		}
	}
	if l.actorID != nil {
		if v, ok := l.actorID(ctx); ok {
			e.ActorID = v
		}
	}
	return e
}

func (l *Logger) store(ctx context.Context, e Event, opts []EventOption) error {
	for _, opt := range opts {
		opt(&e)
	}
	if err := e.Validate(); err != nil {
		return err
	}
	return l.storage.Store(ctx, e)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Log(context.Context, string, ...EventOption) error { return nil }

func (Nop) LogError(context.Context, string, error, ...EventOption) error { return nil }
