// Package lifecycle owns task creation, status transitions and shift
// operations. Every mutation is written in one transaction and then fanned
// out to the event bus, the notifier, the performance aggregator and the
// dispatcher.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/marcus/dispatchd/internal/dispatch"
	"github.com/marcus/dispatchd/internal/events"
	"github.com/marcus/dispatchd/internal/locale"
	"github.com/marcus/dispatchd/internal/logging"
	"github.com/marcus/dispatchd/internal/store"
	"github.com/marcus/dispatchd/internal/tasks"
)

// Errors returned by the engine.
var (
	ErrUnknownStatus     = errors.New("unknown status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTaskFinished      = errors.New("task already finished")
	ErrValidation        = errors.New("invalid request")
)

// Defaults.
const (
	DefaultDuplicateWindow = 5 * time.Minute
	DefaultBasePoints      = 5
	DefaultGoldBonus       = 10
	DefaultTarget          = 90 * time.Minute
)

// Assigner hands tasks to staff. *dispatch.Dispatcher satisfies it.
type Assigner interface {
	AssignOne(ctx context.Context, tenantID, taskID string) (*dispatch.Assignment, error)
	AssignTo(ctx context.Context, tenantID, taskID, staffID string) (*dispatch.Assignment, error)
	Sweep(ctx context.Context, tenantID string) ([]dispatch.Assignment, error)
}

// Aggregator receives finished tasks. *performance.Aggregator satisfies it.
type Aggregator interface {
	Submit(t tasks.Task, staffName string) bool
}

// Config tunes the engine.
type Config struct {
	// StrictTransitions rejects moves backwards through the lifecycle.
	StrictTransitions bool
	DuplicateWindow   time.Duration
	BasePoints        int
	GoldBonus         int
	DefaultTarget     time.Duration
	AssignOnCreate    bool
	// NotifyTargets receive the on-the-way alert.
	NotifyTargets   []string
	DefaultPhotoURL string
}

// DefaultConfig returns the stock scoring and duplicate window.
func DefaultConfig() Config {
	return Config{
		DuplicateWindow: DefaultDuplicateWindow,
		BasePoints:      DefaultBasePoints,
		GoldBonus:       DefaultGoldBonus,
		DefaultTarget:   DefaultTarget,
		AssignOnCreate:  true,
	}
}

// Engine runs the task lifecycle.
type Engine struct {
	store      *store.Store
	cfg        Config
	assigner   Assigner
	bus        *events.Bus
	notifier   dispatch.Notifier
	locale     *locale.Service
	aggregator Aggregator
	validate   *validator.Validate
	logger     *logging.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default config.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithAssigner sets the dispatcher used after create, clock-in and finish.
func WithAssigner(a Assigner) Option {
	return func(e *Engine) { e.assigner = a }
}

// WithBus publishes changes to b.
func WithBus(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithNotifier sets the alert queue.
func WithNotifier(n dispatch.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLocale sets the language service.
func WithLocale(l *locale.Service) Option {
	return func(e *Engine) { e.locale = l }
}

// WithAggregator sets the completion sink.
func WithAggregator(a Aggregator) Option {
	return func(e *Engine) { e.aggregator = a }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine over s.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		cfg:      DefaultConfig(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logging.Component("lifecycle"),
		tracer:   otel.Tracer("github.com/marcus/dispatchd/internal/lifecycle"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.DuplicateWindow <= 0 {
		e.cfg.DuplicateWindow = DefaultDuplicateWindow
	}
	if e.cfg.DefaultTarget <= 0 {
		e.cfg.DefaultTarget = DefaultTarget
	}
	if e.locale == nil {
		e.locale = locale.NewService(locale.English, nil, nil)
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

func (e *Engine) publish(tenantID string, ch events.Channel, typ string, payload any) {
	if e.bus != nil {
		e.bus.Publish(tenantID, ch, typ, payload)
	}
}

// sweep runs a dispatch pass after a state change freed capacity.
func (e *Engine) sweep(ctx context.Context, tenantID, reason string) {
	if e.assigner == nil {
		return
	}
	if _, err := e.assigner.Sweep(ctx, tenantID); err != nil {
		e.logger.ErrorCtx("dispatch sweep failed", logging.Fields{
			"tenant": tenantID,
			"reason": reason,
			"error":  err,
		})
	}
}
