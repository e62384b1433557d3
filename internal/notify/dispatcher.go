package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/marcus/dispatchd/internal/logging"
)

// Defaults.
const (
	DefaultWorkers     = 4
	DefaultQueueSize   = 256
	DefaultMaxAttempts = 3
	DefaultBackoff     = 1500 * time.Millisecond
	DefaultSendTimeout = 15 * time.Second
)

// ErrShutdown is returned by Shutdown when called twice.
var ErrShutdown = errors.New("notify: dispatcher already shut down")

type job struct {
	alert bool
	req   Request
}

// Dispatcher owns the worker pool. Enqueue never blocks; a full queue drops
// the request with a warning.
type Dispatcher struct {
	transport     Transport
	simulate      bool
	workers       int
	queueSize     int
	maxAttempts   int
	backoff       time.Duration
	sendTimeout   time.Duration
	countryPrefix string
	activity      *ActivityLog
	logger        *logging.Logger
	tracer        trace.Tracer
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
	onResult      func(Request, Result)

	mu      sync.RWMutex
	queue   chan job
	started bool
	closed  bool
	root    context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSimulate records sends to the activity log instead of the transport.
func WithSimulate(on bool) Option { return func(d *Dispatcher) { d.simulate = on } }

// WithWorkers sets the pool size.
func WithWorkers(n int) Option { return func(d *Dispatcher) { d.workers = n } }

// WithQueueSize bounds the pending queue.
func WithQueueSize(n int) Option { return func(d *Dispatcher) { d.queueSize = n } }

// WithRetry sets attempts and the backoff unit; attempt n waits n*backoff.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(d *Dispatcher) {
		d.maxAttempts = attempts
		d.backoff = backoff
	}
}

// WithSendTimeout bounds each transport attempt.
func WithSendTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.sendTimeout = t } }

// WithCountryPrefix sets the prefix used by phone normalization.
func WithCountryPrefix(p string) Option { return func(d *Dispatcher) { d.countryPrefix = p } }

// WithActivityLog replaces the simulate log.
func WithActivityLog(l *ActivityLog) Option { return func(d *Dispatcher) { d.activity = l } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithResultHook observes every final result from the pool.
func WithResultHook(fn func(Request, Result)) Option { return func(d *Dispatcher) { d.onResult = fn } }

// New creates a dispatcher. Call Start before enqueuing.
func New(t Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport:   t,
		workers:     DefaultWorkers,
		queueSize:   DefaultQueueSize,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		sendTimeout: DefaultSendTimeout,
		logger:      logging.Component("notify"),
		tracer:      otel.Tracer("github.com/marcus/dispatchd/internal/notify"),
		now:         time.Now,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers <= 0 {
		d.workers = DefaultWorkers
	}
	if d.queueSize <= 0 {
		d.queueSize = DefaultQueueSize
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = DefaultMaxAttempts
	}
	if d.activity == nil {
		d.activity = NewActivityLog(0)
	}
	if d.transport == nil {
		d.transport = NewLogTransport(d.logger)
	}
	d.queue = make(chan job, d.queueSize)
	d.root, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start launches the worker pool. Repeated calls are no-ops.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	d.logger.InfoCtx("notification workers started", logging.Fields{
		"workers":  d.workers,
		"queue":    d.queueSize,
		"simulate": d.simulate,
	})
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		var res Result
		if j.alert {
			res = d.SendAlert(d.root, j.req)
		} else {
			res = d.Send(d.root, j.req)
		}
		if !res.Success {
			d.logger.WarnCtx("notification failed", logging.Fields{
				"channel":  res.Channel,
				"to":       j.req.To,
				"tenant":   j.req.TenantID,
				"attempts": res.Attempts,
				"error":    res.Error,
			})
		}
		if d.onResult != nil {
			d.onResult(j.req, res)
		}
	}
}

// Enqueue queues a single-channel send. It reports false when dropped.
func (d *Dispatcher) Enqueue(req Request) bool {
	return d.enqueue(job{req: req})
}

// EnqueueAlert queues a send that fails over WhatsApp, SMS, then voice.
func (d *Dispatcher) EnqueueAlert(req Request) bool {
	return d.enqueue(job{alert: true, req: req})
}

func (d *Dispatcher) enqueue(j job) bool {
	if j.req.To == "" {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.WarnCtx("notification dropped after shutdown", logging.Fields{"to": j.req.To})
		return false
	}
	select {
	case d.queue <- j:
		return true
	default:
		d.logger.WarnCtx("notification queue full, dropping", logging.Fields{
			"to":      j.req.To,
			"channel": j.req.Channel,
			"tenant":  j.req.TenantID,
		})
		return false
	}
}

// Send delivers req on its channel, retrying transient failures.
func (d *Dispatcher) Send(ctx context.Context, req Request) Result {
	if req.Channel == "" {
		req.Channel = WhatsApp
	}
	req.To = NormalizePhone(req.To, d.countryPrefix)

	ctx, span := d.tracer.Start(ctx, "notify.send", trace.WithAttributes(
		attribute.String("channel", string(req.Channel)),
		attribute.String("tenant", req.TenantID),
		attribute.Bool("simulate", d.simulate),
	))
	defer span.End()

	if d.simulate {
		a := d.activity.add(d.now(), req)
		d.logger.InfoCtx("simulated send", logging.Fields{"channel": req.Channel, "to": req.To})
		return Result{Success: true, ID: "sim-" + a.ID, Simulated: true, Channel: req.Channel, Attempts: 1}
	}

	var res Result
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		res = d.attempt(ctx, req)
		res.Channel = req.Channel
		res.Attempts = attempt
		if res.Success {
			span.SetAttributes(attribute.Int("attempts", attempt))
			return res
		}
		if !Transient(res) || attempt == d.maxAttempts {
			break
		}
		d.logger.DebugCtx("transient send failure, retrying", logging.Fields{
			"channel": req.Channel,
			"attempt": attempt,
			"error":   res.Error,
		})
		if err := d.sleep(ctx, time.Duration(attempt)*d.backoff); err != nil {
			res.Error = fmt.Sprintf("%s (abandoned: %v)", res.Error, err)
			break
		}
	}

	span.SetAttributes(attribute.Int("attempts", res.Attempts))
	span.SetStatus(codes.Error, res.Error)
	return res
}

func (d *Dispatcher) attempt(ctx context.Context, req Request) Result {
	if err := ctx.Err(); err != nil {
		return Result{Error: err.Error()}
	}
	actx := ctx
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}
	res := d.transport.Send(actx, req)
	if !res.Success && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		res.Error = "send timeout: " + res.Error
	}
	return res
}

// SendAlert tries WhatsApp, then SMS. A voice call is placed only when SMS
// also failed and WhatsApp reported its daily limit.
func (d *Dispatcher) SendAlert(ctx context.Context, req Request) Result {
	ctx, span := d.tracer.Start(ctx, "notify.alert")
	defer span.End()

	wa := req
	wa.Channel = WhatsApp
	res := d.Send(ctx, wa)
	if res.Success {
		return res
	}
	daily := DailyLimited(res)

	sms := req
	sms.Channel = SMS
	sms.MediaURL = ""
	res = d.Send(ctx, sms)
	if res.Success || !daily {
		return res
	}

	voice := sms
	voice.Channel = Voice
	span.AddEvent("voice fallback")
	return d.Send(ctx, voice)
}

// Activity returns the simulate log.
func (d *Dispatcher) Activity() *ActivityLog {
	return d.activity
}

// Simulating reports whether simulate mode is on.
func (d *Dispatcher) Simulating() bool {
	return d.simulate
}

// QueueLen reports queued, not yet started, requests.
func (d *Dispatcher) QueueLen() int {
	return len(d.queue)
}

// Shutdown stops accepting work and lets workers drain the queue until ctx
// is done; sends still retrying at that point are abandoned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrShutdown
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
