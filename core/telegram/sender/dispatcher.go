// Package sender runs outbound Telegram calls on a small worker pool with retries.
package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/etokosmo/pizza-shop/core/httpx"
	"github.com/etokosmo/pizza-shop/core/logger"

	tele "gopkg.in/telebot.v4"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after dispatcher stop.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("telegram sender: queue full")
)

// Options controls the behaviour of the outbound dispatcher.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent on a single job including retries.
	MaxDuration time.Duration
}

// Job is one outbound call. Run receives a context bounded by MaxDuration
// and may be invoked more than once, so it must be safe to repeat.
type Job struct {
	// Action labels the job in logs, e.g. "alert".
	Action string
	// Method is the Bot API method the job calls.
	Method string
	ChatID int64
	Run    func(ctx context.Context) error
}

type queued struct {
	ctx context.Context
	job Job
}

// Stats is a point-in-time view of the dispatcher counters.
type Stats struct {
	Queued  int
	Sent    uint64
	Retried uint64
	Failed  uint64
}

// Dispatcher executes outbound Telegram calls asynchronously with retries.
type Dispatcher struct {
	opts  Options
	queue chan queued
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
	sleep func(ctx context.Context, d time.Duration) error

	sent, retried, failed atomic.Uint64
}

// NewDispatcher starts a dispatcher, filling zero options with defaults.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 12 * time.Second
	}

	d := &Dispatcher{
		opts:  opts,
		queue: make(chan queued, opts.QueueSize),
		stop:  make(chan struct{}),
		sleep: sleepCtx,
	}
	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go d.worker()
	}
	return d
}

// Enqueue schedules j without blocking. ctx carries log metadata; its
// cancellation is ignored so queued jobs survive the triggering update.
func (d *Dispatcher) Enqueue(ctx context.Context, j Job) error {
	if j.Run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-d.stop:
		return ErrQueueClosed
	default:
	}
	select {
	case d.queue <- queued{ctx: context.WithoutCancel(ctx), job: j}:
		return nil
	default:
		logger.Warn(ctx, "tg.sender", "send.enqueue",
			slog.String("status", "rate_limited"),
			slog.String("action", j.Action),
			slog.Int("pending_count", len(d.queue)),
		)
		return ErrQueueFull
	}
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:  len(d.queue),
		Sent:    d.sent.Load(),
		Retried: d.retried.Load(),
		Failed:  d.failed.Load(),
	}
}

// ErrorCount returns the number of jobs that failed for good.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.failed.Load()
}

// Close stops accepting jobs and waits for the queued ones to finish.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.stop)
		close(d.queue)
		d.wg.Wait()
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for q := range d.queue {
		d.run(q.ctx, q.job)
	}
}

func (d *Dispatcher) run(ctx context.Context, j Job) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := d.opts.MaxRetries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = j.Run(ctx); err == nil {
			d.sent.Add(1)
			logger.Debug(ctx, "tg.sender", "send.done", d.attrs(j, "ok", attempt, start)...)
			return
		}
		if attempt == attempts || !Retryable(err) {
			break
		}
		d.retried.Add(1)
		wait := backoff(err, d.opts.RetryBackoff, attempt)
		logger.Debug(ctx, "tg.sender", "send.retry",
			append(d.attrs(j, "retry", attempt, start), slog.Duration("backoff", wait))...)
		if serr := d.sleep(ctx, wait); serr != nil {
			err = serr
			break
		}
	}

	d.failed.Add(1)
	attrs := append(d.attrs(j, "fail", attempts, start),
		slog.String("err", err.Error()),
		slog.String("err_code", Classify(err)),
	)
	logger.Error(ctx, "tg.sender", "send.done", attrs...)
}

func (d *Dispatcher) attrs(j Job, status string, attempt int, start time.Time) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("action", j.Action),
		slog.String("op", j.Method),
		slog.Int("attempts", attempt),
		slog.Duration("duration", logger.Took(start)),
	}
	if j.ChatID != 0 {
		attrs = append(attrs, slog.Int64("chat_id", j.ChatID))
	}
	return attrs
}

// backoff grows linearly with the attempt number and honours a flood wait.
func backoff(err error, base time.Duration, attempt int) time.Duration {
	wait := base * time.Duration(attempt)
	var flood tele.FloodError
	if errors.As(err, &flood) {
		if after := time.Duration(flood.RetryAfter) * time.Second; after > wait {
			return after
		}
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retryable reports whether a failed Telegram call is worth another attempt:
// transient network errors, flood waits and server-side failures.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if httpx.ShouldRetry(err) {
		return true
	}
	return StatusCode(err) == http.StatusTooManyRequests || StatusCode(err) >= 500
}

// StatusCode extracts the Bot API status carried by err, or 0.
func StatusCode(err error) int {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return http.StatusTooManyRequests
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var groupErr tele.GroupError
	if errors.As(err, &groupErr) {
		return http.StatusBadRequest
	}
	return 0
}

// Classify buckets err for the err_code log field.
func Classify(err error) string {
	var (
		dnsErr   *net.DNSError
		netErr   net.Error
		opErr    *net.OpError
		alertErr tls.AlertError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &dnsErr):
		if dnsErr.IsTimeout {
			return "timeout"
		}
		return "dns"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return "dial"
	case errors.As(err, &alertErr):
		return "tls"
	}
	switch code := StatusCode(err); {
	case code == http.StatusTooManyRequests:
		return "flood"
	case code == http.StatusForbidden:
		return "blocked"
	case code >= 500:
		return "http_5xx"
	case code >= 400:
		return "http_4xx"
	}
	return "unknown"
}
