package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func TestDispatcherRetriesTransientErrors(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond})
	var calls atomic.Int32
	done := make(chan struct{})
	err := d.Enqueue(context.Background(), Job{Action: "alert", Method: "sendMessage", ChatID: 42, Run: func(context.Context) error {
		if calls.Add(1) < 3 {
			return &net.OpError{Op: "dial", Err: errors.New("refused")}
		}
		close(done)
		return nil
	}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not succeed")
	}
	d.Close()
	st := d.Stats()
	if st.Sent != 1 || st.Retried != 2 || st.Failed != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDispatcherStopsOnPermanentError(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 3, RetryBackoff: time.Millisecond})
	var calls atomic.Int32
	_ = d.Enqueue(context.Background(), Job{Action: "alert", Run: func(context.Context) error {
		calls.Add(1)
		return fmt.Errorf("tg.send_message: %w", &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"})
	}})
	d.Close()
	if calls.Load() != 1 || d.ErrorCount() != 1 {
		t.Fatalf("calls = %d errors = %d", calls.Load(), d.ErrorCount())
	}
}

func TestDispatcherIgnoresCallerCancellation(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var got error
	_ = d.Enqueue(ctx, Job{Action: "alert", Run: func(ctx context.Context) error {
		got = ctx.Err()
		return nil
	}})
	d.Close()
	if got != nil {
		t.Fatalf("job saw cancelled context: %v", got)
	}
}

func TestDispatcherFloodWaitUsesRetryAfter(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 1, RetryBackoff: time.Millisecond})
	var slept []time.Duration
	d.sleep = func(_ context.Context, wait time.Duration) error {
		slept = append(slept, wait)
		return nil
	}
	var calls atomic.Int32
	_ = d.Enqueue(context.Background(), Job{Action: "alert", Run: func(context.Context) error {
		if calls.Add(1) == 1 {
			return tele.FloodError{RetryAfter: 3}
		}
		return nil
	}})
	d.Close()
	if len(slept) != 1 || slept[0] != 3*time.Second {
		t.Fatalf("slept = %v", slept)
	}
}

func TestDispatcherQueueFullAndClosed(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	job := func(run func(context.Context) error) Job { return Job{Action: "test", Run: run} }
	_ = d.Enqueue(context.Background(), job(func(context.Context) error { started.Done(); <-block; return nil }))
	started.Wait()
	if err := d.Enqueue(context.Background(), job(func(context.Context) error { return nil })); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := d.Enqueue(context.Background(), job(func(context.Context) error { return nil })); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want queue full", err)
	}
	if err := d.Enqueue(context.Background(), Job{Action: "nil"}); err == nil {
		t.Fatal("nil run accepted")
	}
	close(block)
	d.Close()
	if err := d.Enqueue(context.Background(), job(func(context.Context) error { return nil })); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v, want queue closed", err)
	}
}

func TestRetryableAndClassify(t *testing.T) {
	cases := []struct {
		err   error
		retry bool
		class string
	}{
		{&tele.Error{Code: 502, Description: "Bad Gateway"}, true, "http_5xx"},
		{&tele.Error{Code: 403, Description: "Forbidden"}, false, "blocked"},
		{&tele.Error{Code: 400, Description: "Bad Request"}, false, "http_4xx"},
		{tele.FloodError{RetryAfter: 1}, true, "flood"},
		{&net.OpError{Op: "dial", Err: errors.New("refused")}, true, "dial"},
		{context.Canceled, false, "cancelled"},
		{context.DeadlineExceeded, false, "timeout"},
		{errors.New("boom"), false, "unknown"},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.retry {
			t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.retry)
		}
		if got := Classify(tc.err); got != tc.class {
			t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.class)
		}
	}
}
