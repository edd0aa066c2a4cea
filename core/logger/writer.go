package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"time"
)

// flushEvery bounds how long a line may sit in a sink buffer.
const flushEvery = 200 * time.Millisecond

// asyncWriter moves formatting off the hot path: Handle enqueues rendered
// lines and a single goroutine fans them out to buffered sinks.
type asyncWriter struct {
	lines   chan []byte
	flushes chan chan error
	done    chan struct{}

	// gate orders Write against Close so late log calls never hit a closed channel.
	gate   sync.RWMutex
	closed bool

	mu    sync.Mutex
	sinks []*bufio.Writer
	err   error
}

func newAsyncWriter(writers []io.Writer, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	w := &asyncWriter{
		lines:   make(chan []byte, 256),
		flushes: make(chan chan error),
		done:    make(chan struct{}),
	}
	for _, out := range writers {
		if out != nil {
			w.sinks = append(w.sinks, bufio.NewWriterSize(out, bufSize))
		}
	}
	go w.loop()
	return w
}

func (w *asyncWriter) loop() {
	defer close(w.done)
	tick := time.NewTicker(flushEvery)
	defer tick.Stop()
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.fail(w.flush())
				return
			}
			w.fail(w.write(line))
		case ack := <-w.flushes:
			ack <- w.drainAndFlush()
		case <-tick.C:
			w.fail(w.flush())
		}
	}
}

// drainAndFlush writes whatever is already queued so Flush observes every
// line enqueued before it was called.
func (w *asyncWriter) drainAndFlush() error {
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				return w.flush()
			}
			w.fail(w.write(line))
		default:
			return w.flush()
		}
	}
}

// Write copies p and enqueues it. It blocks when the queue is full rather than drop lines.
func (w *asyncWriter) Write(p []byte) error {
	if err := w.Err(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	w.gate.RLock()
	defer w.gate.RUnlock()
	if w.closed {
		return nil
	}
	w.lines <- append([]byte(nil), p...)
	return nil
}

// Flush blocks until every queued line reached the sinks.
func (w *asyncWriter) Flush() error {
	ack := make(chan error, 1)
	select {
	case w.flushes <- ack:
		return errors.Join(<-ack, w.Err())
	case <-w.done:
		return w.Err()
	}
}

// Close drains the queue and reports the first write error.
func (w *asyncWriter) Close() error {
	w.gate.Lock()
	if !w.closed {
		w.closed = true
		close(w.lines)
	}
	w.gate.Unlock()
	<-w.done
	return w.Err()
}

// Err returns the first error seen by a sink.
func (w *asyncWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *asyncWriter) write(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.sinks {
		if _, err := s.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func (w *asyncWriter) flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for _, s := range w.sinks {
		errs = append(errs, s.Flush())
	}
	return errors.Join(errs...)
}

func (w *asyncWriter) fail(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}
