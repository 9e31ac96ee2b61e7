// Package file provides the file append sink: it appends each record to a
// local file as one newline-terminated line, buffering writes and flushing
// on a fixed interval.
package file

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/caesar0301/relogger/endpoint"
	"github.com/caesar0301/relogger/errors"
	"github.com/caesar0301/relogger/record"
)

// defaultFlushEvery bounds how long a buffered line can wait before it
// reaches the file.
const defaultFlushEvery = time.Second

// SinkDeps holds runtime dependencies for the file sink
type SinkDeps struct {
	Descriptor endpoint.Descriptor
	Logger     *slog.Logger
	FlushEvery time.Duration // zero means the default
}

// Sink appends records to a file, one line per record.
type Sink struct {
	desc       endpoint.Descriptor
	logger     *slog.Logger
	flushEvery time.Duration

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	dead   bool
	closed bool

	stopFlush chan struct{}
	flushDone chan struct{}
}

var _ endpoint.Sink = (*Sink)(nil)

// NewSink creates a file sink for a write descriptor.
func NewSink(deps SinkDeps) *Sink {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	flush := deps.FlushEvery
	if flush <= 0 {
		flush = defaultFlushEvery
	}
	return &Sink{
		desc:       deps.Descriptor,
		logger:     logger.With("component", "file-sink", "endpoint", deps.Descriptor.String()),
		flushEvery: flush,
	}
}

// Descriptor returns the endpoint this sink writes to.
func (s *Sink) Descriptor() endpoint.Descriptor {
	return s.desc
}

// Open opens the file for appending, creating it if needed. Failure to open
// is a construction-time fatal error.
func (s *Sink) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "file-sink", "Open", "state check")
	}
	if s.closed {
		return errors.WrapFatal(errors.ErrAdapterClosed, "file-sink", "Open", "state check")
	}

	f, err := os.OpenFile(s.desc.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.WrapFatal(err, "file-sink", "Open", "open file")
	}
	s.file = f
	s.writer = bufio.NewWriter(f)
	s.stopFlush = make(chan struct{})
	s.flushDone = make(chan struct{})
	go s.flushLoop(s.stopFlush, s.flushDone)
	s.logger.Debug("file sink opened")
	return nil
}

// flushLoop pushes buffered lines to disk on a fixed cadence so a quiet
// flow does not hold records in memory indefinitely.
func (s *Sink) flushLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.writer != nil && !s.dead {
				if err := s.writer.Flush(); err != nil {
					s.dead = true
					s.logger.Error("flush failed, sink marked dead", "error", err)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Write appends one record as a newline-terminated line. A failed disk
// write marks the sink dead; local storage failures are not retried.
func (s *Sink) Write(_ context.Context, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.WrapFatal(errors.ErrAdapterClosed, "file-sink", "Write", "state check")
	}
	if s.dead {
		return errors.WrapFatal(errors.ErrAdapterDead, "file-sink", "Write", "state check")
	}
	if s.writer == nil {
		return errors.WrapFatal(errors.ErrNotStarted, "file-sink", "Write", "state check")
	}

	if _, err := s.writer.Write(rec.Body); err != nil {
		s.dead = true
		return errors.WrapFatal(err, "file-sink", "Write", "append line")
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		s.dead = true
		return errors.WrapFatal(err, "file-sink", "Write", "append line")
	}
	return nil
}

// Close flushes buffered data and releases the file. Idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop, done := s.stopFlush, s.flushDone
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil && !s.dead {
			firstErr = errors.Wrap(err, "file-sink", "Close", "final flush")
		}
		s.writer = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "file-sink", "Close", "close file")
		}
		s.file = nil
	}
	return firstErr
}
