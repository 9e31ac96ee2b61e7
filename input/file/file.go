// Package file provides the offline file source: it replays a file line by
// line and either terminates at end-of-file or, in follow mode, keeps
// polling for appended lines. The mode is declared in the descriptor, never
// inferred from content.
package file

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caesar0301/relogger/endpoint"
	"github.com/caesar0301/relogger/errors"
	"github.com/caesar0301/relogger/record"
)

// defaultPollInterval is the backoff between polls for appended data in
// follow mode.
const defaultPollInterval = 250 * time.Millisecond

// SourceDeps holds runtime dependencies for the file source
type SourceDeps struct {
	Descriptor   endpoint.Descriptor
	Logger       *slog.Logger
	PollInterval time.Duration // follow mode only; zero means the default
}

// Source yields each line of a file as one record, in file order.
type Source struct {
	desc         endpoint.Descriptor
	logger       *slog.Logger
	pollInterval time.Duration

	mu     sync.Mutex
	file   *os.File
	reader *bufio.Reader
	closed atomic.Bool

	// partial accumulates an unterminated line across polls in follow mode.
	partial []byte
}

var _ endpoint.Source = (*Source)(nil)

// NewSource creates a file source for a read descriptor.
func NewSource(deps SourceDeps) *Source {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := deps.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Source{
		desc:         deps.Descriptor,
		logger:       logger.With("component", "file-source", "endpoint", deps.Descriptor.String()),
		pollInterval: poll,
	}
}

// Descriptor returns the endpoint this source reads from.
func (s *Source) Descriptor() endpoint.Descriptor {
	return s.desc
}

// Open opens the file. A missing or unreadable file is a construction-time
// fatal error.
func (s *Source) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "file-source", "Open", "state check")
	}
	if s.closed.Load() {
		return errors.WrapFatal(errors.ErrAdapterClosed, "file-source", "Open", "state check")
	}

	f, err := os.Open(s.desc.Path)
	if err != nil {
		return errors.WrapFatal(err, "file-source", "Open", "open file")
	}
	s.file = f
	s.reader = bufio.NewReader(f)
	s.logger.Debug("file source opened", "follow", s.desc.Follow)
	return nil
}

// Next returns the next line as a record. In replay mode the stream ends
// with io.EOF at end-of-file; in follow mode end-of-file starts a poll for
// appended data and only Close ends the stream.
func (s *Source) Next(ctx context.Context) (record.Record, error) {
	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()
	if reader == nil {
		return record.Record{}, errors.WrapFatal(errors.ErrNotStarted, "file-source", "Next", "state check")
	}

	for {
		if s.closed.Load() {
			return record.Record{}, io.EOF
		}
		if ctx.Err() != nil {
			return record.Record{}, io.EOF
		}

		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			s.partial = append(s.partial, line...)
		}

		switch {
		case err == nil:
			rec := record.New(bytes.TrimRight(s.partial, "\r\n"), s.desc.String())
			s.partial = s.partial[:0]
			return rec, nil

		case errors.Is(err, io.EOF):
			if !s.desc.Follow {
				// A final unterminated line is still one record.
				if len(s.partial) > 0 {
					rec := record.New(bytes.TrimRight(s.partial, "\r\n"), s.desc.String())
					s.partial = s.partial[:0]
					return rec, nil
				}
				return record.Record{}, io.EOF
			}
			if stopped := s.waitForMore(ctx); stopped {
				return record.Record{}, io.EOF
			}

		default:
			if s.closed.Load() {
				return record.Record{}, io.EOF
			}
			return record.Record{}, errors.WrapFatal(err, "file-source", "Next", "file read")
		}
	}
}

// waitForMore sleeps one poll interval in follow mode. Returns true when
// the source should stop instead of polling again.
func (s *Source) waitForMore(ctx context.Context) bool {
	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return s.closed.Load()
	}
}

// Close releases the file handle. Idempotent; in follow mode it ends the
// stream within one poll interval.
func (s *Source) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return errors.Wrap(err, "file-source", "Close", "close file")
		}
		s.file = nil
	}
	return nil
}
