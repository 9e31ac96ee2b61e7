// Package socket provides the socket send sink: it dials a remote host and
// writes each accepted record as one discrete message, a datagram on UDP or
// a newline-terminated line on TCP. A failed write triggers a bounded number
// of reconnect attempts before the sink is marked dead.
package socket

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/caesar0301/relogger/endpoint"
	"github.com/caesar0301/relogger/errors"
	"github.com/caesar0301/relogger/pkg/retry"
	"github.com/caesar0301/relogger/record"
)

// SinkDeps holds runtime dependencies for the socket sink
type SinkDeps struct {
	Descriptor endpoint.Descriptor
	Logger     *slog.Logger
	Retry      retry.Config // zero value means retry.DefaultConfig()
}

// Sink writes records to a remote socket. It owns the connection
// exclusively and reconnects on write failure until the retry budget is
// exhausted, after which it stays dead.
type Sink struct {
	desc     endpoint.Descriptor
	logger   *slog.Logger
	retryCfg retry.Config

	mu     sync.Mutex
	conn   net.Conn
	dead   bool
	closed bool

	lastErr error
}

var _ endpoint.Sink = (*Sink)(nil)

// NewSink creates a socket sink for a connect descriptor.
func NewSink(deps SinkDeps) *Sink {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
	}
	return &Sink{
		desc:     deps.Descriptor,
		logger:   logger.With("component", "socket-sink", "endpoint", deps.Descriptor.String()),
		retryCfg: cfg,
	}
}

// Descriptor returns the endpoint this sink writes to.
func (s *Sink) Descriptor() endpoint.Descriptor {
	return s.desc
}

// Open resolves and dials the remote endpoint. A dial failure is a
// construction-time fatal error for the owning flow.
func (s *Sink) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "socket-sink", "Open", "state check")
	}
	if s.closed {
		return errors.WrapFatal(errors.ErrAdapterClosed, "socket-sink", "Open", "state check")
	}

	conn, err := net.Dial(s.desc.Network, s.desc.Address)
	if err != nil {
		return errors.WrapFatal(err, "socket-sink", "Open", "dial")
	}
	s.conn = conn
	s.logger.Debug("socket sink connected")
	return nil
}

// Write forwards one record as a single message. On a transient failure it
// reconnects with bounded backoff and retries the write once; when the
// budget is exhausted the sink is marked dead and every later write fails
// fast with errors.ErrAdapterDead.
func (s *Sink) Write(ctx context.Context, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.WrapFatal(errors.ErrAdapterClosed, "socket-sink", "Write", "state check")
	}
	if s.dead {
		return errors.WrapFatal(errors.ErrAdapterDead, "socket-sink", "Write", "state check")
	}
	if s.conn == nil {
		return errors.WrapFatal(errors.ErrNotStarted, "socket-sink", "Write", "state check")
	}

	if err := s.writeLocked(rec); err == nil {
		return nil
	} else if !errors.IsTransient(err) {
		s.markDeadLocked(err)
		return errors.WrapFatal(err, "socket-sink", "Write", "message write")
	}

	// Transient write failure: reconnect within the retry budget, then try
	// the same record once more.
	if err := s.reconnectLocked(ctx); err != nil {
		s.markDeadLocked(err)
		return errors.WrapFatal(err, "socket-sink", "Write", "reconnect")
	}
	if err := s.writeLocked(rec); err != nil {
		s.markDeadLocked(err)
		return errors.WrapFatal(err, "socket-sink", "Write", "message write after reconnect")
	}
	return nil
}

// writeLocked performs one framed write. Callers hold s.mu.
func (s *Sink) writeLocked(rec record.Record) error {
	payload := rec.Body
	if s.desc.Network == "tcp" {
		payload = append(append(make([]byte, 0, len(rec.Body)+1), rec.Body...), '\n')
	}
	_, err := s.conn.Write(payload)
	if err != nil {
		s.lastErr = err
	}
	return err
}

// reconnectLocked redials within the retry budget. Callers hold s.mu.
func (s *Sink) reconnectLocked(ctx context.Context) error {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	s.logger.Warn("write failed, reconnecting", "error", s.lastErr)
	return retry.Do(ctx, s.retryCfg, func() error {
		conn, err := net.Dial(s.desc.Network, s.desc.Address)
		if err != nil {
			return err
		}
		s.conn = conn
		return nil
	})
}

// markDeadLocked records the terminal error. Callers hold s.mu.
func (s *Sink) markDeadLocked(err error) {
	s.dead = true
	s.lastErr = err
	s.logger.Error("sink marked dead", "error", err)
}

// Close releases the connection. Idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.conn = nil
			return errors.Wrap(err, "socket-sink", "Close", "connection close")
		}
		s.conn = nil
	}
	return nil
}
