// Package nats provides the NATS publish sink: each record is published as
// one message on a fixed subject. The subject is carried in the endpoint
// URL path, e.g. nats://broker:4222/syslog.relay.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/caesar0301/relogger/endpoint"
	"github.com/caesar0301/relogger/errors"
	"github.com/caesar0301/relogger/record"
)

const (
	connectTimeout = 5 * time.Second
	drainTimeout   = 5 * time.Second
)

// SinkDeps holds runtime dependencies for the NATS sink
type SinkDeps struct {
	Descriptor endpoint.Descriptor
	Logger     *slog.Logger
}

// Sink publishes records to a NATS subject. Reconnection is delegated to
// the client library; publish failures while disconnected are transient.
type Sink struct {
	desc      endpoint.Descriptor
	logger    *slog.Logger
	serverURL string
	subject   string

	mu     sync.Mutex
	nc     *nats.Conn
	closed bool
}

var _ endpoint.Sink = (*Sink)(nil)

// NewSink creates a NATS sink from a broker descriptor. The URL must carry
// a non-empty subject as its path.
func NewSink(deps SinkDeps) (*Sink, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(deps.Descriptor.URL)
	if err != nil {
		return nil, errors.WrapInvalid(err, "nats-sink", "NewSink", "URL parse")
	}
	subject := strings.Trim(u.Path, "/")
	if subject == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("NATS destination needs a subject path: %s", deps.Descriptor.URL),
			"nats-sink", "NewSink", "subject validation")
	}
	serverURL := u.Scheme + "://" + u.Host

	return &Sink{
		desc:      deps.Descriptor,
		logger:    logger.With("component", "nats-sink", "endpoint", deps.Descriptor.String()),
		serverURL: serverURL,
		subject:   subject,
	}, nil
}

// Descriptor returns the endpoint this sink publishes to.
func (s *Sink) Descriptor() endpoint.Descriptor {
	return s.desc
}

// Open connects to the broker. An unreachable broker is a construction-time
// fatal error for the owning flow.
func (s *Sink) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nc != nil {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "nats-sink", "Open", "state check")
	}
	if s.closed {
		return errors.WrapFatal(errors.ErrAdapterClosed, "nats-sink", "Open", "state check")
	}

	nc, err := nats.Connect(s.serverURL,
		nats.Name("relogger"),
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warn("broker connection lost", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info("broker connection restored", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return errors.WrapFatal(err, "nats-sink", "Open", "broker connect")
	}
	s.nc = nc
	s.logger.Debug("nats sink connected", "subject", s.subject)
	return nil
}

// Write publishes one record on the configured subject. Failures while the
// client reconnects are transient; the library buffers and redelivers.
func (s *Sink) Write(_ context.Context, rec record.Record) error {
	s.mu.Lock()
	nc := s.nc
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return errors.WrapFatal(errors.ErrAdapterClosed, "nats-sink", "Write", "state check")
	}
	if nc == nil {
		return errors.WrapFatal(errors.ErrNotStarted, "nats-sink", "Write", "state check")
	}

	if err := nc.Publish(s.subject, rec.Body); err != nil {
		return errors.WrapTransient(err, "nats-sink", "Write", "publish")
	}
	return nil
}

// Close drains pending publishes and disconnects. Idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.nc == nil {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		_ = s.nc.Drain()
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		s.logger.Warn("drain timed out, forcing close")
	}
	s.nc.Close()
	s.nc = nil
	return nil
}
