// Package redis provides the Redis list sink: each record is pushed to the
// tail of a list, giving consumers an ordered queue of relayed lines. The
// list key defaults to "relogger" and can be overridden with a "key" query
// parameter, e.g. redis://cache:6379/0?key=syslog.
package redis

import (
	"context"
	"log/slog"
	"net/url"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/caesar0301/relogger/endpoint"
	"github.com/caesar0301/relogger/errors"
	"github.com/caesar0301/relogger/record"
)

// defaultKey is the list records land on when the URL names none.
const defaultKey = "relogger"

// SinkDeps holds runtime dependencies for the Redis sink
type SinkDeps struct {
	Descriptor endpoint.Descriptor
	Logger     *slog.Logger
}

// Sink pushes records onto a Redis list. Connection recovery is delegated
// to the client pool; push failures while disconnected are transient.
type Sink struct {
	desc   endpoint.Descriptor
	logger *slog.Logger
	opts   *redis.Options
	key    string

	mu     sync.Mutex
	client *redis.Client
	closed bool
}

var _ endpoint.Sink = (*Sink)(nil)

// NewSink creates a Redis sink from a broker descriptor.
func NewSink(deps SinkDeps) (*Sink, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(deps.Descriptor.URL)
	if err != nil {
		return nil, errors.WrapInvalid(err, "redis-sink", "NewSink", "URL parse")
	}
	key := u.Query().Get("key")
	if key == "" {
		key = defaultKey
	}
	// The key parameter is ours, not the client library's.
	u.RawQuery = ""

	opts, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, errors.WrapInvalid(err, "redis-sink", "NewSink", "URL parse")
	}

	return &Sink{
		desc:   deps.Descriptor,
		logger: logger.With("component", "redis-sink", "endpoint", deps.Descriptor.String()),
		opts:   opts,
		key:    key,
	}, nil
}

// Descriptor returns the endpoint this sink pushes to.
func (s *Sink) Descriptor() endpoint.Descriptor {
	return s.desc
}

// Open connects and verifies the server answers. An unreachable server is a
// construction-time fatal error for the owning flow.
func (s *Sink) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "redis-sink", "Open", "state check")
	}
	if s.closed {
		return errors.WrapFatal(errors.ErrAdapterClosed, "redis-sink", "Open", "state check")
	}

	client := redis.NewClient(s.opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return errors.WrapFatal(err, "redis-sink", "Open", "ping")
	}
	s.client = client
	s.logger.Debug("redis sink connected", "key", s.key)
	return nil
}

// Write pushes one record to the tail of the list.
func (s *Sink) Write(ctx context.Context, rec record.Record) error {
	s.mu.Lock()
	client := s.client
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return errors.WrapFatal(errors.ErrAdapterClosed, "redis-sink", "Write", "state check")
	}
	if client == nil {
		return errors.WrapFatal(errors.ErrNotStarted, "redis-sink", "Write", "state check")
	}

	if err := client.RPush(ctx, s.key, rec.Body).Err(); err != nil {
		return errors.WrapTransient(err, "redis-sink", "Write", "list push")
	}
	return nil
}

// Close releases the client pool. Idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.client = nil
			return errors.Wrap(err, "redis-sink", "Close", "client close")
		}
		s.client = nil
	}
	return nil
}
