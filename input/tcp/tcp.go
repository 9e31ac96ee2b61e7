// Package tcp provides the stream listen source: it accepts TCP connections
// and yields each newline-delimited line as one record. Peer disconnects are
// non-fatal; the listener keeps serving other and future connections.
package tcp

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/caesar0301/relogger/endpoint"
	"github.com/caesar0301/relogger/errors"
	"github.com/caesar0301/relogger/record"
)

// lineQueueSize bounds the fan-in queue between connection handlers and
// Next. Full queue applies backpressure to the writing peer.
const lineQueueSize = 1024

// maxLineSize caps a single record; longer lines are truncated by the
// scanner's buffer and surface as a connection-level error.
const maxLineSize = 1 << 20

// SourceDeps holds runtime dependencies for the TCP source
type SourceDeps struct {
	Descriptor endpoint.Descriptor
	Logger     *slog.Logger
}

// Source accepts connections on a TCP listener and merges the lines read
// from every connection into one record stream.
type Source struct {
	desc   endpoint.Descriptor
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   atomic.Bool

	lines chan record.Record
	stop  chan struct{}
	wg    sync.WaitGroup
}

var _ endpoint.Source = (*Source)(nil)

// NewSource creates a TCP source for a listen descriptor.
func NewSource(deps SourceDeps) *Source {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		desc:   deps.Descriptor,
		logger: logger.With("component", "tcp-source", "endpoint", deps.Descriptor.String()),
		lines:  make(chan record.Record, lineQueueSize),
		stop:   make(chan struct{}),
	}
}

// Descriptor returns the endpoint this source is bound to.
func (s *Source) Descriptor() endpoint.Descriptor {
	return s.desc
}

// Open binds the listener and starts accepting. Bind failure is a
// construction-time fatal error.
func (s *Source) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "tcp-source", "Open", "state check")
	}
	if s.closed.Load() {
		return errors.WrapFatal(errors.ErrAdapterClosed, "tcp-source", "Open", "state check")
	}

	ln, err := net.Listen("tcp", s.desc.Address)
	if err != nil {
		return errors.WrapFatal(err, "tcp-source", "Open", "listener bind")
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.logger.Debug("TCP source listening")
	return nil
}

// LocalAddr returns the bound listener address, or the descriptor address
// if the source is not open. Useful when the descriptor requested port 0.
func (s *Source) LocalAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.desc.Address
}

// acceptLoop accepts connections until the listener is closed, then waits
// for all connection handlers before closing the record stream.
func (s *Source) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	var handlers sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				break
			}
			if errors.IsTransient(err) {
				s.logger.Debug("transient accept error, continuing", "error", err)
				continue
			}
			s.logger.Warn("listener failed, ending stream", "error", err)
			break
		}

		handlers.Add(1)
		go func(c net.Conn) {
			defer handlers.Done()
			s.serveConn(c)
		}(conn)
	}

	handlers.Wait()
	close(s.lines)
}

// serveConn reads newline-delimited records from one peer until it
// disconnects. A read error here never affects other connections.
func (s *Source) serveConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	peer := conn.RemoteAddr().String()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		rec := record.New(scanner.Bytes(), s.desc.String())
		select {
		case s.lines <- rec:
		case <-s.stop:
			return
		}
	}

	if err := scanner.Err(); err != nil && !s.closed.Load() {
		s.logger.Debug("peer read ended with error", "peer", peer, "error", err)
	}
}

// Next blocks until a line is available from any connection. The stream
// ends with io.EOF once the listener is closed and all connections have
// drained.
func (s *Source) Next(ctx context.Context) (record.Record, error) {
	s.mu.Lock()
	started := s.listener != nil || s.closed.Load()
	s.mu.Unlock()
	if !started {
		return record.Record{}, errors.WrapFatal(errors.ErrNotStarted, "tcp-source", "Next", "state check")
	}

	select {
	case rec, ok := <-s.lines:
		if !ok {
			return record.Record{}, io.EOF
		}
		return rec, nil
	case <-ctx.Done():
		return record.Record{}, io.EOF
	}
}

// Close stops the listener and all connection handlers. Idempotent and safe
// from another goroutine; it unblocks a pending Next.
func (s *Source) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.stop)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()

	if err != nil {
		return errors.Wrap(err, "tcp-source", "Close", "listener close")
	}
	return nil
}
