// Package udp provides the datagram listen source: it binds a UDP socket
// and yields each received datagram as one record.
package udp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caesar0301/relogger/endpoint"
	"github.com/caesar0301/relogger/errors"
	"github.com/caesar0301/relogger/record"
)

// maxDatagramSize is large enough for any UDP payload.
const maxDatagramSize = 65536

// readDeadline bounds each blocking read so a stopped source observes
// cancellation within one poll interval.
const readDeadline = 200 * time.Millisecond

// SourceDeps holds runtime dependencies for the UDP source
type SourceDeps struct {
	Descriptor endpoint.Descriptor
	Logger     *slog.Logger
}

// Source reads datagrams from a bound UDP socket. It owns the socket
// exclusively; Close releases it and unblocks a pending Next.
type Source struct {
	desc   endpoint.Descriptor
	logger *slog.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	closed atomic.Bool

	buf []byte
}

var _ endpoint.Source = (*Source)(nil)

// NewSource creates a UDP source for a listen descriptor.
func NewSource(deps SourceDeps) *Source {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		desc:   deps.Descriptor,
		logger: logger.With("component", "udp-source", "endpoint", deps.Descriptor.String()),
		buf:    make([]byte, maxDatagramSize),
	}
}

// Descriptor returns the endpoint this source is bound to.
func (s *Source) Descriptor() endpoint.Descriptor {
	return s.desc
}

// Open binds the socket. A bind failure (address in use, permission denied)
// is a construction-time fatal error reported to the caller, never retried
// silently.
func (s *Source) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "udp-source", "Open", "state check")
	}
	if s.closed.Load() {
		return errors.WrapFatal(errors.ErrAdapterClosed, "udp-source", "Open", "state check")
	}

	addr, err := net.ResolveUDPAddr("udp", s.desc.Address)
	if err != nil {
		return errors.WrapFatal(err, "udp-source", "Open", "address resolution")
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errors.WrapFatal(err, "udp-source", "Open", "socket bind")
	}

	// Increase OS socket buffer to absorb bursts; some systems cap this.
	const socketBufferSize = 1 << 20
	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		s.logger.Warn("could not set UDP read buffer size",
			"buffer_size", socketBufferSize, "error", err)
	}

	s.conn = conn
	s.logger.Debug("UDP source bound")
	return nil
}

// LocalAddr returns the bound socket address, or the descriptor address if
// the source is not open. Useful when the descriptor requested port 0.
func (s *Source) LocalAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.LocalAddr().String()
	}
	return s.desc.Address
}

// Next blocks until a datagram arrives and returns it as one record. Read
// errors after a successful bind are non-fatal: the source keeps serving.
// Closing the source ends production with io.EOF.
func (s *Source) Next(ctx context.Context) (record.Record, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return record.Record{}, errors.WrapFatal(errors.ErrNotStarted, "udp-source", "Next", "state check")
	}

	for {
		if s.closed.Load() {
			return record.Record{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return record.Record{}, io.EOF
		}

		// Bounded deadline so shutdown is observed between datagrams.
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		n, _, err := conn.ReadFromUDP(s.buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if errors.IsTransient(err) {
				s.logger.Debug("transient read error, continuing", "error", err)
				continue
			}
			// Socket gone: deliberate Close ends the stream, anything
			// else is unrecoverable for this adapter.
			if s.closed.Load() {
				return record.Record{}, io.EOF
			}
			return record.Record{}, errors.WrapFatal(err, "udp-source", "Next", "socket read")
		}

		payload := bytes.TrimRight(s.buf[:n], "\r\n")
		return record.New(payload, s.desc.String()), nil
	}
}

// Close releases the socket. Idempotent and safe from another goroutine;
// it unblocks a pending Next.
func (s *Source) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			return errors.Wrap(err, "udp-source", "Close", fmt.Sprintf("close %s", s.desc))
		}
		s.conn = nil
	}
	return nil
}
