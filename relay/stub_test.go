package relay

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/caesar0301/relogger/endpoint"
	"github.com/caesar0301/relogger/record"
)

// stubSource replays a fixed set of records, then blocks or ends the
// stream depending on hold.
type stubSource struct {
	desc    endpoint.Descriptor
	records []record.Record
	hold    bool // block after the last record instead of returning io.EOF
	openErr error

	mu        sync.Mutex
	next      int
	opened    bool
	closes    int
	unblock   chan struct{}
	deafClose bool // ignore Close, simulating a task that leaks
}

func newStubSource(name string, lines ...string) *stubSource {
	recs := make([]record.Record, len(lines))
	for i, l := range lines {
		recs[i] = record.New([]byte(l), "stub://"+name)
	}
	return &stubSource{
		desc:    endpoint.Descriptor{Kind: endpoint.KindListen, Network: "udp", Address: name},
		records: recs,
		unblock: make(chan struct{}),
	}
}

func (s *stubSource) Descriptor() endpoint.Descriptor { return s.desc }

func (s *stubSource) Open(_ context.Context) error {
	if s.openErr != nil {
		return s.openErr
	}
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	return nil
}

func (s *stubSource) Next(ctx context.Context) (record.Record, error) {
	s.mu.Lock()
	if s.next < len(s.records) {
		rec := s.records[s.next]
		s.next++
		s.mu.Unlock()
		return rec, nil
	}
	s.mu.Unlock()

	if !s.hold {
		return record.Record{}, io.EOF
	}
	if s.deafClose {
		// Nothing releases this task; it outlives any grace period.
		select {}
	}
	select {
	case <-ctx.Done():
		return record.Record{}, io.EOF
	case <-s.unblock:
		return record.Record{}, io.EOF
	}
}

func (s *stubSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closes == 1 && !s.deafClose {
		close(s.unblock)
	}
	return nil
}

func (s *stubSource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// stubSink collects writes, optionally failing every one of them.
type stubSink struct {
	desc    endpoint.Descriptor
	failAll bool
	openErr error

	mu     sync.Mutex
	got    []string
	closes int
}

func newStubSink(name string) *stubSink {
	return &stubSink{
		desc: endpoint.Descriptor{Kind: endpoint.KindConnect, Network: "udp", Address: name},
	}
}

func (s *stubSink) Descriptor() endpoint.Descriptor { return s.desc }

func (s *stubSink) Open(_ context.Context) error { return s.openErr }

func (s *stubSink) Write(_ context.Context, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return fmt.Errorf("write refused by %s", s.desc.Address)
	}
	s.got = append(s.got, string(rec.Body))
	return nil
}

func (s *stubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *stubSink) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.got))
	copy(out, s.got)
	return out
}

func (s *stubSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

var (
	_ endpoint.Source = (*stubSource)(nil)
	_ endpoint.Sink   = (*stubSink)(nil)
)
