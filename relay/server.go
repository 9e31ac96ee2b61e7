// Package relay runs the flow table: one goroutine per source adapter,
// fanning every record out to all destinations of the owning flow. The
// engine is a strict state machine; flows degrade and die individually
// without affecting their siblings.
package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caesar0301/relogger/endpoint"
	"github.com/caesar0301/relogger/errors"
	"github.com/caesar0301/relogger/flowtable"
)

// State is the engine lifecycle state.
type State int32

const (
	// StateIdle is the initial state before Start.
	StateIdle State = iota
	// StateStarting means adapters are being opened.
	StateStarting
	// StateRunning means all source tasks are live.
	StateRunning
	// StateStopping means shutdown is in progress.
	StateStopping
	// StateStopped is terminal.
	StateStopped
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// FlowState is the health of one flow, derived from its tasks and sinks.
type FlowState int

const (
	// FlowStarting means the flow's adapters are opening.
	FlowStarting FlowState = iota
	// FlowRunning means every source task is live and no adapter has failed.
	FlowRunning
	// FlowDegraded means some adapter has failed but the flow still relays.
	FlowDegraded
	// FlowDead means every source task has finished or failed.
	FlowDead
)

// String returns the string representation of FlowState
func (s FlowState) String() string {
	switch s {
	case FlowStarting:
		return "starting"
	case FlowRunning:
		return "running"
	case FlowDegraded:
		return "degraded"
	case FlowDead:
		return "dead"
	default:
		return "unknown"
	}
}

// AdapterStatus reports one adapter's endpoint and its last recorded error.
type AdapterStatus struct {
	Endpoint string
	LastErr  error
}

// FlowStatus is a point-in-time report for one flow.
type FlowStatus struct {
	Name    string
	State   FlowState
	Sources []AdapterStatus
	Sinks   []AdapterStatus
}

// taskState tracks one source task's terminal condition.
type taskState int

const (
	taskLive taskState = iota
	taskFinished
	taskFailed
)

// flowRuntime is the mutable per-flow bookkeeping behind Status.
type flowRuntime struct {
	flow *flowtable.Flow

	mu      sync.Mutex
	tasks   []taskState // one per source
	srcErrs []error     // one per source
	sinkErr []error     // one per sink, last write failure
	done    []chan struct{}
}

func newFlowRuntime(flow *flowtable.Flow) *flowRuntime {
	fr := &flowRuntime{
		flow:    flow,
		tasks:   make([]taskState, len(flow.Sources)),
		srcErrs: make([]error, len(flow.Sources)),
		sinkErr: make([]error, len(flow.Sinks)),
		done:    make([]chan struct{}, len(flow.Sources)),
	}
	for i := range fr.done {
		fr.done[i] = make(chan struct{})
	}
	return fr
}

// Deps holds runtime dependencies for the relay server
type Deps struct {
	Table   *flowtable.Table
	Logger  *slog.Logger
	Metrics *Metrics // nil disables metrics
}

// Server executes a flow table. Start opens everything or nothing; Stop is
// idempotent and bounded by a grace period.
type Server struct {
	table   *flowtable.Table
	logger  *slog.Logger
	metrics *Metrics

	state atomic.Int32

	mu     sync.Mutex
	flows  []*flowRuntime
	cancel context.CancelFunc
}

// NewServer creates a relay server for a built flow table.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		table:   deps.Table,
		logger:  logger.With("component", "relay"),
		metrics: deps.Metrics,
	}
}

// State returns the engine state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Start opens every adapter of every flow, then launches one goroutine per
// source. On any open failure everything already opened is closed again and
// the error names the offending flow and endpoint; nothing partially
// started survives.
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		switch s.State() {
		case StateStopped, StateStopping:
			return errors.WrapFatal(errors.ErrAlreadyStopped, "relay", "Start", "state check")
		default:
			return errors.WrapFatal(errors.ErrAlreadyStarted, "relay", "Start", "state check")
		}
	}

	type opened struct {
		endpoint string
		closer   interface{ Close() error }
	}
	var acquired []opened
	rollback := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			if err := acquired[i].closer.Close(); err != nil {
				s.logger.Warn("rollback close failed",
					"endpoint", acquired[i].endpoint, "error", err)
			}
		}
		s.state.Store(int32(StateIdle))
	}

	flows := s.table.Flows()
	runtimes := make([]*flowRuntime, 0, len(flows))
	for _, flow := range flows {
		for _, src := range flow.Sources {
			if err := src.Open(ctx); err != nil {
				rollback()
				return startErr(flow.Name, src.Descriptor(), err)
			}
			acquired = append(acquired, opened{src.Descriptor().String(), src})
		}
		for _, sink := range flow.Sinks {
			if err := sink.Open(ctx); err != nil {
				rollback()
				return startErr(flow.Name, sink.Descriptor(), err)
			}
			acquired = append(acquired, opened{sink.Descriptor().String(), sink})
		}
		runtimes = append(runtimes, newFlowRuntime(flow))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancel = cancel
	s.flows = runtimes
	s.mu.Unlock()

	for _, fr := range runtimes {
		for i := range fr.flow.Sources {
			go s.sourceTask(runCtx, fr, i)
		}
	}

	s.state.Store(int32(StateRunning))
	s.logger.Info("relay started", "flows", len(runtimes))
	return nil
}

func startErr(flow string, desc endpoint.Descriptor, err error) error {
	return errors.WrapFatal(
		fmt.Errorf("flow %q endpoint %s: %w", flow, desc, err),
		"relay", "Start", "adapter open")
}

// sourceTask pumps one source until its stream ends or fails, forwarding
// every record to all of the flow's sinks in configured order. A failed
// write is recorded against the sink and the remaining sinks still get the
// record.
func (s *Server) sourceTask(ctx context.Context, fr *flowRuntime, idx int) {
	defer close(fr.done[idx])

	src := fr.flow.Sources[idx]
	logger := s.logger.With("flow", fr.flow.Name, "source", src.Descriptor().String())
	s.metrics.taskStarted()
	defer s.metrics.taskEnded()

	for {
		rec, err := src.Next(ctx)
		if err != nil {
			fr.mu.Lock()
			if errors.Is(err, io.EOF) {
				fr.tasks[idx] = taskFinished
			} else {
				fr.tasks[idx] = taskFailed
				fr.srcErrs[idx] = err
			}
			fr.mu.Unlock()

			if errors.Is(err, io.EOF) {
				logger.Info("source finished")
			} else {
				s.metrics.recordSourceError(fr.flow.Name)
				logger.Error("source failed", "error", err)
			}
			return
		}

		delivered := false
		for j, sink := range fr.flow.Sinks {
			if werr := sink.Write(ctx, rec); werr != nil {
				fr.mu.Lock()
				fr.sinkErr[j] = werr
				fr.mu.Unlock()
				s.metrics.recordSinkError(fr.flow.Name)
				logger.Warn("destination write failed",
					"destination", sink.Descriptor().String(), "error", werr)
				continue
			}
			delivered = true
		}
		if delivered {
			s.metrics.recordRelayed(fr.flow.Name, rec.Len())
		}
	}
}

// Status reports per-flow state and per-adapter last errors without
// blocking the tasks.
func (s *Server) Status() []FlowStatus {
	engineState := s.State()
	s.mu.Lock()
	flows := s.flows
	s.mu.Unlock()

	out := make([]FlowStatus, 0, len(flows))
	for _, fr := range flows {
		fr.mu.Lock()

		fs := FlowStatus{Name: fr.flow.Name}
		live, failed := 0, 0
		for i, src := range fr.flow.Sources {
			fs.Sources = append(fs.Sources, AdapterStatus{
				Endpoint: src.Descriptor().String(),
				LastErr:  fr.srcErrs[i],
			})
			switch fr.tasks[i] {
			case taskLive:
				live++
			case taskFailed:
				failed++
			}
		}
		sinkFailed := false
		for j, sink := range fr.flow.Sinks {
			fs.Sinks = append(fs.Sinks, AdapterStatus{
				Endpoint: sink.Descriptor().String(),
				LastErr:  fr.sinkErr[j],
			})
			if fr.sinkErr[j] != nil {
				sinkFailed = true
			}
		}
		fr.mu.Unlock()

		switch {
		case engineState == StateStarting:
			fs.State = FlowStarting
		case live == 0:
			fs.State = FlowDead
		case failed > 0 || sinkFailed:
			fs.State = FlowDegraded
		default:
			fs.State = FlowRunning
		}
		out = append(out, fs)
	}
	return out
}

// Stop shuts the engine down: cancel tasks, close sources to release
// blocked reads, wait for every task within the grace period, then close
// sinks. Tasks that miss the grace period are reported as leaked. Calling
// Stop again is a no-op.
func (s *Server) Stop(timeout time.Duration) error {
	switch {
	case s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)):
	case s.State() == StateStopped:
		return nil
	case s.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)):
		return nil
	default:
		return errors.WrapFatal(errors.ErrShuttingDown, "relay", "Stop", "state check")
	}

	s.logger.Info("relay stopping", "timeout", timeout)
	s.mu.Lock()
	cancel := s.cancel
	flows := s.flows
	s.mu.Unlock()
	cancel()

	// Closing sources releases any Next blocked on a quiet socket.
	for _, fr := range flows {
		for _, src := range fr.flow.Sources {
			if err := src.Close(); err != nil {
				s.logger.Warn("source close failed",
					"flow", fr.flow.Name, "endpoint", src.Descriptor().String(), "error", err)
			}
		}
	}

	deadline := time.Now().Add(timeout)
	var leaked []string
	for _, fr := range flows {
		for i, done := range fr.done {
			if !waitTask(done, deadline) {
				leaked = append(leaked, fmt.Sprintf("%s:%s",
					fr.flow.Name, fr.flow.Sources[i].Descriptor()))
			}
		}
	}

	for _, fr := range flows {
		for _, sink := range fr.flow.Sinks {
			if err := sink.Close(); err != nil {
				s.logger.Warn("sink close failed",
					"flow", fr.flow.Name, "endpoint", sink.Descriptor().String(), "error", err)
			}
		}
	}

	s.state.Store(int32(StateStopped))
	if len(leaked) > 0 {
		return errors.Wrap(
			fmt.Errorf("tasks leaked past the grace period: %s", strings.Join(leaked, ", ")),
			"relay", "Stop", "task shutdown")
	}
	s.logger.Info("relay stopped")
	return nil
}

// waitTask waits for a task's done channel until the shared deadline.
// Returns false when the task missed it.
func waitTask(done <-chan struct{}, deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
