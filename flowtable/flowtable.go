// Package flowtable builds the static flow table the relay engine runs.
// Each flow owns constructed but unopened adapters for its rule's endpoints;
// construction is pure and touches no sockets or files, so a table can be
// built and validated without any side effects.
package flowtable

import (
	"fmt"
	"log/slog"

	"github.com/caesar0301/relogger/config"
	"github.com/caesar0301/relogger/endpoint"
	"github.com/caesar0301/relogger/errors"
	filein "github.com/caesar0301/relogger/input/file"
	tcpin "github.com/caesar0301/relogger/input/tcp"
	udpin "github.com/caesar0301/relogger/input/udp"
	fileout "github.com/caesar0301/relogger/output/file"
	natsout "github.com/caesar0301/relogger/output/nats"
	redisout "github.com/caesar0301/relogger/output/redis"
	socketout "github.com/caesar0301/relogger/output/socket"
)

// Flow is one named relay unit: every record produced by any of its sources
// is forwarded to all of its sinks.
type Flow struct {
	Name    string
	Sources []endpoint.Source
	Sinks   []endpoint.Sink
}

// Table is an immutable, ordered collection of flows keyed by name.
type Table struct {
	flows  []*Flow
	byName map[string]*Flow
}

// Deps holds construction dependencies for the flow table
type Deps struct {
	Logger *slog.Logger
}

// Build constructs a table from resolved rules. Rules are validated as a
// set: duplicate names, rules without sources or destinations, and rules
// relaying to their own sources are all rejected with the offending rule
// named in the error.
func Build(rules []config.Rule, deps Deps) (*Table, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if len(rules) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no rules to build"),
			"flowtable", "Build", "rule validation")
	}
	if err := config.CheckLoops(rules); err != nil {
		return nil, err
	}

	table := &Table{byName: make(map[string]*Flow, len(rules))}
	for _, rule := range rules {
		if _, exists := table.byName[rule.Name]; exists {
			return nil, errors.WrapInvalid(
				fmt.Errorf("duplicate rule name: %s", rule.Name),
				"flowtable", "Build", "rule validation")
		}
		if len(rule.Sources) == 0 {
			return nil, errors.WrapInvalid(
				fmt.Errorf("rule %q has no sources", rule.Name),
				"flowtable", "Build", "rule validation")
		}
		if len(rule.Sinks) == 0 {
			return nil, errors.WrapInvalid(
				fmt.Errorf("rule %q has no destinations", rule.Name),
				"flowtable", "Build", "rule validation")
		}

		flow := &Flow{Name: rule.Name}
		flowLogger := logger.With("flow", rule.Name)
		for _, desc := range rule.Sources {
			src, err := buildSource(desc, flowLogger)
			if err != nil {
				return nil, buildErr(rule.Name, desc, err)
			}
			flow.Sources = append(flow.Sources, src)
		}
		for _, desc := range rule.Sinks {
			sink, err := buildSink(desc, flowLogger)
			if err != nil {
				return nil, buildErr(rule.Name, desc, err)
			}
			flow.Sinks = append(flow.Sinks, sink)
		}

		table.flows = append(table.flows, flow)
		table.byName[rule.Name] = flow
	}
	return table, nil
}

// NewTable assembles a table from pre-built flows, applying the same set
// validation as Build. Used when adapters are constructed by the caller.
func NewTable(flows ...*Flow) (*Table, error) {
	if len(flows) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no flows to assemble"),
			"flowtable", "NewTable", "flow validation")
	}
	table := &Table{byName: make(map[string]*Flow, len(flows))}
	for _, flow := range flows {
		if _, exists := table.byName[flow.Name]; exists {
			return nil, errors.WrapInvalid(
				fmt.Errorf("duplicate rule name: %s", flow.Name),
				"flowtable", "NewTable", "flow validation")
		}
		if len(flow.Sources) == 0 {
			return nil, errors.WrapInvalid(
				fmt.Errorf("rule %q has no sources", flow.Name),
				"flowtable", "NewTable", "flow validation")
		}
		if len(flow.Sinks) == 0 {
			return nil, errors.WrapInvalid(
				fmt.Errorf("rule %q has no destinations", flow.Name),
				"flowtable", "NewTable", "flow validation")
		}
		table.flows = append(table.flows, flow)
		table.byName[flow.Name] = flow
	}
	return table, nil
}

// buildSource constructs the adapter matching a source descriptor.
func buildSource(desc endpoint.Descriptor, logger *slog.Logger) (endpoint.Source, error) {
	switch desc.Kind {
	case endpoint.KindListen:
		switch desc.Network {
		case "udp":
			return udpin.NewSource(udpin.SourceDeps{Descriptor: desc, Logger: logger}), nil
		case "tcp":
			return tcpin.NewSource(tcpin.SourceDeps{Descriptor: desc, Logger: logger}), nil
		default:
			return nil, fmt.Errorf("unsupported listen network %q", desc.Network)
		}
	case endpoint.KindReadFile:
		return filein.NewSource(filein.SourceDeps{Descriptor: desc, Logger: logger}), nil
	default:
		return nil, fmt.Errorf("kind %s is not a source kind", desc.Kind)
	}
}

// buildSink constructs the adapter matching a destination descriptor.
func buildSink(desc endpoint.Descriptor, logger *slog.Logger) (endpoint.Sink, error) {
	switch desc.Kind {
	case endpoint.KindConnect:
		return socketout.NewSink(socketout.SinkDeps{Descriptor: desc, Logger: logger}), nil
	case endpoint.KindWriteFile:
		return fileout.NewSink(fileout.SinkDeps{Descriptor: desc, Logger: logger}), nil
	case endpoint.KindNATS:
		return natsout.NewSink(natsout.SinkDeps{Descriptor: desc, Logger: logger})
	case endpoint.KindRedis:
		return redisout.NewSink(redisout.SinkDeps{Descriptor: desc, Logger: logger})
	default:
		return nil, fmt.Errorf("kind %s is not a destination kind", desc.Kind)
	}
}

func buildErr(rule string, desc endpoint.Descriptor, err error) error {
	return errors.WrapInvalid(
		fmt.Errorf("rule %q endpoint %s: %w", rule, desc, err),
		"flowtable", "Build", "adapter construction")
}

// Flows returns the flows in rule order. The slice is shared; callers must
// not mutate it.
func (t *Table) Flows() []*Flow {
	return t.flows
}

// Lookup returns the flow with the given name, or nil.
func (t *Table) Lookup(name string) *Flow {
	return t.byName[name]
}

// Len returns the number of flows in the table.
func (t *Table) Len() int {
	return len(t.flows)
}

// RequiresPrivilege reports whether any flow listens on a well-known low
// port, which needs elevated rights on most systems.
func (t *Table) RequiresPrivilege() bool {
	for _, flow := range t.flows {
		for _, src := range flow.Sources {
			if src.Descriptor().Privileged() {
				return true
			}
		}
	}
	return false
}
