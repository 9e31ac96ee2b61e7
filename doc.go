// Package relogger is a small-footprint syslog relay: it reads opaque log
// records from a configurable set of input endpoints and replicates each
// record to a configurable set of output endpoints, fanning out many-to-many
// per named rule.
//
// # Architecture
//
// The moving parts, leaf first:
//
//   - record: the opaque Record type (one log line plus provenance).
//   - endpoint: resolved endpoint descriptors and the Source/Sink adapter
//     contracts every concrete adapter implements.
//   - input/udp, input/tcp, input/file: source adapters (datagram listener,
//     line-oriented stream listener, file replay with optional follow mode).
//   - output/socket, output/file, output/nats, output/redis: sink adapters
//     (socket send with bounded reconnect, append file, NATS subject, Redis
//     list).
//   - flowtable: groups sources and sinks into named flows; built once from
//     resolved configuration, read-only afterwards.
//   - relay: the engine. One goroutine per source adapter, each fanning out
//     every record it reads to all sinks of the same flow, started and
//     stopped as a unit with a queryable per-flow status.
//   - config: turns the INI rule file or CLI flags into resolved rules.
//
// Records are never parsed or rewritten; routing is entirely determined by
// flow membership. Delivery is best-effort: there is no acknowledgment
// protocol and no replay across restarts.
package relogger
