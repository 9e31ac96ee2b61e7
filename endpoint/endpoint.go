package endpoint

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/caesar0301/relogger/errors"
	"github.com/caesar0301/relogger/record"
)

// Kind identifies what an endpoint descriptor resolves to.
type Kind int

const (
	// KindListen is a socket-listen source (bind and receive).
	KindListen Kind = iota
	// KindConnect is a socket-send destination (dial and write).
	KindConnect
	// KindReadFile is an offline file read source (replay or follow).
	KindReadFile
	// KindWriteFile is an offline file append destination.
	KindWriteFile
	// KindNATS is a NATS publish destination.
	KindNATS
	// KindRedis is a Redis list-push destination.
	KindRedis
)

// String returns a string representation of the endpoint kind
func (k Kind) String() string {
	switch k {
	case KindListen:
		return "listen"
	case KindConnect:
		return "connect"
	case KindReadFile:
		return "file-read"
	case KindWriteFile:
		return "file-write"
	case KindNATS:
		return "nats"
	case KindRedis:
		return "redis"
	default:
		return "unknown"
	}
}

// DefaultSyslogPort is applied when a socket endpoint names a host with no
// port, matching standard syslog behavior.
const DefaultSyslogPort = 514

// privilegedPortMax is the highest well-known port; binding at or below it
// requires elevated rights on most systems.
const privilegedPortMax = 1023

// Descriptor is the resolved, validated description of one concrete
// endpoint. Immutable once resolved; a comma-separated host list in
// configuration expands into one Descriptor per concrete endpoint before it
// reaches this type.
type Descriptor struct {
	Kind    Kind
	Network string // "udp" or "tcp"; socket kinds only
	Address string // host:port; socket kinds only
	Path    string // absolute path; file kinds only
	URL     string // broker URL; nats and redis kinds only
	Follow  bool   // file-read only: tail the file instead of stopping at EOF
}

// String renders the descriptor as a stable endpoint identifier used in
// status reports, logs and record provenance.
func (d Descriptor) String() string {
	switch d.Kind {
	case KindListen, KindConnect:
		return fmt.Sprintf("%s://%s", d.Network, d.Address)
	case KindReadFile, KindWriteFile:
		return "file://" + d.Path
	case KindNATS, KindRedis:
		return d.URL
	default:
		return "unknown://"
	}
}

// Privileged reports whether this descriptor requires elevated network
// rights, i.e. a listen endpoint binding a well-known low port.
func (d Descriptor) Privileged() bool {
	if d.Kind != KindListen {
		return false
	}
	_, portStr, err := net.SplitHostPort(d.Address)
	if err != nil {
		return false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return false
	}
	return port > 0 && port <= privilegedPortMax
}

// Hostname validation patterns: dotted-quad IPv4 or RFC-952 style names.
var (
	validIP = regexp.MustCompile(
		`^(([0-9]|[1-9][0-9]|1[0-9]{2}|2[0-4][0-9]|25[0-5])\.){3}` +
			`([0-9]|[1-9][0-9]|1[0-9]{2}|2[0-4][0-9]|25[0-5])$`)
	validHostname = regexp.MustCompile(
		`^(([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9\-]*[a-zA-Z0-9])\.)*` +
			`([A-Za-z0-9]|[A-Za-z0-9][A-Za-z0-9\-]*[A-Za-z0-9])$`)
)

// ValidHostname reports whether s is an acceptable hostname or IPv4 address.
func ValidHostname(s string) bool {
	return validIP.MatchString(s) || validHostname.MatchString(s)
}

// ResolveHosts expands a comma-separated host list into one socket
// descriptor per concrete endpoint, preserving the configured order. Hosts
// without an explicit port get the default syslog port. Duplicates are
// dropped, keeping the first occurrence.
func ResolveHosts(kind Kind, network, hosts string) ([]Descriptor, error) {
	if kind != KindListen && kind != KindConnect {
		return nil, errors.WrapInvalid(
			fmt.Errorf("kind %s is not a socket kind", kind),
			"endpoint", "ResolveHosts", "kind validation")
	}
	if network != "udp" && network != "tcp" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unsupported network %q", network),
			"endpoint", "ResolveHosts", "network validation")
	}

	var out []Descriptor
	seen := make(map[string]bool)
	for _, raw := range strings.Split(hosts, ",") {
		h := strings.TrimSpace(raw)
		if h == "" {
			continue
		}

		host := h
		port := DefaultSyslogPort
		if strings.Contains(h, ":") {
			hostPart, portStr, err := net.SplitHostPort(h)
			if err != nil {
				return nil, errors.WrapInvalid(err, "endpoint", "ResolveHosts", "address parsing")
			}
			p, err := strconv.Atoi(portStr)
			if err != nil || p < 1 || p > 65535 {
				return nil, errors.WrapInvalid(
					fmt.Errorf("invalid port in %q", h),
					"endpoint", "ResolveHosts", "port validation")
			}
			host = hostPart
			port = p
		}

		if !ValidHostname(host) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("invalid hostname: %s", host),
				"endpoint", "ResolveHosts", "hostname validation")
		}

		addr := net.JoinHostPort(host, strconv.Itoa(port))
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, Descriptor{Kind: kind, Network: network, Address: addr})
	}

	if len(out) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("empty host list"),
			"endpoint", "ResolveHosts", "host list validation")
	}
	return out, nil
}

// ResolvePorts expands a comma-separated port list into localhost listen
// descriptors, the shorthand the original src.port configuration key allows.
func ResolvePorts(network, ports string) ([]Descriptor, error) {
	var hosts []string
	for _, raw := range strings.Split(ports, ",") {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		if _, err := strconv.Atoi(p); err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("invalid port: %s", p),
				"endpoint", "ResolvePorts", "port validation")
		}
		hosts = append(hosts, "localhost:"+p)
	}
	if len(hosts) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("empty port list"),
			"endpoint", "ResolvePorts", "port list validation")
	}
	return ResolveHosts(KindListen, network, strings.Join(hosts, ","))
}

// ResolveFile builds a file descriptor. Relative paths are resolved against
// baseDir (the directory of the configuration file), matching the original
// resolver's behavior. Follow applies to read descriptors only and must be
// declared explicitly; it is never inferred from file content.
func ResolveFile(kind Kind, path, baseDir string, follow bool) (Descriptor, error) {
	if kind != KindReadFile && kind != KindWriteFile {
		return Descriptor{}, errors.WrapInvalid(
			fmt.Errorf("kind %s is not a file kind", kind),
			"endpoint", "ResolveFile", "kind validation")
	}
	path = strings.TrimSpace(strings.TrimPrefix(path, "file://"))
	if path == "" {
		return Descriptor{}, errors.WrapInvalid(
			fmt.Errorf("empty file path"),
			"endpoint", "ResolveFile", "path validation")
	}
	if !filepath.IsAbs(path) {
		if baseDir == "" {
			abs, err := filepath.Abs(path)
			if err != nil {
				return Descriptor{}, errors.WrapInvalid(err, "endpoint", "ResolveFile", "path resolution")
			}
			path = abs
		} else {
			path = filepath.Join(baseDir, path)
		}
	}
	if kind == KindWriteFile && follow {
		return Descriptor{}, errors.WrapInvalid(
			fmt.Errorf("follow mode applies to file sources only"),
			"endpoint", "ResolveFile", "follow validation")
	}
	return Descriptor{Kind: kind, Path: path, Follow: follow}, nil
}

// ResolveURL builds a broker descriptor for NATS or Redis destinations. The
// URL is validated by the owning sink at Open time; here only the scheme is
// checked so configuration errors surface before the table is built.
func ResolveURL(kind Kind, rawURL string) (Descriptor, error) {
	rawURL = strings.TrimSpace(rawURL)
	switch kind {
	case KindNATS:
		if !strings.HasPrefix(rawURL, "nats://") {
			return Descriptor{}, errors.WrapInvalid(
				fmt.Errorf("NATS destination must use nats:// scheme: %s", rawURL),
				"endpoint", "ResolveURL", "scheme validation")
		}
	case KindRedis:
		if !strings.HasPrefix(rawURL, "redis://") && !strings.HasPrefix(rawURL, "rediss://") {
			return Descriptor{}, errors.WrapInvalid(
				fmt.Errorf("Redis destination must use redis:// scheme: %s", rawURL),
				"endpoint", "ResolveURL", "scheme validation")
		}
	default:
		return Descriptor{}, errors.WrapInvalid(
			fmt.Errorf("kind %s is not a broker kind", kind),
			"endpoint", "ResolveURL", "kind validation")
	}
	return Descriptor{Kind: kind, URL: rawURL}, nil
}

// Source is a live adapter producing records from one endpoint.
//
// Open acquires the underlying resource; a failure is a construction-time
// error and the owning flow must not be considered started. Next blocks
// until a record is available and returns io.EOF at end-of-stream; transient
// read errors are absorbed inside the adapter, so any other error from Next
// is unrecoverable for this adapter. Close releases the resource, is
// idempotent, and may be called from another goroutine to interrupt a
// blocked Next.
type Source interface {
	Descriptor() Descriptor
	Open(ctx context.Context) error
	Next(ctx context.Context) (record.Record, error)
	Close() error
}

// Sink is a live adapter forwarding records to one endpoint.
//
// Write forwards a single record; an error marks this write failed but the
// sink may recover internally (bounded reconnect) for subsequent writes.
// Once a sink reports errors.ErrAdapterDead it stays dead. Close releases
// the resource and is idempotent.
type Sink interface {
	Descriptor() Descriptor
	Open(ctx context.Context) error
	Write(ctx context.Context, rec record.Record) error
	Close() error
}
