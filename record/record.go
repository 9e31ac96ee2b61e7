// Package record defines the opaque log record passed between adapters.
package record

import (
	"fmt"
	"time"
)

// Record is one relayed log line: an opaque byte payload plus minimal
// provenance. Provenance is used only for diagnostics; routing decisions are
// entirely determined by flow membership, never by record content.
//
// The payload never carries a trailing newline; line framing is applied by
// the sink that needs it.
type Record struct {
	// Body is the raw log line. Treat as immutable after construction.
	Body []byte

	// Origin identifies the source endpoint that produced the record,
	// e.g. "udp://0.0.0.0:5140" or "file:///var/log/input.log".
	Origin string

	// Received is when the source adapter read the record.
	Received time.Time
}

// New copies body into a fresh Record stamped with the current time. The
// copy keeps the record independent of the caller's read buffer.
func New(body []byte, origin string) Record {
	b := make([]byte, len(body))
	copy(b, body)
	return Record{
		Body:     b,
		Origin:   origin,
		Received: time.Now(),
	}
}

// Len returns the payload length in bytes.
func (r Record) Len() int {
	return len(r.Body)
}

// String renders the record for diagnostics.
func (r Record) String() string {
	return fmt.Sprintf("record(%dB from %s)", len(r.Body), r.Origin)
}
