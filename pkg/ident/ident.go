package ident

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	tr "go.opentelemetry.io/otel/trace"
)

// Run identifiers are UUIDv7: the top 48 bits carry the creation time in
// milliseconds, the rest is random. Two identifiers generated at different
// wall-clock milliseconds sort in generation order, both as bytes and as
// strings.

// New generates a fresh time-ordered identifier.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewAt generates an identifier whose embedded timestamp is t rather than the
// current time. Used when a caller supplies an explicit start time and the
// identifier must still sort with it.
func NewAt(t time.Time) uuid.UUID {
	id := uuid.Must(uuid.NewV7())
	ms := t.UnixMilli()
	id[0] = byte(ms >> 40)
	id[1] = byte(ms >> 32)
	id[2] = byte(ms >> 24)
	id[3] = byte(ms >> 16)
	id[4] = byte(ms >> 8)
	id[5] = byte(ms)
	return id
}

// Timestamp extracts the millisecond timestamp embedded in a v7 identifier.
// Diagnostics only, business logic never depends on it.
func Timestamp(id uuid.UUID) time.Time {
	ms := int64(id[0])<<40 | int64(id[1])<<32 | int64(id[2])<<24 |
		int64(id[3])<<16 | int64(id[4])<<8 | int64(id[5])
	return time.UnixMilli(ms).UTC()
}

// ToOTel converts an identifier into the OTel trace/span pair.
// The trace ID is the full 128 bits; the span ID is the low 64 bits.
func ToOTel(id uuid.UUID) (tr.TraceID, tr.SpanID) {
	var spanID tr.SpanID
	copy(spanID[:], id[8:])
	return tr.TraceID(id), spanID
}

// FromOTelTraceID rebuilds the identifier from its 32-hex-char trace form,
// re-inserting the UUID separators at offsets 8, 12, 16 and 20.
// Exact inverse of the trace half of ToOTel.
func FromOTelTraceID(traceHex string) (uuid.UUID, error) {
	if len(traceHex) != 32 {
		return uuid.Nil, fmt.Errorf("trace ID must be 32 hex chars, got %d", len(traceHex))
	}
	shaped := strings.Join([]string{
		traceHex[:8], traceHex[8:12], traceHex[12:16], traceHex[16:20], traceHex[20:],
	}, "-")
	return uuid.Parse(shaped)
}

// FromOTelSpanID rebuilds a UUID-shaped value from a 16-hex-char span form,
// zero-filling the high 64 bits.
func FromOTelSpanID(spanHex string) (uuid.UUID, error) {
	if len(spanHex) != 16 {
		return uuid.Nil, fmt.Errorf("span ID must be 16 hex chars, got %d", len(spanHex))
	}
	return uuid.Parse("00000000-0000-0000-" + spanHex[:4] + "-" + spanHex[4:])
}
