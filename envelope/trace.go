package envelope

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// W3C trace context propagation for the envelope header.
//
// The traceparent travels as a plain header field so that every hop extends
// the same trace regardless of transport. Format:
//
//	version-trace_id-span_id-flags
//	00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01

const (
	traceVersion = "00"
	traceFlags   = "01" // sampled
)

func randomHex(nbytes int) string {
	buf := make([]byte, nbytes)
	// rand.Read on crypto/rand never fails on supported platforms.
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// NewTraceparent creates a root traceparent header with a fresh trace-id and
// span-id.
func NewTraceparent() string {
	return traceVersion + "-" + randomHex(16) + "-" + randomHex(8) + "-" + traceFlags
}

// ChildTraceparent derives a child header: same trace-id, fresh span-id.
// A malformed parent falls back to a brand-new root header rather than
// propagating garbage.
func ChildTraceparent(parent string) string {
	parts := strings.Split(parent, "-")
	if len(parts) != 4 || parts[0] != traceVersion || len(parts[1]) != 32 || len(parts[3]) != 2 {
		return NewTraceparent()
	}
	return parts[0] + "-" + parts[1] + "-" + randomHex(8) + "-" + parts[3]
}

// TraceID extracts the trace-id from a traceparent header, or "" if malformed.
func TraceID(traceparent string) string {
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 || len(parts[1]) != 32 {
		return ""
	}
	return parts[1]
}
