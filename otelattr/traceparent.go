// Package otelattr provides small opentelemetry helpers shared by the
// boot-protocol services.
package otelattr

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TraceparentFromContext extracts the binary trace id, span id, and trace
// flags from the running span in ctx and returns a 26 byte []byte with the
// traceparent encoded, ready to pass into PXE vendor-option 43 sub-option
// 69.
func TraceparentFromContext(ctx context.Context) []byte {
	sc := trace.SpanContextFromContext(ctx)
	tpBytes := make([]byte, 0, 26)

	tid := [16]byte(sc.TraceID())
	sid := [8]byte(sc.SpanID())

	tpBytes = append(tpBytes, 0x00) // traceparent version
	tpBytes = append(tpBytes, tid[:]...)
	tpBytes = append(tpBytes, sid[:]...)
	if sc.IsSampled() {
		tpBytes = append(tpBytes, 0x01)
	} else {
		tpBytes = append(tpBytes, 0x00)
	}

	return tpBytes
}
