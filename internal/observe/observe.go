// Package observe bundles the engine's structured logger and tracer so the
// subsystems take one dependency instead of two.
package observe

import (
	"context"
	"io"

	"github.com/felixgeelhaar/bolt/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("mnemo")

// Observer is handed to every subsystem at construction. It owns the log
// sink and names the spans that wrap engine operations.
type Observer struct {
	log *bolt.Logger
}

// New returns an Observer logging human-readable lines to out. Without
// verbose, informational events are suppressed and only warnings and errors
// reach the sink.
func New(out io.Writer, verbose bool) *Observer {
	return &Observer{log: newLogger(bolt.NewConsoleHandler(out), verbose)}
}

// NewJSON is New with one JSON object per line, for log collectors.
func NewJSON(out io.Writer, verbose bool) *Observer {
	return &Observer{log: newLogger(bolt.NewJSONHandler(out), verbose)}
}

// Nop returns an Observer whose output goes nowhere. Used in tests.
func Nop() *Observer {
	return New(io.Discard, false)
}

func newLogger(handler bolt.Handler, verbose bool) *bolt.Logger {
	l := bolt.New(handler)
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return l
}

// Log exposes the logger for event emission.
func (o *Observer) Log() *bolt.Logger {
	return o.log
}

// StartSpan opens a span under the mnemo tracer. Callers defer span.End().
func (o *Observer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// Close flushes buffered telemetry. The current sinks write through, so
// there is nothing to flush yet, but callers should not rely on that.
func (o *Observer) Close() error {
	return nil
}
