// Package testlog points the global logger at the test log so package tests
// interleave structured output with testing output.
package testlog

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mxgate/mxgate/internal/observability"
)

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

func Start(t *testing.T) {
	t.Helper()
	log.Logger = observability.NewLogger(t.Name(), testWriter{t: t})
	// Background goroutines may still log after the test returns.
	t.Cleanup(func() { log.Logger = zerolog.Nop() })
}
