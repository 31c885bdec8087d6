package logging

import (
	"context"
	"testing"
)

func TestEnsureSolveIDIsStable(t *testing.T) {
	ctx, id := EnsureSolveID(context.Background())
	if id == "" {
		t.Fatalf("empty solve id")
	}
	ctx2, id2 := EnsureSolveID(ctx)
	if id2 != id {
		t.Errorf("second call minted a new id: %q vs %q", id2, id)
	}
	if got := SolveIDFromContext(ctx2); got != id {
		t.Errorf("SolveIDFromContext = %q, want %q", got, id)
	}
}

func TestSolveIDFromContextMissing(t *testing.T) {
	if got := SolveIDFromContext(context.Background()); got != "" {
		t.Errorf("SolveIDFromContext on fresh context = %q, want empty", got)
	}
}

func TestWithSolveLoggerNilBase(t *testing.T) {
	ctx, log := WithSolveLogger(context.Background(), nil)
	if log == nil {
		t.Fatalf("nil logger returned")
	}
	if SolveIDFromContext(ctx) == "" {
		t.Errorf("context missing solve id")
	}
	// Must be callable without panicking.
	log.Info(ctx, "noop")
}

func TestContextLoggerRoundTrip(t *testing.T) {
	l := Noop()
	ctx := ContextWithLogger(context.Background(), l)
	if got := LoggerFromContext(ctx); got != l {
		t.Errorf("LoggerFromContext returned a different logger")
	}
	if got := LoggerFromContext(context.Background()); got != nil {
		t.Errorf("LoggerFromContext on fresh context = %v, want nil", got)
	}
}
