package lifecycle

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestIsShuttingDown_DefaultFalse(t *testing.T) {
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false by default")
	}
}

func TestSetShuttingDown_Toggle(t *testing.T) {
	SetShuttingDown(true)
	if !IsShuttingDown() {
		t.Error("IsShuttingDown() = false after SetShuttingDown(true), want true")
	}
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true after SetShuttingDown(false), want false")
	}
}

func TestShutdown_RunsStepsInOrderAndSetsFlag(t *testing.T) {
	defer SetShuttingDown(false)
	var order []string
	step := func(name string) Step {
		return Step{Name: name, Run: func(ctx context.Context) error {
			if !IsShuttingDown() {
				t.Errorf("step %s ran before shutdown flag was set", name)
			}
			order = append(order, name)
			return nil
		}}
	}

	err := Shutdown(context.Background(), nil,
		step("http"), step("inflight"), Step{Name: "skipped"}, step("cache"))
	if err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	want := []string{"http", "inflight", "cache"}
	if len(order) != len(want) {
		t.Fatalf("steps run = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("step %d = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestShutdown_ContinuesAfterFailure(t *testing.T) {
	defer SetShuttingDown(false)
	core, logs := observer.New(zapcore.WarnLevel)
	boom := errors.New("boom")
	ranLast := false

	err := Shutdown(context.Background(), zap.New(core),
		Step{Name: "publisher", Run: func(ctx context.Context) error { return boom }},
		Step{Name: "cache", Run: func(ctx context.Context) error { ranLast = true; return nil }},
	)
	if !errors.Is(err, boom) {
		t.Errorf("Shutdown() error = %v, want wrapping boom", err)
	}
	if !ranLast {
		t.Error("step after failure did not run")
	}
	entries := logs.FilterMessage("shutdown step failed").All()
	if len(entries) != 1 {
		t.Fatalf("failure logs = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["step"]; got != "publisher" {
		t.Errorf("logged step = %v, want publisher", got)
	}
}
