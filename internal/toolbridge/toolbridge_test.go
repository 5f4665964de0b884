package toolbridge

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{
		TimeoutSec:           1,
		Retries:              2,
		BaseBackoffSec:       0.01,
		BackoffJitterSec:     0.0,
		CircuitFailThreshold: 2,
		CircuitOpenSec:       0.2,
	}
}

func TestExecuteToolUnknownName(t *testing.T) {
	b := New(2)
	result := b.ExecuteTool(context.Background(), "nope", nil, nil)
	if result["status"] != "error" {
		t.Fatalf("status = %v, want error", result["status"])
	}
	if result["error"] != "unknown_tool:nope" {
		t.Fatalf("error = %v, want unknown_tool:nope", result["error"])
	}
}

func TestExecuteToolSuccessFirstTry(t *testing.T) {
	b := New(2)
	var calls int32
	b.RegisterToolWithPolicy("echo", func(_ context.Context, args map[string]any) (map[string]any, error) {
		atomic.AddInt32(&calls, 1)
		return map[string]any{"status": "success", "echo": args["value"]}, nil
	}, fastPolicy())

	result := b.ExecuteTool(context.Background(), "echo", map[string]any{"value": "hi"}, nil)
	if result["status"] != "success" {
		t.Fatalf("status = %v, want success", result["status"])
	}
	if result["echo"] != "hi" {
		t.Fatalf("echo = %v, want hi", result["echo"])
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestExecuteToolRetriesThenSucceeds(t *testing.T) {
	b := New(2)
	var calls int32
	b.RegisterToolWithPolicy("flaky", func(_ context.Context, args map[string]any) (map[string]any, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			return map[string]any{"status": "error", "error": "not yet"}, nil
		}
		return map[string]any{"status": "success"}, nil
	}, fastPolicy())

	result := b.ExecuteTool(context.Background(), "flaky", nil, nil)
	if result["status"] != "success" {
		t.Fatalf("status = %v, want success after retry", result["status"])
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestExecuteToolExhaustsRetries(t *testing.T) {
	b := New(2)
	var calls int32
	policy := fastPolicy()
	policy.Retries = 1
	b.RegisterToolWithPolicy("always_fails", func(_ context.Context, args map[string]any) (map[string]any, error) {
		atomic.AddInt32(&calls, 1)
		return map[string]any{"status": "error", "error": "nope"}, nil
	}, policy)

	result := b.ExecuteTool(context.Background(), "always_fails", nil, nil)
	if result["status"] != "error" {
		t.Fatalf("status = %v, want error", result["status"])
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (1 initial + 1 retry)", calls)
	}
}

func TestExecuteToolInvalidShape(t *testing.T) {
	b := New(2)
	policy := fastPolicy()
	policy.Retries = 0
	b.RegisterToolWithPolicy("bad_shape", func(_ context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"no_status_field": true}, nil
	}, policy)

	result := b.ExecuteTool(context.Background(), "bad_shape", nil, nil)
	if result["status"] != "error" {
		t.Fatalf("status = %v, want error", result["status"])
	}
}

func TestExecuteToolPanicRecovered(t *testing.T) {
	b := New(2)
	policy := fastPolicy()
	policy.Retries = 0
	b.RegisterToolWithPolicy("panics", func(_ context.Context, args map[string]any) (map[string]any, error) {
		panic("boom")
	}, policy)

	result := b.ExecuteTool(context.Background(), "panics", nil, nil)
	if result["status"] != "error" {
		t.Fatalf("status = %v, want error", result["status"])
	}
}

func TestExecuteToolCircuitOpensAfterFailures(t *testing.T) {
	b := New(2)
	policy := fastPolicy()
	policy.Retries = 0
	policy.CircuitFailThreshold = 1
	policy.CircuitOpenSec = 10
	b.RegisterToolWithPolicy("breaker_test", func(_ context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"status": "error", "error": "down"}, nil
	}, policy)

	first := b.ExecuteTool(context.Background(), "breaker_test", nil, nil)
	if first["status"] != "error" {
		t.Fatalf("first call status = %v, want error", first["status"])
	}

	second := b.ExecuteTool(context.Background(), "breaker_test", nil, nil)
	if second["status"] != "skipped" {
		t.Fatalf("second call status = %v, want skipped (circuit open)", second["status"])
	}
}

func TestSetPolicyRejectsUnknownTool(t *testing.T) {
	b := New(2)
	if err := b.SetPolicy("missing", DefaultPolicy); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestExecuteToolRespectsWorkerPoolBound(t *testing.T) {
	b := New(1)
	policy := fastPolicy()
	policy.Retries = 0
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	b.RegisterToolWithPolicy("slow", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return map[string]any{"status": "success"}, nil
	}, policy)

	done := make(chan Result, 2)
	go func() { done <- b.ExecuteTool(context.Background(), "slow", nil, nil) }()
	go func() { done <- b.ExecuteTool(context.Background(), "slow", nil, nil) }()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first call never started")
	}

	select {
	case <-started:
		t.Fatal("second call started before pool slot freed")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("a call never finished")
		}
	}
}
