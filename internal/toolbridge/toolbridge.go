// Package toolbridge is the tool-execution bridge between agents and the
// external tool implementations (model gateway, rust sandbox, data
// providers). It owns per-tool retry/backoff, a circuit breaker per tool
// name, and a bounded worker pool so no stage ever blocks indefinitely on a
// misbehaving tool.
package toolbridge

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"tripctl/internal/logger"
)

// ToolFunc is the generic tool contract: structured arguments in, a
// structured result map out. Every concrete tool implementation (HTTP call,
// gRPC call, local computation) is adapted to this shape at registration
// time.
type ToolFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Policy controls retry/backoff/circuit behavior for one tool. Zero-value
// fields fall back to DefaultPolicy's values via WithDefaults, except
// Retries: zero retries means a single attempt.
type Policy struct {
	TimeoutSec          float64
	Retries             int
	BaseBackoffSec      float64
	BackoffJitterSec    float64
	CircuitFailThreshold uint32
	CircuitOpenSec      float64
}

// DefaultPolicy mirrors the original bridge's DEFAULT_POLICY.
var DefaultPolicy = Policy{
	TimeoutSec:           45,
	Retries:              2,
	BaseBackoffSec:       1.0,
	BackoffJitterSec:     0.3,
	CircuitFailThreshold: 3,
	CircuitOpenSec:       60,
}

// WithDefaults fills any zero field other than Retries from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy
	if p.TimeoutSec == 0 {
		p.TimeoutSec = d.TimeoutSec
	}
	if p.BaseBackoffSec == 0 {
		p.BaseBackoffSec = d.BaseBackoffSec
	}
	if p.BackoffJitterSec == 0 {
		p.BackoffJitterSec = d.BackoffJitterSec
	}
	if p.CircuitFailThreshold == 0 {
		p.CircuitFailThreshold = d.CircuitFailThreshold
	}
	if p.CircuitOpenSec == 0 {
		p.CircuitOpenSec = d.CircuitOpenSec
	}
	return p
}

// Result is a standardized tool outcome. Status is always one of
// "success"/"error"/"skipped" per the tool-return contract.
type Result = map[string]any

func success(data map[string]any) Result {
	out := map[string]any{"status": "success"}
	for k, v := range data {
		out[k] = v
	}
	return out
}

func errorResult(message string) Result {
	return Result{"status": "error", "error": message}
}

func skipped() Result {
	return Result{"status": "skipped", "error": "circuit_open"}
}

// softFailureError wraps a non-success tool result so it can pass through
// gobreaker's Execute (which only tracks success/failure via the returned
// error) while still letting the caller recover the original result shape
// instead of a synthesized error.
type softFailureError struct {
	result Result
}

func (e *softFailureError) Error() string {
	if e.result != nil {
		if msg, ok := e.result["error"].(string); ok {
			return msg
		}
	}
	return "tool returned non-success status"
}

type registeredTool struct {
	fn      ToolFunc
	policy  Policy
	breaker *gobreaker.CircuitBreaker
}

// Bridge is the tool registry plus the shared bounded worker pool every
// ExecuteTool call is submitted through.
type Bridge struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool

	sem chan struct{} // bounds concurrent in-flight tool calls
}

// New creates a Bridge whose worker pool allows at most maxConcurrent tool
// calls in flight at once.
func New(maxConcurrent int) *Bridge {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Bridge{
		tools: map[string]*registeredTool{},
		sem:   make(chan struct{}, maxConcurrent),
	}
}

// RegisterTool adds a tool under name with the default policy.
func (b *Bridge) RegisterTool(name string, fn ToolFunc) {
	b.RegisterToolWithPolicy(name, fn, DefaultPolicy)
}

// RegisterToolWithPolicy adds a tool under name with an explicit policy.
func (b *Bridge) RegisterToolWithPolicy(name string, fn ToolFunc, policy Policy) {
	policy = policy.WithDefaults()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tools[name] = &registeredTool{
		fn:      fn,
		policy:  policy,
		breaker: newBreaker(name, policy),
	}
}

// SetPolicy updates an already-registered tool's policy, rebuilding its
// breaker to match the new thresholds.
func (b *Bridge) SetPolicy(name string, policy Policy) error {
	policy = policy.WithDefaults()
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tools[name]
	if !ok {
		return fmt.Errorf("toolbridge: unknown tool %q", name)
	}
	t.policy = policy
	t.breaker = newBreaker(name, policy)
	return nil
}

func newBreaker(name string, policy Policy) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     time.Duration(policy.CircuitOpenSec * float64(time.Second)),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= policy.CircuitFailThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.LogCircuitBreakerStateChange(nil, name, from.String(), to.String())
		},
	})
}

// ExecuteTool runs the named tool through its breaker, retrying with
// exponential backoff and jitter on non-success outcomes, up to
// policy.Retries additional attempts. It never panics and never blocks past
// the worker pool's capacity indefinitely: it queues for a pool slot exactly
// once per attempt.
//
// Algorithm (mirrors the original bridge's execute_tool):
//   - unknown tool name -> error result, no breaker involved.
//   - breaker open -> skipped result, no attempt made.
//   - each attempt is given timeout_sec; a context deadline or panic recovery
//     surfaces as a run-time error for that attempt.
//   - a non-map or missing-"status" return is a shape-invalid error result.
//   - "status":"success" records a breaker success and returns immediately.
//   - any other status (including a tool-returned error) records a breaker
//     failure; on the final attempt the original result is passed through
//     as-is.
//   - otherwise, sleep a backoff then retry.
func (b *Bridge) ExecuteTool(ctx context.Context, name string, args map[string]any, policyOverride *Policy) Result {
	b.mu.RLock()
	t, ok := b.tools[name]
	b.mu.RUnlock()
	if !ok {
		return errorResult("unknown_tool:" + name)
	}

	policy := t.policy
	if policyOverride != nil {
		policy = policyOverride.WithDefaults()
	}

	attempts := policy.Retries + 1
	var last Result
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := b.attempt(ctx, t, name, args, policy)
		if err != nil {
			// breaker open short-circuits before any attempt is spent.
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return skipped()
			}
			last = errorResult(err.Error())
		} else {
			last = result
		}

		if status, _ := last["status"].(string); status == "success" {
			return last
		}
		if attempt == attempts {
			return last
		}
		b.sleepBackoff(ctx, policy, attempt)
	}
	return last
}

func (b *Bridge) attempt(ctx context.Context, t *registeredTool, name string, args map[string]any, policy Policy) (result Result, callErr error) {
	b.sem <- struct{}{}
	defer func() { <-b.sem }()

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(policy.TimeoutSec*float64(time.Second)))
	defer cancel()

	raw, err := t.breaker.Execute(func() (any, error) {
		defer func() {
			if r := recover(); r != nil {
				callErr = fmt.Errorf("tool %q panicked: %v", name, r)
			}
		}()
		res, err := t.fn(callCtx, args)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, fmt.Errorf("tool_return_shape_invalid")
		}
		if _, hasStatus := res["status"]; !hasStatus {
			return nil, fmt.Errorf("tool_return_shape_invalid")
		}
		if status, _ := res["status"].(string); status != "success" {
			// Counts as a breaker failure, but the original result still
			// needs to reach the caller unchanged.
			return nil, &softFailureError{result: res}
		}
		return res, nil
	})
	if callErr != nil {
		return nil, callErr
	}
	if err != nil {
		var sf *softFailureError
		if errors.As(err, &sf) {
			return sf.result, nil
		}
		return nil, err
	}
	res, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("tool_return_shape_invalid")
	}
	return res, nil
}

// sleepBackoff sleeps base*(2**(attempt-1)) seconds plus uniform jitter in
// [-jitter, jitter], clamped to a 0.05s floor, or until ctx is done.
func (b *Bridge) sleepBackoff(ctx context.Context, policy Policy, attempt int) {
	delay := policy.BaseBackoffSec * float64(int(1)<<uint(attempt-1))
	if policy.BackoffJitterSec > 0 {
		delay += (rand.Float64()*2 - 1) * policy.BackoffJitterSec
	}
	if delay < 0.05 {
		delay = 0.05
	}
	timer := time.NewTimer(time.Duration(delay * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
