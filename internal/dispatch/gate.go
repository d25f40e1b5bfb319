// Package dispatch performs the engine's external side effects: it gates
// actions through idempotency and throttling, invokes the telephony and
// places collaborators with bounded timeouts, and records outcomes.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/haven/pkg/models"
	"golang.org/x/sync/singleflight"
)

// Result is the outcome of a gated action invocation.
type Result struct {
	Outcome models.ActionOutcome
	Detail  string
	Value   any
	Err     error
}

// ActionFunc is the underlying side effect invoked through the gate. It
// must honor ctx cancellation; the gate bounds it with a timeout.
type ActionFunc func(ctx context.Context) (detail string, value any, err error)

// idemRecord caches the result of one attempt. Successes live for the
// success window so retries and duplicate webhooks are absorbed; failures
// live for the shorter failure window so a transient failure does not block
// a legitimate retry for long.
type idemRecord struct {
	validUntil time.Time
	result     Result
}

// Gate deduplicates and throttles side effects. A fresh cached result for
// an idempotency key is returned without re-invoking the action, and
// concurrent calls for the same key collapse onto a single in-flight
// invocation.
type Gate struct {
	mu       sync.Mutex
	records  map[string]idemRecord
	throttle map[string]time.Time

	group singleflight.Group

	successWindow time.Duration
	failureWindow time.Duration
	now           func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateClock overrides the gate's time source. Used by tests.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a Gate with the given caching windows.
func NewGate(successWindow, failureWindow time.Duration, opts ...GateOption) *Gate {
	g := &Gate{
		records:       make(map[string]idemRecord),
		throttle:      make(map[string]time.Time),
		successWindow: successWindow,
		failureWindow: failureWindow,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IdemKey derives a deterministic idempotency key from the action, its
// target, and the time bucket. Distinct real-world events land on the same
// key only when they hit the same target within the same window; that
// granularity is the intended deduplication behavior.
func IdemKey(action, target string, now time.Time, window time.Duration) string {
	bucket := now.UnixMilli() / window.Milliseconds()
	return fmt.Sprintf("%s:%s:%d", action, target, bucket)
}

// leaderResult pairs an invocation result with a token identifying which
// caller actually executed the action, so collapsed callers can report
// suppressed-duplicate instead of success.
type leaderResult struct {
	token  string
	result Result
}

// CallOnce invokes fn at most once per idempotency key per caching window.
// A caller that finds a fresh cached result, or that piggybacks on another
// caller's in-flight invocation, gets that result back with the
// suppressed-duplicate outcome.
func (g *Gate) CallOnce(ctx context.Context, actionName, idemKey string, timeout time.Duration, fn ActionFunc) Result {
	if cached, ok := g.lookup(idemKey); ok {
		return asDuplicate(cached)
	}

	token := uuid.NewString()
	v, _, _ := g.group.Do(idemKey, func() (any, error) {
		// Re-check under the group: a previous leader may have filled
		// the cache between our lookup and this call.
		if cached, ok := g.lookup(idemKey); ok {
			return leaderResult{token: "", result: cached}, nil
		}
		res := g.invoke(ctx, actionName, timeout, fn)
		g.store(idemKey, res)
		return leaderResult{token: token, result: res}, nil
	})

	lr := v.(leaderResult)
	if lr.token != token {
		return asDuplicate(lr.result)
	}
	return lr.result
}

// invoke runs fn under a bounded timeout. A timeout is a failure outcome,
// never a hang: no lock is held while the action is in flight.
func (g *Gate) invoke(ctx context.Context, actionName string, timeout time.Duration, fn ActionFunc) Result {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type invocation struct {
		detail string
		value  any
		err    error
	}
	done := make(chan invocation, 1)
	go func() {
		detail, value, err := fn(callCtx)
		done <- invocation{detail: detail, value: value, err: err}
	}()

	select {
	case inv := <-done:
		if inv.err != nil {
			return Result{
				Outcome: models.OutcomeFailure,
				Detail:  fmt.Sprintf("%s failed: %v", actionName, inv.err),
				Err:     inv.err,
			}
		}
		return Result{Outcome: models.OutcomeSuccess, Detail: inv.detail, Value: inv.value}
	case <-callCtx.Done():
		err := callCtx.Err()
		return Result{
			Outcome: models.OutcomeFailure,
			Detail:  fmt.Sprintf("%s timed out after %s", actionName, timeout),
			Err:     err,
		}
	}
}

// lookup returns the cached result for key if it is still fresh.
func (g *Gate) lookup(key string) (Result, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[key]
	if !ok || g.now().After(rec.validUntil) {
		return Result{}, false
	}
	return rec.result, true
}

// store caches a result for its outcome's window.
func (g *Gate) store(key string, res Result) {
	window := g.successWindow
	if res.Outcome == models.OutcomeFailure {
		window = g.failureWindow
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[key] = idemRecord{validUntil: g.now().Add(window), result: res}
}

// Throttle is a simple rate limit independent of idempotency: it returns
// false when the last allowed call for actionKey was within interval.
func (g *Gate) Throttle(actionKey string, interval time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.throttle[actionKey]; ok && now.Sub(last) < interval {
		return false
	}
	g.throttle[actionKey] = now
	return true
}

// Sweep drops expired idempotency records and stale throttle entries,
// using the same synchronized mutation path as foreground calls.
func (g *Gate) Sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for key, rec := range g.records {
		if now.After(rec.validUntil) {
			delete(g.records, key)
		}
	}
	for key, last := range g.throttle {
		if now.Sub(last) > time.Hour {
			delete(g.throttle, key)
		}
	}
}

// Run sweeps periodically until the context is cancelled.
func (g *Gate) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}

// asDuplicate returns a copy of res marked suppressed-duplicate, preserving
// the original detail and value for the caller.
func asDuplicate(res Result) Result {
	res.Outcome = models.OutcomeDuplicate
	return res
}
