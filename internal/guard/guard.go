// Package guard wraps every source-adapter call with per-source circuit
// breaking and quota throttling. Breaker and quota state live in the store,
// not process memory: ingestion runs are short-lived and several instances
// may share one source's health view.
package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/newspulse/internal/types"
)

type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	QuotaWindow      time.Duration
	QuotaLimit       int
}

// Guard is the breaker plus quota front for one store. Now is swappable so
// tests can steer the clock.
type Guard struct {
	store types.GuardStore
	cfg   Config
	Now   func() time.Time
}

func New(store types.GuardStore, cfg Config) *Guard {
	return &Guard{store: store, cfg: cfg, Now: time.Now}
}

// Result reports quota standing after a Call so the coordinator can derive
// the source's effective poll interval. Tier is -1 when the call was
// short-circuited before any quota charge.
type Result struct {
	Consumed int
	Limit    int
	Tier     int
}

// Call invokes fn for the source if the breaker and quota allow it, and
// records the outcome. While the breaker is open the call is
// short-circuited with KindCircuitOpen and fn never runs. At or above 95%
// quota consumption the call is suppressed with KindQuotaExhausted; the
// attempt still counts against the window.
func (g *Guard) Call(ctx context.Context, source types.SourceID, fn func(context.Context) error) (Result, error) {
	res := Result{Tier: -1}

	st, err := g.store.LoadBreaker(ctx, source)
	if err != nil {
		return res, types.E(types.KindTransientIO, "load breaker for %s", source, err)
	}

	now := g.Now().UTC()
	switch st.State {
	case types.BreakerOpen, types.BreakerHalfOpen:
		// OpenedAt doubles as the half-open probe lease: claiming the
		// probe restamps it, so a probe that never reported back (worker
		// crash, quota suppression) frees up after one more cooldown
		// instead of wedging the breaker.
		if now.Sub(st.OpenedAt) < g.cfg.Cooldown {
			if st.State == types.BreakerHalfOpen {
				return res, types.E(types.KindCircuitOpen, "source %s awaiting half-open probe", source)
			}
			return res, types.E(types.KindCircuitOpen, "source %s circuit open", source)
		}
		// Claim the single probe. Losing the CAS means another worker
		// holds it.
		st.State = types.BreakerHalfOpen
		st.OpenedAt = now
		ok, err := g.store.StoreBreaker(ctx, st)
		if err != nil {
			return res, types.E(types.KindTransientIO, "claim half-open for %s", source, err)
		}
		if !ok {
			return res, types.E(types.KindCircuitOpen, "source %s half-open probe already claimed", source)
		}
		st.Version++
	}

	windowStart := now.Truncate(g.cfg.QuotaWindow)
	consumed, err := g.store.ChargeQuota(ctx, source, windowStart, g.cfg.QuotaLimit)
	if err != nil {
		return res, types.E(types.KindTransientIO, "charge quota for %s", source, err)
	}
	res.Consumed = consumed
	res.Limit = g.cfg.QuotaLimit
	res.Tier = ThrottleTier(consumed, g.cfg.QuotaLimit)

	if res.Tier >= tierSuspended {
		return res, types.E(types.KindQuotaExhausted, "source %s over quota (%d/%d)", source, consumed, g.cfg.QuotaLimit)
	}

	callErr := fn(ctx)
	g.record(ctx, source, st, callErr == nil)
	return res, callErr
}

// record applies the breaker transition for one observed outcome. A lost
// CAS means another worker advanced the state concurrently; their view is
// newer, so we yield.
func (g *Guard) record(ctx context.Context, source types.SourceID, st *types.CircuitBreakerState, success bool) {
	if success {
		st.State = types.BreakerClosed
		st.ConsecutiveFailures = 0
		st.OpenedAt = time.Time{}
	} else {
		st.ConsecutiveFailures++
		if st.State == types.BreakerHalfOpen || st.ConsecutiveFailures >= g.cfg.FailureThreshold {
			st.State = types.BreakerOpen
			st.OpenedAt = g.Now().UTC()
		}
	}

	ok, err := g.store.StoreBreaker(ctx, st)
	if err != nil {
		slog.Error("store breaker state", "source_id", string(source), "error", err)
		return
	}
	if !ok {
		slog.Debug("breaker state advanced concurrently", "source_id", string(source))
	}
}

// NextPoll derives the source's next due time from its base interval and
// the quota standing of the call that just finished. Suspended sources
// wait for the current quota window to roll over; short-circuited calls
// (Tier < 0) keep the base interval.
func (g *Guard) NextPoll(now time.Time, base time.Duration, res Result) time.Time {
	if res.Tier >= 0 && Suspended(res.Tier) {
		return now.Truncate(g.cfg.QuotaWindow).Add(g.cfg.QuotaWindow)
	}
	if res.Tier < 0 {
		return now.Add(base)
	}
	return now.Add(EffectiveInterval(base, res.Tier))
}

// State returns the current persisted breaker state for a source.
func (g *Guard) State(ctx context.Context, source types.SourceID) (*types.CircuitBreakerState, error) {
	return g.store.LoadBreaker(ctx, source)
}
