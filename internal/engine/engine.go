// Package engine drives the metering loop: on every tick each active
// session is advanced, its cost recomputed, its caps evaluated and the
// result published to the live feed. Sessions are processed independently;
// within one session the tick order is strict, so a cap can never be
// evaluated against a stale cost.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nanobill/nanobill/internal/billing"
	"github.com/nanobill/nanobill/internal/caps"
	"github.com/nanobill/nanobill/internal/clock"
	"github.com/nanobill/nanobill/internal/feed"
	"github.com/nanobill/nanobill/internal/metrics"
	"github.com/nanobill/nanobill/internal/money"
	"github.com/nanobill/nanobill/internal/session"
	"github.com/nanobill/nanobill/internal/storage"
)

// StopReason labels why a session ended.
type StopReason string

const (
	StopRequested StopReason = "requested"
	StopCapBreach StopReason = "cap_breach"
)

// StartParams describe a new session.
type StartParams struct {
	PayerID     string
	ServiceCost money.Amount
	TimeUnit    billing.TimeUnit
	Currency    string
	// SessionCap bounds this session's spend; nil means uncapped.
	SessionCap *money.Amount
	// UniversalCap, when set, replaces the payer's lifetime cap in the
	// ledger once the preflight check passes.
	UniversalCap *money.Amount
}

// Engine owns the session store and runs the tick loop over it.
type Engine struct {
	store    *session.Store
	enforcer *caps.Enforcer
	hub      *feed.Hub
	ledger   storage.PayerLedger
	clk      clock.Clock
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	limits map[string]*money.Amount // session ID -> session cap
}

// New creates an Engine over the given components.
func New(store *session.Store, enforcer *caps.Enforcer, hub *feed.Hub, ledger storage.PayerLedger, clk clock.Clock, interval time.Duration, logger zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		enforcer: enforcer,
		hub:      hub,
		ledger:   ledger,
		clk:      clk,
		interval: interval,
		logger:   logger.With().Str("component", "engine").Logger(),
		limits:   make(map[string]*money.Amount),
	}
}

// StartSession validates caps and creates a new session. The preflight
// checks the supplied universal cap in memory; it is persisted to the
// payer ledger only on success, so a rejected start leaves both the
// session store and the ledger untouched.
func (e *Engine) StartSession(ctx context.Context, p StartParams) (session.Session, error) {
	if err := e.enforcer.PreflightStart(ctx, p.PayerID, p.SessionCap, p.UniversalCap); err != nil {
		metrics.CapConflicts.Inc()
		return session.Session{}, err
	}

	if p.UniversalCap != nil {
		if err := e.ledger.SetUniversalCap(ctx, p.PayerID, *p.UniversalCap); err != nil {
			return session.Session{}, err
		}
	}

	sess, err := e.store.CreateNormalized(p.PayerID, p.ServiceCost, p.TimeUnit, p.Currency)
	if err != nil {
		return session.Session{}, err
	}

	e.mu.Lock()
	e.limits[sess.ID] = p.SessionCap
	e.mu.Unlock()

	metrics.SessionsStarted.Inc()
	metrics.ActiveSessions.Set(float64(len(e.store.ListActive())))
	return sess, nil
}

// StopSession ends a session and, when this call is the one that ended it,
// accrues the final billed cost to the payer's lifetime spend. This is the
// single accrual point: settlements read the frozen cost and never add to
// the ledger themselves.
func (e *Engine) StopSession(ctx context.Context, id string, reason StopReason) (session.FinalBilling, error) {
	sess, err := e.store.Get(id)
	if err != nil {
		return session.FinalBilling{}, err
	}

	final, endedNow, err := e.store.End(id)
	if err != nil {
		return session.FinalBilling{}, err
	}
	if !endedNow {
		return final, nil
	}

	e.mu.Lock()
	delete(e.limits, id)
	e.mu.Unlock()

	if total, err := e.ledger.AddSpend(ctx, sess.PayerID, final.Billing.TotalCost); err != nil {
		// The session is already frozen; the charge must not be lost.
		e.logger.Error().Err(err).
			Str("session", id).
			Str("payer", sess.PayerID).
			Str("cost", final.Billing.TotalCost.String()).
			Msg("failed to accrue session cost to ledger")
	} else {
		e.logger.Info().
			Str("session", id).
			Str("payer", sess.PayerID).
			Str("cost", final.Billing.TotalCost.String()).
			Str("lifetime_spent", total.String()).
			Str("reason", string(reason)).
			Msg("session ended")
	}

	metrics.SessionsEnded.WithLabelValues(string(reason)).Inc()
	metrics.ActiveSessions.Set(float64(len(e.store.ListActive())))

	// On a cap-breach stop the tick loop publishes the final update with the
	// breach status; a within-limits event here would contradict it.
	if reason != StopCapBreach {
		e.hub.PublishUpdate(feed.Update{
			SessionID: id,
			Elapsed:   final.Billing.Duration.Colons(),
			Cost:      final.Billing.TotalCost.String(),
			CapStatus: string(caps.StatusWithinLimits),
			At:        e.clk.Now(),
		})
	}
	return final, nil
}

// RemoveSession deletes a session and its replay entry.
func (e *Engine) RemoveSession(id string) error {
	if err := e.store.Remove(id); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.limits, id)
	e.mu.Unlock()
	e.hub.Forget(id)
	metrics.ActiveSessions.Set(float64(len(e.store.ListActive())))
	return nil
}

// Run executes the tick loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info().Dur("interval", e.interval).Msg("Metering loop started")
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Metering loop stopped")
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick processes one metering round over all active sessions.
func (e *Engine) Tick(ctx context.Context) {
	metrics.TicksTotal.Inc()

	for _, sess := range e.store.ListActive() {
		e.tickSession(ctx, sess)
	}
}

func (e *Engine) tickSession(ctx context.Context, sess session.Session) {
	advanced, err := e.store.Advance(sess.ID)
	if err != nil {
		// Ended or removed between listing and advancing.
		return
	}

	cost := advanced.Rate.CostFor(advanced.ElapsedNanos)

	e.mu.Lock()
	sessionCap := e.limits[advanced.ID]
	e.mu.Unlock()

	decision, err := e.enforcer.Evaluate(ctx, advanced.PayerID, cost, sessionCap)
	if err != nil {
		e.logger.Error().Err(err).Str("session", advanced.ID).Msg("cap evaluation failed")
		return
	}

	if decision.Breached() {
		scope := "session"
		if decision.Status == caps.StatusUniversalCapReached {
			scope = "universal"
		}
		metrics.CapBreaches.WithLabelValues(scope).Inc()
	}

	if decision.ShouldStop {
		if _, err := e.StopSession(ctx, advanced.ID, StopCapBreach); err != nil {
			e.logger.Error().Err(err).Str("session", advanced.ID).Msg("auto-stop failed")
		}
		// The only update for this stop carries the breach status, so
		// observers see why the session ended.
		e.hub.PublishUpdate(feed.Update{
			SessionID: advanced.ID,
			Elapsed:   billing.ClockTimeFromNanos(advanced.ElapsedNanos).Colons(),
			Cost:      cost.String(),
			CapStatus: string(decision.Status),
			At:        e.clk.Now(),
		})
		return
	}

	e.hub.PublishUpdate(feed.Update{
		SessionID: advanced.ID,
		Elapsed:   billing.ClockTimeFromNanos(advanced.ElapsedNanos).Colons(),
		Cost:      cost.String(),
		CapStatus: string(decision.Status),
		At:        e.clk.Now(),
	})
}

// SessionCap returns the session cap registered for a session, nil when
// uncapped or unknown.
func (e *Engine) SessionCap(id string) *money.Amount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limits[id]
}
