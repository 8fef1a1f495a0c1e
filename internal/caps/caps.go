// Package caps enforces spending caps over running sessions: a per-session
// cap that resets with every session and a universal cap bounding a payer's
// lifetime spend across all sessions. The universal cap and the lifetime
// spend counter live in the payer ledger; the enforcer never mutates them.
package caps

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/nanobill/nanobill/internal/money"
	"github.com/nanobill/nanobill/internal/storage"
)

// ErrCapConflict is returned when a requested session cap cannot fit inside
// the payer's remaining universal headroom.
var ErrCapConflict = errors.New("caps: session cap exceeds remaining universal cap")

// Status reports the outcome of a cap evaluation.
type Status string

const (
	StatusWithinLimits        Status = "withinLimits"
	StatusSessionCapReached   Status = "sessionCapReached"
	StatusUniversalCapReached Status = "universalCapReached"
)

// Limits are the caps in force for one session. Nil means unset.
type Limits struct {
	SessionCap   *money.Amount
	UniversalCap *money.Amount
}

// Decision is the result of evaluating a session's cost against its limits.
type Decision struct {
	Status     Status
	ShouldStop bool
}

// Breached reports whether any cap has been reached.
func (d Decision) Breached() bool {
	return d.Status != StatusWithinLimits
}

// Enforcer evaluates session costs against per-session and universal caps.
type Enforcer struct {
	ledger   storage.PayerLedger
	autoStop bool
	logger   zerolog.Logger
}

// NewEnforcer creates an Enforcer backed by the given payer ledger. When
// autoStop is false a breached cap is still reported on every evaluation,
// but the session is left running.
func NewEnforcer(ledger storage.PayerLedger, autoStop bool, logger zerolog.Logger) *Enforcer {
	return &Enforcer{
		ledger:   ledger,
		autoStop: autoStop,
		logger:   logger.With().Str("component", "caps").Logger(),
	}
}

// AutoStop reports whether breached sessions are stopped automatically.
func (e *Enforcer) AutoStop() bool {
	return e.autoStop
}

// PreflightStart validates a proposed session cap against the payer's
// universal headroom before any session state exists. It mutates nothing.
// When proposedUniversalCap is non-nil it is validated in place of the
// stored cap; the caller persists it only after the preflight passes, so a
// rejected start never changes the ledger.
//
// A session cap larger than what the payer can still spend is rejected
// outright rather than silently truncated at runtime, as is any new session
// for a payer whose universal cap is already exhausted.
func (e *Enforcer) PreflightStart(ctx context.Context, payerID string, sessionCap, proposedUniversalCap *money.Amount) error {
	universalCap := proposedUniversalCap
	if universalCap == nil {
		stored, err := e.ledger.UniversalCap(ctx, payerID)
		if err != nil {
			return err
		}
		universalCap = stored
	}
	if universalCap == nil {
		return nil
	}

	spent, err := e.ledger.LifetimeSpent(ctx, payerID)
	if err != nil {
		return err
	}

	headroom := universalCap.Sub(spent)
	if !headroom.IsPositive() {
		e.logger.Warn().
			Str("payer", payerID).
			Str("universal_cap", universalCap.String()).
			Str("lifetime_spent", spent.String()).
			Msg("universal cap exhausted, rejecting session")
		return ErrCapConflict
	}

	if sessionCap != nil && sessionCap.Cmp(headroom) > 0 {
		e.logger.Warn().
			Str("payer", payerID).
			Str("session_cap", sessionCap.String()).
			Str("headroom", headroom.String()).
			Msg("session cap exceeds universal headroom, rejecting session")
		return ErrCapConflict
	}

	return nil
}

// Evaluate checks the session's accumulated cost against its limits. The
// universal check compares lifetimeSpent+sessionCost against the ledger's
// universal cap; when both caps cross in the same evaluation the universal
// cap wins, since it is the one that protects the payer across sessions.
func (e *Enforcer) Evaluate(ctx context.Context, payerID string, sessionCost money.Amount, sessionCap *money.Amount) (Decision, error) {
	status := StatusWithinLimits

	if sessionCap != nil && sessionCost.Cmp(*sessionCap) >= 0 {
		status = StatusSessionCapReached
	}

	universalCap, err := e.ledger.UniversalCap(ctx, payerID)
	if err != nil {
		return Decision{}, err
	}
	if universalCap != nil {
		spent, err := e.ledger.LifetimeSpent(ctx, payerID)
		if err != nil {
			return Decision{}, err
		}
		if spent.Add(sessionCost).Cmp(*universalCap) >= 0 {
			status = StatusUniversalCapReached
		}
	}

	decision := Decision{
		Status:     status,
		ShouldStop: status != StatusWithinLimits && e.autoStop,
	}
	if decision.Breached() {
		e.logger.Debug().
			Str("payer", payerID).
			Str("status", string(status)).
			Str("session_cost", sessionCost.String()).
			Bool("should_stop", decision.ShouldStop).
			Msg("cap breached")
	}
	return decision, nil
}
