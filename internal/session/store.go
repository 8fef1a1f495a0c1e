package session

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nanobill/nanobill/internal/billing"
	"github.com/nanobill/nanobill/internal/clock"
	"github.com/nanobill/nanobill/internal/money"
)

// Store manages the set of metering sessions. All mutation goes through
// the store's lock, so a cap check following an advance in the same tick
// always reads the elapsed value that advance produced.
type Store struct {
	sessions map[string]*Session
	clk      clock.Clock
	logger   zerolog.Logger
	mu       sync.RWMutex
}

// NewStore creates an empty session store.
func NewStore(clk clock.Clock, logger zerolog.Logger) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		clk:      clk,
		logger:   logger.With().Str("component", "session-store").Logger(),
	}
}

// Create starts a new session billed at ratePerHour.
func (s *Store) Create(payerID string, ratePerHour money.Amount, currency string) (Session, error) {
	rate, err := billing.HourlyRate(ratePerHour)
	if err != nil {
		return Session{}, err
	}
	return s.create(payerID, rate, currency)
}

// CreateNormalized starts a new session from a human-entered cost per time
// unit ("0.50 per minute"), normalizing it to nanosecond resolution.
func (s *Store) CreateNormalized(payerID string, serviceCost money.Amount, unit billing.TimeUnit, currency string) (Session, error) {
	rate, err := billing.NormalizeRate(serviceCost, unit)
	if err != nil {
		return Session{}, err
	}
	return s.create(payerID, rate, currency)
}

func (s *Store) create(payerID string, rate billing.NanoRate, currency string) (Session, error) {
	if currency == "" {
		return Session{}, fmt.Errorf("%w: currency is required", billing.ErrInvalidConfiguration)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		ID:        generateSessionID(),
		PayerID:   payerID,
		StartedAt: s.clk.NowNanos(),
		Rate:      rate,
		Currency:  currency,
		State:     StateActive,
	}
	s.sessions[sess.ID] = sess

	s.logger.Info().
		Str("session_id", sess.ID).
		Str("payer_id", payerID).
		Str("rate_per_hour", rate.PerHour().String()).
		Str("currency", currency).
		Msg("Started metering session")

	return *sess, nil
}

// Advance recomputes the session's elapsed time as now minus start.
// Elapsed time never decreases, and repeated calls at the same instant
// return the same value.
func (s *Store) Advance(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.State != StateActive {
		return Session{}, ErrSessionNotFound
	}

	if elapsed := s.clk.NowNanos() - sess.StartedAt; elapsed > sess.ElapsedNanos {
		sess.ElapsedNanos = elapsed
	}

	return *sess, nil
}

// LogEvent appends to the session's consumption log. A missing session is
// a silent no-op: the log carries audit-trail semantics, not billing
// semantics.
func (s *Store) LogEvent(id, description string, metadata map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return
	}

	var meta map[string]string
	if len(metadata) > 0 {
		meta = make(map[string]string, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}

	sess.events = append(sess.events, Event{
		At:          s.clk.NowNanos(),
		Description: description,
		Metadata:    meta,
	})
}

// Events returns a copy of the session's consumption log.
func (s *Store) Events(id string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	out := make([]Event, len(sess.events))
	copy(out, sess.events)
	return out, nil
}

// End performs a final advance, freezes the elapsed duration and returns
// the final billing snapshot. Ending an ended session returns the same
// frozen snapshot; endedNow reports whether this call did the ending.
// When End races a tick, the frozen elapsed time is the larger of the two
// computed values.
func (s *Store) End(id string) (final FinalBilling, endedNow bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return FinalBilling{}, false, ErrSessionNotFound
	}

	if sess.State == StateEnded {
		return *sess.final, false, nil
	}

	now := s.clk.NowNanos()
	if elapsed := now - sess.StartedAt; elapsed > sess.ElapsedNanos {
		sess.ElapsedNanos = elapsed
	}

	sess.State = StateEnded
	sess.final = &FinalBilling{
		SessionID:    sess.ID,
		Billing:      billing.MakeBreakdown(sess.ElapsedNanos, sess.Rate, sess.Currency),
		EndedAtNanos: now,
	}

	s.logger.Info().
		Str("session_id", sess.ID).
		Str("payer_id", sess.PayerID).
		Str("duration", sess.final.Billing.Duration.Formatted).
		Str("total_cost", sess.final.Billing.TotalCost.String()).
		Str("currency", sess.Currency).
		Msg("Ended metering session")

	return *sess.final, true, nil
}

// Get returns a snapshot of a session.
func (s *Store) Get(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *sess, nil
}

// AccumulatedCost returns the session's cost at its last recorded elapsed
// time: the frozen final cost for ended sessions, the cost at the last
// advance for active ones.
func (s *Store) AccumulatedCost(id string) (money.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return money.Amount{}, ErrSessionNotFound
	}
	if sess.final != nil {
		return sess.final.Billing.TotalCost, nil
	}
	return sess.Rate.CostFor(sess.ElapsedNanos), nil
}

// ListActive returns snapshots of all active sessions.
func (s *Store) ListActive() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.State == StateActive {
			out = append(out, *sess)
		}
	}
	return out
}

// Remove deletes a session. Sessions are never garbage-collected by time;
// explicit removal is the only deletion path.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)

	s.logger.Debug().Str("session_id", id).Msg("Removed session")
	return nil
}
