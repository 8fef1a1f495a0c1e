// Package settlement turns a session's accumulated cost into payable
// records. The coordinator never charges more than the session has actually
// accrued: requested amounts are clamped down to the accumulated cost before
// a record is created, so overpayment is impossible by construction.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nanobill/nanobill/internal/billing"
	"github.com/nanobill/nanobill/internal/clock"
	"github.com/nanobill/nanobill/internal/metrics"
	"github.com/nanobill/nanobill/internal/money"
	"github.com/nanobill/nanobill/internal/rates"
	"github.com/nanobill/nanobill/internal/session"
)

var (
	// ErrSettlementNotFound is returned for an unknown settlement ID.
	ErrSettlementNotFound = errors.New("settlement: not found")

	// ErrInvalidStateTransition is returned when a settlement is moved to a
	// state its current state does not allow.
	ErrInvalidStateTransition = errors.New("settlement: invalid state transition")
)

// Status is the lifecycle state of a settlement record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Record is one settlement. Records are append-only: they change status but
// are never deleted.
type Record struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"sessionId"`
	PayerID     string       `json:"payerId"`
	Requested   money.Amount `json:"requested"`
	Charged     money.Amount `json:"charged"`
	Currency    string       `json:"currency"`
	UnitSymbol  string       `json:"unitSymbol"`
	UnitAmount  money.Amount `json:"unitAmount"`
	UnitPrice   money.Amount `json:"unitPrice"`
	Destination string       `json:"destination"`
	Status      Status       `json:"status"`
	TxRef       string       `json:"txRef,omitempty"`
	FailReason  string       `json:"failReason,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	ConfirmedAt *time.Time   `json:"confirmedAt,omitempty"`
}

// Clamped reports whether the requested amount was reduced to the session's
// accumulated cost.
func (r Record) Clamped() bool {
	return r.Charged.Cmp(r.Requested) < 0
}

// Validation is the outcome of checking a proposed settlement amount.
type Validation struct {
	Valid      bool         `json:"valid"`
	Warning    string       `json:"warning,omitempty"`
	ActualCost money.Amount `json:"actualCost"`
	Excess     money.Amount `json:"excess"`
}

// Refund is the overpaid portion of a confirmed settlement.
type Refund struct {
	SettlementID string       `json:"settlementId"`
	SessionID    string       `json:"sessionId"`
	Amount       money.Amount `json:"amount"`
	Currency     string       `json:"currency"`
}

// Summary aggregates all settlement records.
type Summary struct {
	Count          int          `json:"count"`
	Pending        int          `json:"pending"`
	Confirmed      int          `json:"confirmed"`
	Failed         int          `json:"failed"`
	TotalRequested money.Amount `json:"totalRequested"`
	TotalCharged   money.Amount `json:"totalCharged"`
}

// Coordinator creates and transitions settlement records for sessions.
type Coordinator struct {
	store  *session.Store
	table  *rates.Table
	clk    clock.Clock
	logger zerolog.Logger

	mu      sync.RWMutex
	records map[string]*Record
	order   []string

	// onChange, when set, is invoked after a record is created or changes
	// status. Called outside the coordinator lock.
	onChange func(Record)
}

// NewCoordinator creates a Coordinator over the given session store and
// rate table.
func NewCoordinator(store *session.Store, table *rates.Table, clk clock.Clock, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:   store,
		table:   table,
		clk:     clk,
		logger:  logger.With().Str("component", "settlement").Logger(),
		records: make(map[string]*Record),
	}
}

// OnChange registers a callback for record creation and status changes.
// Must be called before the coordinator is used concurrently.
func (c *Coordinator) OnChange(fn func(Record)) {
	c.onChange = fn
}

// Validate checks a proposed amount against the session's accumulated cost.
// Any non-negative amount is valid; amounts above the accumulated cost get
// a warning and the excess figure so the caller can see what a clamp would
// remove. Negative amounts are rejected.
func (c *Coordinator) Validate(sessionID string, amount money.Amount) (Validation, error) {
	if amount.IsNegative() {
		return Validation{}, fmt.Errorf("%w: settlement amount must not be negative", billing.ErrInvalidConfiguration)
	}

	cost, err := c.store.AccumulatedCost(sessionID)
	if err != nil {
		return Validation{}, err
	}

	v := Validation{
		Valid:      true,
		ActualCost: cost,
		Excess:     money.Zero(),
	}
	if amount.Cmp(cost) > 0 {
		v.Excess = amount.Sub(cost)
		v.Warning = fmt.Sprintf("requested %s exceeds accumulated cost %s; charge will be clamped", amount, cost)
	}
	return v, nil
}

// Initiate creates a pending settlement for the session. The charge is the
// smaller of the requested amount and the session's accumulated cost; the
// clamp is logged but is not an error. The charge is converted to the
// requested settlement unit at the current rate snapshot, and the snapshot
// price used is recorded so the conversion stays auditable. Conversion
// failures surface unchanged and leave nothing recorded.
func (c *Coordinator) Initiate(ctx context.Context, sessionID string, requested money.Amount, destination, unitSymbol string) (Record, error) {
	if requested.IsNegative() {
		return Record{}, fmt.Errorf("%w: settlement amount must not be negative", billing.ErrInvalidConfiguration)
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	sess, err := c.store.Get(sessionID)
	if err != nil {
		return Record{}, err
	}
	cost, err := c.store.AccumulatedCost(sessionID)
	if err != nil {
		return Record{}, err
	}

	charged := requested.Min(cost)
	if charged.Cmp(requested) < 0 {
		metrics.SettlementsClamped.Inc()
		c.logger.Warn().
			Str("session", sessionID).
			Str("requested", requested.String()).
			Str("charged", charged.String()).
			Msg("settlement clamped to accumulated cost")
	}

	unitAmount, err := c.table.Convert(charged, sess.Currency, unitSymbol)
	if err != nil {
		return Record{}, err
	}
	unitPrice, err := c.table.Current().UnitPriceIn(unitSymbol, sess.Currency)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:          "STL-" + uuid.NewString(),
		SessionID:   sessionID,
		PayerID:     sess.PayerID,
		Requested:   requested,
		Charged:     charged,
		Currency:    sess.Currency,
		UnitSymbol:  unitSymbol,
		UnitAmount:  unitAmount,
		UnitPrice:   unitPrice,
		Destination: destination,
		Status:      StatusPending,
		CreatedAt:   c.clk.Now(),
	}

	c.mu.Lock()
	c.records[rec.ID] = &rec
	c.order = append(c.order, rec.ID)
	c.mu.Unlock()

	metrics.SettlementsTotal.WithLabelValues(string(StatusPending)).Inc()

	c.logger.Info().
		Str("settlement", rec.ID).
		Str("session", sessionID).
		Str("charged", charged.String()).
		Str("unit", unitSymbol).
		Str("unit_amount", unitAmount.String()).
		Msg("settlement initiated")

	c.notify(rec)
	return rec, nil
}

// Confirm moves a pending settlement to confirmed and attaches the
// transaction reference.
func (c *Coordinator) Confirm(id, txRef string) (Record, error) {
	c.mu.Lock()
	rec, ok := c.records[id]
	if !ok {
		c.mu.Unlock()
		return Record{}, ErrSettlementNotFound
	}
	if rec.Status != StatusPending {
		c.mu.Unlock()
		return Record{}, fmt.Errorf("%w: %s is %s", ErrInvalidStateTransition, id, rec.Status)
	}
	rec.Status = StatusConfirmed
	rec.TxRef = txRef
	now := c.clk.Now()
	rec.ConfirmedAt = &now
	out := *rec
	c.mu.Unlock()

	metrics.SettlementsTotal.WithLabelValues(string(StatusConfirmed)).Inc()
	c.logger.Info().Str("settlement", id).Str("tx_ref", txRef).Msg("settlement confirmed")
	c.notify(out)
	return out, nil
}

// Fail moves a pending settlement to failed.
func (c *Coordinator) Fail(id, reason string) (Record, error) {
	c.mu.Lock()
	rec, ok := c.records[id]
	if !ok {
		c.mu.Unlock()
		return Record{}, ErrSettlementNotFound
	}
	if rec.Status != StatusPending {
		c.mu.Unlock()
		return Record{}, fmt.Errorf("%w: %s is %s", ErrInvalidStateTransition, id, rec.Status)
	}
	rec.Status = StatusFailed
	rec.FailReason = reason
	out := *rec
	c.mu.Unlock()

	metrics.SettlementsTotal.WithLabelValues(string(StatusFailed)).Inc()
	c.logger.Warn().Str("settlement", id).Str("reason", reason).Msg("settlement failed")
	c.notify(out)
	return out, nil
}

// Refund computes the overpaid portion of a confirmed settlement: the
// amount charged minus the session's cost, which is frozen once the session
// ends. Returns nil when nothing was overpaid.
func (c *Coordinator) Refund(id string) (*Refund, error) {
	c.mu.RLock()
	rec, ok := c.records[id]
	if !ok {
		c.mu.RUnlock()
		return nil, ErrSettlementNotFound
	}
	if rec.Status != StatusConfirmed {
		c.mu.RUnlock()
		return nil, fmt.Errorf("%w: refund requires a confirmed settlement, %s is %s", ErrInvalidStateTransition, id, rec.Status)
	}
	out := *rec
	c.mu.RUnlock()

	cost, err := c.store.AccumulatedCost(out.SessionID)
	if err != nil {
		return nil, err
	}

	overpaid := out.Charged.Sub(cost)
	if !overpaid.IsPositive() {
		return nil, nil
	}
	return &Refund{
		SettlementID: out.ID,
		SessionID:    out.SessionID,
		Amount:       overpaid,
		Currency:     out.Currency,
	}, nil
}

// Get returns a settlement record by ID.
func (c *Coordinator) Get(id string) (Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	if !ok {
		return Record{}, ErrSettlementNotFound
	}
	return *rec, nil
}

// History returns up to limit records in creation order, most recent last.
// A non-positive limit returns everything.
func (c *Coordinator) History(limit int) []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.order
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, *c.records[id])
	}
	return out
}

// Summary aggregates counts and totals over all records.
func (c *Coordinator) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Summary{
		TotalRequested: money.Zero(),
		TotalCharged:   money.Zero(),
	}
	for _, rec := range c.records {
		s.Count++
		switch rec.Status {
		case StatusPending:
			s.Pending++
		case StatusConfirmed:
			s.Confirmed++
		case StatusFailed:
			s.Failed++
		}
		s.TotalRequested = s.TotalRequested.Add(rec.Requested)
		if rec.Status != StatusFailed {
			s.TotalCharged = s.TotalCharged.Add(rec.Charged)
		}
	}
	return s
}

func (c *Coordinator) notify(rec Record) {
	if c.onChange != nil {
		c.onChange(rec)
	}
}
