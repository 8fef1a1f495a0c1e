// Package storage defines the persistence boundary of the engine: the
// per-payer ledger holding lifetime spend and the universal spending cap.
// Active sessions are deliberately not persisted; a session is not billed
// until it ends, so a crash mid-session simply never reaches settlement.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nanobill/nanobill/internal/money"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// PayerRecord is the persisted state for one payer.
type PayerRecord struct {
	PayerID       string        `json:"payer_id"`
	LifetimeSpent money.Amount  `json:"lifetime_spent"`
	UniversalCap  *money.Amount `json:"universal_cap,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// PayerLedger tracks cumulative spend and the universal cap per payer.
//
// AddSpend must be an atomic read-modify-write: concurrent sessions under
// the same universal cap must never both record a charge the combined
// total would exceed the ledger's view of.
type PayerLedger interface {
	// LifetimeSpent returns the cumulative recorded spend, zero for an
	// unknown payer.
	LifetimeSpent(ctx context.Context, payerID string) (money.Amount, error)

	// AddSpend atomically adds delta to the payer's lifetime spend and
	// returns the new total.
	AddSpend(ctx context.Context, payerID string, delta money.Amount) (money.Amount, error)

	// UniversalCap returns the payer's lifetime cap, nil when unset.
	UniversalCap(ctx context.Context, payerID string) (*money.Amount, error)

	// SetUniversalCap sets or replaces the payer's lifetime cap.
	SetUniversalCap(ctx context.Context, payerID string, capAmount money.Amount) error

	// ResetPayer clears the payer's cap and spend history.
	ResetPayer(ctx context.Context, payerID string) error

	Close() error
}
