// Package memory provides an in-process PayerLedger. It is the default for
// development and tests; the mutex makes AddSpend a serialized
// read-modify-write.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nanobill/nanobill/internal/money"
	"github.com/nanobill/nanobill/internal/storage"
)

// Ledger is a mutex-guarded in-memory PayerLedger.
type Ledger struct {
	mu     sync.Mutex
	payers map[string]*storage.PayerRecord
}

// Open creates an empty in-memory ledger.
func Open() *Ledger {
	return &Ledger{payers: make(map[string]*storage.PayerRecord)}
}

func (l *Ledger) record(payerID string) *storage.PayerRecord {
	rec, ok := l.payers[payerID]
	if !ok {
		rec = &storage.PayerRecord{PayerID: payerID}
		l.payers[payerID] = rec
	}
	return rec
}

// LifetimeSpent returns the cumulative recorded spend for a payer.
func (l *Ledger) LifetimeSpent(_ context.Context, payerID string) (money.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.payers[payerID]
	if !ok {
		return money.Zero(), nil
	}
	return rec.LifetimeSpent, nil
}

// AddSpend atomically adds delta and returns the new total.
func (l *Ledger) AddSpend(_ context.Context, payerID string, delta money.Amount) (money.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.record(payerID)
	rec.LifetimeSpent = rec.LifetimeSpent.Add(delta)
	rec.UpdatedAt = time.Now()
	return rec.LifetimeSpent, nil
}

// UniversalCap returns the payer's lifetime cap, nil when unset.
func (l *Ledger) UniversalCap(_ context.Context, payerID string) (*money.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.payers[payerID]
	if !ok || rec.UniversalCap == nil {
		return nil, nil
	}
	capValue := *rec.UniversalCap
	return &capValue, nil
}

// SetUniversalCap sets or replaces the payer's lifetime cap.
func (l *Ledger) SetUniversalCap(_ context.Context, payerID string, capAmount money.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.record(payerID)
	rec.UniversalCap = &capAmount
	rec.UpdatedAt = time.Now()
	return nil
}

// ResetPayer clears the payer's cap and spend history.
func (l *Ledger) ResetPayer(_ context.Context, payerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.payers, payerID)
	return nil
}

// Close is a no-op for the in-memory ledger.
func (l *Ledger) Close() error {
	return nil
}
