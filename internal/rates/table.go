package rates

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nanobill/nanobill/internal/clock"
	"github.com/nanobill/nanobill/internal/money"
)

// historyLimit bounds the refresh history kept in memory.
const historyLimit = 100

// RefreshRecord describes one published snapshot.
type RefreshRecord struct {
	TakenAt    time.Time               `json:"takenAt"`
	FiatRates  map[string]money.Amount `json:"fiatRates"`
	UnitPrices map[string]money.Amount `json:"unitPrices"`
}

// Table holds the current rate snapshot. Readers never block on writers:
// Current loads an atomic pointer and a refresh swaps in a brand-new
// snapshot wholesale. A failed refresh leaves the last good snapshot in
// place.
type Table struct {
	current atomic.Pointer[Snapshot]
	clk     clock.Clock
	logger  zerolog.Logger

	historyMu sync.Mutex
	history   []RefreshRecord
}

// NewTable creates a Table seeded with an initial snapshot.
func NewTable(fiatRates, unitPrices map[string]money.Amount, clk clock.Clock, logger zerolog.Logger) (*Table, error) {
	t := &Table{
		clk:    clk,
		logger: logger.With().Str("component", "rates").Logger(),
	}
	if err := t.Refresh(fiatRates, unitPrices); err != nil {
		return nil, err
	}
	return t, nil
}

// Current returns the latest snapshot. The returned snapshot is immutable
// and remains consistent for the duration of any calculation using it.
func (t *Table) Current() *Snapshot {
	return t.current.Load()
}

// Refresh validates and publishes a complete replacement snapshot. Partial
// updates are not supported: both maps describe the whole new state. On
// validation failure the previous snapshot keeps serving.
func (t *Table) Refresh(fiatRates, unitPrices map[string]money.Amount) error {
	if len(fiatRates) == 0 {
		return fmt.Errorf("rates: refresh with no fiat rates")
	}
	if len(unitPrices) == 0 {
		return fmt.Errorf("rates: refresh with no unit prices")
	}
	for code, rate := range fiatRates {
		if !rate.IsPositive() {
			return fmt.Errorf("rates: non-positive exchange rate %s for %s", rate, code)
		}
	}
	for symbol, price := range unitPrices {
		if !price.IsPositive() {
			return fmt.Errorf("rates: non-positive unit price %s for %s", price, symbol)
		}
	}
	if _, ok := fiatRates[BaseCurrency]; !ok {
		return fmt.Errorf("rates: refresh missing base currency %s", BaseCurrency)
	}

	snap := NewSnapshot(fiatRates, unitPrices, t.clk.Now())
	t.current.Store(snap)
	t.recordRefresh(snap)

	t.logger.Debug().
		Int("fiat_currencies", len(fiatRates)).
		Int("settlement_units", len(unitPrices)).
		Time("taken_at", snap.TakenAt()).
		Msg("Published rate snapshot")

	return nil
}

// Convert converts a fiat amount to settlement units using the current
// snapshot.
func (t *Table) Convert(fiatAmount money.Amount, fiatCurrency, unitSymbol string) (money.Amount, error) {
	return t.Current().Convert(fiatAmount, fiatCurrency, unitSymbol)
}

// History returns up to limit recent refresh records, most-recent-last.
func (t *Table) History(limit int) []RefreshRecord {
	t.historyMu.Lock()
	defer t.historyMu.Unlock()

	if limit <= 0 || limit > len(t.history) {
		limit = len(t.history)
	}
	out := make([]RefreshRecord, limit)
	copy(out, t.history[len(t.history)-limit:])
	return out
}

func (t *Table) recordRefresh(snap *Snapshot) {
	t.historyMu.Lock()
	defer t.historyMu.Unlock()

	t.history = append(t.history, RefreshRecord{
		TakenAt:    snap.TakenAt(),
		FiatRates:  snap.FiatRates(),
		UnitPrices: snap.UnitPrices(),
	})
	if len(t.history) > historyLimit {
		t.history = t.history[len(t.history)-historyLimit:]
	}
}
