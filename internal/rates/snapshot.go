// Package rates holds the exchange-rate table: point-in-time snapshots of
// fiat exchange factors and settlement-unit prices, refreshed wholesale by
// an external feed and read lock-free by billing calculations.
package rates

import (
	"errors"
	"fmt"
	"time"

	"github.com/nanobill/nanobill/internal/money"
)

// BaseCurrency is the currency all exchange factors are expressed against.
const BaseCurrency = "USD"

var (
	// ErrUnknownCurrency is returned for a fiat code absent from the snapshot.
	ErrUnknownCurrency = errors.New("rates: unknown currency")
	// ErrUnknownUnit is returned for a settlement-unit symbol absent from the snapshot.
	ErrUnknownUnit = errors.New("rates: unknown settlement unit")
)

// Snapshot is an immutable point-in-time view of exchange rates and unit
// prices. A refresh publishes a brand-new snapshot; nothing ever mutates
// one in place, so a calculation holding a snapshot sees consistent values
// even while a refresh is happening.
type Snapshot struct {
	fiatRates  map[string]money.Amount
	unitPrices map[string]money.Amount
	takenAt    time.Time
}

// NewSnapshot copies the given maps into a fresh snapshot.
func NewSnapshot(fiatRates, unitPrices map[string]money.Amount, takenAt time.Time) *Snapshot {
	fr := make(map[string]money.Amount, len(fiatRates))
	for code, rate := range fiatRates {
		fr[code] = rate
	}
	up := make(map[string]money.Amount, len(unitPrices))
	for symbol, price := range unitPrices {
		up[symbol] = price
	}
	return &Snapshot{fiatRates: fr, unitPrices: up, takenAt: takenAt}
}

// TakenAt returns when the snapshot was captured.
func (s *Snapshot) TakenAt() time.Time {
	return s.takenAt
}

// FiatRates returns a copy of the fiat exchange factors.
func (s *Snapshot) FiatRates() map[string]money.Amount {
	out := make(map[string]money.Amount, len(s.fiatRates))
	for code, rate := range s.fiatRates {
		out[code] = rate
	}
	return out
}

// UnitPrices returns a copy of the settlement-unit prices.
func (s *Snapshot) UnitPrices() map[string]money.Amount {
	out := make(map[string]money.Amount, len(s.unitPrices))
	for symbol, price := range s.unitPrices {
		out[symbol] = price
	}
	return out
}

// FiatRate returns the exchange factor for a currency relative to the base.
func (s *Snapshot) FiatRate(currency string) (money.Amount, error) {
	rate, ok := s.fiatRates[currency]
	if !ok {
		return money.Amount{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	return rate, nil
}

// UnitPrice returns the base-currency price of one settlement unit.
func (s *Snapshot) UnitPrice(symbol string) (money.Amount, error) {
	price, ok := s.unitPrices[symbol]
	if !ok {
		return money.Amount{}, fmt.Errorf("%w: %s", ErrUnknownUnit, symbol)
	}
	return price, nil
}

// Convert converts a fiat amount into settlement units:
// (fiatAmount / exchangeRate) / unitPrice.
func (s *Snapshot) Convert(fiatAmount money.Amount, fiatCurrency, unitSymbol string) (money.Amount, error) {
	rate, err := s.FiatRate(fiatCurrency)
	if err != nil {
		return money.Amount{}, err
	}
	price, err := s.UnitPrice(unitSymbol)
	if err != nil {
		return money.Amount{}, err
	}
	return fiatAmount.Div(rate).Div(price), nil
}

// CrossRate returns the exchange rate from one fiat currency to another.
func (s *Snapshot) CrossRate(from, to string) (money.Amount, error) {
	fromRate, err := s.FiatRate(from)
	if err != nil {
		return money.Amount{}, err
	}
	toRate, err := s.FiatRate(to)
	if err != nil {
		return money.Amount{}, err
	}
	return toRate.Div(fromRate), nil
}

// UnitPriceIn returns the price of one settlement unit in the given fiat
// currency.
func (s *Snapshot) UnitPriceIn(unitSymbol, fiatCurrency string) (money.Amount, error) {
	price, err := s.UnitPrice(unitSymbol)
	if err != nil {
		return money.Amount{}, err
	}
	rate, err := s.FiatRate(fiatCurrency)
	if err != nil {
		return money.Amount{}, err
	}
	return price.Mul(rate), nil
}
