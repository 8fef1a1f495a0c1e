package rates

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nanobill/nanobill/internal/clock"
	"github.com/nanobill/nanobill/internal/money"
)

func newTestTable(t *testing.T) (*Table, *clock.TestClock) {
	t.Helper()

	clk := clock.NewTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	feeder := DefaultStaticFeeder()
	table, err := NewTable(feeder.FiatRates, feeder.UnitPrices, clk, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	return table, clk
}

func TestConvert(t *testing.T) {
	table, _ := newTestTable(t)

	tests := []struct {
		name     string
		amount   string
		currency string
		unit     string
		want     string
	}{
		{"usd to eth", "2500", "USD", "ETH", "1"},
		{"usd to usdc", "12.50", "USD", "USDC", "12.50"},
		{"eur to eth", "2300", "EUR", "ETH", "1"},
		{"usd to matic", "8", "USD", "MATIC", "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.Convert(money.MustParse(tt.amount), tt.currency, tt.unit)
			if err != nil {
				t.Fatalf("Convert failed: %v", err)
			}
			if got.Cmp(money.MustParse(tt.want)) != 0 {
				t.Errorf("Convert(%s %s -> %s) = %s, want %s", tt.amount, tt.currency, tt.unit, got, tt.want)
			}
		})
	}

	t.Run("unknown currency", func(t *testing.T) {
		_, err := table.Convert(money.MustParse("10"), "GBP", "ETH")
		if !errors.Is(err, ErrUnknownCurrency) {
			t.Errorf("got %v, want ErrUnknownCurrency", err)
		}
	})

	t.Run("unknown unit", func(t *testing.T) {
		_, err := table.Convert(money.MustParse("10"), "USD", "DOGE")
		if !errors.Is(err, ErrUnknownUnit) {
			t.Errorf("got %v, want ErrUnknownUnit", err)
		}
	})
}

func TestRefreshReplacesWholesale(t *testing.T) {
	table, clk := newTestTable(t)

	first := table.Current()

	clk.Advance(30 * time.Second)
	err := table.Refresh(
		map[string]money.Amount{"USD": money.MustParse("1.0")},
		map[string]money.Amount{"ETH": money.MustParse("3000")},
	)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// Old snapshot is untouched, new one took over entirely.
	if _, err := first.FiatRate("EUR"); err != nil {
		t.Errorf("held snapshot lost EUR: %v", err)
	}
	if _, err := table.Current().FiatRate("EUR"); err == nil {
		t.Error("EUR survived a wholesale refresh that dropped it")
	}
	if !table.Current().TakenAt().After(first.TakenAt()) {
		t.Error("new snapshot not newer than old")
	}
}

func TestRefreshRejectsBadInput(t *testing.T) {
	table, _ := newTestTable(t)
	before := table.Current()

	cases := []struct {
		name  string
		fiat  map[string]money.Amount
		units map[string]money.Amount
	}{
		{"empty fiat", nil, map[string]money.Amount{"ETH": money.MustParse("2500")}},
		{"empty units", map[string]money.Amount{"USD": money.MustParse("1")}, nil},
		{"zero rate", map[string]money.Amount{"USD": money.Zero()}, map[string]money.Amount{"ETH": money.MustParse("2500")}},
		{"negative price", map[string]money.Amount{"USD": money.MustParse("1")}, map[string]money.Amount{"ETH": money.MustParse("-1")}},
		{"missing base currency", map[string]money.Amount{"EUR": money.MustParse("0.92")}, map[string]money.Amount{"ETH": money.MustParse("2500")}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if err := table.Refresh(tt.fiat, tt.units); err == nil {
				t.Fatal("expected refresh to be rejected")
			}
			if table.Current() != before {
				t.Error("rejected refresh replaced the snapshot")
			}
		})
	}
}

func TestCrossRateAndUnitPriceIn(t *testing.T) {
	table, _ := newTestTable(t)
	snap := table.Current()

	cross, err := snap.CrossRate("USD", "INR")
	if err != nil {
		t.Fatalf("CrossRate failed: %v", err)
	}
	if cross.Cmp(money.MustParse("83.5")) != 0 {
		t.Errorf("USD->INR = %s, want 83.5", cross)
	}

	price, err := snap.UnitPriceIn("ETH", "EUR")
	if err != nil {
		t.Fatalf("UnitPriceIn failed: %v", err)
	}
	if price.Cmp(money.MustParse("2300")) != 0 {
		t.Errorf("ETH in EUR = %s, want 2300", price)
	}
}

func TestHistory(t *testing.T) {
	table, clk := newTestTable(t)

	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		if err := table.Refresh(
			map[string]money.Amount{"USD": money.MustParse("1.0")},
			map[string]money.Amount{"ETH": money.FromInt64(int64(2500 + i))},
		); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
	}

	history := table.History(3)
	if len(history) != 3 {
		t.Fatalf("History(3) returned %d records", len(history))
	}
	// Most-recent-last ordering.
	last := history[len(history)-1]
	if last.UnitPrices["ETH"].Cmp(money.FromInt64(2504)) != 0 {
		t.Errorf("last history record has ETH=%s, want 2504", last.UnitPrices["ETH"])
	}

	if got := len(table.History(0)); got != 6 {
		t.Errorf("History(0) returned %d records, want all 6", got)
	}
}
