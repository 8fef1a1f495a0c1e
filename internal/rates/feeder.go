package rates

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nanobill/nanobill/internal/metrics"
	"github.com/nanobill/nanobill/internal/money"
)

// Feeder supplies fresh rate data. Implementations talk to whatever price
// source the deployment uses; the engine only ever consumes the result.
type Feeder interface {
	Fetch(ctx context.Context) (fiatRates, unitPrices map[string]money.Amount, err error)
}

// StaticFeeder returns a fixed set of rates. Used for development and as
// the fallback when no external feed is configured.
type StaticFeeder struct {
	FiatRates  map[string]money.Amount
	UnitPrices map[string]money.Amount
}

// DefaultStaticFeeder seeds the well-known development rates.
func DefaultStaticFeeder() *StaticFeeder {
	return &StaticFeeder{
		FiatRates: map[string]money.Amount{
			"USD": money.MustParse("1.0"),
			"EUR": money.MustParse("0.92"),
			"INR": money.MustParse("83.5"),
		},
		UnitPrices: map[string]money.Amount{
			"ETH":   money.MustParse("2500"),
			"USDC":  money.MustParse("1"),
			"MATIC": money.MustParse("0.8"),
		},
	}
}

// Fetch returns copies of the configured maps.
func (f *StaticFeeder) Fetch(_ context.Context) (map[string]money.Amount, map[string]money.Amount, error) {
	fiat := make(map[string]money.Amount, len(f.FiatRates))
	for code, rate := range f.FiatRates {
		fiat[code] = rate
	}
	units := make(map[string]money.Amount, len(f.UnitPrices))
	for symbol, price := range f.UnitPrices {
		units[symbol] = price
	}
	return fiat, units, nil
}

// Refresher periodically pulls from a Feeder and publishes to a Table.
// The refresh cadence lives here, outside the table itself; the metering
// core only ever reads the latest snapshot.
type Refresher struct {
	table    *Table
	feeder   Feeder
	interval time.Duration
	logger   zerolog.Logger
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewRefresher creates a refresher driving the table from the feeder.
func NewRefresher(table *Table, feeder Feeder, interval time.Duration, logger zerolog.Logger) *Refresher {
	return &Refresher{
		table:    table,
		feeder:   feeder,
		interval: interval,
		logger:   logger.With().Str("component", "rate-refresher").Logger(),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the periodic refresh loop.
func (r *Refresher) Start() {
	go r.run()
	r.logger.Info().Dur("interval", r.interval).Msg("Rate refresher started")
}

// Stop stops the refresh loop and waits for it to exit.
func (r *Refresher) Stop() {
	close(r.stopChan)
	<-r.doneChan
	r.logger.Info().Msg("Rate refresher stopped")
}

func (r *Refresher) run() {
	defer close(r.doneChan)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.refreshOnce()
		case <-r.stopChan:
			return
		}
	}
}

// refreshOnce fetches and publishes one snapshot. Failures are logged and
// the table keeps serving the last good snapshot; retry policy is simply
// the next tick.
func (r *Refresher) refreshOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	fiat, units, err := r.feeder.Fetch(ctx)
	if err != nil {
		metrics.RateRefreshErrors.Inc()
		r.logger.Error().Err(err).Msg("Rate feed fetch failed, keeping last snapshot")
		return
	}

	if err := r.table.Refresh(fiat, units); err != nil {
		metrics.RateRefreshErrors.Inc()
		r.logger.Error().Err(err).Msg("Rate snapshot rejected, keeping last snapshot")
		return
	}
	metrics.RateRefreshes.Inc()
}
