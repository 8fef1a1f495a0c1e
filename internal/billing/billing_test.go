package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanobill/nanobill/internal/money"
)

func TestNormalizeRate(t *testing.T) {
	t.Run("hourly rate of 3600 equals one unit per second", func(t *testing.T) {
		rate, err := NormalizeRate(money.MustParse("3600"), UnitHour)
		require.NoError(t, err)

		cost := rate.CostFor(int64(time.Second))
		assert.Equal(t, 0, cost.Cmp(money.MustParse("1")), "got %s", cost)
	})

	t.Run("per-minute rate", func(t *testing.T) {
		rate, err := NormalizeRate(money.MustParse("0.5"), UnitMinute)
		require.NoError(t, err)

		cost := rate.CostFor(int64(2 * time.Minute))
		assert.Equal(t, 0, cost.Cmp(money.MustParse("1")), "got %s", cost)
	})

	t.Run("per-day rate", func(t *testing.T) {
		rate, err := NormalizeRate(money.MustParse("24"), UnitDay)
		require.NoError(t, err)

		cost := rate.CostFor(int64(time.Hour))
		assert.Equal(t, 0, cost.Cmp(money.MustParse("1")), "got %s", cost)
	})

	t.Run("rejects non-positive cost", func(t *testing.T) {
		_, err := NormalizeRate(money.Zero(), UnitHour)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)

		_, err = NormalizeRate(money.MustParse("-1"), UnitHour)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("rejects unknown unit", func(t *testing.T) {
		_, err := NormalizeRate(money.MustParse("10"), TimeUnit("fortnight"))
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})
}

func TestParseTimeUnit(t *testing.T) {
	for _, s := range []string{"minute", "hour", "day"} {
		_, err := ParseTimeUnit(s)
		assert.NoError(t, err, s)
	}

	_, err := ParseTimeUnit("week")
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestCostForPrecision(t *testing.T) {
	t.Run("sub-unit hourly rate over multiple hours", func(t *testing.T) {
		// 0.01 per hour for 100 hours must come out at exactly 1,
		// even though the per-nanosecond rate is far below float eps.
		rate, err := NormalizeRate(money.MustParse("0.01"), UnitHour)
		require.NoError(t, err)

		cost := rate.CostFor(int64(100 * time.Hour))
		assert.Equal(t, 0, cost.Cmp(money.MustParse("1")), "got %s", cost)
	})

	t.Run("nanosecond granularity accumulates", func(t *testing.T) {
		rate, err := NormalizeRate(money.MustParse("3600"), UnitHour)
		require.NoError(t, err)

		// One nanosecond at one-unit-per-second.
		cost := rate.CostFor(1)
		assert.Equal(t, 0, cost.Cmp(money.MustParse("0.000000001")), "got %s", cost)
	})

	t.Run("zero and negative elapsed cost nothing", func(t *testing.T) {
		rate, err := HourlyRate(money.MustParse("100"))
		require.NoError(t, err)
		assert.True(t, rate.CostFor(0).IsZero())
		assert.True(t, rate.CostFor(-5).IsZero())
	})
}

func TestPerHourRoundTrip(t *testing.T) {
	rate, err := HourlyRate(money.MustParse("42.42"))
	require.NoError(t, err)
	assert.Equal(t, 0, rate.PerHour().Cmp(money.MustParse("42.42")))
}

func TestScaledRate(t *testing.T) {
	// 3600/hour is 1e-9 per nanosecond, or 10 at the 10^10 scale.
	rate, err := HourlyRate(money.MustParse("3600"))
	require.NoError(t, err)
	assert.Equal(t, 0, rate.Scaled().Cmp(money.MustParse("10")))

	assert.True(t, NanoRate{}.Scaled().IsZero())
	assert.True(t, NanoRate{}.IsZero())
}

func TestMaxAffordable(t *testing.T) {
	rate, err := HourlyRate(money.MustParse("3600"))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, rate.MaxAffordable(money.MustParse("10")))

	// Zero rate means the budget never runs out.
	assert.True(t, NanoRate{}.MaxAffordable(money.MustParse("10")) > 1000*time.Hour)

	// An empty budget affords no time at all.
	assert.Equal(t, time.Duration(0), rate.MaxAffordable(money.Zero()))
}

func TestClockTime(t *testing.T) {
	t.Run("truncates to whole seconds", func(t *testing.T) {
		ct := ClockTimeFromNanos(int64(time.Hour + 2*time.Minute + 3*time.Second + 999*time.Millisecond))
		assert.Equal(t, 1, ct.Hours)
		assert.Equal(t, 2, ct.Minutes)
		assert.Equal(t, 3, ct.Seconds)
		assert.Equal(t, int64(3723), ct.TotalSeconds)
		assert.Equal(t, "1h 2m 3s", ct.Formatted)
		assert.Equal(t, "1:02:03", ct.Colons())
	})

	t.Run("negative clamps to zero", func(t *testing.T) {
		ct := ClockTimeFromNanos(-1)
		assert.Equal(t, int64(0), ct.TotalSeconds)
	})
}

func TestBreakdown(t *testing.T) {
	rate, err := HourlyRate(money.MustParse("3600"))
	require.NoError(t, err)

	t.Run("derived per-interval figures", func(t *testing.T) {
		b := MakeBreakdown(int64(90*time.Second), rate, "USD")
		assert.Equal(t, 0, b.TotalCost.Cmp(money.MustParse("90")))
		require.True(t, b.CostPerSecond.Available)
		require.True(t, b.CostPerMinute.Available)
		assert.Equal(t, 0, b.CostPerSecond.Cost.Cmp(money.MustParse("1")))
		assert.Equal(t, 0, b.CostPerMinute.Cost.Cmp(money.MustParse("60")))
		assert.Equal(t, "USD", b.Currency)
	})

	t.Run("zero elapsed reports unavailable, not division by zero", func(t *testing.T) {
		b := MakeBreakdown(0, rate, "USD")
		assert.False(t, b.CostPerSecond.Available)
		assert.False(t, b.CostPerMinute.Available)
		assert.True(t, b.TotalCost.IsZero())
	})

	t.Run("sub-second elapsed still unavailable", func(t *testing.T) {
		b := MakeBreakdown(int64(500*time.Millisecond), rate, "USD")
		assert.False(t, b.CostPerSecond.Available)
		assert.False(t, b.TotalCost.IsZero(), "cost accrues below one second")
	})
}
