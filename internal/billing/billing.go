// Package billing holds the pure cost arithmetic: converting a human-entered
// rate into an internal per-nanosecond rate and turning elapsed nanoseconds
// into money. Everything here works on exact decimals; nanosecond counts are
// never multiplied through float64.
package billing

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nanobill/nanobill/internal/money"
)

// ErrInvalidConfiguration is returned for unusable billing input such as a
// non-positive rate or an unrecognized time unit.
var ErrInvalidConfiguration = errors.New("billing: invalid configuration")

// TimeUnit is the unit a human-entered service cost applies to.
type TimeUnit string

const (
	UnitMinute TimeUnit = "minute"
	UnitHour   TimeUnit = "hour"
	UnitDay    TimeUnit = "day"
)

const (
	nanosPerSecond = int64(time.Second)
	nanosPerMinute = int64(time.Minute)
	nanosPerHour   = int64(time.Hour)
	nanosPerDay    = int64(24 * time.Hour)
)

// rateScale is the fixed scale factor for the exported per-nanosecond rate
// figure: "cost units per nanosecond x 10^10". Per-nanosecond rates for
// realistic prices are far below one, so the scaled form keeps
// integer-magnitude coefficients when the rate is surfaced or stored.
var rateScale = money.FromInt64(10_000_000_000)

// ParseTimeUnit validates a time unit string.
func ParseTimeUnit(s string) (TimeUnit, error) {
	switch TimeUnit(s) {
	case UnitMinute, UnitHour, UnitDay:
		return TimeUnit(s), nil
	default:
		return "", fmt.Errorf("%w: unknown time unit %q (must be minute, hour, or day)", ErrInvalidConfiguration, s)
	}
}

// Nanos returns the number of nanoseconds in one unit.
func (u TimeUnit) Nanos() int64 {
	switch u {
	case UnitMinute:
		return nanosPerMinute
	case UnitHour:
		return nanosPerHour
	case UnitDay:
		return nanosPerDay
	default:
		return 0
	}
}

// NanoRate is a cost rate normalized to nanosecond resolution. The exact
// cost-per-unit and the unit length are kept separate so that cost
// computation multiplies first and divides once at the end, avoiding the
// accumulation error of a pre-divided per-nanosecond quotient.
type NanoRate struct {
	cost      money.Amount
	unitNanos int64
}

// NormalizeRate converts a human-entered "cost per time unit" into a
// per-nanosecond rate. Fails for unrecognized units and non-positive costs.
func NormalizeRate(serviceCost money.Amount, unit TimeUnit) (NanoRate, error) {
	unitNanos := unit.Nanos()
	if unitNanos == 0 {
		return NanoRate{}, fmt.Errorf("%w: unknown time unit %q", ErrInvalidConfiguration, unit)
	}
	if !serviceCost.IsPositive() {
		return NanoRate{}, fmt.Errorf("%w: service cost must be positive, got %s", ErrInvalidConfiguration, serviceCost)
	}

	return NanoRate{cost: serviceCost, unitNanos: unitNanos}, nil
}

// HourlyRate converts a cost-per-hour amount into a NanoRate.
func HourlyRate(ratePerHour money.Amount) (NanoRate, error) {
	return NormalizeRate(ratePerHour, UnitHour)
}

// IsZero reports whether the rate is unset.
func (r NanoRate) IsZero() bool {
	return r.unitNanos == 0
}

// PerHour returns the rate expressed as cost per hour.
func (r NanoRate) PerHour() money.Amount {
	if r.unitNanos == 0 {
		return money.Zero()
	}
	return r.cost.Mul(money.FromInt64(nanosPerHour)).Div(money.FromInt64(r.unitNanos))
}

// Scaled returns the per-nanosecond rate multiplied by the fixed 10^10
// scale factor, the form used when the rate is surfaced externally.
func (r NanoRate) Scaled() money.Amount {
	if r.unitNanos == 0 {
		return money.Zero()
	}
	return r.cost.Mul(rateScale).Div(money.FromInt64(r.unitNanos))
}

// CostFor computes the cost of an elapsed duration at this rate:
// elapsedNanos x costPerUnit / unitNanos, in exact decimal arithmetic.
func (r NanoRate) CostFor(elapsedNanos int64) money.Amount {
	if elapsedNanos <= 0 || r.unitNanos == 0 {
		return money.Zero()
	}
	return money.FromInt64(elapsedNanos).Mul(r.cost).Div(money.FromInt64(r.unitNanos))
}

// MaxAffordable returns the longest duration that stays at or under budget
// at this rate. Returns the maximum representable duration for a zero rate.
func (r NanoRate) MaxAffordable(budget money.Amount) time.Duration {
	if !budget.IsPositive() {
		return 0
	}
	if r.unitNanos == 0 || r.cost.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	nanos := budget.Mul(money.FromInt64(r.unitNanos)).Div(r.cost).Float64()
	if nanos >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(nanos)
}
