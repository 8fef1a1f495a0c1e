package billing

import (
	"fmt"

	"github.com/nanobill/nanobill/internal/money"
)

// ClockTime is an elapsed duration reduced to whole hours, minutes and
// seconds. Sub-second resolution is an internal accounting detail and is
// never surfaced to observers.
type ClockTime struct {
	Hours        int    `json:"hours"`
	Minutes      int    `json:"minutes"`
	Seconds      int    `json:"seconds"`
	TotalSeconds int64  `json:"totalSeconds"`
	Formatted    string `json:"formatted"`
}

// ClockTimeFromNanos truncates a nanosecond duration to whole H/M/S.
func ClockTimeFromNanos(elapsedNanos int64) ClockTime {
	if elapsedNanos < 0 {
		elapsedNanos = 0
	}
	totalSeconds := elapsedNanos / nanosPerSecond
	hours := int(totalSeconds / 3600)
	minutes := int((totalSeconds % 3600) / 60)
	seconds := int(totalSeconds % 60)

	return ClockTime{
		Hours:        hours,
		Minutes:      minutes,
		Seconds:      seconds,
		TotalSeconds: totalSeconds,
		Formatted:    fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds),
	}
}

// Colons renders the time as H:MM:SS for live feeds.
func (c ClockTime) Colons() string {
	return fmt.Sprintf("%d:%02d:%02d", c.Hours, c.Minutes, c.Seconds)
}

// PerInterval is a derived per-second or per-minute cost figure. It is
// unavailable (rather than a division by zero) until at least one whole
// second has elapsed.
type PerInterval struct {
	Available bool         `json:"available"`
	Cost      money.Amount `json:"cost,omitzero"`
}

// Breakdown is the observer-facing billing view of a session.
type Breakdown struct {
	Duration      ClockTime    `json:"duration"`
	RatePerHour   money.Amount `json:"ratePerHour"`
	TotalCost     money.Amount `json:"totalCost"`
	Currency      string       `json:"currency"`
	CostPerSecond PerInterval  `json:"costPerSecond"`
	CostPerMinute PerInterval  `json:"costPerMinute"`
}

// MakeBreakdown derives the billing view for an elapsed duration at a rate.
func MakeBreakdown(elapsedNanos int64, rate NanoRate, currency string) Breakdown {
	duration := ClockTimeFromNanos(elapsedNanos)
	total := rate.CostFor(elapsedNanos)

	b := Breakdown{
		Duration:    duration,
		RatePerHour: rate.PerHour(),
		TotalCost:   total,
		Currency:    currency,
	}

	if duration.TotalSeconds > 0 {
		seconds := money.FromInt64(duration.TotalSeconds)
		b.CostPerSecond = PerInterval{Available: true, Cost: total.Div(seconds)}
		b.CostPerMinute = PerInterval{Available: true, Cost: total.Div(seconds).Mul(money.FromInt64(60))}
	}

	return b
}
