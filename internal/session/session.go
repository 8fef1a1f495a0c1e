// Package session owns metering sessions: their lifecycle, nanosecond
// elapsed-time accounting and the append-only consumption log. The store is
// the only component that mutates session records.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/nanobill/nanobill/internal/billing"
)

// ErrSessionNotFound is returned for operations on unknown or already
// removed sessions.
var ErrSessionNotFound = errors.New("session: not found")

// State is the session lifecycle flag.
type State string

const (
	StateActive State = "active"
	StateEnded  State = "ended"
)

// Event is one entry in a session's consumption audit log. It documents
// usage for the audit trail and has no effect on cost.
type Event struct {
	At          int64             `json:"at"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Session is one metering period. ElapsedNanos is derived as now-StartedAt
// while active and frozen at the value recorded by End.
type Session struct {
	ID           string           `json:"id"`
	PayerID      string           `json:"payerId"`
	StartedAt    int64            `json:"startedAt"`
	ElapsedNanos int64            `json:"-"`
	Rate         billing.NanoRate `json:"-"`
	Currency     string           `json:"currency"`
	State        State            `json:"state"`

	events []Event
	final  *FinalBilling
}

// FinalBilling is the frozen billing snapshot produced by End.
type FinalBilling struct {
	SessionID    string            `json:"sessionId"`
	Billing      billing.Breakdown `json:"billing"`
	EndedAtNanos int64             `json:"endedAt"`
}

// Cost returns the session's accumulated cost at its recorded elapsed time.
func (s *Session) Cost() billing.Breakdown {
	return billing.MakeBreakdown(s.ElapsedNanos, s.Rate, s.Currency)
}

// generateSessionID generates a unique session ID.
func generateSessionID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// This should never happen with a working system RNG
		panic(fmt.Sprintf("failed to generate random session ID: %v", err))
	}
	return hex.EncodeToString(bytes)
}
