// Package quota tracks the OMDb daily request budget of an API key.
// The counter lives in Redis so every process using the same key draws from
// one budget, and the API's own "Request limit reached!" answer latches the
// budget as spent until the window resets.
package quota

import (
	"time"
)

// Redis key suffixes for quota state storage. The full key is
// "omdb:quota:<key hash>:<suffix>".
const (
	suffixUsed      = "used"
	suffixExhausted = "exhausted"
)

// State represents the current request budget of one API key.
type State struct {
	// Used is the number of requests reserved in the current window.
	Used int `json:"used"`

	// Limit is the configured number of requests per window.
	Limit int `json:"limit"`

	// ResetAt is when the current window ends.
	ResetAt time.Time `json:"reset_at"`

	// Exhausted is set when the API reported the budget as spent.
	Exhausted bool `json:"exhausted"`

	// WarningThreshold is the remaining count below which requests are
	// logged as running low.
	WarningThreshold int `json:"warning_threshold"`
}

// Remaining returns the number of requests left, never negative.
func (s *State) Remaining() int {
	if s.Used >= s.Limit {
		return 0
	}
	return s.Limit - s.Used
}

// NeedsBlock returns true if no further request may be sent.
func (s *State) NeedsBlock() bool {
	return s.Exhausted || s.Remaining() == 0
}

// IsLow returns true when the budget is close to running out.
func (s *State) IsLow() bool {
	return !s.NeedsBlock() && s.Remaining() < s.WarningThreshold
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}
