// Package expiry turns scheduled payment deadlines into broker signals.
// The schedule lives in the durable store (written atomically with the
// order), and a relay drains due rows, so delivery is at-least-once and the
// consumer must be idempotent.
package expiry

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Signal is one due payment deadline claimed from the schedule.
type Signal struct {
	OrderID    int64
	FireAt     time.Time
	RetryCount int
}
