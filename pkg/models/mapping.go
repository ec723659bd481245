package models

import "time"

// Mapping links one Source to one Target with per-pair delivery policy.
type Mapping struct {
	ID       int64 `db:"id"`
	SourceID int64 `db:"source_id"`
	TargetID int64 `db:"target_id"`
	IsActive bool  `db:"is_active"`

	DelaySeconds int `db:"delay_seconds"` // Deliver no earlier than this after receipt
	MaxRetries   int `db:"max_retries"`   // Delivery retry budget

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Delay returns the configured delivery delay as a duration.
func (m *Mapping) Delay() time.Duration {
	return time.Duration(m.DelaySeconds) * time.Second
}
