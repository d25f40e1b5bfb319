package models

import "time"

// SessionHandle is the transient record for one live interaction (for
// example an active voice call). It is higher churn than the case file and
// is swept by TTL, so it lives in the session registry rather than on the
// case file itself. Handles reference sessions by ID only.
type SessionHandle struct {
	HandleID      string    `yaml:"handle_id" json:"handle_id"`
	SessionID     string    `yaml:"session_id" json:"session_id"`
	Location      *Location `yaml:"location,omitempty" json:"location,omitempty"`
	StartedAt     time.Time `yaml:"started_at" json:"started_at"`
	LastUpdatedAt time.Time `yaml:"last_updated_at" json:"last_updated_at"`
}
