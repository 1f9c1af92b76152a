package models

import (
	"time"
)

const (
	DispatchInitiated = "initiated"
	DispatchCompleted = "completed"
	DispatchFailed    = "failed"
)

// DispatchEntry is one record in the bounded dispatch log. Entries are
// created with status "initiated" and move to exactly one terminal state.
type DispatchEntry struct {
	RequestID    string     `json:"request_id"`
	Target       string     `json:"target"`
	CredentialID string     `json:"credential_id"`
	Iterations   int        `json:"iterations"`
	ClientIP     string     `json:"client_ip"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	Response     string     `json:"response,omitempty"`
	Error        string     `json:"error,omitempty"`
}
