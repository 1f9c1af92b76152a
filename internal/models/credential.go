package models

import (
	"time"
)

type Credential struct {
	ID           string     `json:"id"`
	Owner        string     `json:"owner"`
	RequestCount int64      `json:"request_count"`
	Limit        int64      `json:"limit"`
	IsActive     bool       `json:"is_active"`
	IsMaster     bool       `json:"is_master"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at"` // Pointer to handle NULL
}

// Remaining returns the number of admitted requests left before the quota
// ceiling. Never negative.
func (c *Credential) Remaining() int64 {
	if c.RequestCount >= c.Limit {
		return 0
	}
	return c.Limit - c.RequestCount
}

// TokenPayload is the JSON body carried inside a signed bearer token.
// Limit is descriptive metadata for the caller; no server-side counter
// is kept for token credentials.
type TokenPayload struct {
	Owner string `json:"owner"`
	Limit int64  `json:"limit"`
	Exp   int64  `json:"exp"`
}
