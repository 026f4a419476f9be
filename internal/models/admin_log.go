// internal/models/admin_log.go
package models

import "time"

// Admin log entry types.
const (
	LogTypeApproval = "approval"
	LogTypeReject   = "reject"
	LogTypeDelete   = "delete"
	LogTypeSync     = "sync"
	LogTypeError    = "error"
)

// AdminLog is an operator-facing activity entry.
type AdminLog struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Username  string    `json:"username"`
	Device    string    `json:"device"`
	Browser   string    `json:"browser"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"createdAt"`
}

// Actor describes who performs an operator action.
type Actor struct {
	Username string `json:"username"`
	Device   string `json:"device"`
	Browser  string `json:"browser"`
	Platform string `json:"platform"`
}

// ProvenanceAt stamps the actor with a decision time.
func (a Actor) ProvenanceAt(t time.Time) *Provenance {
	return &Provenance{Username: a.Username, Device: a.Device, Browser: a.Browser, Timestamp: t}
}
