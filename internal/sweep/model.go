// Package sweep is the delivery path: a stateless reconciliation pass that
// recomputes due reminders straight from the source tables, claims each
// (endpoint, event) pair exactly once through the delivery-record ledger,
// and pushes the winners. It never reads the scheduled-jobs table; the two
// ledgers serve different consumers and stay independent.
package sweep

import (
	"strconv"
	"time"
)

// Delivery record statuses. A record starts as sending when claimed and is
// terminal afterwards; failed sends are final because the minute window
// that produced the event key cannot recur.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusException = "error:exception"
)

// ErrorStatus renders the recorded status for a non-2xx push response.
func ErrorStatus(code int) string {
	return "error:" + strconv.Itoa(code)
}

// Record is the idempotent delivery ledger entry. At most one row exists
// per (subscription, event key); a push is attempted only by the caller
// whose insert created the row.
type Record struct {
	ID             string `gorm:"type:text;primaryKey"`
	SubscriptionID string `gorm:"type:text;not null;uniqueIndex:ux_delivery_claim,priority:1"`
	EventKey       string `gorm:"type:text;not null;uniqueIndex:ux_delivery_claim,priority:2"`
	Status         string `gorm:"type:text;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (Record) TableName() string { return "delivery_records" }

// Summary reports one sweep invocation. Returned by the periodic entry
// point and the synchronous inspection endpoint.
type Summary struct {
	RunID           string    `json:"run_id"`
	At              time.Time `json:"at"`
	MissingTables   []string  `json:"missing_tables,omitempty"`
	Endpoints       int       `json:"endpoints_scanned"`
	Candidates      int       `json:"candidates"`
	Claimed         int       `json:"claimed"`
	Duplicates      int       `json:"duplicates"`
	SentOK          int       `json:"sent_ok"`
	SendFailed      int       `json:"send_failed"`
	StaleDisabled   int64     `json:"stale_disabled"`
	StuckReconciled int64     `json:"stuck_reconciled"`
}
