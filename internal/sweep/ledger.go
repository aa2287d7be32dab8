package sweep

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger owns the delivery_records table. The unique constraint on
// (subscription_id, event_key) is the only at-most-once mechanism in the
// whole delivery path; no lock is ever taken.
type Ledger struct {
	DB *gorm.DB
}

// Claim atomically records intent to deliver one event to one endpoint.
// Returns true only when this call created the row. Overlapping sweeps
// computing the same pair race here and exactly one wins.
func (l *Ledger) Claim(ctx context.Context, subscriptionID, eventKey string) (bool, error) {
	res := l.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "event_key"}},
			DoNothing: true,
		}).
		Create(&Record{
			ID:             uuid.NewString(),
			SubscriptionID: subscriptionID,
			EventKey:       eventKey,
			Status:         StatusSending,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetStatus records the outcome of a claimed delivery.
func (l *Ledger) SetStatus(ctx context.Context, subscriptionID, eventKey, status string) error {
	return l.DB.WithContext(ctx).Model(&Record{}).
		Where("subscription_id = ? AND event_key = ?", subscriptionID, eventKey).
		Update("status", status).Error
}

// ReconcileStuck flips records still in "sending" since before the cutoff
// to a terminal exception status. A crash between claim and status write
// lands here; the minute has long passed, so the record can never be
// re-claimed and must not stay ambiguous.
func (l *Ledger) ReconcileStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	res := l.DB.WithContext(ctx).Model(&Record{}).
		Where("status = ? AND updated_at < ?", StatusSending, cutoff).
		Update("status", StatusException)
	return res.RowsAffected, res.Error
}
