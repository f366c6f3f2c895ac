package count

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const EventSessionApproved = "count.session.approved"

// Event is a notification emitted after a transition commits.
type Event struct {
	Type            string          `json:"type"`
	SessionID       SessionID       `json:"session_id"`
	Code            string          `json:"code"`
	AdjustmentCount int             `json:"adjustment_count"`
	SkippedCount    int             `json:"skipped_count"`
	NetDiff         int64           `json:"net_diff"`
	NetValue        decimal.Decimal `json:"net_value"`
	Actor           string          `json:"actor"`
	At              time.Time       `json:"at"`
}

// Publisher delivers events. Delivery failures never undo a transition.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
