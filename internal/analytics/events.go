package analytics

import (
	"context"
	"time"
)

// EventType is the kind of shopper interaction.
type EventType string

const (
	EventImpression EventType = "impression"
	EventClick      EventType = "click"
	EventAddToCart  EventType = "add_to_cart"
	EventPurchase   EventType = "purchase"
)

// Valid reports whether t is a supported event type.
func (t EventType) Valid() bool {
	switch t {
	case EventImpression, EventClick, EventAddToCart, EventPurchase:
		return true
	}
	return false
}

// Event is a raw analytics event.
type Event struct {
	ID               int64          `json:"id,omitempty"`
	FeatureID        string         `json:"feature_id"`
	Type             EventType      `json:"event_type"`
	ProductID        int64          `json:"product_id,omitempty"`
	RelatedProductID int64          `json:"related_product_id,omitempty"`
	OrderID          int64          `json:"order_id,omitempty"`
	Quantity         int64          `json:"quantity,omitempty"`
	Revenue          float64        `json:"revenue,omitempty"`
	RevenueScope     RevenueScope   `json:"revenue_scope,omitempty"`
	SessionID        string         `json:"session_id,omitempty"`
	UserID           int64          `json:"user_id,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Session identifies the shopper an event belongs to. It travels in the
// request context rather than living in process state.
type Session struct {
	ID     string
	UserID int64
}

type sessionKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session stored by WithSession.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
