package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Tracker validates and stores raw events. When live increments are on it
// also bumps today's daily rows so dashboards move before the nightly
// aggregation overwrites them with exact figures.
type Tracker struct {
	store    EventStore
	registry *Registry
	loc      *time.Location
	live     bool
	metrics  Metrics
	now      func() time.Time
}

// NewTracker creates a Tracker. loc decides which calendar day an event
// belongs to.
func NewTracker(store EventStore, registry *Registry, loc *time.Location, live bool, m Metrics) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	if m == nil {
		m = noopMetrics{}
	}
	return &Tracker{store: store, registry: registry, loc: loc, live: live, metrics: m, now: time.Now}
}

// Track validates and stores events. Session fields left empty are filled
// from the session in ctx. Either every event is stored or none is.
func (t *Tracker) Track(ctx context.Context, events ...*Event) error {
	if len(events) == 0 {
		return nil
	}
	sess, hasSession := SessionFromContext(ctx)
	now := t.now()

	for i, e := range events {
		if err := t.validate(e); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		if hasSession {
			if e.SessionID == "" {
				e.SessionID = sess.ID
			}
			if e.UserID == 0 {
				e.UserID = sess.UserID
			}
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if !e.RevenueScope.Valid() {
			e.RevenueScope = t.registry.ScopeOf(e)
		}
	}

	if err := t.store.InsertEvents(ctx, events); err != nil {
		return fmt.Errorf("analytics: track: %w", err)
	}
	for _, e := range events {
		t.metrics.RecordEvent(e.FeatureID, string(e.Type))
	}

	if t.live {
		for _, d := range t.increments(events) {
			if err := t.store.IncrementDaily(ctx, d); err != nil {
				// The raw events are stored; aggregation will repair the row.
				log.Warn().Err(err).Str("feature_id", d.FeatureID).Str("stat_date", d.Date).
					Msg("analytics: live daily increment failed")
			}
		}
	}
	return nil
}

func (t *Tracker) validate(e *Event) error {
	if _, ok := t.registry.Lookup(e.FeatureID); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFeature, e.FeatureID)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, e.Type)
	}
	if e.Revenue < 0 || e.Quantity < 0 {
		return fmt.Errorf("%w: negative revenue or quantity", ErrInvalidEvent)
	}
	if e.RevenueScope != "" && !e.RevenueScope.Valid() {
		return fmt.Errorf("%w: revenue scope %q", ErrInvalidEvent, e.RevenueScope)
	}
	return nil
}

// increments folds events into one additive delta per feature and day.
func (t *Tracker) increments(events []*Event) []*DailyStat {
	type key struct{ feature, date string }
	deltas := make(map[key]*DailyStat)
	var order []key

	for _, e := range events {
		k := key{e.FeatureID, e.CreatedAt.In(t.loc).Format(DateLayout)}
		d := deltas[k]
		if d == nil {
			d = &DailyStat{FeatureID: k.feature, Date: k.date}
			deltas[k] = d
			order = append(order, k)
		}
		switch e.Type {
		case EventImpression:
			d.Impressions++
		case EventClick:
			d.Clicks++
		case EventAddToCart:
			d.AddToCarts++
		case EventPurchase:
			d.Purchases++
			d.Revenue += e.Revenue
		}
		if e.ProductID > 0 && d.UniqueProducts == 0 {
			d.UniqueProducts = 1
		}
	}

	out := make([]*DailyStat, 0, len(order))
	for _, k := range order {
		out = append(out, deltas[k])
	}
	return out
}
