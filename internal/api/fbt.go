package api

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/upsell/internal/fbt"
	"github.com/allaspectsdev/upsell/internal/orders"
)

// webhookSource labels orders counted by the webhook in the ledger.
const webhookSource = "webhook"

// flexFloat accepts both JSON numbers and numeric strings; WooCommerce sends
// money amounts as strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type lineItemPayload struct {
	ProductID   int64     `json:"product_id"`
	VariationID int64     `json:"variation_id"`
	Quantity    int64     `json:"quantity"`
	Total       flexFloat `json:"total"`
}

// orderPayload is the webhook body. Field names follow the WooCommerce order
// webhook so a store can point its webhook straight at the daemon.
type orderPayload struct {
	ID          int64             `json:"id"`
	Status      string            `json:"status"`
	Total       flexFloat         `json:"total"`
	CreatedAt   *time.Time        `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at"`
	LineItems   []lineItemPayload `json:"line_items"`
}

func (p *orderPayload) toOrder(now time.Time, completed orders.StatusSet) (*orders.Order, error) {
	if p.ID <= 0 {
		return nil, badRequest("id must be a positive integer")
	}
	status := orders.NormalizeStatus(p.Status)
	if status == "" {
		return nil, badRequest("status is required")
	}

	o := &orders.Order{ID: p.ID, Status: status, Total: float64(p.Total), CreatedAt: now}
	if p.CreatedAt != nil {
		o.CreatedAt = p.CreatedAt.UTC()
	}
	if o.CompletedIn(completed) {
		o.CompletedAt = now
		if p.CompletedAt != nil {
			o.CompletedAt = p.CompletedAt.UTC()
		}
	}
	for _, li := range p.LineItems {
		o.Items = append(o.Items, orders.LineItem{
			ProductID:   li.ProductID,
			VariationID: li.VariationID,
			Quantity:    li.Quantity,
			Total:       float64(li.Total),
		})
	}
	return o, nil
}

type orderResponse struct {
	OrderID int64       `json:"order_id"`
	Status  string      `json:"status"`
	Outcome fbt.Outcome `json:"outcome"`
}

// handleOrderWebhook stores the order and, for completed orders, runs the
// co-purchase hook. Statistics failures never fail the webhook.
func (s *Server) handleOrderWebhook(w http.ResponseWriter, r *http.Request) {
	var p orderPayload
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := p.toOrder(s.now().UTC(), s.completed)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.deps.Orders.SaveOrder(r.Context(), o); err != nil {
		log.Error().Err(err).Int64("order_id", o.ID).Msg("api: failed to store webhook order")
	}

	outcome := s.deps.Recorder.OnOrderCompleted(r.Context(), o, webhookSource)
	writeJSON(w, http.StatusAccepted, orderResponse{OrderID: o.ID, Status: o.Status, Outcome: outcome})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(chi.URLParam(r, "id"), "order id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := s.deps.Orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v := newOrderView(o)
	if v.Processed, err = s.deps.Counters.IsProcessed(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type orderView struct {
	ID          int64             `json:"id"`
	Status      string            `json:"status"`
	Total       float64           `json:"total"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	LineItems   []lineItemPayload `json:"line_items"`
	// Processed is true once the order's pairs have been counted.
	Processed bool `json:"processed"`
}

func newOrderView(o *orders.Order) orderView {
	v := orderView{ID: o.ID, Status: o.Status, Total: o.Total, CreatedAt: o.CreatedAt, LineItems: []lineItemPayload{}}
	if !o.CompletedAt.IsZero() {
		t := o.CompletedAt
		v.CompletedAt = &t
	}
	for _, li := range o.Items {
		v.LineItems = append(v.LineItems, lineItemPayload{
			ProductID:   li.ProductID,
			VariationID: li.VariationID,
			Quantity:    li.Quantity,
			Total:       flexFloat(li.Total),
		})
	}
	return v
}

type backfillRequest struct {
	BatchSize   int   `json:"batch_size"`
	LastOrderID int64 `json:"last_order_id"`
}

func (s *Server) handleBackfillStart(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.BatchSize == 0 {
		req.BatchSize = s.opts.DefaultBatchSize
	}
	res, err := s.deps.Backfiller.Start(r.Context(), req.BatchSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBackfillBatch(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.BatchSize == 0 {
		req.BatchSize = s.opts.DefaultBatchSize
	}
	if req.LastOrderID < 0 {
		writeError(w, r, badRequest("last_order_id must not be negative"))
		return
	}
	res, err := s.deps.Backfiller.ProcessBatch(r.Context(), req.BatchSize, req.LastOrderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBackfillStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Backfiller.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type relatedResponse struct {
	ProductID int64         `json:"product_id"`
	Related   []fbt.Related `json:"related"`
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(chi.URLParam(r, "id"), "product id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	related, err := s.deps.Recommender.Related(r.Context(), id, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if related == nil {
		related = []fbt.Related{}
	}
	writeJSON(w, http.StatusOK, relatedResponse{ProductID: id, Related: related})
}

const maxRelationshipsPage = 1000

type relationshipsResponse struct {
	Relationships []fbt.PairCount `json:"relationships"`
	Limit         int             `json:"limit"`
	Offset        int             `json:"offset"`
}

func (s *Server) handleRelationships(w http.ResponseWriter, r *http.Request) {
	limit := min(max(queryInt(r, "limit", 100), 1), maxRelationshipsPage)
	offset := max(queryInt(r, "offset", 0), 0)
	rels, err := s.deps.Counters.Relationships(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rels == nil {
		rels = []fbt.PairCount{}
	}
	writeJSON(w, http.StatusOK, relationshipsResponse{Relationships: rels, Limit: limit, Offset: offset})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Counters.Reset(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	s.deps.Recommender.Purge()
	log.Warn().Msg("api: co-purchase statistics reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
