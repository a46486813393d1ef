package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/allaspectsdev/upsell/internal/analytics"
)

// maxEventsPerRequest bounds one tracking call.
const maxEventsPerRequest = 500

// eventsBody accepts either one event object or an array of events.
type eventsBody []*analytics.Event

func (b *eventsBody) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var many []*analytics.Event
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*b = many
		return nil
	}
	var one analytics.Event
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*b = eventsBody{&one}
	return nil
}

type trackResponse struct {
	Tracked   int    `json:"tracked"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var body eventsBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if len(body) == 0 {
		writeError(w, r, badRequest("no events"))
		return
	}
	if len(body) > maxEventsPerRequest {
		writeError(w, r, badRequest("at most %d events per request, got %d", maxEventsPerRequest, len(body)))
		return
	}
	for i, e := range body {
		if e == nil {
			writeError(w, r, badRequest("event %d is null", i))
			return
		}
		// Event time is assigned by the tracker.
		e.ID = 0
		e.CreatedAt = time.Time{}
	}

	if err := s.deps.Tracker.Track(r.Context(), body...); err != nil {
		writeError(w, r, err)
		return
	}
	sess, _ := analytics.SessionFromContext(r.Context())
	writeJSON(w, http.StatusAccepted, trackResponse{Tracked: len(body), SessionID: sess.ID})
}

func (s *Server) handleFeatures(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.All())
}

// reportRange reads ?from=&to= (YYYY-MM-DD). A missing to is today and a
// missing from covers the default window ending at to.
func (s *Server) reportRange(r *http.Request) (from, to string, err error) {
	agg := s.deps.Aggregator
	q := r.URL.Query()

	to = q.Get("to")
	if to == "" {
		to = s.now().In(agg.Location()).Format(analytics.DateLayout)
	}
	toDay, err := agg.ParseDate(to)
	if err != nil {
		return "", "", err
	}

	from = q.Get("from")
	if from == "" {
		from = toDay.AddDate(0, 0, -(s.opts.ReportDays - 1)).Format(analytics.DateLayout)
	}
	fromDay, err := agg.ParseDate(from)
	if err != nil {
		return "", "", err
	}
	if fromDay.After(toDay) {
		return "", "", fmt.Errorf("%w: from %s is after to %s", analytics.ErrInvalidRange, from, to)
	}
	return from, to, nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.reportRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	dash, err := s.deps.Reporter.Dashboard(r.Context(), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

func (s *Server) handleFeatureReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.reportRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := s.deps.Reporter.Feature(r.Context(), chi.URLParam(r, "feature"), from, to)
	if errors.Is(err, analytics.ErrUnknownFeature) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type aggregateRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type aggregateResponse struct {
	Days []analytics.DayResult `json:"days"`
}

// handleAggregate re-aggregates a date range. An empty body re-aggregates
// yesterday; a lone from or to aggregates that single day.
func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.From == "" && req.To == "" {
		req.From = s.now().In(s.deps.Aggregator.Location()).AddDate(0, 0, -1).Format(analytics.DateLayout)
	}
	if req.From == "" {
		req.From = req.To
	}
	if req.To == "" {
		req.To = req.From
	}

	days, err := s.deps.Aggregator.AggregateRange(r.Context(), req.From, req.To)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if days == nil {
		days = []analytics.DayResult{}
	}
	writeJSON(w, http.StatusOK, aggregateResponse{Days: days})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Cleaner.Run(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
