// Package httpapi is the thin HTTP adapter over internal/service: it wires
// the six routes named in spec.md §6 onto a net/http ServeMux, handles
// query-parameter parsing, and encodes JSON responses. No business logic
// lives here.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/charleschow/arbfinder/internal/core/odds"
	"github.com/charleschow/arbfinder/internal/scheduler"
	"github.com/charleschow/arbfinder/internal/service"
	"github.com/charleschow/arbfinder/internal/telemetry"
)

// Handler adapts *service.Service onto the routes of spec.md §6.
type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires HTTP routes onto mux, each wrapped with a
// request-ID middleware for log correlation.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/arbitrage", withRequestID(h.currentOpportunities))
	mux.HandleFunc("GET /api/arbitrage/history", withRequestID(h.historicalOpportunities))
	mux.HandleFunc("GET /api/odds", withRequestID(h.latestOdds))
	mux.HandleFunc("POST /api/refresh", withRequestID(h.triggerRefresh))
	mux.HandleFunc("GET /api/status", withRequestID(h.status))
	mux.HandleFunc("GET /api/sports", withRequestID(h.sports))
}

func withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		start := time.Now()
		next(w, r)
		telemetry.L().With("req_id", reqID).Info("httpapi: request handled",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
	}
}

func (h *Handler) currentOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minProfit, _ := strconv.ParseFloat(q.Get("min_profit"), 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	bankroll, _ := strconv.ParseFloat(q.Get("bankroll"), 64)

	ops, err := h.svc.CurrentOpportunities(r.Context(), q.Get("sport"), minProfit, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if bankroll > 0 {
		writeJSON(w, http.StatusOK, withStakeDollars(ops, bankroll))
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

// opportunityView augments an Opportunity with a precise dollar stake split
// against an optional bankroll query parameter; display-only, never fed
// back into detection.
type opportunityView struct {
	odds.Opportunity
	TotalStakeUSD string     `json:"total_stake_usd"`
	Legs          []legView  `json:"legs"`
}

type legView struct {
	odds.Leg
	StakeUSD string `json:"stake_usd"`
}

func withStakeDollars(ops []odds.Opportunity, bankroll float64) []opportunityView {
	views := make([]opportunityView, 0, len(ops))
	for _, op := range ops {
		legs := make([]legView, 0, len(op.Legs))
		for _, leg := range op.Legs {
			legs = append(legs, legView{Leg: leg, StakeUSD: leg.StakeDollars(bankroll)})
		}
		views = append(views, opportunityView{
			Opportunity:   op,
			TotalStakeUSD: op.TotalStakeDollars(bankroll),
			Legs:          legs,
		})
	}
	return views
}

func (h *Handler) historicalOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	var since time.Time
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSONError(w, http.StatusUnprocessableEntity, "since must be RFC3339")
			return
		}
		since = t
	}

	ops, err := h.svc.HistoricalOpportunities(r.Context(), since, q.Get("sport"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

func (h *Handler) latestOdds(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.LatestOdds(r.Context(), r.URL.Query().Get("sport"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// refreshResponse is the manual-refresh wire shape of spec.md §7:
// {status, detected, persisted, duration_ms, errors[]}.
type refreshResponse struct {
	Status     string   `json:"status"`
	Detected   int      `json:"detected"`
	Persisted  int      `json:"persisted"`
	DurationMs int64    `json:"duration_ms"`
	Errors     []string `json:"errors"`
}

func (h *Handler) triggerRefresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.TriggerRefresh(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := refreshResponse{
		Status:     result.Status,
		Detected:   result.Counts.OpportunitiesDetected,
		Persisted:  result.Counts.OpportunitiesPersisted,
		DurationMs: result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		Errors:     result.Errors,
	}

	// spec.md §7: AuthError must surface as a non-2xx on manual refresh.
	// A quota-suspended or partially-persisted cycle is still informative
	// (207); a failed one (bad credentials, or a latest-events write that
	// failed twice) is not.
	var status int
	switch resp.Status {
	case scheduler.StatusOK:
		status = http.StatusOK
	case scheduler.StatusPartial:
		status = http.StatusMultiStatus
	default:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

func (h *Handler) sports(w http.ResponseWriter, r *http.Request) {
	sports, err := h.svc.Sports(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sports)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		telemetry.Errorf("httpapi: encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeError(w http.ResponseWriter, err error) {
	telemetry.Errorf("httpapi: %v", err)
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}
