package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"subtrack/internal/core"
	"subtrack/internal/currency"
	"subtrack/internal/log"
)

// handleSummary returns the dashboard summary for ?currency= and ?today=.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	params, err := ParseSummaryParams(r.URL.Query(), s.reporting, s.now())
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}

	key := s.summaryKey(params.Currency, params.Today)
	if summary, found := s.summaryCache.Get(key); found {
		log.FromContext(r.Context()).DebugContext(r.Context(), "Summary cache hit", "key", key)
		NewJSONResponse().Body(summary).Write(w)
		return
	}

	subs, err := s.subs.List(r.Context())
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	summary, err := s.agg.Summarize(subs, params.Currency, params.Today)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}

	s.summaryCache.Set(key, summary)
	NewJSONResponse().Body(summary).Write(w)
}

// ratesBody is the body of the rates endpoints.
type ratesBody struct {
	Rates     currency.Rates `json:"rates"`
	UpdatedAt *time.Time     `json:"updated_at"`
	Status    string         `json:"status,omitempty"`
}

func (s *Server) ratesResponse() ratesBody {
	snap := s.rates.Snapshot()
	body := ratesBody{Rates: snap.Rates, Status: snap.Status}
	if !snap.UpdatedAt.IsZero() {
		t := snap.UpdatedAt.UTC()
		body.UpdatedAt = &t
	}
	return body
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(s.ratesResponse()).Write(w)
}

// handleRefreshRates forces a refresh. Fetch failures are reported through
// the status field, not as an error response. A refresh still retrying after
// refreshWait keeps running and the current snapshot is returned with 202.
func (s *Server) handleRefreshRates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.refreshWait)
	defer cancel()

	err := s.rates.Refresh(ctx)
	switch {
	case err == nil:
		NewJSONResponse().Body(s.ratesResponse()).Write(w)
	case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
		log.FromContext(r.Context()).InfoContext(r.Context(), "Rate refresh still running",
			log.FieldOperation, log.OpRefresh,
			"waited", s.refreshWait.String())
		NewJSONResponse().Status(http.StatusAccepted).Body(s.ratesResponse()).Write(w)
	default:
		writeError(w, r, log.OpRefresh, err)
	}
}

// conversionBody is the body of GET /api/convert.
type conversionBody struct {
	Amount    decimal.Decimal `json:"amount"`
	From      core.Currency   `json:"from"`
	To        core.Currency   `json:"to"`
	Result    decimal.Decimal `json:"result"`
	Formatted string          `json:"formatted"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	params, err := ParseConvertParams(r.URL.Query())
	if err != nil {
		writeError(w, r, log.OpConvert, err)
		return
	}

	result, formatted, err := s.agg.Converter().ConvertAndFormat(params.Amount, params.From, params.To)
	if err != nil {
		writeError(w, r, log.OpConvert, err)
		return
	}

	NewJSONResponse().Body(conversionBody{
		Amount:    params.Amount,
		From:      params.From,
		To:        params.To,
		Result:    result,
		Formatted: formatted,
	}).Write(w)
}
