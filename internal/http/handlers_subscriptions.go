package http

import (
	"net/http"

	"subtrack/internal/core"
	"subtrack/internal/log"
	"subtrack/internal/services"
)

// subscriptionList is the body of GET /api/subscriptions.
type subscriptionList struct {
	Subscriptions []core.Subscription `json:"subscriptions"`
	Count         int                 `json:"count"`
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.subs.List(r.Context())
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}

	query := r.URL.Query()
	filtered := services.Filter(subs, query.Get("q"), query.Get("category"))
	NewJSONResponse().Body(subscriptionList{Subscriptions: filtered, Count: len(filtered)}).Write(w)
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subs.Get(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(sub).Write(w)
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	sub, resp := decodeSubscription(r)
	if resp != nil {
		resp.Write(w)
		return
	}

	created, err := s.subs.Create(r.Context(), sub)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/subscriptions/"+created.ID).
		Body(created).
		Write(w)
}

func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	sub, resp := decodeSubscription(r)
	if resp != nil {
		resp.Write(w)
		return
	}
	sub.ID = pathID(r)

	updated, err := s.subs.Update(r.Context(), sub)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Body(updated).Write(w)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := s.subs.Delete(r.Context(), pathID(r)); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// handleChangeCycle switches the billing cycle and rescales the cost.
func (s *Server) handleChangeCycle(w http.ResponseWriter, r *http.Request) {
	var req CycleRequest
	if err := DecodeJSON(r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	updated, err := s.subs.ChangeCycle(r.Context(), pathID(r), core.BillingCycle(sanitizeInput(req.BillingCycle)))
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Body(updated).Write(w)
}

// decodeSubscription parses the request body; the returned builder is
// non-nil when the request must be rejected.
func decodeSubscription(r *http.Request) (core.Subscription, *JSONResponseBuilder) {
	var req SubscriptionRequest
	if err := DecodeJSON(r, &req); err != nil {
		return core.Subscription{}, BadRequestError(err.Error())
	}
	sub, err := req.ToSubscription()
	if err != nil {
		return core.Subscription{}, ErrorFor(err)
	}
	return sub, nil
}
