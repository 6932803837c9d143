package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dua-ia/dua-credits/internal/ledger"
	"github.com/dua-ia/dua-credits/internal/userstore"
)

type adminEndpoint struct {
	server *Server
}

func newAdminEndpoint(server *Server) Endpoint {
	return &adminEndpoint{server: server}
}

func (e *adminEndpoint) Name() string { return "admin" }

func (e *adminEndpoint) Routes() []EndpointRoute {
	s := e.server
	read := userstore.CapReadAllCredits
	manage := userstore.CapManageCredits
	return []EndpointRoute{
		{Method: http.MethodGet, Path: "/api/v1/admin/credits/stats", Handler: http.HandlerFunc(s.handleAdminStats), Capability: read},
		{Method: http.MethodGet, Path: "/api/v1/admin/credits/balances", Handler: http.HandlerFunc(s.handleAdminBalances), Capability: read},
		{Method: http.MethodGet, Path: "/api/v1/admin/credits/activity", Handler: http.HandlerFunc(s.handleAdminActivity), Capability: read},
		{Method: http.MethodGet, Path: "/api/v1/admin/credits/users/{id}", Handler: http.HandlerFunc(s.handleAdminUser), Capability: read},
		{Method: http.MethodPost, Path: "/api/v1/admin/credits/users/{id}/grant", Handler: http.HandlerFunc(s.handleAdminGrant), Capability: manage},
		{Method: http.MethodPost, Path: "/api/v1/admin/credits/users/{id}/deduct", Handler: http.HandlerFunc(s.handleAdminDeduct), Capability: manage},
		{Method: http.MethodPost, Path: "/api/v1/admin/credits/users/{id}/set", Handler: http.HandlerFunc(s.handleAdminSet), Capability: manage},
		{Method: http.MethodPost, Path: "/api/v1/admin/credits/refunds", Handler: http.HandlerFunc(s.handleAdminRefund), Capability: manage},
		{Method: http.MethodGet, Path: "/api/v1/admin/service-costs", Handler: http.HandlerFunc(s.handleListServiceCosts), Capability: read},
		{Method: http.MethodPut, Path: "/api/v1/admin/service-costs/{name}", Handler: http.HandlerFunc(s.handleUpdateServiceCost), Capability: userstore.CapManagePricing},
		{Method: http.MethodGet, Path: "/api/v1/admin/invite-codes", Handler: http.HandlerFunc(s.handleListInvites), Capability: userstore.CapManageInvites},
		{Method: http.MethodPost, Path: "/api/v1/admin/invite-codes", Handler: http.HandlerFunc(s.handleCreateInvites), Capability: userstore.CapManageInvites},
	}
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30, 365)
	stats, err := s.credits.Stats(r.Context(), time.Duration(days)*24*time.Hour, queryInt(r, "top", 10, 100))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAdminBalances(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100, 1000)
	offset := queryInt(r, "offset", 0, 0)
	balances, err := s.credits.Balances(r.Context(), limit, offset)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	views := make([]balanceView, 0, len(balances))
	for _, b := range balances {
		views = append(views, newBalanceView(b))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"balances": views, "limit": limit, "offset": offset})
}

func (s *Server) handleAdminActivity(w http.ResponseWriter, r *http.Request) {
	txs, err := s.credits.RecentActivity(r.Context(), queryInt(r, "limit", 100, 1000))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (s *Server) handleAdminUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := s.credits.UserDetail(r.Context(), id, queryInt(r, "limit", 50, 500))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	payload := map[string]any{"user_id": id, "credits": detail}
	if s.identity != nil {
		if u, err := s.identity.GetUser(r.Context(), id); err == nil && u != nil {
			payload["user"] = u
		}
	}
	s.respondJSON(w, http.StatusOK, payload)
}

type adjustRequest struct {
	Amount    int64  `json:"amount"`
	Available *int64 `json:"available,omitempty"`
	Reason    string `json:"reason"`
}

func (s *Server) readAdjust(w http.ResponseWriter, r *http.Request) (adjustRequest, bool) {
	var req adjustRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return req, false
	}
	req.Reason = strings.TrimSpace(req.Reason)
	return req, true
}

func (s *Server) respondReceipt(w http.ResponseWriter, receipt ledger.Receipt) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"transaction": receipt.Transaction,
		"balance":     newBalanceView(receipt.Balance),
		"duplicate":   receipt.Duplicate,
	})
}

func (s *Server) handleAdminGrant(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readAdjust(w, r)
	if !ok {
		return
	}
	receipt, err := s.credits.Grant(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Reason, actor(sessionFromContext(r.Context())))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondReceipt(w, receipt)
}

func (s *Server) handleAdminDeduct(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readAdjust(w, r)
	if !ok {
		return
	}
	receipt, err := s.credits.AdminDeduct(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Reason, actor(sessionFromContext(r.Context())))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondReceipt(w, receipt)
}

func (s *Server) handleAdminSet(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readAdjust(w, r)
	if !ok {
		return
	}
	if req.Available == nil {
		s.respondError(w, http.StatusBadRequest, errors.New("available is required"))
		return
	}
	receipt, err := s.credits.SetAvailable(r.Context(), chi.URLParam(r, "id"), *req.Available, req.Reason, actor(sessionFromContext(r.Context())))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondReceipt(w, receipt)
}

type refundRequest struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

func (s *Server) handleAdminRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("transaction_id is required"))
		return
	}
	receipt, err := s.credits.Refund(r.Context(), strings.TrimSpace(req.TransactionID), req.Reason, actor(sessionFromContext(r.Context())))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondReceipt(w, receipt)
}

func (s *Server) handleListServiceCosts(w http.ResponseWriter, r *http.Request) {
	costs, err := s.credits.ServiceCosts(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if costs == nil {
		costs = []ledger.ServiceCost{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"service_costs": costs})
}

type serviceCostRequest struct {
	Label       string `json:"service_label"`
	CreditsCost *int64 `json:"credits_cost"`
	Active      *bool  `json:"is_active"`
	Description string `json:"description"`
}

func (s *Server) handleUpdateServiceCost(w http.ResponseWriter, r *http.Request) {
	var req serviceCostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.CreditsCost == nil || *req.CreditsCost < 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("credits_cost must be zero or positive"))
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	saved, err := s.credits.UpdateServiceCost(r.Context(), ledger.ServiceCost{
		ServiceName: chi.URLParam(r, "name"),
		Label:       req.Label,
		CreditsCost: *req.CreditsCost,
		Active:      active,
		Description: req.Description,
	}, actor(sessionFromContext(r.Context())))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, saved)
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	codes, err := s.credits.Invites(r.Context(), queryInt(r, "limit", 100, 1000))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if codes == nil {
		codes = []ledger.InviteCode{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"invite_codes": codes})
}

type createInvitesRequest struct {
	Count   int    `json:"count"`
	Credits int64  `json:"credits"`
	Prefix  string `json:"prefix"`
}

func (s *Server) handleCreateInvites(w http.ResponseWriter, r *http.Request) {
	var req createInvitesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 0 || req.Count > 500 {
		s.respondError(w, http.StatusBadRequest, errors.New("count must be between 1 and 500"))
		return
	}
	codes, err := s.credits.CreateInvites(r.Context(), req.Count, req.Credits, req.Prefix, actor(sessionFromContext(r.Context())))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{"invite_codes": codes})
}
