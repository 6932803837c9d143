package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dua-ia/dua-credits/internal/catalog"
	"github.com/dua-ia/dua-credits/internal/ledger"
)

type creditsEndpoint struct {
	server *Server
}

func newCreditsEndpoint(server *Server) Endpoint {
	return &creditsEndpoint{server: server}
}

func (e *creditsEndpoint) Name() string { return "credits" }

func (e *creditsEndpoint) Routes() []EndpointRoute {
	s := e.server
	return []EndpointRoute{
		{Method: http.MethodGet, Path: "/api/v1/credits/balance", Handler: http.HandlerFunc(s.handleBalance)},
		{Method: http.MethodGet, Path: "/api/v1/credits/transactions", Handler: http.HandlerFunc(s.handleTransactions)},
		{Method: http.MethodGet, Path: "/api/v1/credits/summary", Handler: http.HandlerFunc(s.handleSummary)},
		{Method: http.MethodGet, Path: "/api/v1/credits/catalog", Handler: http.HandlerFunc(s.handleCatalog)},
		{Method: http.MethodPost, Path: "/api/v1/credits/check", Handler: http.HandlerFunc(s.handleCheck)},
		{Method: http.MethodPost, Path: "/api/v1/invites/redeem", Handler: http.HandlerFunc(s.handleRedeemInvite)},
	}
}

type balanceView struct {
	ledger.Balance
	Available int64 `json:"available"`
}

func newBalanceView(b ledger.Balance) balanceView {
	return balanceView{Balance: b, Available: b.Available()}
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())
	bal, err := s.credits.Balance(r.Context(), session.user.ID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newBalanceView(bal))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())
	txs, err := s.credits.History(r.Context(), session.user.ID, queryInt(r, "limit", 50, 500))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())
	sum, err := s.credits.Summary(r.Context(), session.user.ID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sum)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	prices, err := s.credits.Prices(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if category := strings.TrimSpace(r.URL.Query().Get("category")); category != "" {
		prices = catalog.Select(prices, catalog.ByCategory(catalog.Category(category)))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"operations": prices,
		"categories": catalog.Categories,
	})
}

type checkRequest struct {
	Operation string `json:"operation"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Operation) == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("operation is required"))
		return
	}
	session := sessionFromContext(r.Context())
	res, err := s.credits.Check(r.Context(), session.user.ID, req.Operation)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownOperation) {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
		s.log.Error().Err(err).Str("operation", req.Operation).Msg("credit check failed")
		s.respondCode(w, http.StatusServiceUnavailable, "CREDITS_UNAVAILABLE", "credits service unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

type redeemRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRedeemInvite(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("code is required"))
		return
	}
	session := sessionFromContext(r.Context())
	invite, receipt, err := s.credits.RedeemInvite(r.Context(), code, session.user.ID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"code":            invite.Code,
		"credits_granted": invite.CreditsGranted,
		"balance":         newBalanceView(receipt.Balance),
		"transaction_id":  receipt.Transaction.ID,
	})
}
