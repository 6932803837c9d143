package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/dua-ia/dua-credits/internal/catalog"
	"github.com/dua-ia/dua-credits/internal/credits"
	"github.com/dua-ia/dua-credits/internal/ledger"
)

// insufficientBody is the 402 payload of every gated route.
type insufficientBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Required  int64  `json:"required"`
	Current   int64  `json:"current"`
	Deficit   int64  `json:"deficit"`
	Operation string `json:"operation"`
}

// respondRunError maps a failed credits.Run to its HTTP answer.
func (s *Server) respondRunError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	var insufficient *credits.InsufficientCreditsError
	switch {
	case r.Context().Err() != nil || errors.Is(err, context.Canceled):
		s.log.Debug().Err(err).Str("operation", operation).Str("request_id", requestID(r)).Msg("client went away")
		s.respondCode(w, 499, "CANCELLED", "request cancelled")
	case errors.As(err, &insufficient):
		s.respondJSON(w, http.StatusPaymentRequired, insufficientBody{
			Error:     "Insufficient credits",
			Code:      "INSUFFICIENT_CREDITS",
			Required:  insufficient.Required,
			Current:   insufficient.Current,
			Deficit:   insufficient.Deficit(),
			Operation: insufficient.Operation,
		})
	case errors.Is(err, credits.ErrVendorFailed):
		s.log.Warn().Err(err).Str("operation", operation).Str("request_id", requestID(r)).Msg("vendor call failed")
		s.respondCode(w, http.StatusBadGateway, "VENDOR_FAILED", err.Error())
	case errors.Is(err, credits.ErrUserRequired):
		s.respondCode(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case errors.Is(err, catalog.ErrUnknownOperation):
		s.log.Error().Err(err).Str("operation", operation).Msg("gated route references an unknown operation")
		s.respondCode(w, http.StatusInternalServerError, "UNKNOWN_OPERATION", "internal error")
	default:
		s.log.Error().Err(err).Str("operation", operation).Msg("credit check failed")
		s.respondCode(w, http.StatusServiceUnavailable, "CREDITS_UNAVAILABLE", "credits service unavailable")
	}
}

// statusForError maps service errors on the credits and admin APIs.
func statusForError(err error) int {
	var insufficient *credits.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient), errors.Is(err, ledger.ErrInsufficientCredits):
		return http.StatusConflict
	case errors.Is(err, credits.ErrUserRequired):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, catalog.ErrUnknownOperation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrTransactionNotFound), errors.Is(err, ledger.ErrInviteInvalid):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrNotRefundable), errors.Is(err, ledger.ErrInviteUsed), errors.Is(err, ledger.ErrInviteExists):
		return http.StatusConflict
	case errors.Is(err, credits.ErrInvitesUnavailable), errors.Is(err, credits.ErrPricingUnavailable):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.respondError(w, status, err)
}
