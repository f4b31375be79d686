/**
 * @description
 * HTTP handlers for the card ledger service.
 */
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/card-ledger-service/internal/app"
	"github.com/transfa/card-ledger-service/internal/domain"
)

const maxEventBodyBytes = 64 << 10

// LedgerService is the set of ledger operations the handlers call.
type LedgerService interface {
	GetSummary(ctx context.Context) domain.Summary
	SubmitEvent(ctx context.Context, ev domain.Event) (domain.Summary, error)
	ValidateEvent(ctx context.Context, ev domain.Event) error
	Reset(ctx context.Context) domain.Summary
	GetTransaction(ctx context.Context, txnID string) (*domain.Transaction, error)
	ListPayments(ctx context.Context) []domain.PaymentIntent
}

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service LedgerService
	logger  *slog.Logger
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service LedgerService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func (h *Handler) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.service.GetSummary(r.Context()))
}

func (h *Handler) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := decodeEvent(w, r)
	if !ok {
		return
	}

	summary, err := h.service.SubmitEvent(r.Context(), ev)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleValidateEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := decodeEvent(w, r)
	if !ok {
		return
	}

	if err := h.service.ValidateEvent(r.Context(), ev); err != nil {
		h.respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if operator, ok := OperatorFromContext(r.Context()); ok {
		h.logger.Info("reset requested", "operator", operator)
	}
	respondWithJSON(w, http.StatusOK, h.service.Reset(r.Context()))
}

func (h *Handler) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txnID := strings.TrimSpace(chi.URLParam(r, "txnID"))

	txn, err := h.service.GetTransaction(r.Context(), txnID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, txn)
}

func (h *Handler) handleListPayments(w http.ResponseWriter, r *http.Request) {
	payments := h.service.ListPayments(r.Context())
	if payments == nil {
		payments = []domain.PaymentIntent{}
	}
	respondWithJSON(w, http.StatusOK, payments)
}

// decodeEvent reads an Event body. A body that is not an Event at all is
// reported the same way the ledger reports a malformed event.
func decodeEvent(w http.ResponseWriter, r *http.Request) (domain.Event, bool) {
	var ev domain.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBodyBytes)).Decode(&ev); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorResponse{
			Error:  string(domain.CodeMalformedEvent),
			Reason: "invalid request body: " + err.Error(),
		})
		return domain.Event{}, false
	}
	return ev, true
}

func (h *Handler) respondWithError(w http.ResponseWriter, err error) {
	if rejection, ok := domain.AsRejection(err); ok {
		respondWithJSON(w, statusForRejection(rejection.Code), rejection)
		return
	}
	if app.IsNotFound(err) {
		respondWithJSON(w, http.StatusNotFound, errorResponse{Error: "NotFound", Reason: err.Error()})
		return
	}

	h.logger.Error("unexpected ledger error", "error", err)
	respondWithJSON(w, http.StatusInternalServerError, errorResponse{Error: "InternalError", Reason: "internal server error"})
}

func statusForRejection(code domain.RejectionCode) int {
	switch code {
	case domain.CodeMalformedEvent, domain.CodeUnknownEventType:
		return http.StatusBadRequest
	case domain.CodeUnknownTransaction:
		return http.StatusNotFound
	case domain.CodeDuplicateTransaction, domain.CodeAlreadySettled:
		return http.StatusConflict
	case domain.CodeAmountMismatch, domain.CodeCreditLimitExceeded, domain.CodeOverpaymentRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
