package treasury

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/botica-erp/botica-erp/internal/observability"
	"github.com/botica-erp/botica-erp/internal/platform/httpx"
	"github.com/botica-erp/botica-erp/internal/shared"
)

// Handler exposes the treasury API.
type Handler struct {
	logger  *slog.Logger
	service *Service
	metrics *observability.Metrics
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, metrics: metrics}
}

// MountRoutes registers treasury routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transfers", h.transfer)
	r.Post("/bank-deposits", h.depositToBank)
	r.Post("/remittances/{id}/confirm", h.confirmRemittance)
	r.Post("/cash-movements", h.registerCashMovement)

	r.Get("/accounts/{id}/history", h.history)
	r.Get("/summary", h.summary)
	r.Get("/remittances/pending", h.pendingRemittances)
}

// observe counts the outcome of one money movement attempt once the retry
// loop has settled.
func (h *Handler) observe(operation string, err error) {
	h.metrics.ObserveOperation(operation, operationOutcome(err))
}

func operationOutcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeCommitted
	case shared.IsRetryable(err):
		return observability.OutcomeBusy
	default:
		return observability.OutcomeRejected
	}
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount must be a decimal number", shared.ErrValidation)
	}
	return amount, nil
}

type transferRequest struct {
	FromAccountID uuid.UUID `json:"fromAccountId"`
	ToAccountID   uuid.UUID `json:"toAccountId"`
	Amount        string    `json:"amount"`
	Description   string    `json:"description"`
	PIN           string    `json:"pin"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())

	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var transferID uuid.UUID
	err = WithRetry(r.Context(), func(ctx context.Context) error {
		id, err := h.service.Transfer(ctx, identity, TransferInput{
			FromAccountID: req.FromAccountID,
			ToAccountID:   req.ToAccountID,
			Amount:        amount,
			Description:   req.Description,
			PIN:           req.PIN,
		})
		transferID = id
		return err
	})
	h.observe("transfer", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, map[string]any{"transferId": transferID})
}

type depositRequest struct {
	SafeID        uuid.UUID  `json:"safeId"`
	BankAccountID *uuid.UUID `json:"bankAccountId,omitempty"`
	Amount        string     `json:"amount"`
	Description   string     `json:"description"`
	PIN           string     `json:"pin"`
}

func (h *Handler) depositToBank(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())

	var req depositRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var depositID uuid.UUID
	err = WithRetry(r.Context(), func(ctx context.Context) error {
		id, err := h.service.DepositToBank(ctx, identity, DepositInput{
			SafeID:        req.SafeID,
			BankAccountID: req.BankAccountID,
			Amount:        amount,
			Description:   req.Description,
			PIN:           req.PIN,
		})
		depositID = id
		return err
	})
	h.observe("bank_deposit", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, map[string]any{"depositId": depositID})
}

type confirmRemittanceRequest struct {
	PIN string `json:"pin"`
}

func (h *Handler) confirmRemittance(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())

	remittanceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid remittance id")
		return
	}
	var req confirmRemittanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "malformed request body")
		return
	}

	err = WithRetry(r.Context(), func(ctx context.Context) error {
		_, err := h.service.ConfirmRemittance(ctx, identity, ConfirmRemittanceInput{
			RemittanceID: remittanceID,
			PIN:          req.PIN,
		})
		return err
	})
	h.observe("confirm_remittance", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"remittanceId": remittanceID})
}

type cashMovementRequest struct {
	TerminalID uuid.UUID `json:"terminalId"`
	SessionID  uuid.UUID `json:"sessionId"`
	Type       string    `json:"type"`
	Amount     string    `json:"amount"`
	Reason     string    `json:"reason"`
	PIN        string    `json:"pin"`
}

func (h *Handler) registerCashMovement(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())

	var req cashMovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var movementID uuid.UUID
	err = WithRetry(r.Context(), func(ctx context.Context) error {
		id, err := h.service.RegisterCashMovement(ctx, identity, CashMovementInput{
			TerminalID: req.TerminalID,
			SessionID:  req.SessionID,
			Type:       CashMovementType(req.Type),
			Amount:     amount,
			Reason:     req.Reason,
			PIN:        req.PIN,
		})
		movementID = id
		return err
	})
	h.observe("cash_movement", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, map[string]any{"movementId": movementID})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())

	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid account id")
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("perPage"))
	req := HistoryRequest{AccountID: accountID, Page: page, PerPage: perPage}
	if raw := q.Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			req.From = t
		}
	}
	if raw := q.Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			req.To = t
		}
	}

	lines, pagination, err := h.service.History(r.Context(), identity, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{
		"transactions": lines,
		"pagination":   pagination,
	})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())

	locationID := uuid.Nil
	if raw := r.URL.Query().Get("locationId"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			httpx.Fail(w, http.StatusBadRequest, "invalid location id")
			return
		}
		locationID = parsed
	}

	summary, err := h.service.Summary(r.Context(), identity, locationID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"summary": summary})
}

func (h *Handler) pendingRemittances(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())

	locationID := uuid.Nil
	if raw := r.URL.Query().Get("locationId"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			httpx.Fail(w, http.StatusBadRequest, "invalid location id")
			return
		}
		locationID = parsed
	}

	remittances, err := h.service.PendingRemittances(r.Context(), identity, locationID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"remittances": remittances})
}
