package ap

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/botica-erp/botica-erp/internal/platform/httpx"
	"github.com/botica-erp/botica-erp/internal/shared"
)

// Handler exposes the accounts payable API.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers accounts payable routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Post("/{id}/payments", h.registerPayment)
	r.Post("/{id}/cancel", h.cancel)

	r.Get("/", h.list)
	r.Get("/{id}/payments", h.payments)
	r.Get("/aging", h.aging)
}

const dateLayout = "2006-01-02"

func parseDate(field, raw string) (time.Time, error) {
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", shared.ErrValidation, field)
	}
	return t, nil
}

type createRequest struct {
	SupplierID      int64      `json:"supplierId"`
	InvoiceNumber   string     `json:"invoiceNumber"`
	InvoiceType     string     `json:"invoiceType"`
	IssueDate       string     `json:"issueDate"`
	DueDate         string     `json:"dueDate,omitempty"`
	NetAmount       string     `json:"netAmount"`
	TaxAmount       string     `json:"taxAmount"`
	LocationID      *uuid.UUID `json:"locationId,omitempty"`
	ExpenseCategory string     `json:"expenseCategory"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())

	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "malformed request body")
		return
	}

	issueDate, err := parseDate("issueDate", req.IssueDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var dueDate *time.Time
	if req.DueDate != "" {
		parsed, err := parseDate("dueDate", req.DueDate)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		dueDate = &parsed
	}
	net, err := decimal.NewFromString(req.NetAmount)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: netAmount must be a decimal number", shared.ErrValidation))
		return
	}
	tax := decimal.Zero
	if req.TaxAmount != "" {
		tax, err = decimal.NewFromString(req.TaxAmount)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: taxAmount must be a decimal number", shared.ErrValidation))
			return
		}
	}

	payableID, err := h.service.Create(r.Context(), identity, CreateInput{
		SupplierID:      req.SupplierID,
		InvoiceNumber:   req.InvoiceNumber,
		InvoiceType:     req.InvoiceType,
		IssueDate:       issueDate,
		DueDate:         dueDate,
		NetAmount:       net,
		TaxAmount:       tax,
		LocationID:      req.LocationID,
		ExpenseCategory: req.ExpenseCategory,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, map[string]any{"accountPayableId": payableID})
}

type paymentRequest struct {
	Amount          string `json:"amount"`
	Method          string `json:"method"`
	PaymentDate     string `json:"paymentDate,omitempty"`
	ReferenceNumber string `json:"referenceNumber,omitempty"`
}

func (h *Handler) registerPayment(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())

	payableID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid payable id")
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: amount must be a decimal number", shared.ErrValidation))
		return
	}
	var paymentDate time.Time
	if req.PaymentDate != "" {
		paymentDate, err = parseDate("paymentDate", req.PaymentDate)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
	}

	paymentID, err := h.service.RegisterPayment(r.Context(), identity, PaymentInput{
		AccountPayableID: payableID,
		PaymentDate:      paymentDate,
		Amount:           amount,
		Method:           PaymentMethod(req.Method),
		ReferenceNumber:  req.ReferenceNumber,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, map[string]any{"paymentId": paymentID})
}

type cancelRequest struct {
	Justification string `json:"justification"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())

	payableID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid payable id")
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "malformed request body")
		return
	}

	err = h.service.Cancel(r.Context(), identity, CancelInput{
		AccountPayableID: payableID,
		Justification:    req.Justification,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"accountPayableId": payableID})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())

	q := r.URL.Query()
	filters := ListFilters{Status: PayableStatus(q.Get("status"))}
	if raw := q.Get("supplierId"); raw != "" {
		filters.SupplierID, _ = strconv.ParseInt(raw, 10, 64)
	}
	if raw := q.Get("locationId"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			httpx.Fail(w, http.StatusBadRequest, "invalid location id")
			return
		}
		filters.LocationID = parsed
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PerPage, _ = strconv.Atoi(q.Get("perPage"))

	payables, pagination, err := h.service.List(r.Context(), identity, filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{
		"accountsPayable": payables,
		"pagination":      pagination,
	})
}

func (h *Handler) payments(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())

	payableID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid payable id")
		return
	}
	payments, err := h.service.Payments(r.Context(), identity, payableID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
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

	report, err := h.service.Aging(r.Context(), identity, locationID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"aging": report})
}
