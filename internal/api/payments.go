package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/taskyard/taskyard/internal/gateway"
	"github.com/taskyard/taskyard/internal/middleware"
	"github.com/taskyard/taskyard/internal/store"
)

// PaymentHandler manages checkout and capture. Gateways maps a payment
// method to its provider client.
type PaymentHandler struct {
	Payments *store.PaymentStore
	Currency string
	Gateways map[string]gateway.Gateway
}

type CreatePaymentRequest struct {
	InvoiceIDs     []string `json:"invoice_ids"`
	Method         string   `json:"method"`
	IdempotencyKey string   `json:"idempotency_key"`
}

type PaymentResponse struct {
	Payment      *store.Payment `json:"payment"`
	ClientSecret string         `json:"client_secret,omitempty"`
	ApproveURL   string         `json:"approve_url,omitempty"`
}

// CreatePayment handles POST /api/payments
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user.Role != store.RoleClient {
		sendJSON(w, http.StatusForbidden, errorResponse{Error: "only clients can pay invoices"})
		return
	}

	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	for _, id := range req.InvoiceIDs {
		if !uuidRegex.MatchString(id) {
			sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid invoice id"})
			return
		}
	}

	provider, ok := h.Gateways[req.Method]
	if !ok {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown payment method"})
		return
	}

	payment, replayed, err := h.Payments.Create(r.Context(), store.CreatePaymentInput{
		ClientID:       user.ID,
		Method:         req.Method,
		IdempotencyKey: req.IdempotencyKey,
		InvoiceIDs:     req.InvoiceIDs,
	})
	if err != nil {
		sendStoreError(w, err)
		return
	}

	if replayed {
		sendJSON(w, http.StatusOK, PaymentResponse{Payment: payment})
		return
	}

	order, err := provider.CreateOrder(r.Context(), payment.TotalCents, h.Currency, payment.ID)
	if err != nil {
		if _, failErr := h.Payments.MarkFailed(r.Context(), payment.ID); failErr != nil {
			log.Printf("Failed to mark payment %s failed: %v", payment.ID, failErr)
		}
		sendStoreError(w, err)
		return
	}

	payment, err = h.Payments.SetExternalID(r.Context(), payment.ID, order.ExternalID)
	if err != nil {
		sendStoreError(w, err)
		return
	}

	sendJSON(w, http.StatusCreated, PaymentResponse{
		Payment:      payment,
		ClientSecret: order.ClientSecret,
		ApproveURL:   order.ApproveURL,
	})
}

// CapturePayment handles POST /api/payments/{id}/capture
func (h *PaymentHandler) CapturePayment(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	payment, err := h.loadForOwner(r, user)
	if err != nil {
		sendStoreError(w, err)
		return
	}

	if payment.Status == store.PaymentPaid {
		sendJSON(w, http.StatusOK, PaymentResponse{Payment: payment})
		return
	}
	if payment.Status != store.PaymentPending || payment.ExternalID == nil {
		sendJSON(w, http.StatusConflict, errorResponse{Error: "payment is not capturable"})
		return
	}

	provider, ok := h.Gateways[payment.Method]
	if !ok {
		sendJSON(w, http.StatusBadGateway, errorResponse{Error: "payment method unavailable"})
		return
	}

	result, err := provider.Capture(r.Context(), *payment.ExternalID)
	if err != nil {
		if errors.Is(err, gateway.ErrDeclined) {
			if payment, failErr := h.Payments.MarkFailed(r.Context(), payment.ID); failErr == nil {
				sendJSON(w, http.StatusPaymentRequired, PaymentResponse{Payment: payment})
				return
			}
		}
		sendStoreError(w, err)
		return
	}
	if !result.Settled {
		sendJSON(w, http.StatusConflict, errorResponse{Error: "payment not yet settled"})
		return
	}

	payment, err = h.Payments.MarkPaid(r.Context(), payment.ID)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, PaymentResponse{Payment: payment})
}

// GetPayment handles GET /api/payments/{id}
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	payment, err := h.loadForOwner(r, user)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, PaymentResponse{Payment: payment})
}

func (h *PaymentHandler) loadForOwner(r *http.Request, user *store.User) (*store.Payment, error) {
	paymentID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(paymentID) {
		return nil, store.ErrNotFound
	}

	payment, err := h.Payments.GetByID(r.Context(), paymentID)
	if err != nil {
		return nil, err
	}
	if payment.ClientID != user.ID && user.Role != store.RoleAdmin {
		return nil, store.ErrForbidden
	}
	return payment, nil
}
