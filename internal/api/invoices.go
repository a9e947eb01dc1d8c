package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/taskyard/taskyard/internal/middleware"
	"github.com/taskyard/taskyard/internal/store"
)

// InvoiceHandler manages invoice endpoints.
type InvoiceHandler struct {
	Invoices      *store.InvoiceStore
	Assignments   *store.AssignmentStore
	Conversations *store.ConversationStore
	Broadcaster   *Broadcaster
}

type InvoiceItemRequest struct {
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type IssueInvoiceRequest struct {
	AssignmentID string               `json:"assignment_id"`
	Items        []InvoiceItemRequest `json:"items"`
}

// IssueInvoice handles POST /api/invoices
func (h *InvoiceHandler) IssueInvoice(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req IssueInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if !uuidRegex.MatchString(req.AssignmentID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid assignment_id"})
		return
	}

	items := make([]store.InvoiceItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, store.InvoiceItemInput{
			Description:    item.Description,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}

	invoice, err := h.Invoices.Issue(r.Context(), store.IssueInvoiceInput{
		AssignmentID: req.AssignmentID,
		ContractorID: user.ID,
		Items:        items,
	})
	if err != nil {
		sendStoreError(w, err)
		return
	}

	h.announceInvoice(r, invoice, user)

	sendJSON(w, http.StatusCreated, invoice)
}

// ListInvoices handles GET /api/invoices
func (h *InvoiceHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" && status != store.InvoiceUnpaid && status != store.InvoicePaid {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid status filter"})
		return
	}

	invoices, err := h.Invoices.ListForUser(r.Context(), user.ID, status)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"invoices": invoices})
}

// GetInvoice handles GET /api/invoices/{id}
func (h *InvoiceHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	invoiceID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(invoiceID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid invoice id"})
		return
	}

	invoice, err := h.Invoices.GetByID(r.Context(), invoiceID)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	if user.ID != invoice.ContractorID && user.ID != invoice.ClientID && user.Role != store.RoleAdmin {
		sendJSON(w, http.StatusForbidden, errorResponse{Error: "access denied"})
		return
	}
	sendJSON(w, http.StatusOK, invoice)
}

func (h *InvoiceHandler) announceInvoice(r *http.Request, invoice *store.Invoice, contractor *store.User) {
	assignment, err := h.Assignments.GetByID(r.Context(), invoice.AssignmentID)
	if err != nil {
		log.Printf("Failed to load assignment %s for invoice announcement: %v", invoice.AssignmentID, err)
		return
	}

	conversation, err := h.Conversations.FindForTask(r.Context(), assignment.ClientID, assignment.ContractorID, assignment.TaskID)
	if err != nil {
		if err != store.ErrNotFound {
			log.Printf("Failed to find conversation for invoice %s: %v", invoice.ID, err)
		}
		return
	}

	message, err := h.Conversations.CreateSystemMessage(
		r.Context(),
		conversation.ID,
		fmt.Sprintf("%s issued invoice #%d for %s", contractor.Name, invoice.Number, formatCents(invoice.TotalCents)),
	)
	if err != nil {
		log.Printf("Failed to create invoice system message: %v", err)
		return
	}
	h.Broadcaster.NewMessage(message)
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
