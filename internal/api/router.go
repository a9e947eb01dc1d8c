package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/taskyard/taskyard/internal/config"
	"github.com/taskyard/taskyard/internal/gateway"
	"github.com/taskyard/taskyard/internal/middleware"
	"github.com/taskyard/taskyard/internal/store"
	"github.com/taskyard/taskyard/internal/ws"
)

var startTime = time.Now()

type HealthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// NewRouter wires stores, gateways and handlers into the HTTP surface.
func NewRouter(cfg config.Config, db *sql.DB) http.Handler {
	users := store.NewUserStore(db)
	tasks := store.NewTaskStore(db)
	assignments := store.NewAssignmentStore(db)
	reviews := store.NewReviewStore(db)
	invoices := store.NewInvoiceStore(db)
	payments := store.NewPaymentStore(db)
	conversations := store.NewConversationStore(db)

	hub := ws.NewHub()
	go hub.Run()
	broadcaster := &Broadcaster{Hub: hub}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Get("/", handleRoot)

	authHandler := &AuthHandler{Users: users}
	taskHandler := &TaskHandler{Tasks: tasks}
	assignmentHandler := &AssignmentHandler{
		Assignments:   assignments,
		Conversations: conversations,
		Users:         users,
		Broadcaster:   broadcaster,
	}
	reviewHandler := &ReviewHandler{
		Reviews:       reviews,
		Assignments:   assignments,
		Conversations: conversations,
		Broadcaster:   broadcaster,
	}
	invoiceHandler := &InvoiceHandler{
		Invoices:      invoices,
		Assignments:   assignments,
		Conversations: conversations,
		Broadcaster:   broadcaster,
	}
	paymentHandler := &PaymentHandler{
		Payments: payments,
		Currency: cfg.Currency,
		Gateways: buildGateways(cfg),
	}
	conversationHandler := &ConversationHandler{Conversations: conversations, Broadcaster: broadcaster}
	messageHandler := &MessageHandler{Conversations: conversations, Broadcaster: broadcaster}

	r.Post("/api/auth/register", authHandler.Register)
	r.Post("/api/auth/login", authHandler.Login)

	// Public browse surface. Sessions are optional here so owners can
	// see their archived tasks.
	r.Group(func(r chi.Router) {
		r.Use(middleware.OptionalUser(users))
		r.Get("/api/tasks", taskHandler.ListTasks)
		r.Get("/api/tasks/{id}", taskHandler.GetTask)
		r.Get("/api/categories", taskHandler.ListCategories)
		r.Get("/api/users/{id}", authHandler.GetUser)
		r.Get("/api/users/{id}/reviews", reviewHandler.ListUserReviews)
		r.Handle("/ws", &ws.Handler{Hub: hub, Authorizer: conversations})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser(users))

		r.Post("/api/auth/logout", authHandler.Logout)
		r.Get("/api/auth/me", authHandler.Me)

		r.Post("/api/tasks", taskHandler.CreateTask)
		r.Patch("/api/tasks/{id}", taskHandler.UpdateTask)
		r.Post("/api/tasks/{id}/archive", taskHandler.ArchiveTask)

		r.Post("/api/assignments", assignmentHandler.CreateAssignment)
		r.Get("/api/assignments", assignmentHandler.ListAssignments)
		r.Get("/api/assignments/{id}", assignmentHandler.GetAssignment)
		r.Post("/api/assignments/{id}/status", assignmentHandler.UpdateStatus)

		r.Post("/api/assignments/{id}/reviews", reviewHandler.SubmitReview)
		r.Get("/api/assignments/{id}/reviews", reviewHandler.ListAssignmentReviews)

		r.Post("/api/invoices", invoiceHandler.IssueInvoice)
		r.Get("/api/invoices", invoiceHandler.ListInvoices)
		r.Get("/api/invoices/{id}", invoiceHandler.GetInvoice)

		r.Post("/api/payments", paymentHandler.CreatePayment)
		r.Post("/api/payments/{id}/capture", paymentHandler.CapturePayment)
		r.Get("/api/payments/{id}", paymentHandler.GetPayment)

		r.Post("/api/conversations", conversationHandler.CreateConversation)
		r.Get("/api/conversations", conversationHandler.ListConversations)
		r.Get("/api/conversations/{id}/messages", conversationHandler.ListMessages)
		r.Post("/api/conversations/{id}/messages", conversationHandler.SendMessage)
		r.Post("/api/conversations/{id}/read", conversationHandler.MarkRead)
		r.Post("/api/messages/{id}/read", messageHandler.MarkRead)
	})

	return r
}

// buildGateways maps payment methods to provider clients. Development
// runs against the in-memory fake so checkout works without credentials.
func buildGateways(cfg config.Config) map[string]gateway.Gateway {
	if cfg.Environment == "development" {
		fake := gateway.NewFake()
		return map[string]gateway.Gateway{
			store.MethodStripe: fake,
			store.MethodPayPal: fake,
		}
	}
	return map[string]gateway.Gateway{
		store.MethodStripe: gateway.NewStripe(cfg.Stripe.SecretKey, cfg.Stripe.BaseURL),
		store.MethodPayPal: gateway.NewPayPal(cfg.PayPal.ClientID, cfg.PayPal.ClientSecret, cfg.PayPal.BaseURL),
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Version:   getVersion(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	sendJSON(w, http.StatusOK, resp)
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"name":   "Taskyard",
		"about":  "Neighbourhood task marketplace",
		"health": "/health",
	})
}

func getVersion() string {
	if v := os.Getenv("VERSION"); v != "" {
		return v
	}
	return "dev"
}
