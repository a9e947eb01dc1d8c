package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Stripe drives PaymentIntents over the Stripe REST API.
type Stripe struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

// NewStripe builds a Stripe gateway. baseURL is overridable for tests.
func NewStripe(secretKey, baseURL string) *Stripe {
	return &Stripe{
		secretKey: secretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

type stripeIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Error        *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CreateOrder creates a PaymentIntent for the amount.
func (s *Stripe) CreateOrder(ctx context.Context, amountCents int64, currency, reference string) (*Order, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", strings.ToLower(currency))
	form.Set("metadata[reference]", reference)
	form.Set("automatic_payment_methods[enabled]", "true")

	intent, err := s.do(ctx, http.MethodPost, "/v1/payment_intents", form)
	if err != nil {
		return nil, err
	}

	return &Order{
		ExternalID:   intent.ID,
		ClientSecret: intent.ClientSecret,
	}, nil
}

// Capture confirms the intent settled. Stripe confirms client-side via
// Elements, so capture is a status check.
func (s *Stripe) Capture(ctx context.Context, externalID string) (*CaptureResult, error) {
	intent, err := s.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(externalID), nil)
	if err != nil {
		return nil, err
	}

	switch intent.Status {
	case "succeeded":
		return &CaptureResult{ExternalID: intent.ID, Settled: true}, nil
	case "canceled":
		return nil, ErrDeclined
	default:
		return &CaptureResult{ExternalID: intent.ID, Settled: false}, nil
	}
}

func (s *Stripe) do(ctx context.Context, method, path string, form url.Values) (*stripeIntent, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build stripe request: %w", err)
	}
	req.SetBasicAuth(s.secretKey, "")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &Error{Provider: "stripe", Message: err.Error()}
	}
	defer resp.Body.Close()

	var intent stripeIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, &Error{Provider: "stripe", Message: "invalid response"}
	}

	if resp.StatusCode >= 400 {
		message := "request failed"
		if intent.Error != nil && intent.Error.Message != "" {
			message = intent.Error.Message
		}
		return nil, &Error{Provider: "stripe", Message: message}
	}
	return &intent, nil
}
