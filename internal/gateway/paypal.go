package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// PayPal drives the Orders v2 REST API. Authentication is an OAuth2
// client-credentials token source, refreshed by the oauth2 transport.
type PayPal struct {
	baseURL string
	client  *http.Client
}

// NewPayPal builds a PayPal gateway. baseURL selects sandbox or live.
func NewPayPal(clientID, clientSecret, baseURL string) *PayPal {
	baseURL = strings.TrimRight(baseURL, "/")
	creds := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
	}

	client := creds.Client(context.Background())
	client.Timeout = 15 * time.Second

	return &PayPal{baseURL: baseURL, client: client}
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id,omitempty"`
	Amount      paypalAmount `json:"amount"`
}

type paypalOrderRequest struct {
	Intent        string               `json:"intent"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
}

type paypalOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
	Message string `json:"message"`
}

// CreateOrder creates a CAPTURE-intent order.
func (p *PayPal) CreateOrder(ctx context.Context, amountCents int64, currency, reference string) (*Order, error) {
	payload := paypalOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: reference,
			Amount: paypalAmount{
				CurrencyCode: strings.ToUpper(currency),
				Value:        centsToDecimal(amountCents),
			},
		}},
	}

	order, err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", payload)
	if err != nil {
		return nil, err
	}

	result := &Order{ExternalID: order.ID}
	for _, link := range order.Links {
		if link.Rel == "approve" {
			result.ApproveURL = link.Href
			break
		}
	}
	return result, nil
}

// Capture settles an approved order.
func (p *PayPal) Capture(ctx context.Context, externalID string) (*CaptureResult, error) {
	order, err := p.do(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(externalID)+"/capture", nil)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case "COMPLETED":
		return &CaptureResult{ExternalID: order.ID, Settled: true}, nil
	case "VOIDED":
		return nil, ErrDeclined
	default:
		return &CaptureResult{ExternalID: order.ID, Settled: false}, nil
	}
}

func (p *PayPal) do(ctx context.Context, method, path string, payload interface{}) (*paypalOrderResponse, error) {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode paypal request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build paypal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &Error{Provider: "paypal", Message: err.Error()}
	}
	defer resp.Body.Close()

	var order paypalOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, &Error{Provider: "paypal", Message: "invalid response"}
	}

	if resp.StatusCode >= 400 {
		message := "request failed"
		if order.Message != "" {
			message = order.Message
		}
		return nil, &Error{Provider: "paypal", Message: message}
	}
	return &order, nil
}

// centsToDecimal renders integer cents as PayPal's decimal string.
func centsToDecimal(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
