// Package payments wraps the Stripe primitives the booking flow uses: hosted
// checkout sessions, refunds, webhook signature verification, and the signed
// receipt-link tokens embedded in success redirects.
package payments

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/harborpoint/bookingbridge/pkg/booking"
)

// WebhookBodyLimit bounds webhook request bodies before verification.
const WebhookBodyLimit = 1 << 20

const defaultCurrency = "usd"

// Config aggregates Stripe settings.
type Config struct {
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string
}

// Client issues checkout and refund calls against Stripe.
type Client struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	currency      string
}

// New wires a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: stripe api key is required", booking.ErrInvalidServiceConfig)
	}
	if strings.TrimSpace(cfg.SuccessURL) == "" || strings.TrimSpace(cfg.CancelURL) == "" {
		return nil, fmt.Errorf("%w: checkout redirect urls are required", booking.ErrInvalidServiceConfig)
	}
	currency := cfg.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	api := &client.API{}
	api.Init(cfg.APIKey, nil)
	return &Client{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		currency:      currency,
	}, nil
}

// CheckoutInput describes the session to create for a reservation.
type CheckoutInput struct {
	ResID        string
	Description  string
	Email        string
	AmountCents  int64
	ReceiptToken string
}

// CheckoutSession is the handle returned to the website.
type CheckoutSession struct {
	SessionID string
	URL       string
}

// RefundInfo reports a created refund.
type RefundInfo struct {
	RefundID string
	Status   string
}

// CreateCheckoutSession creates a hosted checkout session whose success
// redirect carries the signed receipt token.
func (paymentsClient *Client) CreateCheckoutSession(ctx context.Context, input CheckoutInput) (CheckoutSession, error) {
	if input.AmountCents <= 0 {
		return CheckoutSession{}, fmt.Errorf("%w: checkout amount must be positive", booking.ErrValidation)
	}
	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(input.ResID),
		SuccessURL:        stripe.String(appendQueryToken(paymentsClient.successURL, input.ReceiptToken)),
		CancelURL:         stripe.String(paymentsClient.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(paymentsClient.currency),
				UnitAmount: stripe.Int64(input.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(input.Description),
				},
			},
		}},
	}
	if input.Email != "" {
		params.CustomerEmail = stripe.String(input.Email)
	}
	params.AddMetadata("RES_ID", input.ResID)
	created, err := paymentsClient.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: create checkout session: %v", booking.ErrDependency, err)
	}
	return CheckoutSession{SessionID: created.ID, URL: created.URL}, nil
}

// Refund refunds a payment by charge or payment-intent id.
func (paymentsClient *Client) Refund(ctx context.Context, paymentID string) (RefundInfo, error) {
	if strings.TrimSpace(paymentID) == "" {
		return RefundInfo{}, fmt.Errorf("%w: payment id is required", booking.ErrValidation)
	}
	params := &stripe.RefundParams{Params: stripe.Params{Context: ctx}}
	if strings.HasPrefix(paymentID, "pi_") {
		params.PaymentIntent = stripe.String(paymentID)
	} else {
		params.Charge = stripe.String(paymentID)
	}
	created, err := paymentsClient.api.Refunds.New(params)
	if err != nil {
		return RefundInfo{}, fmt.Errorf("%w: create refund: %v", booking.ErrDependency, err)
	}
	return RefundInfo{RefundID: created.ID, Status: string(created.Status)}, nil
}

// VerifyWebhook authenticates a webhook delivery by its signature header.
// Signature verification is the only authentication on that endpoint.
func (paymentsClient *Client) VerifyWebhook(payload []byte, signatureHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, paymentsClient.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: invalid stripe signature: %v", booking.ErrAuth, err)
	}
	return event, nil
}

func appendQueryToken(baseURL string, token string) string {
	if token == "" {
		return baseURL
	}
	separator := "?"
	if strings.Contains(baseURL, "?") {
		separator = "&"
	}
	return baseURL + separator + "token=" + url.QueryEscape(token)
}
