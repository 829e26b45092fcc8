// Package stripepay is the Stripe payment gateway: payment intents and their webhook events.
package stripepay

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/paymentintent"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/trezcool/academia/core/order"
)

// SignatureHeader carries the webhook signature.
const SignatureHeader = "Stripe-Signature"

var errInvalidSignature = errors.New("invalid webhook signature")

type Gateway struct {
	webhookSecret string
}

var _ order.Gateway = (*Gateway)(nil)

func NewGateway(secretKey, webhookSecret string) *Gateway {
	stripe.Key = secretKey
	return &Gateway{webhookSecret: webhookSecret}
}

func (g *Gateway) CreateIntent(ctx context.Context, req order.IntentRequest) (order.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("order_number", req.Number)
	params.AddMetadata("tenant_id", req.TenantID)
	params.SetIdempotencyKey("order-" + req.OrderID)

	pi, err := paymentintent.New(params)
	if err != nil {
		return order.Intent{}, errors.Wrap(err, "creating stripe payment intent")
	}
	return order.Intent{Ref: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *Gateway) CancelIntent(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(ref, params)
	return errors.Wrap(err, "cancelling stripe payment intent")
}

// ParseEvent verifies a Stripe webhook payload and extracts its payment intent outcome.
func (g *Gateway) ParseEvent(payload []byte, signature string) (order.PaymentEvent, bool, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return order.PaymentEvent{}, false, errors.Wrap(errInvalidSignature, err.Error())
	}

	var status string
	switch event.Type {
	case "payment_intent.succeeded":
		status = order.PaymentSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		status = order.PaymentFailed
	default:
		return order.PaymentEvent{}, false, nil
	}

	var pi stripe.PaymentIntent
	if err = json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return order.PaymentEvent{}, false, errors.Wrap(err, "decoding payment intent")
	}
	return order.PaymentEvent{Ref: pi.ID, Status: status}, true, nil
}

// IsInvalidSignature reports whether ParseEvent failed on the payload signature.
func IsInvalidSignature(err error) bool {
	return errors.Cause(err) == errInvalidSignature
}
