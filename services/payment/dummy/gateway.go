// Package dummypay is a payment gateway for dev and tests: intents are never charged,
// their outcome is posted to the webhook as plain JSON.
package dummypay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/order"
)

const refPrefix = "dummy_"

var errInvalidPayload = errors.New("invalid dummy payment event")

type Gateway struct {
	mu        sync.Mutex
	intents   map[string]order.IntentRequest
	cancelled map[string]bool
}

var _ order.Gateway = (*Gateway)(nil)

func NewGateway() *Gateway {
	return &Gateway{
		intents:   make(map[string]order.IntentRequest),
		cancelled: make(map[string]bool),
	}
}

func (g *Gateway) CreateIntent(_ context.Context, req order.IntentRequest) (order.Intent, error) {
	ref := refPrefix + uuid.NewString()
	g.mu.Lock()
	g.intents[ref] = req
	g.mu.Unlock()
	return order.Intent{Ref: ref, ClientSecret: ref + "_secret"}, nil
}

func (g *Gateway) CancelIntent(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.intents[ref]; ok {
		g.cancelled[ref] = true
	}
	return nil
}

// Intent returns the request an intent was created for.
func (g *Gateway) Intent(ref string) (order.IntentRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.intents[ref]
	return req, ok
}

func (g *Gateway) IsCancelled(ref string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled[ref]
}

type eventPayload struct {
	Ref    string `json:"ref"`
	Status string `json:"status"`
}

// ParseEvent decodes {"ref": "dummy_...", "status": "succeeded|failed"}; the signature is ignored.
func (g *Gateway) ParseEvent(payload []byte, _ string) (order.PaymentEvent, bool, error) {
	var p eventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return order.PaymentEvent{}, false, errors.Wrap(errInvalidPayload, err.Error())
	}
	switch p.Status {
	case order.PaymentSucceeded, order.PaymentFailed:
	default:
		return order.PaymentEvent{}, false, nil
	}
	if p.Ref == "" {
		return order.PaymentEvent{}, false, errInvalidPayload
	}
	return order.PaymentEvent{Ref: p.Ref, Status: p.Status}, true, nil
}

// Payload builds a webhook payload settling `ref` with `status`.
func Payload(ref, status string) []byte {
	data, _ := json.Marshal(eventPayload{Ref: ref, Status: status})
	return data
}
