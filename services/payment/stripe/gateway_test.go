package stripepay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/trezcool/academia/core/order"
)

const testSecret = "whsec_test"

func sign(t *testing.T, payload string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestGateway_ParseEvent(t *testing.T) {
	g := NewGateway("sk_test", testSecret)

	succeeded := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`
	failed := `{"id":"evt_2","object":"event","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_2","object":"payment_intent"}}}`
	other := `{"id":"evt_3","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`

	tests := []struct {
		name      string
		payload   string
		signature string
		wantEvt   order.PaymentEvent
		wantOk    bool
		wantSig   bool
	}{
		{name: "succeeded", payload: succeeded, signature: sign(t, succeeded), wantEvt: order.PaymentEvent{Ref: "pi_1", Status: order.PaymentSucceeded}, wantOk: true},
		{name: "failed", payload: failed, signature: sign(t, failed), wantEvt: order.PaymentEvent{Ref: "pi_2", Status: order.PaymentFailed}, wantOk: true},
		{name: "not a payment event", payload: other, signature: sign(t, other)},
		{name: "bad signature", payload: succeeded, signature: "t=1,v1=deadbeef", wantSig: true},
		{name: "signed another payload", payload: succeeded, signature: sign(t, failed), wantSig: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, ok, err := g.ParseEvent([]byte(tt.payload), tt.signature)
			if tt.wantSig {
				require.Error(t, err)
				assert.True(t, IsInvalidSignature(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.wantEvt, evt)
		})
	}
}
