package eventsvc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core"
)

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSNSPublisher_Publish(t *testing.T) {
	fake := new(fakeSNS)
	p := &SNSPublisher{client: fake, topicARN: "arn:aws:sns:us-east-1:000000000000:academia"}

	evt := core.NewEvent("order.paid", "tenant-1", map[string]string{"order_id": "o-1"})
	require.NoError(t, p.Publish(context.Background(), evt))
	require.Len(t, fake.inputs, 1)

	in := fake.inputs[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:academia", aws.ToString(in.TopicArn))
	assert.Equal(t, "order.paid", aws.ToString(in.MessageAttributes["event_type"].StringValue))
	assert.Equal(t, "tenant-1", aws.ToString(in.MessageAttributes["tenant_id"].StringValue))

	var got struct {
		Type     string            `json:"type"`
		TenantID string            `json:"tenant_id"`
		Payload  map[string]string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.Message)), &got))
	assert.Equal(t, "order.paid", got.Type)
	assert.Equal(t, "tenant-1", got.TenantID)
	assert.Equal(t, "o-1", got.Payload["order_id"])

	fake.err = errors.New("boom")
	assert.Error(t, p.Publish(context.Background(), evt))
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	_ = r.Publish(context.Background(), core.NewEvent("a", "t", nil))
	_ = r.Publish(context.Background(), core.NewEvent("b", "t", nil))
	assert.Equal(t, []string{"a", "b"}, r.Types())
	assert.Len(t, r.Events(), 2)
}
