// Package eventsvc publishes domain events.
package eventsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes events as JSON messages to an SNS topic.
// The event type and tenant are set as message attributes for subscription filter policies.
type SNSPublisher struct {
	client   snsAPI
	topicARN string
}

var _ core.EventPublisher = (*SNSPublisher)(nil)

func NewSNSPublisher(cfg aws.Config, topicARN string) *SNSPublisher {
	return &SNSPublisher{client: sns.NewFromConfig(cfg), topicARN: topicARN}
}

func (p *SNSPublisher) Publish(ctx context.Context, evt core.Event) error {
	msg, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "encoding event")
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(msg)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(evt.Type)},
			"tenant_id":  {DataType: aws.String("String"), StringValue: aws.String(evt.TenantID)},
		},
	})
	return errors.Wrapf(err, "publishing %s to sns", evt.Type)
}

// LogPublisher writes events to the logger; used when no topic is configured.
type LogPublisher struct {
	logger core.Logger
}

var _ core.EventPublisher = (*LogPublisher)(nil)

func NewLogPublisher(logger core.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt core.Event) error {
	msg, err := json.Marshal(evt.Payload)
	if err != nil {
		return errors.Wrap(err, "encoding event")
	}
	p.logger.Debug(fmt.Sprintf("event %s (tenant %s): %s", evt.Type, evt.TenantID, msg))
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []core.Event
}

var _ core.EventPublisher = (*Recorder)(nil)

func NewRecorder() *Recorder { return new(Recorder) }

func (r *Recorder) Publish(_ context.Context, evt core.Event) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

// Types returns the types of the recorded events, in publication order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		types = append(types, evt.Type)
	}
	return types
}

func (r *Recorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Event(nil), r.events...)
}
