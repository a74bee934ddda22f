package queue

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/forensicbot/core/internal/model"
)

// PubSubPublisher pushes a job-ID wake-up marker to the topic matching the
// job's priority, giving workers a latency-cutting nudge between their
// poll-fallback ticks. It is a pure availability optimization — Publish
// failures are swallowed by the caller (Queue.Enqueue) because Postgres
// already holds the durable record.
type PubSubPublisher struct {
	topicHigh    *pubsub.Topic
	topicDefault *pubsub.Topic
	topicLow     *pubsub.Topic
}

// NewPubSubPublisher wires one topic handle per priority lane.
func NewPubSubPublisher(topicHigh, topicDefault, topicLow *pubsub.Topic) *PubSubPublisher {
	return &PubSubPublisher{topicHigh: topicHigh, topicDefault: topicDefault, topicLow: topicLow}
}

func (p *PubSubPublisher) topicFor(priority model.Priority) *pubsub.Topic {
	switch priority {
	case model.PriorityHigh:
		return p.topicHigh
	case model.PriorityLow:
		return p.topicLow
	default:
		return p.topicDefault
	}
}

// Publish sends the job ID as the message body; subscribers only use it to
// decide whether to poll early, never as the payload of record.
func (p *PubSubPublisher) Publish(ctx context.Context, priority model.Priority, jobID string) error {
	topic := p.topicFor(priority)
	if topic == nil {
		return fmt.Errorf("queue.PubSubPublisher: no topic configured for priority %q", priority)
	}
	result := topic.Publish(ctx, &pubsub.Message{Data: []byte(jobID)})
	_, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("queue.PubSubPublisher.Publish: %w", err)
	}
	return nil
}
