package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const (
	streamName        = "QUOTES"
	subjectSubmission = "quotes.submission"
	subjectPartner    = "quotes.partner"

	consumerSubmissions = "submission-workers"
	consumerQuotes      = "quote-workers"

	maxDeliveries = 5
	ackWait       = 30 * time.Second
)

// JetStreamQueue is the NATS JetStream-backed Publisher. Messages are
// acknowledged on handler success and negatively acknowledged for redelivery
// on handler failure.
type JetStreamQueue struct {
	js     jetstream.JetStream
	stream jetstream.Stream
	logger *zap.Logger

	contexts []jetstream.ConsumeContext
}

// NewJetStreamQueue connects the queue to an existing NATS connection and
// ensures the stream exists.
func NewJetStreamQueue(ctx context.Context, nc *nats.Conn, logger *zap.Logger) (*JetStreamQueue, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("queue: jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectSubmission, subjectPartner},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: ensure stream %s: %w", streamName, err)
	}

	return &JetStreamQueue{js: js, stream: stream, logger: logger}, nil
}

func (q *JetStreamQueue) PublishSubmission(ctx context.Context, msg ActivitySubmission) error {
	return q.publish(ctx, subjectSubmission, msg)
}

func (q *JetStreamQueue) PublishPartnerQuote(ctx context.Context, msg PartnerQuote) error {
	return q.publish(ctx, subjectPartner, msg)
}

func (q *JetStreamQueue) publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("queue: encode %s: %w", subject, err)
	}
	if _, err := q.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("queue: publish %s: %w", subject, err)
	}
	return nil
}

// ConsumeSubmissions starts the durable submission consumer.
func (q *JetStreamQueue) ConsumeSubmissions(ctx context.Context, h SubmissionHandler) error {
	return q.consume(ctx, consumerSubmissions, subjectSubmission, func(ctx context.Context, data []byte) error {
		var msg ActivitySubmission
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("queue: decode submission: %w", err)
		}
		return h(ctx, msg)
	})
}

// ConsumePartnerQuotes starts the durable partner quote consumer.
func (q *JetStreamQueue) ConsumePartnerQuotes(ctx context.Context, h PartnerQuoteHandler) error {
	return q.consume(ctx, consumerQuotes, subjectPartner, func(ctx context.Context, data []byte) error {
		var msg PartnerQuote
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("queue: decode partner quote: %w", err)
		}
		return h(ctx, msg)
	})
}

func (q *JetStreamQueue) consume(ctx context.Context, durable, subject string, handle func(context.Context, []byte) error) error {
	cons, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    maxDeliveries,
		AckWait:       ackWait,
	})
	if err != nil {
		return fmt.Errorf("queue: ensure consumer %s: %w", durable, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		if err := handle(context.Background(), msg.Data()); err != nil {
			q.logger.Warn("handler failed, requesting redelivery",
				zap.String("subject", subject),
				zap.Error(err))
			if err := msg.Nak(); err != nil {
				q.logger.Error("nak failed", zap.String("subject", subject), zap.Error(err))
			}
			return
		}
		if err := msg.Ack(); err != nil {
			q.logger.Error("ack failed", zap.String("subject", subject), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("queue: consume %s: %w", durable, err)
	}

	q.contexts = append(q.contexts, cc)
	return nil
}

// Close stops all consumers.
func (q *JetStreamQueue) Close() {
	for _, cc := range q.contexts {
		cc.Stop()
	}
}
