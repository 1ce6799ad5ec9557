package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TrickeySolutions/aggregator-demo/activity"
	"github.com/TrickeySolutions/aggregator-demo/queue"
)

// Fan-out bounds for one submission.
const (
	minPartners = 5
	maxPartners = 45
)

const (
	orchestrationAttempts = 3
	retryInitialDelay     = 100 * time.Millisecond
	retryMaxDelay         = 2 * time.Second
)

var errEmptySubmission = errors.New("workflow: submission carries no form data")

// ActivityGateway is the slice of the activity actor the orchestrators write
// through. Satisfied by the activity service.
type ActivityGateway interface {
	BeginQuoteCollection(ctx context.Context, activityID string, expected int) error
	UpdateQuote(ctx context.Context, activityID, partnerID string, upd activity.QuoteUpdate) (activity.State, error)
	MarkError(ctx context.Context, activityID string) error
}

// QuoteRunner carries one partner's quote orchestration. Direct dispatch
// runs it inline; the queue path replays it on a consumer.
type QuoteRunner interface {
	HandleQuote(ctx context.Context, msg queue.PartnerQuote) error
}

// SubmissionOrchestrator turns one submission into N independent partner
// quote orchestrations. It is stateless; any number may run concurrently,
// serializing against each activity through the actor engine.
type SubmissionOrchestrator struct {
	activities ActivityGateway
	quotes     QuoteRunner
	publisher  queue.Publisher
	logger     *zap.Logger

	// partnerCount is swappable so tests can pin the fan-out size.
	partnerCount func() int
}

// NewSubmissionOrchestrator wires the submission workflow.
func NewSubmissionOrchestrator(activities ActivityGateway, quotes QuoteRunner, publisher queue.Publisher, logger *zap.Logger) *SubmissionOrchestrator {
	return &SubmissionOrchestrator{
		activities:   activities,
		quotes:       quotes,
		publisher:    publisher,
		logger:       logger,
		partnerCount: func() int { return minPartners + rand.Intn(maxPartners-minPartners+1) },
	}
}

// HandleSubmission validates the submission, records the invited partner
// count before any fan-out, then dispatches one quote orchestration per
// partner in parallel. Safe under redelivery: a submission whose partner
// count is already recorded is acknowledged without a second fan-out.
// A non-nil return asks the queue for redelivery; permanent failures mark
// the activity errored and return nil.
func (o *SubmissionOrchestrator) HandleSubmission(ctx context.Context, msg queue.ActivitySubmission) error {
	if msg.ActivityID == "" {
		o.logger.Error("submission with no activity id dropped")
		return nil
	}
	if err := validateSubmission(msg.FormData); err != nil {
		// Malformed input never heals on retry.
		o.logger.Error("invalid submission",
			zap.String("activity_id", msg.ActivityID),
			zap.Error(err))
		if markErr := o.activities.MarkError(ctx, msg.ActivityID); markErr != nil {
			return markErr
		}
		return nil
	}

	count := o.partnerCount()
	retrier := retry.NewRetrier(orchestrationAttempts, retryInitialDelay, retryMaxDelay)
	err := retrier.RunContext(ctx, func(ctx context.Context) error {
		err := o.activities.BeginQuoteCollection(ctx, msg.ActivityID, count)
		if errors.Is(err, activity.ErrExpectedCountSet) {
			return retry.Stop(err)
		}
		return err
	})
	if errors.Is(err, activity.ErrExpectedCountSet) {
		o.logger.Info("submission already fanned out, skipping",
			zap.String("activity_id", msg.ActivityID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("workflow: begin quote collection %s: %w", msg.ActivityID, err)
	}

	partnerIDs := make([]string, count)
	for i := range partnerIDs {
		partnerIDs[i] = uuid.NewString()
	}

	o.logger.Info("dispatching partner quotes",
		zap.String("activity_id", msg.ActivityID),
		zap.Int("partner_count", count))

	g, gctx := errgroup.WithContext(ctx)
	for _, partnerID := range partnerIDs {
		g.Go(func() error {
			o.dispatchQuote(gctx, queue.PartnerQuote{
				ActivityID: msg.ActivityID,
				PartnerID:  partnerID,
				QuoteData:  msg.FormData,
			})
			return nil
		})
	}
	return g.Wait()
}

// dispatchQuote tries direct orchestration with backoff, then falls back to
// the queue. A partner whose dispatch is lost both ways stays at processing
// until the activity timeout sweeps it; sibling partners are unaffected.
func (o *SubmissionOrchestrator) dispatchQuote(ctx context.Context, msg queue.PartnerQuote) {
	retrier := retry.NewRetrier(orchestrationAttempts, retryInitialDelay, retryMaxDelay)
	err := retrier.RunContext(ctx, func(ctx context.Context) error {
		return o.quotes.HandleQuote(ctx, msg)
	})
	if err == nil {
		return
	}
	o.logger.Warn("direct quote dispatch failed, queueing",
		zap.String("activity_id", msg.ActivityID),
		zap.String("partner_id", msg.PartnerID),
		zap.Error(err))
	if err := o.publisher.PublishPartnerQuote(ctx, msg); err != nil {
		o.logger.Error("quote dispatch undeliverable",
			zap.String("activity_id", msg.ActivityID),
			zap.String("partner_id", msg.PartnerID),
			zap.Error(err))
	}
}

func validateSubmission(formData json.RawMessage) error {
	if len(formData) == 0 {
		return errEmptySubmission
	}
	var form map[string]json.RawMessage
	if err := json.Unmarshal(formData, &form); err != nil {
		return fmt.Errorf("workflow: malformed form data: %w", err)
	}
	if len(form) == 0 {
		return errEmptySubmission
	}
	return nil
}
