package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flowchartsman/retry"
	"go.uber.org/zap"

	"github.com/TrickeySolutions/aggregator-demo/activity"
	"github.com/TrickeySolutions/aggregator-demo/partner"
	"github.com/TrickeySolutions/aggregator-demo/queue"
)

var errEmptyQuoteRequest = errors.New("workflow: quote request carries no data")

// PartnerGateway is the quoting counterparty surface. Satisfied by the
// partner service.
type PartnerGateway interface {
	ProcessQuote(ctx context.Context, partnerID string, requestData json.RawMessage) (partner.QuoteResult, error)
}

// QuoteOrchestrator carries a single partner's quote request to completion:
// mark processing, call the partner, write the result back. Each step
// retries independently; exhausting one step's budget abandons this partner
// only and leaves its quote in the last written state for the activity
// timeout to sweep.
type QuoteOrchestrator struct {
	activities ActivityGateway
	partners   PartnerGateway
	logger     *zap.Logger
}

// NewQuoteOrchestrator wires the per-partner quote workflow.
func NewQuoteOrchestrator(activities ActivityGateway, partners PartnerGateway, logger *zap.Logger) *QuoteOrchestrator {
	return &QuoteOrchestrator{activities: activities, partners: partners, logger: logger}
}

// HandleQuote runs the full pipeline for one partner. Idempotent under
// redelivery: every write is an upsert and terminal statuses never regress.
func (o *QuoteOrchestrator) HandleQuote(ctx context.Context, msg queue.PartnerQuote) error {
	if msg.ActivityID == "" || msg.PartnerID == "" {
		o.logger.Error("quote request missing ids dropped",
			zap.String("activity_id", msg.ActivityID),
			zap.String("partner_id", msg.PartnerID))
		return nil
	}

	if err := o.step(ctx, func(ctx context.Context) error {
		_, err := o.activities.UpdateQuote(ctx, msg.ActivityID, msg.PartnerID, activity.QuoteUpdate{
			Status: activity.QuoteProcessing,
		})
		return err
	}); err != nil {
		return fmt.Errorf("workflow: mark quote processing: %w", err)
	}

	if err := validateQuoteRequest(msg.QuoteData); err != nil {
		// Permanent: record the failure against this partner and stop.
		o.logger.Error("invalid quote request",
			zap.String("activity_id", msg.ActivityID),
			zap.String("partner_id", msg.PartnerID),
			zap.Error(err))
		return o.writeFailure(ctx, msg)
	}

	var result partner.QuoteResult
	if err := o.step(ctx, func(ctx context.Context) error {
		var err error
		result, err = o.partners.ProcessQuote(ctx, msg.PartnerID, msg.QuoteData)
		return err
	}); err != nil {
		return fmt.Errorf("workflow: partner %s quote: %w", msg.PartnerID, err)
	}
	if result.PartnerID != msg.PartnerID {
		// A counterparty answering for someone else is unrecoverable.
		o.logger.Error("partner identity mismatch",
			zap.String("requested", msg.PartnerID),
			zap.String("answered", result.PartnerID))
		return o.writeFailure(ctx, msg)
	}

	price := result.Price
	if err := o.step(ctx, func(ctx context.Context) error {
		_, err := o.activities.UpdateQuote(ctx, msg.ActivityID, msg.PartnerID, activity.QuoteUpdate{
			PartnerName: result.PartnerName,
			Status:      activity.QuoteComplete,
			Price:       &price,
			LogoURL:     result.LogoURL,
			UpdatedAt:   result.UpdatedAt,
		})
		return err
	}); err != nil {
		return fmt.Errorf("workflow: write quote result: %w", err)
	}
	return nil
}

// writeFailure best-effort marks this partner's quote errored. Counts as
// handled either way; redelivering a permanently bad request cannot help.
func (o *QuoteOrchestrator) writeFailure(ctx context.Context, msg queue.PartnerQuote) error {
	err := o.step(ctx, func(ctx context.Context) error {
		_, err := o.activities.UpdateQuote(ctx, msg.ActivityID, msg.PartnerID, activity.QuoteUpdate{
			Status: activity.QuoteError,
		})
		return err
	})
	if err != nil {
		o.logger.Error("failed to record quote error",
			zap.String("activity_id", msg.ActivityID),
			zap.String("partner_id", msg.PartnerID),
			zap.Error(err))
	}
	return nil
}

func (o *QuoteOrchestrator) step(ctx context.Context, fn func(context.Context) error) error {
	retrier := retry.NewRetrier(orchestrationAttempts, retryInitialDelay, retryMaxDelay)
	return retrier.RunContext(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, activity.ErrNotFound) || errors.Is(err, activity.ErrUnexpectedPartner) {
			return retry.Stop(err)
		}
		return err
	})
}

func validateQuoteRequest(quoteData json.RawMessage) error {
	if len(quoteData) == 0 {
		return errEmptyQuoteRequest
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(quoteData, &payload); err != nil {
		return fmt.Errorf("workflow: malformed quote data: %w", err)
	}
	if len(payload) == 0 {
		return errEmptyQuoteRequest
	}
	return nil
}

// Dispatcher is the activity actor's submit hand-off: it tries to run the
// submission orchestration inline and queues it when that fails, so a submit
// is never lost while either path is up.
type Dispatcher struct {
	submissions *SubmissionOrchestrator
	publisher   queue.Publisher
	logger      *zap.Logger
}

// NewDispatcher wires the submit hand-off.
func NewDispatcher(submissions *SubmissionOrchestrator, publisher queue.Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{submissions: submissions, publisher: publisher, logger: logger}
}

// DispatchSubmission implements the activity service's dispatch contract.
func (d *Dispatcher) DispatchSubmission(ctx context.Context, msg queue.ActivitySubmission) error {
	err := d.submissions.HandleSubmission(ctx, msg)
	if err == nil {
		return nil
	}
	d.logger.Warn("inline submission failed, queueing",
		zap.String("activity_id", msg.ActivityID),
		zap.Error(err))
	if pubErr := d.publisher.PublishSubmission(ctx, msg); pubErr != nil {
		return fmt.Errorf("workflow: submission undeliverable: %w", pubErr)
	}
	return nil
}
