package queue

import "context"

// Publisher enqueues orchestration work. Implementations guarantee
// at-least-once delivery to a registered handler.
type Publisher interface {
	PublishSubmission(ctx context.Context, msg ActivitySubmission) error
	PublishPartnerQuote(ctx context.Context, msg PartnerQuote) error
}

// SubmissionHandler consumes activity submissions. A non-nil error requests
// redelivery.
type SubmissionHandler func(ctx context.Context, msg ActivitySubmission) error

// PartnerQuoteHandler consumes partner quote requests. A non-nil error
// requests redelivery.
type PartnerQuoteHandler func(ctx context.Context, msg PartnerQuote) error
