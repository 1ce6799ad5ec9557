package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const memMaxDeliveries = 5

// MemQueue is an in-process Publisher for development and tests. It mimics
// the broker contract: each message is handed to the handler on a worker
// goroutine and re-enqueued with a short delay when the handler errors, up to
// a delivery cap.
type MemQueue struct {
	logger *zap.Logger

	mu          sync.RWMutex
	onSubmit    SubmissionHandler
	onQuote     PartnerQuoteHandler
	redeliverIn time.Duration

	wg     sync.WaitGroup
	closed chan struct{}
}

// NewMemQueue creates an in-process queue.
func NewMemQueue(logger *zap.Logger) *MemQueue {
	return &MemQueue{
		logger:      logger,
		redeliverIn: 100 * time.Millisecond,
		closed:      make(chan struct{}),
	}
}

// ConsumeSubmissions registers the submission handler.
func (q *MemQueue) ConsumeSubmissions(h SubmissionHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onSubmit = h
}

// ConsumePartnerQuotes registers the partner quote handler.
func (q *MemQueue) ConsumePartnerQuotes(h PartnerQuoteHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onQuote = h
}

func (q *MemQueue) PublishSubmission(_ context.Context, msg ActivitySubmission) error {
	q.mu.RLock()
	h := q.onSubmit
	q.mu.RUnlock()
	if h == nil {
		return fmt.Errorf("queue: no submission consumer registered")
	}
	q.deliver(func(ctx context.Context) error { return h(ctx, msg) }, "submission", msg.ActivityID, 1)
	return nil
}

func (q *MemQueue) PublishPartnerQuote(_ context.Context, msg PartnerQuote) error {
	q.mu.RLock()
	h := q.onQuote
	q.mu.RUnlock()
	if h == nil {
		return fmt.Errorf("queue: no partner quote consumer registered")
	}
	q.deliver(func(ctx context.Context) error { return h(ctx, msg) }, "partner_quote", msg.ActivityID, 1)
	return nil
}

func (q *MemQueue) deliver(invoke func(context.Context) error, kind, activityID string, attempt int) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		select {
		case <-q.closed:
			return
		default:
		}
		if err := invoke(context.Background()); err != nil {
			if attempt >= memMaxDeliveries {
				q.logger.Error("dropping message after delivery cap",
					zap.String("kind", kind),
					zap.String("activity_id", activityID),
					zap.Int("attempts", attempt),
					zap.Error(err))
				return
			}
			q.logger.Warn("redelivering message",
				zap.String("kind", kind),
				zap.String("activity_id", activityID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			select {
			case <-time.After(q.redeliverIn):
			case <-q.closed:
				return
			}
			q.deliver(invoke, kind, activityID, attempt+1)
		}
	}()
}

// Close stops redeliveries and waits for in-flight handlers.
func (q *MemQueue) Close() {
	close(q.closed)
	q.wg.Wait()
}
