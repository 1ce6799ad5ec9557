package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestMemQueue_DeliversSubmission(t *testing.T) {
	q := NewMemQueue(zap.NewNop())
	defer q.Close()

	got := make(chan ActivitySubmission, 1)
	q.ConsumeSubmissions(func(_ context.Context, msg ActivitySubmission) error {
		got <- msg
		return nil
	})

	msg := ActivitySubmission{ActivityID: "a1", FormData: json.RawMessage(`{"organisation":{}}`)}
	if err := q.PublishSubmission(context.Background(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case delivered := <-got:
		if delivered.ActivityID != "a1" {
			t.Fatalf("unexpected activity id %q", delivered.ActivityID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submission not delivered")
	}
}

func TestMemQueue_RedeliversOnError(t *testing.T) {
	q := NewMemQueue(zap.NewNop())
	q.redeliverIn = 5 * time.Millisecond
	defer q.Close()

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})
	q.ConsumePartnerQuotes(func(_ context.Context, msg PartnerQuote) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})

	msg := PartnerQuote{ActivityID: "a1", PartnerID: "p1", QuoteData: json.RawMessage(`{}`)}
	if err := q.PublishPartnerQuote(context.Background(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not redelivered to success")
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestMemQueue_NoConsumerFails(t *testing.T) {
	q := NewMemQueue(zap.NewNop())
	defer q.Close()

	err := q.PublishSubmission(context.Background(), ActivitySubmission{ActivityID: "a1"})
	if err == nil {
		t.Fatal("expected error when no consumer is registered")
	}
}
