package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/TrickeySolutions/aggregator-demo/actor"
	"github.com/TrickeySolutions/aggregator-demo/queue"
	"github.com/TrickeySolutions/aggregator-demo/storage"
	"github.com/TrickeySolutions/aggregator-demo/turnstile"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	messages []queue.ActivitySubmission
	notify   chan struct{}
	err      error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{notify: make(chan struct{}, 16)}
}

func (d *fakeDispatcher) DispatchSubmission(_ context.Context, msg queue.ActivitySubmission) error {
	d.mu.Lock()
	d.messages = append(d.messages, msg)
	d.mu.Unlock()
	d.notify <- struct{}{}
	return d.err
}

func (d *fakeDispatcher) waitForDispatch(t *testing.T) queue.ActivitySubmission {
	t.Helper()
	select {
	case <-d.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher was not invoked")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.messages[len(d.messages)-1]
}

func acceptAll(context.Context, string) error { return nil }

func newTestService(t *testing.T, verifier turnstile.Verifier, dispatcher SubmitDispatcher) *Service {
	t.Helper()
	if verifier == nil {
		verifier = turnstile.VerifierFunc(acceptAll)
	}
	if dispatcher == nil {
		dispatcher = newFakeDispatcher()
	}
	return NewService(actor.NewEngine(), storage.NewMemStore(), NewHub(), verifier, dispatcher, nil, 24*time.Hour, zap.NewNop())
}

func mustInit(t *testing.T, s *Service, activityID, customerID string) {
	t.Helper()
	if err := s.Initialize(context.Background(), activityID, customerID); err != nil {
		t.Fatalf("initialize: %v", err)
	}
}

func TestInitializeAndGetState(t *testing.T) {
	s := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := s.GetState(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mustInit(t, s, "act-1", "cust-1")
	st, err := s.GetState(ctx, "act-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st.Status != StatusDraft {
		t.Errorf("status = %q, want %q", st.Status, StatusDraft)
	}
	if st.CurrentSection != SectionOrganisation {
		t.Errorf("section = %q, want %q", st.CurrentSection, SectionOrganisation)
	}
	if st.CustomerID != "cust-1" {
		t.Errorf("customer = %q, want cust-1", st.CustomerID)
	}

	// Re-initializing must not reset anything.
	if _, err := s.ApplyFormUpdate(ctx, "act-1", FormData{
		SectionOrganisation: {"name": String("Acme")},
	}, ""); err != nil {
		t.Fatalf("form update: %v", err)
	}
	mustInit(t, s, "act-1", "cust-2")
	st, _ = s.GetState(ctx, "act-1")
	if st.CustomerID != "cust-1" {
		t.Errorf("re-init changed owner to %q", st.CustomerID)
	}
	if got := st.FormData[SectionOrganisation]["name"]; !got.Equal(String("Acme")) {
		t.Errorf("re-init lost form data, name = %v", got)
	}
}

func TestApplyFormUpdateMergesAndDropsUnknown(t *testing.T) {
	s := newTestService(t, nil, nil)
	ctx := context.Background()
	mustInit(t, s, "act-1", "cust-1")

	if _, err := s.ApplyFormUpdate(ctx, "act-1", FormData{
		SectionOrganisation: {"name": String("Acme"), "revenue": Number(100000)},
	}, ""); err != nil {
		t.Fatalf("first update: %v", err)
	}
	st, err := s.ApplyFormUpdate(ctx, "act-1", FormData{
		SectionOrganisation: {
			"revenue":       Number(250000),
			"notARealField": String("discard me"),
		},
		Section("made-up-section"): {"x": Bool(true)},
	}, "")
	if err != nil {
		t.Fatalf("second update: %v", err)
	}

	org := st.FormData[SectionOrganisation]
	if got := org["name"]; !got.Equal(String("Acme")) {
		t.Errorf("name = %v, want Acme preserved", got)
	}
	if got := org["revenue"]; !got.Equal(Number(250000)) {
		t.Errorf("revenue = %v, want 250000", got)
	}
	if _, ok := org["notARealField"]; ok {
		t.Error("unknown field survived the update")
	}
	if _, ok := st.FormData[Section("made-up-section")]; ok {
		t.Error("unknown section survived the update")
	}
}

func TestApplyFormUpdateIsIdempotent(t *testing.T) {
	s := newTestService(t, nil, nil)
	ctx := context.Background()
	mustInit(t, s, "act-1", "cust-1")

	update := FormData{SectionExposure: {
		"dataRecords":  Number(5000),
		"hadIncidents": Bool(true),
	}}
	first, err := s.ApplyFormUpdate(ctx, "act-1", update, "")
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	second, err := s.ApplyFormUpdate(ctx, "act-1", update, "")
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	for name, v := range first.FormData[SectionExposure] {
		if !second.FormData[SectionExposure][name].Equal(v) {
			t.Errorf("field %s changed on replay: %v vs %v", name, v, second.FormData[SectionExposure][name])
		}
	}
}

func TestApplyFormUpdateAdvancesSection(t *testing.T) {
	s := newTestService(t, nil, nil)
	ctx := context.Background()
	mustInit(t, s, "act-1", "cust-1")

	// Partial data stays put.
	st, err := s.ApplyFormUpdate(ctx, "act-1", FormData{
		SectionOrganisation: {"name": String("Acme")},
	}, "")
	if err != nil {
		t.Fatalf("partial update: %v", err)
	}
	if st.CurrentSection != SectionOrganisation {
		t.Fatalf("advanced on incomplete section, now at %q", st.CurrentSection)
	}

	// Completing the required fields advances to the next section.
	st, err = s.ApplyFormUpdate(ctx, "act-1", FormData{
		SectionOrganisation: {
			"industry":  String("Software"),
			"revenue":   Number(500000),
			"employees": Number(12),
		},
	}, "")
	if err != nil {
		t.Fatalf("completing update: %v", err)
	}
	if st.CurrentSection != SectionExposure {
		t.Errorf("section = %q, want %q", st.CurrentSection, SectionExposure)
	}

	// Explicit navigation wins, including going backwards.
	st, err = s.ApplyFormUpdate(ctx, "act-1", nil, SectionOrganisation)
	if err != nil {
		t.Fatalf("explicit navigation: %v", err)
	}
	if st.CurrentSection != SectionOrganisation {
		t.Errorf("section = %q, want explicit %q", st.CurrentSection, SectionOrganisation)
	}
}

func TestSaveDraftResetsStatus(t *testing.T) {
	s := newTestService(t, nil, nil)
	ctx := context.Background()
	mustInit(t, s, "act-1", "cust-1")

	if _, err := s.Submit(ctx, "act-1", "token"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	st, err := s.SaveDraft(ctx, "act-1")
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if st.Status != StatusDraft {
		t.Errorf("status = %q, want %q", st.Status, StatusDraft)
	}
}

func TestSubmitRejectedWithoutValidToken(t *testing.T) {
	verifyErr := errors.New("bad token")
	s := newTestService(t, turnstile.VerifierFunc(func(context.Context, string) error {
		return verifyErr
	}), nil)
	ctx := context.Background()
	mustInit(t, s, "act-1", "cust-1")

	if _, err := s.Submit(ctx, "act-1", "nope"); !errors.Is(err, verifyErr) {
		t.Fatalf("expected verification error, got %v", err)
	}
	st, _ := s.GetState(ctx, "act-1")
	if st.Status != StatusDraft {
		t.Errorf("rejected submit changed status to %q", st.Status)
	}
}

func TestSubmitDispatchesAndRedirects(t *testing.T) {
	dispatcher := newFakeDispatcher()
	s := newTestService(t, nil, dispatcher)
	ctx := context.Background()
	mustInit(t, s, "act-1", "cust-1")

	sub := s.Hub().Subscribe("act-1")
	defer sub.Close()

	// Seed a stale quote to prove submit clears the board.
	price := 500.0
	if _, err := s.UpdateQuote(ctx, "act-1", "p-old", QuoteUpdate{Status: QuoteComplete, Price: &price}); err != nil {
		t.Fatalf("seed quote: %v", err)
	}

	redirect, err := s.Submit(ctx, "act-1", "token")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if want := "/customer/cust-1/activity/act-1/results"; redirect != want {
		t.Errorf("redirect = %q, want %q", redirect, want)
	}

	msg := dispatcher.waitForDispatch(t)
	if msg.ActivityID != "act-1" {
		t.Errorf("dispatched activity = %q", msg.ActivityID)
	}
	if len(msg.FormData) == 0 {
		t.Error("dispatched submission has no form data")
	}

	st, _ := s.GetState(ctx, "act-1")
	if st.Status != StatusProcessing {
		t.Errorf("status = %q, want %q", st.Status, StatusProcessing)
	}
	if len(st.Quotes) != 0 {
		t.Errorf("submit kept %d stale quotes", len(st.Quotes))
	}

	sawSubmitSuccess := false
	deadline := time.After(2 * time.Second)
	for !sawSubmitSuccess {
		select {
		case ev := <-sub.Events():
			if ev.Type == EventSubmitSuccess {
				sawSubmitSuccess = true
				if ev.RedirectURL != redirect {
					t.Errorf("event redirect = %q, want %q", ev.RedirectURL, redirect)
				}
			}
		case <-deadline:
			t.Fatal("no submit_success event broadcast")
		}
	}
}

func TestBeginQuoteCollectionGuardsRedelivery(t *testing.T) {
	s := newTestService(t, nil, nil)
	ctx := context.Background()
	mustInit(t, s, "act-1", "cust-1")

	if err := s.BeginQuoteCollection(ctx, "act-1", 7); err != nil {
		t.Fatalf("begin: %v", err)
	}
	st, _ := s.GetState(ctx, "act-1")
	if st.Status != StatusGettingQuotes || st.ExpectedPartnerCount != 7 {
		t.Fatalf("state after begin: status=%q expected=%d", st.Status, st.ExpectedPartnerCount)
	}

	// Same count replays cleanly, a different count is refused.
	if err := s.BeginQuoteCollection(ctx, "act-1", 7); err != nil {
		t.Errorf("idempotent replay failed: %v", err)
	}
	if err := s.BeginQuoteCollection(ctx, "act-1", 9); !errors.Is(err, ErrExpectedCountSet) {
		t.Errorf("expected ErrExpectedCountSet, got %v", err)
	}
}

func TestUpdateQuotePreservesOmittedFields(t *testing.T) {
	s := newTestService(t, nil, nil)
	ctx := context.Background()
	mustInit(t, s, "act-1", "cust-1")

	if _, err := s.UpdateQuote(ctx, "act-1", "p-1", QuoteUpdate{
		PartnerName: "Shield Mutual",
		Status:      QuoteProcessing,
		LogoURL:     "/api/partner/p-1/logo.svg",
	}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	price := 1234.56
	st, err := s.UpdateQuote(ctx, "act-1", "p-1", QuoteUpdate{
		Status: QuoteComplete,
		Price:  &price,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	q := st.Quotes["p-1"]
	if q.PartnerName != "Shield Mutual" {
		t.Errorf("partner name lost: %q", q.PartnerName)
	}
	if q.LogoURL != "/api/partner/p-1/logo.svg" {
		t.Errorf("logo url lost: %q", q.LogoURL)
	}
	if q.Status != QuoteComplete || q.Price == nil || *q.Price != price {
		t.Errorf("quote not updated: %+v", q)
	}
}

func TestUpdateQuoteIgnoresTerminalRegression(t *testing.T) {
	s := newTestService(t, nil, nil)
	ctx := context.Background()
	mustInit(t, s, "act-1", "cust-1")

	price := 900.0
	if _, err := s.UpdateQuote(ctx, "act-1", "p-1", QuoteUpdate{Status: QuoteComplete, Price: &price}); err != nil {
		t.Fatalf("terminal quote: %v", err)
	}
	st, err := s.UpdateQuote(ctx, "act-1", "p-1", QuoteUpdate{Status: QuoteProcessing})
	if err != nil {
		t.Fatalf("stale update: %v", err)
	}
	q := st.Quotes["p-1"]
	if q.Status != QuoteComplete {
		t.Errorf("terminal quote regressed to %q", q.Status)
	}
	if q.Price == nil || *q.Price != price {
		t.Errorf("price lost on stale update: %+v", q)
	}
}

func TestUpdateQuoteDroppedAfterTimeout(t *testing.T) {
	s := newTestService(t, nil, nil)
	ctx := context.Background()
	mustInit(t, s, "act-1", "cust-1")
	if _, err := s.Submit(ctx, "act-1", "token"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.BeginQuoteCollection(ctx, "act-1", 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	s.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	timedOut, err := s.CheckTimeout(ctx, "act-1")
	if err != nil || !timedOut {
		t.Fatalf("timeout check = %v, %v", timedOut, err)
	}

	// A straggler partner result delivered after the deadline must not
	// revive the activity.
	price := 750.0
	st, err := s.UpdateQuote(ctx, "act-1", "p-1", QuoteUpdate{Status: QuoteComplete, Price: &price})
	if err != nil {
		t.Fatalf("straggler update: %v", err)
	}
	if st.Status != StatusFailed {
		t.Errorf("status = %q, want %q", st.Status, StatusFailed)
	}
	if len(st.Quotes) != 0 {
		t.Errorf("straggler quote recorded: %+v", st.Quotes)
	}
	st, _ = s.GetState(ctx, "act-1")
	if st.Status != StatusFailed {
		t.Errorf("persisted status = %q, want %q", st.Status, StatusFailed)
	}
}

func TestUpdateQuoteRejectsPastCapacity(t *testing.T) {
	s := newTestService(t, nil, nil)
	ctx := context.Background()
	mustInit(t, s, "act-1", "cust-1")
	if err := s.BeginQuoteCollection(ctx, "act-1", 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := s.UpdateQuote(ctx, "act-1", "p-1", QuoteUpdate{Status: QuoteProcessing}); err != nil {
		t.Fatalf("first partner: %v", err)
	}
	if _, err := s.UpdateQuote(ctx, "act-1", "p-2", QuoteUpdate{Status: QuoteProcessing}); !errors.Is(err, ErrUnexpectedPartner) {
		t.Errorf("expected ErrUnexpectedPartner, got %v", err)
	}
	// Updates to an already-known partner still pass.
	if _, err := s.UpdateQuote(ctx, "act-1", "p-1", QuoteUpdate{Status: QuoteError}); err != nil {
		t.Errorf("known partner update failed: %v", err)
	}
}

func TestActivityCompletesWhenAllQuotesTerminal(t *testing.T) {
	s := newTestService(t, nil, nil)
	ctx := context.Background()
	mustInit(t, s, "act-1", "cust-1")
	if err := s.BeginQuoteCollection(ctx, "act-1", 3); err != nil {
		t.Fatalf("begin: %v", err)
	}

	price := 777.0
	st, _ := s.UpdateQuote(ctx, "act-1", "p-1", QuoteUpdate{Status: QuoteComplete, Price: &price})
	if st.Status != StatusGettingQuotes {
		t.Fatalf("completed after 1 of 3 quotes")
	}
	st, _ = s.UpdateQuote(ctx, "act-1", "p-2", QuoteUpdate{Status: QuoteError})
	if st.Status != StatusGettingQuotes {
		t.Fatalf("completed after 2 of 3 quotes")
	}
	st, err := s.UpdateQuote(ctx, "act-1", "p-3", QuoteUpdate{Status: QuoteComplete, Price: &price})
	if err != nil {
		t.Fatalf("final quote: %v", err)
	}
	if st.Status != StatusCompleted {
		t.Errorf("status = %q, want %q after all terminal", st.Status, StatusCompleted)
	}
}

func TestCheckTimeoutFiresOnlyPastWindow(t *testing.T) {
	s := newTestService(t, nil, nil)
	ctx := context.Background()
	mustInit(t, s, "act-1", "cust-1")
	if err := s.BeginQuoteCollection(ctx, "act-1", 5); err != nil {
		t.Fatalf("begin: %v", err)
	}

	fired, err := s.CheckTimeout(ctx, "act-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if fired {
		t.Fatal("timed out inside the window")
	}

	s.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	fired, err = s.CheckTimeout(ctx, "act-1")
	if err != nil {
		t.Fatalf("late check: %v", err)
	}
	if !fired {
		t.Fatal("did not time out past the window")
	}
	st, _ := s.GetState(ctx, "act-1")
	if st.Status != StatusFailed {
		t.Errorf("status = %q, want %q", st.Status, StatusFailed)
	}

	// Terminal states are left alone, even stale ones.
	fired, err = s.CheckTimeout(ctx, "act-1")
	if err != nil || fired {
		t.Errorf("timeout re-fired on failed activity: fired=%v err=%v", fired, err)
	}
}

func TestSweepOnceWalksAllActivities(t *testing.T) {
	s := newTestService(t, nil, nil)
	ctx := context.Background()
	mustInit(t, s, "act-1", "cust-1")
	mustInit(t, s, "act-2", "cust-1")
	mustInit(t, s, "act-3", "cust-2")
	if err := s.BeginQuoteCollection(ctx, "act-1", 5); err != nil {
		t.Fatalf("begin act-1: %v", err)
	}
	if err := s.BeginQuoteCollection(ctx, "act-2", 5); err != nil {
		t.Fatalf("begin act-2: %v", err)
	}
	s.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	sweeper, err := NewSweeper(s, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	timedOut, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if timedOut != 2 {
		t.Errorf("timed out %d activities, want 2", timedOut)
	}
	st, _ := s.GetState(ctx, "act-3")
	if st.Status != StatusDraft {
		t.Errorf("draft activity touched by sweep: %q", st.Status)
	}
}

func TestMarkError(t *testing.T) {
	s := newTestService(t, nil, nil)
	ctx := context.Background()
	mustInit(t, s, "act-1", "cust-1")
	if _, err := s.Submit(ctx, "act-1", "token"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.MarkError(ctx, "act-1"); err != nil {
		t.Fatalf("mark error: %v", err)
	}
	st, _ := s.GetState(ctx, "act-1")
	if st.Status != StatusError {
		t.Errorf("status = %q, want %q", st.Status, StatusError)
	}
	// Only in-flight activities can move to error.
	if err := s.MarkError(ctx, "act-1"); err != nil {
		t.Fatalf("second mark: %v", err)
	}
}
