package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TrickeySolutions/aggregator-demo/actor"
	"github.com/TrickeySolutions/aggregator-demo/queue"
	"github.com/TrickeySolutions/aggregator-demo/storage"
	"github.com/TrickeySolutions/aggregator-demo/textgen"
	"github.com/TrickeySolutions/aggregator-demo/turnstile"
)

var (
	// ErrNotFound signals the activity has never been initialized.
	ErrNotFound = errors.New("activity: not found")
	// ErrNoCustomer signals a submit on an activity with no owning customer.
	ErrNoCustomer = errors.New("activity: no owning customer recorded")
	// ErrExpectedCountSet signals a second attempt to begin quote collection
	// for the same submission cycle.
	ErrExpectedCountSet = errors.New("activity: expected partner count already set")
	// ErrUnexpectedPartner signals a quote write for a partner beyond the
	// invited set.
	ErrUnexpectedPartner = errors.New("activity: quote exceeds expected partner count")
)

// SubmitDispatcher hands a completed submission to the orchestration layer.
// The activity actor fires and forgets; quote completion flows back through
// UpdateQuote.
type SubmitDispatcher interface {
	DispatchSubmission(ctx context.Context, msg queue.ActivitySubmission) error
}

const storeKeyPrefix = "activity:"

// StoreKey returns the durable-store key for an activity id.
func StoreKey(activityID string) string { return storeKeyPrefix + activityID }

// Service is the single-writer owner of activity state. Every operation on
// one activity runs serialized on that activity's mailbox; operations on
// different activities proceed in parallel. Each operation loads the last
// committed snapshot, mutates it, persists, then broadcasts — a failed
// persist therefore never corrupts the committed state.
type Service struct {
	engine     *actor.Engine
	store      storage.Store
	hub        *Hub
	verifier   turnstile.Verifier
	dispatcher SubmitDispatcher
	sampler    textgen.Generator
	logger     *zap.Logger

	timeoutWindow time.Duration
	now           func() time.Time
}

// NewService wires the activity actor.
func NewService(engine *actor.Engine, store storage.Store, hub *Hub, verifier turnstile.Verifier, dispatcher SubmitDispatcher, sampler textgen.Generator, timeoutWindow time.Duration, logger *zap.Logger) *Service {
	return &Service{
		engine:        engine,
		store:         store,
		hub:           hub,
		verifier:      verifier,
		dispatcher:    dispatcher,
		sampler:       sampler,
		logger:        logger,
		timeoutWindow: timeoutWindow,
		now:           time.Now,
	}
}

// Hub exposes the subscriber registry for the transport layer.
func (s *Service) Hub() *Hub { return s.hub }

// SetDispatcher installs the submit hand-off. The orchestration layer is
// built after this service (it writes back through it), so the dispatcher
// arrives late; it must be set before the first submit.
func (s *Service) SetDispatcher(d SubmitDispatcher) { s.dispatcher = d }

func (s *Service) load(ctx context.Context, activityID string) (State, error) {
	var st State
	if err := storage.GetJSON(ctx, s.store, StoreKey(activityID), &st); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return State{}, ErrNotFound
		}
		return State{}, err
	}
	if st.FormData == nil {
		st.FormData = FormData{}
	}
	if st.Quotes == nil {
		st.Quotes = map[string]Quote{}
	}
	return st, nil
}

func (s *Service) persist(ctx context.Context, st *State) error {
	st.UpdatedAt = s.now()
	if err := storage.PutJSON(ctx, s.store, StoreKey(st.ID), st); err != nil {
		return fmt.Errorf("activity: persist %s: %w", st.ID, err)
	}
	return nil
}

func (s *Service) broadcastState(st State) {
	s.hub.Broadcast(st.ID, StateUpdateEvent(st.Clone()))
}

// Initialize creates the activity's draft state owned by the given customer.
// Re-initializing an existing activity is a no-op.
func (s *Service) Initialize(ctx context.Context, activityID, customerID string) error {
	if customerID == "" {
		return ErrNoCustomer
	}
	return s.engine.Do(ctx, StoreKey(activityID), func(ctx context.Context) error {
		if _, err := s.load(ctx, activityID); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		st := State{
			ID:             activityID,
			CustomerID:     customerID,
			CurrentSection: SectionOrganisation,
			FormData:       FormData{},
			Status:         StatusDraft,
			Quotes:         map[string]Quote{},
		}
		return s.persist(ctx, &st)
	})
}

// GetState returns the current snapshot.
func (s *Service) GetState(ctx context.Context, activityID string) (State, error) {
	var snapshot State
	err := s.engine.Do(ctx, StoreKey(activityID), func(ctx context.Context) error {
		st, err := s.load(ctx, activityID)
		if err != nil {
			return err
		}
		snapshot = st.Clone()
		return nil
	})
	return snapshot, err
}

// ApplyFormUpdate overlays each named section's field map onto the stored
// form data. Unknown sections and fields are dropped, known fields coerced to
// their declared kind; the update itself never fails on shape. When the
// current section's required fields become complete the wizard advances;
// requestedSection moves the wizard explicitly in either direction.
func (s *Service) ApplyFormUpdate(ctx context.Context, activityID string, updates FormData, requestedSection Section) (State, error) {
	var snapshot State
	err := s.engine.Do(ctx, StoreKey(activityID), func(ctx context.Context) error {
		st, err := s.load(ctx, activityID)
		if err != nil {
			return err
		}

		for section, fields := range updates {
			if !knownSection(section) {
				continue
			}
			coerced := coerceSection(section, fields)
			if len(coerced) == 0 {
				continue
			}
			existing, ok := st.FormData[section]
			if !ok {
				existing = make(map[string]FieldValue, len(coerced))
				st.FormData[section] = existing
			}
			for name, v := range coerced {
				existing[name] = v
			}
		}

		switch {
		case requestedSection != "" && knownSection(requestedSection):
			st.CurrentSection = requestedSection
		case sectionComplete(st.CurrentSection, st.FormData[st.CurrentSection]):
			if next, ok := nextSection(st.CurrentSection); ok {
				st.CurrentSection = next
			}
		}

		if err := s.persist(ctx, &st); err != nil {
			return err
		}
		s.broadcastState(st)
		snapshot = st.Clone()
		return nil
	})
	return snapshot, err
}

// SaveDraft pins the activity back to draft.
func (s *Service) SaveDraft(ctx context.Context, activityID string) (State, error) {
	var snapshot State
	err := s.engine.Do(ctx, StoreKey(activityID), func(ctx context.Context) error {
		st, err := s.load(ctx, activityID)
		if err != nil {
			return err
		}
		st.Status = StatusDraft
		if err := s.persist(ctx, &st); err != nil {
			return err
		}
		s.broadcastState(st)
		snapshot = st.Clone()
		return nil
	})
	return snapshot, err
}

// Submit verifies the supplied token, moves the activity to processing with
// an empty quote map, hands the form data to the orchestration layer
// asynchronously, and returns the results-page deep link. The caller never
// waits on quote completion.
func (s *Service) Submit(ctx context.Context, activityID, token string) (string, error) {
	var redirectURL string
	err := s.engine.Do(ctx, StoreKey(activityID), func(ctx context.Context) error {
		st, err := s.load(ctx, activityID)
		if err != nil {
			return err
		}
		if st.CustomerID == "" {
			return ErrNoCustomer
		}
		if s.dispatcher == nil {
			return errors.New("activity: no submit dispatcher installed")
		}
		if err := s.verifier.Verify(ctx, token); err != nil {
			return err
		}

		st.Status = StatusProcessing
		st.Quotes = map[string]Quote{}
		st.ExpectedPartnerCount = 0
		if err := s.persist(ctx, &st); err != nil {
			return err
		}

		formData, err := json.Marshal(st.FormData)
		if err != nil {
			return fmt.Errorf("activity: encode form data: %w", err)
		}
		msg := queue.ActivitySubmission{ActivityID: st.ID, FormData: formData}
		go func() {
			if err := s.dispatcher.DispatchSubmission(context.Background(), msg); err != nil {
				// Quote collection never starts; the timeout sweep will
				// eventually force this activity to failed.
				s.logger.Error("submission dispatch failed",
					zap.String("activity_id", st.ID),
					zap.Error(err))
			}
		}()

		redirectURL = fmt.Sprintf("/customer/%s/activity/%s/results", st.CustomerID, st.ID)
		s.broadcastState(st)
		s.hub.Broadcast(st.ID, SubmitSuccessEvent(st.ID, redirectURL))
		return nil
	})
	return redirectURL, err
}

// BeginQuoteCollection records the invited partner count and moves the
// activity to getting_quotes. The count is set exactly once per submission
// cycle; a second call with the same count is an idempotent no-op, a second
// call with a different count fails with ErrExpectedCountSet so a redelivered
// submission can never re-fan-out.
func (s *Service) BeginQuoteCollection(ctx context.Context, activityID string, expected int) error {
	if expected <= 0 {
		return fmt.Errorf("activity: expected partner count must be positive, got %d", expected)
	}
	return s.engine.Do(ctx, StoreKey(activityID), func(ctx context.Context) error {
		st, err := s.load(ctx, activityID)
		if err != nil {
			return err
		}
		if st.ExpectedPartnerCount != 0 {
			if st.ExpectedPartnerCount == expected && st.Status == StatusGettingQuotes {
				return nil
			}
			return ErrExpectedCountSet
		}
		st.ExpectedPartnerCount = expected
		st.Status = StatusGettingQuotes
		if err := s.persist(ctx, &st); err != nil {
			return err
		}
		s.broadcastState(st)
		return nil
	})
}

// UpdateQuote upserts one partner's quote entry, preserving previously known
// fields the update omits. A stale processing write for a partner that
// already reached a terminal status is discarded. When every invited partner
// has reached a terminal status the activity completes. Once the activity
// itself is completed, failed, or errored the quote board is closed and late
// writes are dropped; only a fresh submission reopens it.
func (s *Service) UpdateQuote(ctx context.Context, activityID, partnerID string, upd QuoteUpdate) (State, error) {
	var snapshot State
	err := s.engine.Do(ctx, StoreKey(activityID), func(ctx context.Context) error {
		st, err := s.load(ctx, activityID)
		if err != nil {
			return err
		}

		if st.Status == StatusCompleted || st.Status == StatusFailed || st.Status == StatusError {
			// Straggler write after timeout, completion, or error. A
			// redelivered message must ack without reopening the board.
			snapshot = st.Clone()
			return nil
		}

		existing, known := st.Quotes[partnerID]
		if !known && st.ExpectedPartnerCount > 0 && len(st.Quotes) >= st.ExpectedPartnerCount {
			return ErrUnexpectedPartner
		}
		if known && existing.Status.Terminal() && upd.Status == QuoteProcessing {
			// Out-of-order delivery: never regress a finished quote.
			snapshot = st.Clone()
			return nil
		}

		q := existing
		if upd.PartnerName != "" {
			q.PartnerName = upd.PartnerName
		}
		if q.PartnerName == "" {
			q.PartnerName = "Partner " + partnerID
		}
		if upd.Status != "" {
			q.Status = upd.Status
		}
		if q.Status == "" {
			q.Status = QuoteProcessing
		}
		if upd.Price != nil {
			p := *upd.Price
			q.Price = &p
		}
		if upd.LogoURL != "" {
			q.LogoURL = upd.LogoURL
		}
		if !upd.UpdatedAt.IsZero() {
			q.UpdatedAt = upd.UpdatedAt
		} else {
			q.UpdatedAt = s.now()
		}
		st.Quotes[partnerID] = q

		if st.ExpectedPartnerCount > 0 && st.TerminalQuoteCount() == st.ExpectedPartnerCount {
			st.Status = StatusCompleted
		}

		if err := s.persist(ctx, &st); err != nil {
			return err
		}
		s.broadcastState(st)
		snapshot = st.Clone()
		return nil
	})
	return snapshot, err
}

// MarkError forces the activity into the error state after an unrecoverable
// submission failure.
func (s *Service) MarkError(ctx context.Context, activityID string) error {
	return s.engine.Do(ctx, StoreKey(activityID), func(ctx context.Context) error {
		st, err := s.load(ctx, activityID)
		if err != nil {
			return err
		}
		if st.Status != StatusProcessing && st.Status != StatusGettingQuotes {
			return nil
		}
		st.Status = StatusError
		if err := s.persist(ctx, &st); err != nil {
			return err
		}
		s.broadcastState(st)
		return nil
	})
}

// CheckTimeout is the scheduled wake-up: an activity stuck awaiting quotes
// past the inactivity window is forced to failed. Returns true when the
// transition fired.
func (s *Service) CheckTimeout(ctx context.Context, activityID string) (bool, error) {
	timedOut := false
	err := s.engine.Do(ctx, StoreKey(activityID), func(ctx context.Context) error {
		st, err := s.load(ctx, activityID)
		if err != nil {
			return err
		}
		if st.Status != StatusProcessing && st.Status != StatusGettingQuotes {
			return nil
		}
		if s.now().Sub(st.UpdatedAt) <= s.timeoutWindow {
			return nil
		}
		st.Status = StatusFailed
		if err := s.persist(ctx, &st); err != nil {
			return err
		}
		s.broadcastState(st)
		timedOut = true
		return nil
	})
	return timedOut, err
}
