package customer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TrickeySolutions/aggregator-demo/actor"
	"github.com/TrickeySolutions/aggregator-demo/storage"
)

// ErrNotFound signals the customer has no durable record yet.
var ErrNotFound = errors.New("customer: not found")

// ActivityInitializer creates the activity's own state once the customer has
// claimed its id. Satisfied by the activity service.
type ActivityInitializer interface {
	Initialize(ctx context.Context, activityID, customerID string) error
}

const storeKeyPrefix = "customer:"

// StoreKey returns the durable-store key for a customer id.
func StoreKey(customerID string) string { return storeKeyPrefix + customerID }

// Service owns customer state. Like the activity service it is a keyed
// single writer: operations on one customer are serialized, so two
// simultaneous new-activity requests can never drop an id from the list.
type Service struct {
	engine     *actor.Engine
	store      storage.Store
	activities ActivityInitializer
	logger     *zap.Logger
	now        func() time.Time
}

// NewService wires the customer actor.
func NewService(engine *actor.Engine, store storage.Store, activities ActivityInitializer, logger *zap.Logger) *Service {
	return &Service{
		engine:     engine,
		store:      store,
		activities: activities,
		logger:     logger,
		now:        time.Now,
	}
}

// NewID mints a customer id for first-time visitors.
func NewID() string { return uuid.NewString() }

// CreateActivity mints a fresh activity id, records it against the customer
// (creating the customer record on first use), and initializes the activity
// itself. The customer's claim is persisted before the activity state exists,
// so a crash in between leaves an id that resolves to not-found rather than
// an orphaned activity no one can reach.
func (s *Service) CreateActivity(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", fmt.Errorf("customer: id required")
	}
	activityID := uuid.NewString()
	err := s.engine.Do(ctx, StoreKey(customerID), func(ctx context.Context) error {
		st, err := s.load(ctx, customerID)
		if errors.Is(err, ErrNotFound) {
			st = State{ID: customerID, CreatedAt: s.now()}
		} else if err != nil {
			return err
		}
		if !st.hasActivity(activityID) {
			st.ActivityIDs = append(st.ActivityIDs, activityID)
		}
		st.UpdatedAt = s.now()
		if err := storage.PutJSON(ctx, s.store, StoreKey(customerID), &st); err != nil {
			return fmt.Errorf("customer: persist %s: %w", customerID, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if err := s.activities.Initialize(ctx, activityID, customerID); err != nil {
		return "", fmt.Errorf("customer: initialize activity %s: %w", activityID, err)
	}
	s.logger.Info("activity created",
		zap.String("customer_id", customerID),
		zap.String("activity_id", activityID))
	return activityID, nil
}

// ListActivities returns the customer's activity ids in creation order.
func (s *Service) ListActivities(ctx context.Context, customerID string) ([]string, error) {
	var ids []string
	err := s.engine.Do(ctx, StoreKey(customerID), func(ctx context.Context) error {
		st, err := s.load(ctx, customerID)
		if err != nil {
			return err
		}
		ids = append([]string(nil), st.ActivityIDs...)
		return nil
	})
	return ids, err
}

// Owns reports whether the customer has claimed the given activity.
func (s *Service) Owns(ctx context.Context, customerID, activityID string) (bool, error) {
	owns := false
	err := s.engine.Do(ctx, StoreKey(customerID), func(ctx context.Context) error {
		st, err := s.load(ctx, customerID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		owns = st.hasActivity(activityID)
		return nil
	})
	return owns, err
}

func (s *Service) load(ctx context.Context, customerID string) (State, error) {
	var st State
	if err := storage.GetJSON(ctx, s.store, StoreKey(customerID), &st); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return State{}, ErrNotFound
		}
		return State{}, err
	}
	return st, nil
}
