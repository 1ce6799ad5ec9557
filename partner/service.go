package partner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/TrickeySolutions/aggregator-demo/actor"
	"github.com/TrickeySolutions/aggregator-demo/storage"
	"github.com/TrickeySolutions/aggregator-demo/textgen"
)

var (
	// ErrLogoNotFound signals no rendered logo exists for the partner.
	ErrLogoNotFound = errors.New("partner: logo not found")

	errInvalidName = errors.New("partner: generated name failed validation")
)

const (
	storeKeyPrefix = "partner:"
	logoKeyPrefix  = "partnerlogo:"
)

// StoreKey returns the durable-store key for a partner id.
func StoreKey(partnerID string) string { return storeKeyPrefix + partnerID }

// LogoKey returns the durable-store key for a partner's rendered logo.
func LogoKey(partnerID string) string { return logoKeyPrefix + partnerID }

var specializations = []string{
	"cyber liability",
	"professional indemnity",
	"technology errors and omissions",
	"data breach response",
	"business interruption",
}

// Service owns partner identities and answers quote requests. Identity
// generation runs serialized per partner id, so concurrent first contacts
// agree on one persisted identity; quoting itself happens outside the
// critical section.
type Service struct {
	engine *actor.Engine
	store  storage.Store
	namer  textgen.Generator
	logger *zap.Logger

	minLatency time.Duration
	maxLatency time.Duration
	now        func() time.Time
}

// NewService wires the partner actor. Latency bounds shape the simulated
// processing delay per quote.
func NewService(engine *actor.Engine, store storage.Store, namer textgen.Generator, minLatency, maxLatency time.Duration, logger *zap.Logger) *Service {
	if maxLatency < minLatency {
		maxLatency = minLatency
	}
	return &Service{
		engine:     engine,
		store:      store,
		namer:      namer,
		logger:     logger,
		minLatency: minLatency,
		maxLatency: maxLatency,
		now:        time.Now,
	}
}

// EnsureIdentity returns the partner's persisted identity, generating and
// persisting one on first contact. Re-contact under the same id never
// regenerates.
func (s *Service) EnsureIdentity(ctx context.Context, partnerID string) (Identity, error) {
	var identity Identity
	err := s.engine.Do(ctx, StoreKey(partnerID), func(ctx context.Context) error {
		err := storage.GetJSON(ctx, s.store, StoreKey(partnerID), &identity)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		name := s.generateName(ctx, partnerID)
		identity = Identity{
			ID:   partnerID,
			Name: name,
			Characteristics: Characteristics{
				RiskAppetite:    rand.Float64(),
				PricingStrategy: 0.7 + rand.Float64()*1.3,
				BrandAuthority:  rand.Float64(),
				Specialization:  specializations[rand.Intn(len(specializations))],
			},
			LogoURL:   fmt.Sprintf("/api/partner/%s/logo.svg", partnerID),
			CreatedAt: s.now(),
		}
		logo := logoRecord{ContentType: "image/svg+xml", SVG: renderLogo(partnerID, name)}
		if err := storage.PutJSON(ctx, s.store, LogoKey(partnerID), &logo); err != nil {
			return fmt.Errorf("partner: persist logo %s: %w", partnerID, err)
		}
		if err := storage.PutJSON(ctx, s.store, StoreKey(partnerID), &identity); err != nil {
			return fmt.Errorf("partner: persist identity %s: %w", partnerID, err)
		}
		s.logger.Info("partner identity generated",
			zap.String("partner_id", partnerID),
			zap.String("name", name))
		return nil
	})
	return identity, err
}

// GetLogo returns the partner's rendered logo and its content type.
func (s *Service) GetLogo(ctx context.Context, partnerID string) ([]byte, string, error) {
	var logo logoRecord
	if err := storage.GetJSON(ctx, s.store, LogoKey(partnerID), &logo); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrLogoNotFound
		}
		return nil, "", err
	}
	return []byte(logo.SVG), logo.ContentType, nil
}

// ProcessQuote simulates one quote: a processing delay derived from the
// partner's characteristics plus jitter, then a randomized price scaled by
// the pricing strategy and the requested coverage. The simulation itself
// never fails; only context cancellation aborts it.
func (s *Service) ProcessQuote(ctx context.Context, partnerID string, requestData json.RawMessage) (QuoteResult, error) {
	identity, err := s.EnsureIdentity(ctx, partnerID)
	if err != nil {
		return QuoteResult{}, err
	}

	if err := s.sleep(ctx, s.quoteLatency(identity.Characteristics)); err != nil {
		return QuoteResult{}, err
	}

	base := basePrice(requestData)
	price := math.Round(base*identity.Characteristics.PricingStrategy*100) / 100

	return QuoteResult{
		PartnerID:       identity.ID,
		PartnerName:     identity.Name,
		Characteristics: identity.Characteristics,
		LogoURL:         identity.LogoURL,
		Status:          "complete",
		Price:           price,
		UpdatedAt:       s.now(),
	}, nil
}

// quoteLatency maps characteristics onto the configured latency window:
// established brands answer faster, risk-averse ones slower.
func (s *Service) quoteLatency(c Characteristics) time.Duration {
	factor := 0.5 + 0.35*(1-c.RiskAppetite) - 0.35*c.BrandAuthority
	factor += (rand.Float64() - 0.5) * 0.3 // jitter
	factor = math.Max(0, math.Min(1, factor))
	window := float64(s.maxLatency - s.minLatency)
	return s.minLatency + time.Duration(factor*window)
}

// basePrice draws a random base premium, nudged upward by the requested
// coverage limit when the submission carries one.
func basePrice(requestData json.RawMessage) float64 {
	base := 100 + rand.Float64()*9900
	var form struct {
		Coverage struct {
			CoverageLimit float64 `json:"coverageLimit"`
		} `json:"coverage"`
	}
	if err := json.Unmarshal(requestData, &form); err == nil && form.Coverage.CoverageLimit > 0 {
		base *= 1 + math.Min(form.Coverage.CoverageLimit/10_000_000, 1)
	}
	return base
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
