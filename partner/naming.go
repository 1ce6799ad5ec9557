package partner

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"time"

	"github.com/flowchartsman/retry"
	"go.uber.org/zap"
)

const namePrompt = "Invent a fictional insurance company brand name. " +
	"Two words maximum, no punctuation, respond with the name only."

// validName is the acceptance rule for generated names: 2 to 30 characters,
// leading letter, then letters, digits, spaces or hyphens.
var validName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 -]{1,29}$`)

var namePrefixes = []string{
	"Shield", "Anchor", "Beacon", "Granite", "Summit",
	"Harbor", "Sterling", "Keystone", "Atlas", "Sentinel",
}

var nameSuffixes = []string{
	"Mutual", "Assurance", "Underwriting", "Cover", "Indemnity",
	"Protect", "Risk", "Insurance",
}

// generateName asks the text generation service for a brand name, retrying
// with jittered backoff before giving up. Invalid output counts as failure.
// The deterministic fallback means this always returns a usable name.
func (s *Service) generateName(ctx context.Context, partnerID string) string {
	if s.namer != nil {
		var name string
		retrier := retry.NewRetrier(3, 200*time.Millisecond, 1500*time.Millisecond)
		err := retrier.RunContext(ctx, func(ctx context.Context) error {
			generated, err := s.namer.Generate(ctx, namePrompt)
			if err != nil {
				return err
			}
			generated = strings.TrimSpace(generated)
			if !validName.MatchString(generated) {
				return errInvalidName
			}
			name = generated
			return nil
		})
		if err == nil {
			return name
		}
		s.logger.Debug("name generation failed, using fallback",
			zap.String("partner_id", partnerID),
			zap.Error(err))
	}
	return fallbackName(partnerID)
}

// fallbackName is a deterministic prefix+suffix combination keyed on the
// partner id, so retries and redeliveries agree on the name without storage.
func fallbackName(partnerID string) string {
	h := fnv.New32a()
	h.Write([]byte(partnerID))
	sum := h.Sum32()
	prefix := namePrefixes[sum%uint32(len(namePrefixes))]
	suffix := nameSuffixes[(sum/uint32(len(namePrefixes)))%uint32(len(nameSuffixes))]
	return prefix + " " + suffix
}
