package activity

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
)

var sampleIndustries = []string{
	"Software Development",
	"Financial Services",
	"Healthcare Technology",
	"E-Commerce",
	"Professional Services",
	"Manufacturing",
}

var fallbackCompanyNames = []string{
	"Meridian Analytics",
	"Brightstone Consulting",
	"Cobalt Systems",
	"Harbourview Digital",
	"Lattice Labs",
}

const sampleNamePrompt = "Generate a plausible fictional UK company name for a " +
	"small technology business. Respond with the name only, no punctuation around it."

// FillSample populates every section with generated demo data so the wizard
// can be walked without typing. The company name comes from the text
// generation service when one is configured; any failure falls back to a
// canned name so the operation itself cannot fail on generation.
func (s *Service) FillSample(ctx context.Context, activityID string) (State, error) {
	name := s.sampleCompanyName(ctx)
	var snapshot State
	err := s.engine.Do(ctx, StoreKey(activityID), func(ctx context.Context) error {
		st, err := s.load(ctx, activityID)
		if err != nil {
			return err
		}
		for section, fields := range sampleFormData(name) {
			existing, ok := st.FormData[section]
			if !ok {
				existing = make(map[string]FieldValue, len(fields))
				st.FormData[section] = existing
			}
			for k, v := range fields {
				existing[k] = v
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

func (s *Service) sampleCompanyName(ctx context.Context) string {
	fallback := fallbackCompanyNames[rand.Intn(len(fallbackCompanyNames))]
	if s.sampler == nil {
		return fallback
	}
	genCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	name, err := s.sampler.Generate(genCtx, sampleNamePrompt)
	if err != nil {
		s.logger.Debug("sample name generation failed, using fallback", zap.Error(err))
		return fallback
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 60 {
		return fallback
	}
	return name
}

func sampleFormData(companyName string) FormData {
	startDate := time.Now().AddDate(0, 1, 0).Format("2006-01-02")
	return FormData{
		SectionOrganisation: {
			"name":      String(companyName),
			"industry":  String(sampleIndustries[rand.Intn(len(sampleIndustries))]),
			"revenue":   Number(float64(250000 + rand.Intn(20)*250000)),
			"employees": Number(float64(5 + rand.Intn(195))),
		},
		SectionExposure: {
			"dataRecords":    Number(float64(1000 * (1 + rand.Intn(500)))),
			"cloudProviders": String("AWS"),
			"hadIncidents":   Bool(false),
			"ransomPaid":     Bool(false),
		},
		SectionSecurity: {
			"backupFrequency":   String("daily"),
			"firewallEnabled":   Bool(true),
			"antivirusEnabled":  Bool(true),
			"trainingFrequency": String("quarterly"),
			"mfaEnabled":        Bool(true),
		},
		SectionCoverage: {
			"coverageLimit":    Number(float64(1000000 * (1 + rand.Intn(5)))),
			"excess":           Number(float64(1000 * (1 + rand.Intn(10)))),
			"startDate":        String(startDate),
			"incidentResponse": Bool(true),
		},
		SectionReview: {
			"confirmed": Bool(false),
		},
	}
}
