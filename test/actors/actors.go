// Package actors holds the concurrent writer loops of the stress harness.
// Each actor hammers one shared activity through the real services; the
// single-writer engine underneath is what keeps them from corrupting state.
package actors

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/TrickeySolutions/aggregator-demo/activity"
	"github.com/TrickeySolutions/aggregator-demo/test/chaos"
)

var sections = []activity.Section{
	activity.SectionOrganisation,
	activity.SectionExposure,
	activity.SectionSecurity,
	activity.SectionCoverage,
	activity.SectionReview,
}

// tolerable reports whether an operation error is expected under stress:
// chaos-injected store failures, cancellation, or the service refusing a
// write the harness deliberately made invalid.
func tolerable(err error) bool {
	return err == nil ||
		errors.Is(err, activity.ErrNotFound) ||
		errors.Is(err, activity.ErrUnexpectedPartner) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, chaos.ErrInjected)
}

// FormWriter applies random partial form updates. Persistence failures from
// the chaos layer surface here and are swallowed; the committed snapshot
// must stay consistent regardless.
func FormWriter(ctx context.Context, svc *activity.Service, activityID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		section := sections[rand.Intn(len(sections))]
		update := activity.FormData{
			section: {
				"name":        activity.String(randomWord()),
				"revenue":     activity.Number(float64(rand.Intn(1000000))),
				"dataRecords": activity.Number(float64(rand.Intn(100000))),
				"mfaEnabled":  activity.Bool(rand.Intn(2) == 0),
			},
		}
		if _, err := svc.ApplyFormUpdate(ctx, activityID, update, ""); !tolerable(err) {
			return err
		}
		time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
	}
}

// QuoteWriter upserts quote entries for a fixed partner set, deliberately
// including stale processing writes after a partner has completed. The
// regression guard inside the quote upsert is what the oracles verify.
func QuoteWriter(ctx context.Context, svc *activity.Service, activityID string, partnerIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		partnerID := partnerIDs[rand.Intn(len(partnerIDs))]
		upd := activity.QuoteUpdate{Status: activity.QuoteProcessing}
		switch rand.Intn(4) {
		case 0:
			price := 100 + rand.Float64()*9900
			upd = activity.QuoteUpdate{
				PartnerName: randomWord() + " Mutual",
				Status:      activity.QuoteComplete,
				Price:       &price,
			}
		case 1:
			upd = activity.QuoteUpdate{Status: activity.QuoteError}
		}
		if _, err := svc.UpdateQuote(ctx, activityID, partnerID, upd); !tolerable(err) {
			return err
		}
		time.Sleep(time.Duration(5+rand.Intn(20)) * time.Millisecond)
	}
}

// Reader polls snapshots, racing the writers through the same mailbox.
func Reader(ctx context.Context, svc *activity.Service, activityID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := svc.GetState(ctx, activityID); !tolerable(err) {
			return err
		}
		time.Sleep(time.Duration(2+rand.Intn(10)) * time.Millisecond)
	}
}

// TimeoutChecker fires the timeout check repeatedly. With a long window it
// must never flip a live activity to failed; it exists to race the check
// against the writers.
func TimeoutChecker(ctx context.Context, svc *activity.Service, activityID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := svc.CheckTimeout(ctx, activityID); !tolerable(err) {
			return err
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

var words = []string{
	"Acme", "Borealis", "Cobalt", "Drift", "Ember",
	"Fathom", "Granite", "Harbor", "Indigo", "Juniper",
}

func randomWord() string {
	return words[rand.Intn(len(words))]
}
