// Package oracles checks invariants over activity snapshots during stress
// runs. Each oracle inspects one snapshot, or one snapshot against the
// previous one, and returns a description of the first violation it finds.
package oracles

import (
	"fmt"

	"github.com/TrickeySolutions/aggregator-demo/activity"
)

// Oracle is a named invariant over a single snapshot.
type Oracle struct {
	Name  string
	Check func(st activity.State) error
}

var legalStatuses = map[activity.Status]bool{
	activity.StatusDraft:         true,
	activity.StatusProcessing:    true,
	activity.StatusGettingQuotes: true,
	activity.StatusCompleted:     true,
	activity.StatusError:         true,
	activity.StatusFailed:        true,
}

var legalQuoteStatuses = map[activity.QuoteStatus]bool{
	activity.QuoteProcessing: true,
	activity.QuoteComplete:   true,
	activity.QuoteError:      true,
}

// All returns the stateless oracles.
func All() []Oracle {
	return []Oracle{
		{
			Name: "status_in_lifecycle",
			Check: func(st activity.State) error {
				if !legalStatuses[st.Status] {
					return fmt.Errorf("unknown status %q", st.Status)
				}
				return nil
			},
		},
		{
			Name: "quote_statuses_legal",
			Check: func(st activity.State) error {
				for id, q := range st.Quotes {
					if !legalQuoteStatuses[q.Status] {
						return fmt.Errorf("partner %s has unknown quote status %q", id, q.Status)
					}
				}
				return nil
			},
		},
		{
			Name: "quotes_within_capacity",
			Check: func(st activity.State) error {
				if st.ExpectedPartnerCount > 0 && len(st.Quotes) > st.ExpectedPartnerCount {
					return fmt.Errorf("%d quotes recorded but only %d partners expected",
						len(st.Quotes), st.ExpectedPartnerCount)
				}
				return nil
			},
		},
		{
			Name: "complete_quotes_priced",
			Check: func(st activity.State) error {
				for id, q := range st.Quotes {
					if q.Status == activity.QuoteComplete && q.Price == nil {
						return fmt.Errorf("partner %s is complete without a price", id)
					}
				}
				return nil
			},
		},
		{
			Name: "completed_means_all_terminal",
			Check: func(st activity.State) error {
				if st.Status != activity.StatusCompleted {
					return nil
				}
				if got, want := st.TerminalQuoteCount(), st.ExpectedPartnerCount; got != want {
					return fmt.Errorf("completed with %d terminal quotes of %d expected", got, want)
				}
				return nil
			},
		},
	}
}

// Tracker runs the stateless oracles plus history-dependent ones: once a
// partner's quote is terminal it must never revert to processing or lose
// its price, and a completed or failed activity must stay that way.
type Tracker struct {
	oracles  []Oracle
	prev     *activity.State
	terminal map[string]activity.Quote
}

func NewTracker() *Tracker {
	return &Tracker{oracles: All(), terminal: make(map[string]activity.Quote)}
}

// Observe checks one snapshot. It returns the failing oracle name and a
// violation description, or ok.
func (t *Tracker) Observe(st activity.State) (name string, err error) {
	for _, o := range t.oracles {
		if err := o.Check(st); err != nil {
			return o.Name, err
		}
	}
	for id, was := range t.terminal {
		now, ok := st.Quotes[id]
		if !ok {
			// a fresh submission clears the quote board
			continue
		}
		if !now.Status.Terminal() {
			return "no_terminal_regression",
				fmt.Errorf("partner %s went %s -> %s", id, was.Status, now.Status)
		}
		if was.Status == activity.QuoteComplete && was.Price != nil && now.Price == nil {
			return "no_terminal_regression",
				fmt.Errorf("partner %s lost its price after completion", id)
		}
	}
	if t.prev != nil {
		p := t.prev.Status
		if (p == activity.StatusCompleted || p == activity.StatusFailed) && st.Status != p {
			return "terminal_activity_stable",
				fmt.Errorf("activity went %s -> %s", p, st.Status)
		}
	}
	for id, q := range st.Quotes {
		if q.Status.Terminal() {
			t.terminal[id] = q
		}
	}
	cp := st.Clone()
	t.prev = &cp
	return "", nil
}
