package queue

import "encoding/json"

// ActivitySubmission asks the submission orchestrator to fan a completed form
// out to a fresh partner set.
type ActivitySubmission struct {
	ActivityID string          `json:"activityId"`
	FormData   json.RawMessage `json:"formData"`
}

// PartnerQuote asks the quote orchestrator to obtain one partner's quote and
// write it back into the activity. Handlers must be idempotent: the queue
// delivers at least once.
type PartnerQuote struct {
	ActivityID string          `json:"activityId"`
	PartnerID  string          `json:"partnerId"`
	QuoteData  json.RawMessage `json:"quoteData"`
}
