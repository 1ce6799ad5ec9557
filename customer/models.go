package customer

import "time"

// State is the durable record of one customer: an append-only list of the
// quote activities they have started, newest last.
type State struct {
	ID          string    `json:"id"`
	ActivityIDs []string  `json:"activityIds"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (s *State) hasActivity(activityID string) bool {
	for _, id := range s.ActivityIDs {
		if id == activityID {
			return true
		}
	}
	return false
}
