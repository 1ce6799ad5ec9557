package activity

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Section names one page of the quote wizard. Sections advance in a fixed
// order under normal flow but may be revisited backward.
type Section string

const (
	SectionOrganisation Section = "organisation"
	SectionExposure     Section = "exposure"
	SectionSecurity     Section = "security"
	SectionCoverage     Section = "coverage"
	SectionReview       Section = "review"
)

var sectionOrder = []Section{
	SectionOrganisation,
	SectionExposure,
	SectionSecurity,
	SectionCoverage,
	SectionReview,
}

// Status is the activity lifecycle state. Transitions follow
// draft → processing → getting_quotes → completed|failed, with error reachable
// from processing and getting_quotes on unrecoverable submission failure.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusProcessing    Status = "processing"
	StatusGettingQuotes Status = "getting_quotes"
	StatusCompleted     Status = "completed"
	StatusError         Status = "error"
	StatusFailed        Status = "failed"
)

// QuoteStatus is one partner's progress within an activity.
type QuoteStatus string

const (
	QuoteProcessing QuoteStatus = "processing"
	QuoteComplete   QuoteStatus = "complete"
	QuoteError      QuoteStatus = "error"
)

// Terminal reports whether the partner finished, successfully or not.
func (s QuoteStatus) Terminal() bool {
	return s == QuoteComplete || s == QuoteError
}

// FieldKind enumerates the value kinds a form field may hold.
type FieldKind int

const (
	KindString FieldKind = iota
	KindBool
	KindNumber
)

// FieldValue is a tagged union over the closed set of form value kinds. On
// the wire it is a plain JSON scalar.
type FieldValue struct {
	Kind FieldKind
	Str  string
	Bool bool
	Num  float64
}

// String builds a string field value.
func String(s string) FieldValue { return FieldValue{Kind: KindString, Str: s} }

// Bool builds a boolean field value.
func Bool(b bool) FieldValue { return FieldValue{Kind: KindBool, Bool: b} }

// Number builds a numeric field value.
func Number(n float64) FieldValue { return FieldValue{Kind: KindNumber, Num: n} }

func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		return json.Marshal(v.Bool)
	case KindNumber:
		return json.Marshal(v.Num)
	default:
		return json.Marshal(v.Str)
	}
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = String(s)
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = Bool(b)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*v = Number(n)
		return nil
	}
	return fmt.Errorf("activity: unsupported field value %s", data)
}

// Equal reports whether two field values are identical.
func (v FieldValue) Equal(o FieldValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == o.Bool
	case KindNumber:
		return v.Num == o.Num
	default:
		return v.Str == o.Str
	}
}

// FormData maps section name to that section's field values.
type FormData map[Section]map[string]FieldValue

// Quote is one partner's entry in the aggregation map. Entries are created
// lazily as partners begin responding and never removed.
type Quote struct {
	PartnerName string      `json:"partnerName"`
	Status      QuoteStatus `json:"status"`
	Price       *float64    `json:"price,omitempty"`
	LogoURL     string      `json:"logoUrl,omitempty"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// QuoteUpdate is a partial upsert of one partner's quote. Zero-valued fields
// leave the stored entry untouched.
type QuoteUpdate struct {
	PartnerName string      `json:"partnerName,omitempty"`
	Status      QuoteStatus `json:"status,omitempty"`
	Price       *float64    `json:"price,omitempty"`
	LogoURL     string      `json:"logoUrl,omitempty"`
	UpdatedAt   time.Time   `json:"updatedAt,omitempty"`
}

// State is the full snapshot of one activity. It is the single unit of
// persistence and the payload of every state_update broadcast.
type State struct {
	ID                   string           `json:"id"`
	CustomerID           string           `json:"customerId"`
	CurrentSection       Section          `json:"currentSection"`
	FormData             FormData         `json:"formData"`
	Status               Status           `json:"status"`
	Quotes               map[string]Quote `json:"quotes"`
	ExpectedPartnerCount int              `json:"expectedPartnerCount,omitempty"`
	UpdatedAt            time.Time        `json:"updatedAt"`
}

// TerminalQuoteCount counts partners whose quote reached complete or error.
func (s *State) TerminalQuoteCount() int {
	n := 0
	for _, q := range s.Quotes {
		if q.Status.Terminal() {
			n++
		}
	}
	return n
}

// Clone deep-copies the snapshot so callers can hold it outside the actor's
// critical section.
func (s *State) Clone() State {
	cp := *s
	cp.FormData = make(FormData, len(s.FormData))
	for section, fields := range s.FormData {
		fcp := make(map[string]FieldValue, len(fields))
		for name, v := range fields {
			fcp[name] = v
		}
		cp.FormData[section] = fcp
	}
	cp.Quotes = make(map[string]Quote, len(s.Quotes))
	for id, q := range s.Quotes {
		if q.Price != nil {
			p := *q.Price
			q.Price = &p
		}
		cp.Quotes[id] = q
	}
	return cp
}

// sectionFields is the closed schema of known fields per section.
var sectionFields = map[Section]map[string]FieldKind{
	SectionOrganisation: {
		"name":      KindString,
		"industry":  KindString,
		"revenue":   KindNumber,
		"employees": KindNumber,
	},
	SectionExposure: {
		"dataRecords":    KindNumber,
		"cloudProviders": KindString,
		"hadIncidents":   KindBool,
		"ransomPaid":     KindBool,
	},
	SectionSecurity: {
		"backupFrequency":   KindString,
		"firewallEnabled":   KindBool,
		"antivirusEnabled":  KindBool,
		"trainingFrequency": KindString,
		"mfaEnabled":        KindBool,
	},
	SectionCoverage: {
		"coverageLimit":    KindNumber,
		"excess":           KindNumber,
		"startDate":        KindString,
		"incidentResponse": KindBool,
	},
	SectionReview: {
		"confirmed": KindBool,
	},
}

// requiredFields must all be present before a section counts as complete and
// the wizard advances past it.
var requiredFields = map[Section][]string{
	SectionOrganisation: {"name", "industry", "revenue", "employees"},
	SectionExposure:     {"dataRecords", "hadIncidents"},
	SectionSecurity:     {"backupFrequency", "firewallEnabled", "antivirusEnabled", "trainingFrequency"},
	SectionCoverage:     {"coverageLimit", "excess"},
}

func knownSection(s Section) bool {
	_, ok := sectionFields[s]
	return ok
}

func nextSection(s Section) (Section, bool) {
	for i, sec := range sectionOrder {
		if sec == s && i < len(sectionOrder)-1 {
			return sectionOrder[i+1], true
		}
	}
	return s, false
}

// coerceField fits an incoming value to the declared kind. Mismatching values
// are converted when a lossless reading exists, otherwise dropped.
func coerceField(kind FieldKind, v FieldValue) (FieldValue, bool) {
	if v.Kind == kind {
		return v, true
	}
	switch kind {
	case KindString:
		switch v.Kind {
		case KindNumber:
			return String(strconv.FormatFloat(v.Num, 'f', -1, 64)), true
		case KindBool:
			return String(strconv.FormatBool(v.Bool)), true
		}
	case KindNumber:
		if v.Kind == KindString {
			if n, err := strconv.ParseFloat(v.Str, 64); err == nil {
				return Number(n), true
			}
		}
	case KindBool:
		if v.Kind == KindString {
			if b, err := strconv.ParseBool(v.Str); err == nil {
				return Bool(b), true
			}
		}
	}
	return FieldValue{}, false
}

// coerceSection filters an incoming section update against the schema:
// unknown fields are dropped, known fields coerced to their declared kind.
func coerceSection(section Section, fields map[string]FieldValue) map[string]FieldValue {
	schema := sectionFields[section]
	out := make(map[string]FieldValue, len(fields))
	for name, v := range fields {
		kind, ok := schema[name]
		if !ok {
			continue
		}
		if coerced, ok := coerceField(kind, v); ok {
			out[name] = coerced
		}
	}
	return out
}

// sectionComplete reports whether every required field of section is present.
func sectionComplete(section Section, fields map[string]FieldValue) bool {
	for _, name := range requiredFields[section] {
		if _, ok := fields[name]; !ok {
			return false
		}
	}
	return true
}
