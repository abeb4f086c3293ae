package probe

import (
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// OutcomeKind classifies a single probe.
type OutcomeKind string

const (
	OutcomeFound         OutcomeKind = "found"          // 200, JSON object, secret field non-null
	OutcomeMissingSecret OutcomeKind = "missing_secret" // 200 without the secret field
	OutcomeBadStatus     OutcomeKind = "bad_status"     // any non-200 status
	OutcomeTimeout       OutcomeKind = "timeout"        // request deadline hit
	OutcomeTransport     OutcomeKind = "transport_error"
)

// Miss reports whether the outcome is a failed guess.
func (k OutcomeKind) Miss() bool {
	return k != OutcomeFound
}

// Outcome is the classified result of one GET against the account endpoint.
type Outcome struct {
	Kind       OutcomeKind
	ID         string
	URL        string
	StatusCode int
	Body       []byte
	Err        error
	Duration   time.Duration
}

// Status is the terminal state of a hunt.
type Status string

const (
	StatusFound     Status = "found"
	StatusExhausted Status = "exhausted"
)

// Result is what a hunt ends with: the winning identifier and its body, or
// exhaustion of the candidate space.
type Result struct {
	Status   Status
	RunID    string
	ID       string
	URL      string
	Body     []byte
	Attempts int
	Misses   map[OutcomeKind]int
	Started  time.Time
	Elapsed  time.Duration
}

// Found reports whether the hunt located the secret.
func (r *Result) Found() bool {
	return r != nil && r.Status == StatusFound
}

// PrettyBody returns the found response body indented with four spaces.
func (r *Result) PrettyBody() []byte {
	if len(r.Body) == 0 {
		return nil
	}
	return pretty.PrettyOptions(r.Body, &pretty.Options{
		Width:  80,
		Indent: "    ",
	})
}

// Secret returns the raw value of field in the found body.
func (r *Result) Secret(field string) string {
	return gjson.GetBytes(r.Body, gjson.Escape(field)).String()
}

// hasSecret reports whether body is a JSON object whose top-level field is
// present and not null.
func hasSecret(body []byte, field string) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return false
	}
	value := doc.Get(gjson.Escape(field))
	return value.Exists() && value.Type != gjson.Null
}
