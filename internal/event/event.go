package event

import (
	"errors"
	"strings"
)

// Event is one observed item bound for upload. Title is empty for plain
// message sources; Extra carries opaque source metadata passed through to
// the collector untouched.
type Event struct {
	Source      string            `json:"source"`
	OriginKey   string            `json:"originKey"`
	Title       string            `json:"title,omitempty"`
	Body        string            `json:"body"`
	ObservedAt  int64             `json:"observedAt"`
	Extra       map[string]string `json:"extra,omitempty"`
	Fingerprint Fingerprint       `json:"fingerprint"`
}

// IdentityText is the text component of the fingerprint: the body alone for
// untitled events, otherwise title and body joined.
func (e Event) IdentityText() string {
	if e.Title == "" {
		return e.Body
	}
	return e.Title + "\n" + e.Body
}

// Validate reports whether the event is well-formed enough to ingest.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Source) == "" {
		return errors.New("event: source is required")
	}
	if e.OriginKey == "" && e.Body == "" && e.Title == "" {
		return errors.New("event: empty event")
	}
	return nil
}
