package scan

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// CardPayload is the JSON carried by generated student cards. Older cards
// use the long field names.
type CardPayload struct {
	S         string `json:"s,omitempty"`
	T         int64  `json:"t,omitempty"`
	StudentID string `json:"studentId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ID returns the student id in either format.
func (p CardPayload) ID() string {
	if p.S != "" {
		return p.S
	}
	return p.StudentID
}

// IssuedAt returns the generation time in either format, zero when absent.
func (p CardPayload) IssuedAt() time.Time {
	ms := p.T
	if ms == 0 {
		ms = p.Timestamp
	}
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// DecodePayload extracts the identifier from a card read. JSON payloads are
// decoded and checked for age (maxAge 0 disables the check); anything else
// is a plain identifier and is returned untouched.
func DecodePayload(raw string, now time.Time, maxAge time.Duration) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return raw, nil
	}
	var p CardPayload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if p.ID() == "" {
		return "", fmt.Errorf("%w: missing student id", ErrInvalidFormat)
	}
	if issued := p.IssuedAt(); maxAge > 0 && !issued.IsZero() {
		age := now.Sub(issued)
		if age < 0 {
			age = -age
		}
		if age > maxAge {
			return "", ErrExpired
		}
	}
	return p.ID(), nil
}
