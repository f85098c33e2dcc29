// Package scan turns raw scanner reads into candidate student identifiers.
package scan

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidFormat   = errors.New("scan: invalid QR code format")
	ErrNotAnIdentifier = errors.New("scan: scanned content is a URL, not a student id")
	ErrDebounced       = errors.New("scan: debounced")
	ErrExpired         = errors.New("scan: QR code expired")
)

// Decision is the intake verdict for one scan.
type Decision string

const (
	Accepted        Decision = "accepted"
	InvalidFormat   Decision = "invalid_format"
	NotAnIdentifier Decision = "not_an_identifier"
	Debounced       Decision = "debounced"
	Expired         Decision = "expired"
)

// DecisionOf maps an Accept/Intake error to its Decision.
func DecisionOf(err error) Decision {
	switch {
	case err == nil:
		return Accepted
	case errors.Is(err, ErrNotAnIdentifier):
		return NotAnIdentifier
	case errors.Is(err, ErrDebounced):
		return Debounced
	case errors.Is(err, ErrExpired):
		return Expired
	}
	return InvalidFormat
}

const (
	DefaultSameIDCooldown      = 10 * time.Second
	DefaultDifferentIDCooldown = 3 * time.Second
)

// Validator filters the reads of one physical scanner. Readers fire many
// duplicate reads while a card sits in the scan zone, so re-reading the same
// card is held off longer than switching to the next card in line.
type Validator struct {
	sameIDCooldown      time.Duration
	differentIDCooldown time.Duration

	mu      sync.Mutex
	hasLast bool
	lastID  string
	lastAt  time.Time
}

// NewValidator creates a validator with empty debounce state.
func NewValidator(sameIDCooldown, differentIDCooldown time.Duration) *Validator {
	return &Validator{sameIDCooldown: sameIDCooldown, differentIDCooldown: differentIDCooldown}
}

// Accept checks raw read at scannedAt and returns the trimmed identifier.
// Only accepted reads move the debounce state.
func (v *Validator) Accept(raw string, scannedAt time.Time) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" || strings.ContainsAny(id, `/\:`) {
		return "", ErrInvalidFormat
	}
	if strings.HasPrefix(strings.ToLower(id), "http") {
		return "", ErrNotAnIdentifier
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.hasLast {
		elapsed := scannedAt.Sub(v.lastAt)
		if raw == v.lastID && elapsed < v.sameIDCooldown {
			return "", ErrDebounced
		}
		if raw != v.lastID && elapsed < v.differentIDCooldown {
			return "", ErrDebounced
		}
	}
	v.hasLast = true
	v.lastID = raw
	v.lastAt = scannedAt
	return id, nil
}

// Reset clears the debounce state.
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hasLast = false
	v.lastID = ""
	v.lastAt = time.Time{}
}
