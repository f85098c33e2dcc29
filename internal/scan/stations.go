package scan

import (
	"sync"
	"time"
)

// Stations hands every scanning station its own Validator so two scanners
// never debounce each other's reads.
type Stations struct {
	sameIDCooldown      time.Duration
	differentIDCooldown time.Duration
	maxAge              time.Duration

	mu   sync.Mutex
	byID map[string]*Validator
}

// NewStations creates an empty registry. maxAge bounds the age of JSON card
// payloads.
func NewStations(sameIDCooldown, differentIDCooldown, maxAge time.Duration) *Stations {
	return &Stations{
		sameIDCooldown:      sameIDCooldown,
		differentIDCooldown: differentIDCooldown,
		maxAge:              maxAge,
		byID:                make(map[string]*Validator),
	}
}

// For returns the validator of stationID, creating it on first use.
func (s *Stations) For(stationID string) *Validator {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.byID[stationID]
	if !ok {
		v = NewValidator(s.sameIDCooldown, s.differentIDCooldown)
		s.byID[stationID] = v
	}
	return v
}

// Forget drops a station's state, e.g. when it is re-registered.
func (s *Stations) Forget(stationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, stationID)
}

// Intake decodes payload and runs it through the station's validator.
func (s *Stations) Intake(stationID, payload string, scannedAt time.Time) (string, error) {
	id, err := DecodePayload(payload, scannedAt, s.maxAge)
	if err != nil {
		return "", err
	}
	return s.For(stationID).Accept(id, scannedAt)
}
