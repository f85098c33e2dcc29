// Package cards renders student QR ID cards and publishes them for
// printing.
package cards

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/skip2/go-qrcode"

	"schoolattendance/internal/scan"
)

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 512

// Payload is the text encoded into a card's QR code.
func Payload(studentID string, issuedAt time.Time) (string, error) {
	if studentID == "" {
		return "", errors.New("cards: empty student id")
	}
	raw, err := json.Marshal(scan.CardPayload{S: studentID, T: issuedAt.UnixMilli()})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Render returns the card QR code as a PNG of size x size pixels.
func Render(studentID string, issuedAt time.Time, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	payload, err := Payload(studentID, issuedAt)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("cards: encode qr: %w", err)
	}
	return png, nil
}
