package scan

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayloadPlainID(t *testing.T) {
	id, err := DecodePayload(" S1 ", t0, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, " S1 ", id, "plain reads are left for the validator to trim")
}

func TestDecodePayloadFormats(t *testing.T) {
	fresh := t0.Add(-time.Hour).UnixMilli()
	cases := map[string]string{
		fmt.Sprintf(`{"s":"S1","t":%d}`, fresh):                 "S1",
		fmt.Sprintf(`{"studentId":"S2","timestamp":%d}`, fresh): "S2",
		`{"s":"S3"}`: "S3",
	}
	for raw, want := range cases {
		id, err := DecodePayload(raw, t0, 24*time.Hour)
		require.NoError(t, err, raw)
		assert.Equal(t, want, id)
	}
}

func TestDecodePayloadRejects(t *testing.T) {
	_, err := DecodePayload(`{"t":1}`, t0, 24*time.Hour)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = DecodePayload(`{"s":`, t0, 24*time.Hour)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	stale := t0.Add(-25 * time.Hour).UnixMilli()
	_, err = DecodePayload(fmt.Sprintf(`{"s":"S1","t":%d}`, stale), t0, 24*time.Hour)
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, Expired, DecisionOf(err))

	// expiry disabled
	_, err = DecodePayload(fmt.Sprintf(`{"s":"S1","t":%d}`, stale), t0, 0)
	assert.NoError(t, err)
}

func TestStationsAreIndependent(t *testing.T) {
	s := NewStations(DefaultSameIDCooldown, DefaultDifferentIDCooldown, 24*time.Hour)

	_, err := s.Intake("gate-a", "S1", t0)
	require.NoError(t, err)
	_, err = s.Intake("gate-b", "S2", t0.Add(time.Second))
	assert.NoError(t, err, "another station is not held off by gate-a")

	_, err = s.Intake("gate-a", "S2", t0.Add(time.Second))
	assert.ErrorIs(t, err, ErrDebounced)

	assert.Same(t, s.For("gate-a"), s.For("gate-a"))
	s.Forget("gate-a")
	_, err = s.Intake("gate-a", "S2", t0.Add(time.Second))
	assert.NoError(t, err)
}

func TestStationsIntakeDecodesCards(t *testing.T) {
	s := NewStations(DefaultSameIDCooldown, DefaultDifferentIDCooldown, 24*time.Hour)
	id, err := s.Intake("gate-a", fmt.Sprintf(`{"s":"S9","t":%d}`, t0.UnixMilli()), t0)
	require.NoError(t, err)
	assert.Equal(t, "S9", id)

	_, err = s.Intake("gate-a", `{"s":"../etc/passwd"}`, t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
