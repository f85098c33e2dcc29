package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/docstore"
)

type brokenStore struct{ docstore.Store }

func (brokenStore) Find(context.Context, string, ...docstore.Filter) ([]docstore.Document, error) {
	return nil, errors.New("store offline")
}

func TestNewJobRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, 0, 0)
	_, err := NewJob(New(f.repo, cairo, Options{}, nil, nil), "every morning", cairo, time.Minute, nil)
	assert.Error(t, err)
}

func TestJobNextFiresAtEightLocal(t *testing.T) {
	f := newFixture(t, 0, 0)
	j, err := NewJob(New(f.repo, cairo, Options{}, nil, nil), "0 8 * * *", cairo, time.Minute, nil)
	require.NoError(t, err)

	next := j.Next(time.Date(2026, 3, 2, 9, 0, 0, 0, cairo))
	assert.True(t, next.Equal(time.Date(2026, 3, 3, 8, 0, 0, 0, cairo)), next.String())

	next = j.Next(time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC))
	assert.True(t, next.Equal(time.Date(2026, 3, 2, 8, 0, 0, 0, cairo)), next.String())
}

func TestTriggerSweepsToday(t *testing.T) {
	f := newFixture(t, 3, 0)
	j, err := NewJob(New(f.repo, cairo, Options{}, nil, nil), "0 8 * * *", cairo, time.Minute, nil)
	require.NoError(t, err)
	j.now = f.clock.Now

	j.Trigger(context.Background())
	assert.Equal(t, 3, f.absentCount(t))
}

func TestTriggerSwallowsErrors(t *testing.T) {
	f := newFixture(t, 3, 0)
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)
	repo := attendance.NewRepository(brokenStore{f.mem})
	j, err := NewJob(New(repo, cairo, Options{}, log, nil), "0 8 * * *", cairo, time.Minute, log)
	require.NoError(t, err)

	assert.NotPanics(t, func() { j.Trigger(context.Background()) })
	assert.Equal(t, 1, logs.FilterMessage("absence sweep failed").Len())
	assert.Zero(t, f.mem.Count(attendance.CollectionAttendance))
}

func TestJobStartStop(t *testing.T) {
	f := newFixture(t, 0, 0)
	j, err := NewJob(New(f.repo, cairo, Options{}, nil, nil), "0 8 * * *", cairo, time.Minute, nil)
	require.NoError(t, err)

	j.Start()
	select {
	case <-j.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
