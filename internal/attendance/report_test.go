package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(day, hour int) time.Time { return time.Date(2026, 3, day, hour, 0, 0, 0, cairo) }

func TestSummarize(t *testing.T) {
	recs := []Record{
		{Status: StatusAbsent, Automated: true, Timestamp: at(2, 8)},
		{Status: StatusPresent, Timestamp: at(2, 10)},
		{Status: StatusAbsent, Automated: true, Timestamp: at(3, 8)},
		{Status: StatusPresent, Timestamp: at(4, 7)},
		{Status: StatusPresent, Date: "2026-03-05T07:00:00.000Z"},
	}
	sum := Summarize(recs, cairo)

	assert.Equal(t, 4, sum.TotalDays)
	assert.Equal(t, 3, sum.PresentDays)
	assert.Equal(t, 75, sum.Rate)
	require.Len(t, sum.Days, 4)
	assert.Equal(t, DayStatus{Date: "2026-03-05", Status: StatusPresent}, sum.Days[0])
	assert.Equal(t, DayStatus{Date: "2026-03-03", Status: StatusAbsent}, sum.Days[2])
	assert.Equal(t, DayStatus{Date: "2026-03-02", Status: StatusPresent}, sum.Days[3])
}

func TestSummarizeNoRecords(t *testing.T) {
	sum := Summarize(nil, cairo)
	assert.Equal(t, 100, sum.Rate)
	assert.Zero(t, sum.TotalDays)
}

func TestListByDateAndStudent(t *testing.T) {
	svc, _, clock := setup(t)
	ctx := context.Background()

	for _, ts := range []time.Time{at(2, 8), at(3, 8), at(3, 9)} {
		clock.Set(ts)
		_, err := svc.CheckIn(ctx, "S1", "gate-a", ts)
		require.NoError(t, err)
		_, err = svc.CheckIn(ctx, "S2", "gate-a", ts)
		require.NoError(t, err)
	}

	recs, err := svc.ListByDate(ctx, at(3, 12))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, "2026-03-03", r.Date)
	}

	recs, err = svc.ListByStudent(ctx, "S1", 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "S1_2026-03-03", recs[0].ID, "newest first")

	sum, err := svc.Summary(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "S1", sum.StudentID)
	assert.Equal(t, 2, sum.TotalDays)
	assert.Equal(t, 100, sum.Rate)

	_, ok, err := svc.DailyStatus(ctx, "S1", at(5, 9))
	require.NoError(t, err)
	assert.False(t, ok)
}
