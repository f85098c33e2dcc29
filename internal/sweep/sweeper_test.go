package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/docstore"
)

var cairo = time.FixedZone("EET", 2*3600)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// flakyStore fails the first failures BatchInsert calls. With landFirst
// the first failing call still writes its batch, like a commit whose
// acknowledgement was lost.
type flakyStore struct {
	docstore.Store
	failures  int
	landFirst bool
	calls     int
}

var errCommit = errors.New("commit failed")

func (f *flakyStore) BatchInsert(ctx context.Context, c string, docs []docstore.Document) error {
	f.calls++
	if f.calls > f.failures {
		return f.Store.BatchInsert(ctx, c, docs)
	}
	if f.landFirst && f.calls == 1 {
		if err := f.Store.BatchInsert(ctx, c, docs); err != nil {
			return err
		}
	}
	return errCommit
}

type fixture struct {
	mem   *docstore.Memory
	clock *clock
	repo  *attendance.Repository
	svc   *attendance.Service
}

func newFixture(t *testing.T, students int, maxBatch int) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 2, 7, 0, 0, 0, cairo)}
	mem := docstore.NewMemory(c.Now, maxBatch)
	for i := 1; i <= students; i++ {
		mem.Put(attendance.CollectionUsers, fmt.Sprintf("S%d", i), docstore.Fields{
			"fullName": fmt.Sprintf("Student %d", i),
			"role":     attendance.RoleStudent,
			"isActive": true,
		})
	}
	repo := attendance.NewRepository(mem)
	return &fixture{mem: mem, clock: c, repo: repo, svc: attendance.NewService(repo, cairo, nil, nil)}
}

func (f *fixture) checkIn(t *testing.T, id string) {
	t.Helper()
	_, err := f.svc.CheckIn(context.Background(), id, "gate-a", f.clock.Now())
	require.NoError(t, err)
}

func (f *fixture) absentCount(t *testing.T) int {
	t.Helper()
	docs, err := f.mem.Find(context.Background(), attendance.CollectionAttendance, docstore.Eq("status", "Absent"))
	require.NoError(t, err)
	return len(docs)
}

func TestRunWritesComplementAndIsIdempotent(t *testing.T) {
	f := newFixture(t, 5, 0)
	f.mem.Put(attendance.CollectionUsers, "T1", docstore.Fields{"fullName": "Teacher", "role": "teacher", "isActive": true})
	f.mem.Put(attendance.CollectionUsers, "S9", docstore.Fields{"fullName": "Left", "role": attendance.RoleStudent, "isActive": false})
	f.checkIn(t, "S2")
	f.checkIn(t, "S4")

	f.clock.Set(time.Date(2026, 3, 2, 8, 0, 0, 0, cairo))
	s := New(f.repo, cairo, Options{BatchSize: 500}, nil, nil)
	ctx := context.Background()

	rep, err := s.Run(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, Report{Date: "2026-03-02", Active: 5, Marked: 2, Absent: 3, Chunks: 1, HighWater: 3}, rep)
	assert.Equal(t, 3, f.absentCount(t))

	doc, err := f.mem.Get(ctx, attendance.CollectionAttendance, "S1_2026-03-02_absent")
	require.NoError(t, err)
	assert.True(t, doc.Bool("automated"))
	assert.Equal(t, "Student 1", doc.String("studentName"))
	assert.Equal(t, "2026-03-02", doc.String("date"))
	ts, ok := doc.Time("timestamp")
	require.True(t, ok)
	assert.True(t, ts.Equal(f.clock.Now()))

	before := f.mem.Count(attendance.CollectionAttendance)
	rep, err = s.Run(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, rep.Absent)
	assert.Zero(t, rep.Chunks)
	assert.Equal(t, before, f.mem.Count(attendance.CollectionAttendance))
}

func TestRunIgnoresYesterday(t *testing.T) {
	f := newFixture(t, 2, 0)
	f.checkIn(t, "S1")

	f.clock.Set(time.Date(2026, 3, 3, 8, 0, 0, 0, cairo))
	rep, err := New(f.repo, cairo, Options{}, nil, nil).Run(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Absent)
}

func TestRunNoActiveStudents(t *testing.T) {
	f := newFixture(t, 0, 0)

	rep, err := New(f.repo, cairo, Options{}, nil, nil).Run(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, rep.Active)
	assert.Zero(t, f.mem.Count(attendance.CollectionAttendance))
}

func TestRunThenLateScan(t *testing.T) {
	f := newFixture(t, 1, 0)
	ctx := context.Background()

	f.clock.Set(time.Date(2026, 3, 2, 8, 0, 0, 0, cairo))
	_, err := New(f.repo, cairo, Options{}, nil, nil).Run(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, f.absentCount(t))

	f.clock.Set(time.Date(2026, 3, 2, 10, 0, 0, 0, cairo))
	res, err := f.svc.CheckIn(ctx, "S1", "gate-a", f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, attendance.Recorded, res.Outcome)
	assert.Equal(t, 2, f.mem.Count(attendance.CollectionAttendance))

	status, ok, err := f.svc.DailyStatus(ctx, "S1", f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, attendance.StatusPresent, status)
}

func TestRunChunksToStoreLimit(t *testing.T) {
	f := newFixture(t, 7, 3)

	rep, err := New(f.repo, cairo, Options{BatchSize: 500}, nil, nil).Run(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Chunks)
	assert.Equal(t, 7, rep.HighWater)
	assert.Equal(t, 7, f.absentCount(t))

	f2 := newFixture(t, 7, 0)
	rep, err = New(f2.repo, cairo, Options{BatchSize: 2}, nil, nil).Run(context.Background(), f2.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Chunks)
}

func TestRunRetriesFailedChunk(t *testing.T) {
	f := newFixture(t, 4, 0)
	fs := &flakyStore{Store: f.mem, failures: 2}
	repo := attendance.NewRepository(fs)

	rep, err := New(repo, cairo, Options{BatchSize: 2, ChunkRetries: 2}, nil, nil).Run(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 4, rep.HighWater)
	assert.Equal(t, 4, f.absentCount(t))
	assert.Equal(t, 4, fs.calls)
}

func TestRunStopsAtHighWater(t *testing.T) {
	f := newFixture(t, 4, 0)
	repo := attendance.NewRepository(&secondChunkFails{Store: f.mem})

	rep, err := New(repo, cairo, Options{BatchSize: 2, ChunkRetries: 1}, nil, nil).Run(context.Background(), f.clock.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, errCommit)
	assert.Equal(t, 2, rep.HighWater)
	assert.Equal(t, 1, rep.Chunks)
	assert.Equal(t, 2, f.absentCount(t))

	// the next run only writes what is still missing
	rep, err = New(f.repo, cairo, Options{BatchSize: 2}, nil, nil).Run(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Absent)
	assert.Equal(t, 4, f.absentCount(t))
}

func TestRunFinishesChunkThatLanded(t *testing.T) {
	f := newFixture(t, 3, 0)
	fs := &flakyStore{Store: f.mem, failures: 1, landFirst: true}
	repo := attendance.NewRepository(fs)

	rep, err := New(repo, cairo, Options{ChunkRetries: 1}, nil, nil).Run(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.HighWater)
	assert.Equal(t, 3, f.absentCount(t))
}

// secondChunkFails accepts the first BatchInsert and rejects the rest.
type secondChunkFails struct {
	docstore.Store
	calls int
}

func (s *secondChunkFails) BatchInsert(ctx context.Context, c string, docs []docstore.Document) error {
	s.calls++
	if s.calls > 1 {
		return errCommit
	}
	return s.Store.BatchInsert(ctx, c, docs)
}
