// Package sweep back-fills Absent records for active students who have no
// attendance record on a school day.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/docstore"
	"schoolattendance/internal/metrics"
)

// Options tune how absences are committed.
type Options struct {
	// BatchSize caps each committed chunk. The store's own limit wins when
	// it is smaller.
	BatchSize int
	// ChunkRetries is how many times a failed chunk is retried before the
	// run gives up.
	ChunkRetries int
}

// Report describes one sweep run.
type Report struct {
	Date   string `json:"date"`
	Active int    `json:"active"`
	Marked int    `json:"marked"`
	Absent int    `json:"absent"`
	Chunks int    `json:"chunks"`
	// HighWater is the number of absentees whose chunk has been committed.
	HighWater int `json:"high_water"`
}

// Sweeper computes and writes the day's absences.
type Sweeper struct {
	repo    *attendance.Repository
	loc     *time.Location
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics
}

// New creates a sweeper. Days are computed in loc, which must be the zone
// the scheduler fires in.
func New(repo *attendance.Repository, loc *time.Location, opts Options, log *zap.Logger, m *metrics.Metrics) *Sweeper {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ChunkRetries < 0 {
		opts.ChunkRetries = 0
	}
	return &Sweeper{repo: repo, loc: loc, opts: opts, log: log, metrics: m}
}

// Run sweeps the calendar day of now.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (rep Report, err error) {
	started := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		s.metrics.SweepRun(result, rep.HighWater, time.Since(started))
	}()

	dayStart := attendance.DayStart(now, s.loc)
	rep.Date = attendance.DateKey(dayStart)
	log := s.log.With(zap.String("date", rep.Date))

	students, err := s.repo.ActiveStudents(ctx)
	if err != nil {
		return rep, fmt.Errorf("load active students: %w", err)
	}
	rep.Active = len(students)
	if rep.Active == 0 {
		log.Info("no active students, nothing to sweep")
		return rep, nil
	}

	recs, err := s.repo.RecordsSince(ctx, dayStart)
	if err != nil {
		return rep, fmt.Errorf("load records since %s: %w", rep.Date, err)
	}
	marked := make(map[string]bool, len(recs))
	for _, r := range recs {
		marked[r.StudentID] = true
	}

	var absent []attendance.Record
	for _, st := range students {
		if marked[st.ID] {
			rep.Marked++
			continue
		}
		absent = append(absent, attendance.Record{
			ID:          attendance.AbsentRecordID(st.ID, rep.Date),
			StudentID:   st.ID,
			StudentName: st.FullName,
			Status:      attendance.StatusAbsent,
			Automated:   true,
			Date:        rep.Date,
		})
	}
	rep.Absent = len(absent)
	if rep.Absent == 0 {
		log.Info("every active student already has a record", zap.Int("active", rep.Active))
		return rep, nil
	}

	size := s.chunkSize()
	for start := 0; start < len(absent); start += size {
		end := min(start+size, len(absent))
		if err := s.commit(ctx, absent[start:end]); err != nil {
			return rep, fmt.Errorf("commit absentees %d-%d: %w", start, end, err)
		}
		rep.Chunks++
		rep.HighWater = end
	}

	log.Info("absence sweep committed",
		zap.Int("active", rep.Active),
		zap.Int("marked", rep.Marked),
		zap.Int("absent", rep.Absent),
		zap.Int("chunks", rep.Chunks),
	)
	return rep, nil
}

func (s *Sweeper) chunkSize() int {
	size := s.repo.MaxBatchSize()
	if s.opts.BatchSize > 0 && s.opts.BatchSize < size {
		size = s.opts.BatchSize
	}
	return max(size, 1)
}

// commit writes one chunk, retrying it alone on failure. A retry that finds
// ids already taken means an earlier attempt landed, so the chunk is
// finished record by record instead.
func (s *Sweeper) commit(ctx context.Context, chunk []attendance.Record) error {
	var err error
	for attempt := 0; attempt <= s.opts.ChunkRetries; attempt++ {
		if attempt > 0 {
			s.log.Warn("retrying sweep chunk",
				zap.Int("attempt", attempt),
				zap.Int("size", len(chunk)),
				zap.Error(err),
			)
		}
		err = s.repo.InsertRecords(ctx, chunk)
		if err == nil {
			return nil
		}
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return s.commitEach(ctx, chunk)
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (s *Sweeper) commitEach(ctx context.Context, chunk []attendance.Record) error {
	for _, rec := range chunk {
		if _, err := s.repo.InsertRecordIfAbsent(ctx, rec.ID, rec); err != nil {
			return err
		}
	}
	return nil
}
