package attendance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

const defaultStudentLimit = 100

// DayStatus is a student's resolved status for one calendar day.
type DayStatus struct {
	Date   string `json:"date"`
	Status Status `json:"status"`
}

// Summary is a student's attendance over every recorded day.
type Summary struct {
	StudentID   string      `json:"student_id"`
	Days        []DayStatus `json:"days"`
	PresentDays int         `json:"present_days"`
	TotalDays   int         `json:"total_days"`
	// Rate is the rounded percentage of present days, 100 when no day
	// has been recorded yet.
	Rate int `json:"rate"`
}

// ListByDate returns every record stamped on the calendar day of day,
// newest first.
func (s *Service) ListByDate(ctx context.Context, day time.Time) ([]Record, error) {
	start := DayStart(day, s.loc)
	recs, err := s.repo.RecordsBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("%w: list by date: %w", ErrSystem, err)
	}
	return recs, nil
}

// ListByStudent returns up to limit records of a student, newest first.
func (s *Service) ListByStudent(ctx context.Context, studentID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultStudentLimit
	}
	recs, err := s.repo.RecordsForStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("%w: list by student: %w", ErrSystem, err)
	}
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Summary resolves every recorded day of a student and computes the
// attendance rate.
func (s *Service) Summary(ctx context.Context, studentID string) (Summary, error) {
	recs, err := s.repo.RecordsForStudent(ctx, studentID)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: summary: %w", ErrSystem, err)
	}
	sum := Summarize(recs, s.loc)
	sum.StudentID = studentID
	return sum, nil
}

// DailyStatus resolves a student's status on the calendar day of day. ok is
// false when the student has no record that day.
func (s *Service) DailyStatus(ctx context.Context, studentID string, day time.Time) (status Status, ok bool, err error) {
	recs, err := s.repo.RecordsForStudent(ctx, studentID)
	if err != nil {
		return "", false, fmt.Errorf("%w: daily status: %w", ErrSystem, err)
	}
	want := DateKey(DayStart(day, s.loc))
	for _, d := range Summarize(recs, s.loc).Days {
		if d.Date == want {
			return d.Status, true, nil
		}
	}
	return "", false, nil
}

// Summarize groups records by calendar day in loc. A day with both an
// automated Absent and a later Present counts as Present: any Present
// supersedes any Absent on the same day.
func Summarize(recs []Record, loc *time.Location) Summary {
	byDay := make(map[string]Status)
	for _, r := range recs {
		date := recordDate(r, loc)
		if date == "" {
			continue
		}
		if r.Status == StatusPresent || byDay[date] == "" {
			byDay[date] = r.Status
		}
	}

	sum := Summary{Days: make([]DayStatus, 0, len(byDay))}
	for date, st := range byDay {
		sum.Days = append(sum.Days, DayStatus{Date: date, Status: st})
		if st == StatusPresent {
			sum.PresentDays++
		}
	}
	sort.Slice(sum.Days, func(i, j int) bool { return sum.Days[i].Date > sum.Days[j].Date })
	sum.TotalDays = len(sum.Days)
	sum.Rate = 100
	if sum.TotalDays > 0 {
		sum.Rate = int(math.Round(float64(sum.PresentDays) * 100 / float64(sum.TotalDays)))
	}
	return sum
}

// recordDate buckets by the server timestamp, falling back to the captured
// date string for records written before timestamps resolved.
func recordDate(r Record, loc *time.Location) string {
	if !r.Timestamp.IsZero() {
		return DateKey(r.Timestamp.In(loc))
	}
	if len(r.Date) >= len(time.DateOnly) {
		return r.Date[:len(time.DateOnly)]
	}
	return ""
}
