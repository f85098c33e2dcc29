package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"schoolattendance/internal/metrics"
)

var (
	ErrStudentNotFound = errors.New("student not found")
	// ErrSystem wraps every document-store failure seen by the service.
	ErrSystem = errors.New("attendance system error")
)

// Outcome of a successful check-in.
type Outcome string

const (
	Recorded       Outcome = "recorded"
	AlreadyPresent Outcome = "already_present"
)

// CheckInResult is what the scanning station shows the operator.
type CheckInResult struct {
	Outcome     Outcome `json:"outcome"`
	StudentID   string  `json:"student_id"`
	StudentName string  `json:"student_name"`
	RecordID    string  `json:"record_id,omitempty"`
}

// Service reconciles check-ins against the day's records.
type Service struct {
	repo    *Repository
	loc     *time.Location
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewService creates a service. Calendar days are taken in loc.
func NewService(repo *Repository, loc *time.Location, log *zap.Logger, m *metrics.Metrics) *Service {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, loc: loc, log: log, metrics: m}
}

// Location is the zone calendar days are computed in.
func (s *Service) Location() *time.Location { return s.loc }

// Student looks up a student by id.
func (s *Service) Student(ctx context.Context, id string) (Student, error) {
	st, err := s.repo.GetStudent(ctx, id)
	if err != nil {
		return Student{}, fmt.Errorf("%w: lookup student: %w", ErrSystem, err)
	}
	if st == nil {
		return Student{}, ErrStudentNotFound
	}
	return *st, nil
}

// CheckIn records studentID as present for the day of now, at most once.
// device names the station that read the card.
func (s *Service) CheckIn(ctx context.Context, studentID, device string, now time.Time) (CheckInResult, error) {
	student, err := s.repo.GetStudent(ctx, studentID)
	if err != nil {
		return s.fail(studentID, fmt.Errorf("%w: lookup student: %w", ErrSystem, err))
	}
	if student == nil {
		s.metrics.CheckIn("student_not_found")
		return CheckInResult{}, ErrStudentNotFound
	}

	dayStart := DayStart(now, s.loc)
	res := CheckInResult{StudentID: student.ID, StudentName: student.FullName}

	existing, err := s.repo.RecordsForStudent(ctx, student.ID)
	if err != nil {
		return s.fail(studentID, fmt.Errorf("%w: load records: %w", ErrSystem, err))
	}
	for _, rec := range existing {
		if rec.Status == StatusPresent && !rec.Timestamp.Before(dayStart) {
			res.Outcome = AlreadyPresent
			res.RecordID = rec.ID
			s.metrics.CheckIn(string(res.Outcome))
			return res, nil
		}
	}

	date := DateKey(dayStart)
	id := PresentRecordID(student.ID, date)
	created, err := s.repo.InsertRecordIfAbsent(ctx, id, Record{
		StudentID:   student.ID,
		StudentName: student.FullName,
		Status:      StatusPresent,
		Date:        date,
		Device:      device,
	})
	if err != nil {
		return s.fail(studentID, fmt.Errorf("%w: write record: %w", ErrSystem, err))
	}
	res.RecordID = id
	res.Outcome = Recorded
	if !created {
		// a concurrent check-in won the conditional create
		res.Outcome = AlreadyPresent
	}
	s.metrics.CheckIn(string(res.Outcome))
	s.log.Info("check-in reconciled",
		zap.String("student_id", student.ID),
		zap.String("outcome", string(res.Outcome)),
		zap.String("device", device),
	)
	return res, nil
}

func (s *Service) fail(studentID string, err error) (CheckInResult, error) {
	s.metrics.CheckIn("system_error")
	s.log.Error("check-in failed", zap.String("student_id", studentID), zap.Error(err))
	return CheckInResult{}, err
}
