package attendance

import (
	"time"

	"schoolattendance/internal/docstore"
)

// Collection names shared with the rest of the school system.
const (
	CollectionUsers      = "users"
	CollectionAttendance = "attendance"
)

// RoleStudent is the users.role value of students.
const RoleStudent = "student"

// Status of an attendance record.
type Status string

const (
	StatusPresent Status = "Present"
	StatusAbsent  Status = "Absent"
)

// Student is the read-only view of a users document.
type Student struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	IsActive bool   `json:"is_active"`
	Role     string `json:"role"`
}

// Record is one attendance document. Records are written once and never
// updated by this service.
type Record struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Automated   bool      `json:"automated"`
	Date        string    `json:"date"`
	Device      string    `json:"device,omitempty"`
}

// DayStart truncates t to local midnight in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DateKey formats a calendar day as YYYY-MM-DD.
func DateKey(day time.Time) string { return day.Format(time.DateOnly) }

// PresentRecordID is the deterministic id of a student's Present record for
// a day. Creating it conditionally is what keeps check-ins exactly-once.
func PresentRecordID(studentID, date string) string { return studentID + "_" + date }

// AbsentRecordID is the deterministic id of a sweep-written Absent record.
func AbsentRecordID(studentID, date string) string { return studentID + "_" + date + "_absent" }

// fields renders r for writing. The timestamp is always left to the store.
func (r Record) fields() docstore.Fields {
	f := docstore.Fields{
		"studentId":   r.StudentID,
		"studentName": r.StudentName,
		"status":      string(r.Status),
		"timestamp":   docstore.ServerTimestamp,
		"automated":   r.Automated,
		"date":        r.Date,
	}
	if r.Device != "" {
		f["device"] = r.Device
	}
	return f
}

func recordFromDoc(doc docstore.Document) Record {
	ts, _ := doc.Time("timestamp")
	return Record{
		ID:          doc.ID,
		StudentID:   doc.String("studentId"),
		StudentName: doc.String("studentName"),
		Status:      Status(doc.String("status")),
		Timestamp:   ts,
		Automated:   doc.Bool("automated"),
		Date:        doc.String("date"),
		Device:      doc.String("device"),
	}
}

func studentFromDoc(doc docstore.Document) Student {
	return Student{
		ID:       doc.ID,
		FullName: doc.String("fullName"),
		IsActive: doc.Bool("isActive"),
		Role:     doc.String("role"),
	}
}
