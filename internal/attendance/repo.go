package attendance

import (
	"context"
	"errors"
	"sort"
	"time"

	"schoolattendance/internal/docstore"
)

// Repository reads students and reads/writes attendance records in the
// document store.
type Repository struct {
	store docstore.Store
}

// NewRepository creates a repo.
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// GetStudent returns the student with id, or nil when there is none.
func (r *Repository) GetStudent(ctx context.Context, id string) (*Student, error) {
	doc, err := r.store.Get(ctx, CollectionUsers, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	s := studentFromDoc(doc)
	return &s, nil
}

// ActiveStudents returns every active user with the student role.
func (r *Repository) ActiveStudents(ctx context.Context) ([]Student, error) {
	docs, err := r.store.Find(ctx, CollectionUsers,
		docstore.Eq("role", RoleStudent),
		docstore.Eq("isActive", true),
	)
	if err != nil {
		return nil, err
	}
	students := make([]Student, 0, len(docs))
	for _, d := range docs {
		students = append(students, studentFromDoc(d))
	}
	return students, nil
}

// RecordsForStudent returns all records of a student, newest first.
func (r *Repository) RecordsForStudent(ctx context.Context, studentID string) ([]Record, error) {
	return r.find(ctx, docstore.Eq("studentId", studentID))
}

// RecordsSince returns records stamped at or after since, newest first.
// It filters on timestamp only so Firestore needs no composite index.
func (r *Repository) RecordsSince(ctx context.Context, since time.Time) ([]Record, error) {
	return r.find(ctx, docstore.Gte("timestamp", since))
}

// RecordsBetween returns records stamped in [from, to), newest first.
func (r *Repository) RecordsBetween(ctx context.Context, from, to time.Time) ([]Record, error) {
	return r.find(ctx, docstore.Gte("timestamp", from), docstore.Lt("timestamp", to))
}

// InsertRecordIfAbsent writes rec under id unless id is taken.
func (r *Repository) InsertRecordIfAbsent(ctx context.Context, id string, rec Record) (bool, error) {
	return r.store.InsertIfAbsent(ctx, CollectionAttendance, id, rec.fields())
}

// InsertRecords writes recs atomically, each under its own ID.
func (r *Repository) InsertRecords(ctx context.Context, recs []Record) error {
	docs := make([]docstore.Document, len(recs))
	for i, rec := range recs {
		docs[i] = docstore.Document{ID: rec.ID, Fields: rec.fields()}
	}
	return r.store.BatchInsert(ctx, CollectionAttendance, docs)
}

// MaxBatchSize is the largest InsertRecords call the store accepts.
func (r *Repository) MaxBatchSize() int { return r.store.MaxBatchSize() }

func (r *Repository) find(ctx context.Context, filters ...docstore.Filter) ([]Record, error) {
	docs, err := r.store.Find(ctx, CollectionAttendance, filters...)
	if err != nil {
		return nil, err
	}
	res := make([]Record, 0, len(docs))
	for _, d := range docs {
		res = append(res, recordFromDoc(d))
	}
	sortNewestFirst(res)
	return res, nil
}

func sortNewestFirst(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.After(recs[j].Timestamp) })
}
