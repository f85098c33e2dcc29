// Package docstore is a small client for collection-based document
// databases. Attendance code talks to this interface only; Firestore,
// Postgres (JSONB) and an in-memory store implement it.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("docstore: document not found")
	ErrAlreadyExists = errors.New("docstore: document already exists")
	ErrBatchTooLarge = errors.New("docstore: batch exceeds store limit")
)

// Fields is the body of a document.
type Fields map[string]any

// Document is a stored document and its id.
type Document struct {
	ID     string
	Fields Fields
}

type serverTimestamp struct{}

// ServerTimestamp, used as a field value, is replaced by the store's own
// clock when the document is written. Clients never supply that instant.
var ServerTimestamp = serverTimestamp{}

// Filter is a single field condition. Filters passed together are ANDed.
type Filter struct {
	Field string
	Op    string
	Value any
}

// Eq matches documents whose field equals v.
func Eq(field string, v any) Filter { return Filter{Field: field, Op: "==", Value: v} }

// Gte matches documents whose field is greater than or equal to v.
func Gte(field string, v any) Filter { return Filter{Field: field, Op: ">=", Value: v} }

// Lt matches documents whose field is strictly less than v.
func Lt(field string, v any) Filter { return Filter{Field: field, Op: "<", Value: v} }

// Store is the document-store client used by the attendance core.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Find(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	Insert(ctx context.Context, collection string, fields Fields) (string, error)
	// InsertIfAbsent creates the document only when id is unused and
	// reports whether it did.
	InsertIfAbsent(ctx context.Context, collection, id string, fields Fields) (bool, error)
	// BatchInsert writes all docs atomically. Docs with an empty ID get a
	// generated one; an existing ID fails the whole batch.
	BatchInsert(ctx context.Context, collection string, docs []Document) error
	MaxBatchSize() int
	// Now reads the store clock.
	Now(ctx context.Context) (time.Time, error)
	Close() error
}

func validOp(op string) error {
	switch op {
	case "==", "<", "<=", ">", ">=":
		return nil
	}
	return fmt.Errorf("docstore: unsupported operator %q", op)
}

// String returns the string field key or "".
func (d Document) String(key string) string {
	s, _ := d.Fields[key].(string)
	return s
}

// Bool returns the bool field key or false.
func (d Document) Bool(key string) bool {
	b, _ := d.Fields[key].(bool)
	return b
}

// Time returns the timestamp field key. Backends that round-trip through
// JSON hand timestamps back as strings, so both forms are accepted.
func (d Document) Time(key string) (time.Time, bool) {
	switch v := d.Fields[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// timeLayout is fixed width so encoded instants sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func encodeTime(t time.Time) string { return t.UTC().Format(timeLayout) }

// withServerTime returns a copy of fields with every ServerTimestamp
// replaced by now.
func withServerTime(fields Fields, now any) Fields {
	out := make(Fields, len(fields))
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = now
			continue
		}
		out[k] = v
	}
	return out
}

func checkBatch(docs []Document, max int) error {
	if len(docs) > max {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(docs), max)
	}
	return nil
}
