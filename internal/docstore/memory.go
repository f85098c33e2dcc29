package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store for dev runs and tests.
type Memory struct {
	mu       sync.RWMutex
	data     map[string]map[string]Fields
	clock    func() time.Time
	maxBatch int
}

// NewMemory creates an empty store. clock may be nil for time.Now.
func NewMemory(clock func() time.Time, maxBatch int) *Memory {
	if clock == nil {
		clock = time.Now
	}
	if maxBatch <= 0 {
		maxBatch = 500
	}
	return &Memory{data: make(map[string]map[string]Fields), clock: clock, maxBatch: maxBatch}
}

func (m *Memory) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.data[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Fields: clone(f)}, nil
}

func (m *Memory) Find(_ context.Context, collection string, filters ...Filter) ([]Document, error) {
	for _, f := range filters {
		if err := validOp(f.Op); err != nil {
			return nil, err
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Document
	for id, fields := range m.data[collection] {
		if matchAll(fields, filters) {
			out = append(out, Document{ID: id, Fields: clone(fields)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Insert(_ context.Context, collection string, fields Fields) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.put(collection, id, withServerTime(fields, m.clock()))
	return id, nil
}

func (m *Memory) InsertIfAbsent(_ context.Context, collection, id string, fields Fields) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[collection][id]; ok {
		return false, nil
	}
	m.put(collection, id, withServerTime(fields, m.clock()))
	return true, nil
}

func (m *Memory) BatchInsert(_ context.Context, collection string, docs []Document) error {
	if err := checkBatch(docs, m.maxBatch); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(docs))
	seen := make(map[string]bool, len(docs))
	for i, d := range docs {
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, ok := m.data[collection][id]; ok || seen[id] {
			return fmt.Errorf("%w: %s/%s", ErrAlreadyExists, collection, id)
		}
		seen[id] = true
		ids[i] = id
	}
	now := m.clock()
	for i, d := range docs {
		m.put(collection, ids[i], withServerTime(d.Fields, now))
	}
	return nil
}

func (m *Memory) MaxBatchSize() int { return m.maxBatch }

func (m *Memory) Now(context.Context) (time.Time, error) { return m.clock(), nil }

func (m *Memory) Close() error { return nil }

// Put stores a document as-is, overwriting any previous version. Used to
// seed directory collections.
func (m *Memory) Put(collection, id string, fields Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(collection, id, withServerTime(fields, m.clock()))
}

// Count returns the number of documents in collection.
func (m *Memory) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[collection])
}

func (m *Memory) put(collection, id string, fields Fields) {
	if m.data[collection] == nil {
		m.data[collection] = make(map[string]Fields)
	}
	m.data[collection][id] = fields
}

func clone(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func matchAll(fields Fields, filters []Filter) bool {
	for _, f := range filters {
		v, ok := fields[f.Field]
		if !ok {
			return false
		}
		c, ok := compare(v, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case "==":
			if c != 0 {
				return false
			}
		case "<":
			if c >= 0 {
				return false
			}
		case "<=":
			if c > 0 {
				return false
			}
		case ">":
			if c <= 0 {
				return false
			}
		case ">=":
			if c < 0 {
				return false
			}
		}
	}
	return true
}

// compare orders a against b when both hold the same kind of value.
func compare(a, b any) (int, bool) {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case bool:
		bv, ok := b.(bool)
		if !ok || av != bv {
			return 1, ok
		}
		return 0, true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	}
	return 0, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
