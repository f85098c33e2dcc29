package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	data       JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, id)
)`

// Postgres stores documents as JSONB rows keyed by (collection, id). The
// primary key gives InsertIfAbsent a real conditional insert.
type Postgres struct {
	db       *sql.DB
	maxBatch int
}

// NewPostgres wraps an open pgx-backed *sql.DB.
func NewPostgres(db *sql.DB, maxBatch int) *Postgres {
	if maxBatch <= 0 {
		maxBatch = 500
	}
	return &Postgres{db: db, maxBatch: maxBatch}
}

// EnsureSchema creates the documents table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, postgresSchema)
	return err
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE collection = $1 AND id = $2`, collection, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return decodeRow(id, raw)
}

func (p *Postgres) Find(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	query := `SELECT id, data FROM documents WHERE collection = $1`
	args := []any{collection}
	for _, f := range filters {
		if err := validOp(f.Op); err != nil {
			return nil, err
		}
		clause, vals, err := filterClause(f, len(args)+1)
		if err != nil {
			return nil, err
		}
		query += " AND " + clause
		args = append(args, vals...)
	}
	query += " ORDER BY id"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Document
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		doc, err := decodeRow(id, raw)
		if err != nil {
			return nil, err
		}
		res = append(res, doc)
	}
	return res, rows.Err()
}

func (p *Postgres) Insert(ctx context.Context, collection string, fields Fields) (string, error) {
	now, err := p.Now(ctx)
	if err != nil {
		return "", err
	}
	raw, err := encodeFields(withServerTime(fields, now))
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = p.db.ExecContext(ctx, `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)`, collection, id, raw)
	return id, err
}

func (p *Postgres) InsertIfAbsent(ctx context.Context, collection, id string, fields Fields) (bool, error) {
	now, err := p.Now(ctx)
	if err != nil {
		return false, err
	}
	raw, err := encodeFields(withServerTime(fields, now))
	if err != nil {
		return false, err
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO NOTHING
	`, collection, id, raw)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *Postgres) BatchInsert(ctx context.Context, collection string, docs []Document) error {
	if err := checkBatch(docs, p.maxBatch); err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var now time.Time
	if err := tx.QueryRowContext(ctx, `SELECT NOW()`).Scan(&now); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, d := range docs {
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		raw, err := encodeFields(withServerTime(d.Fields, now))
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)`, collection, id, raw); err != nil {
			_ = tx.Rollback()
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("%w: %s/%s", ErrAlreadyExists, collection, id)
			}
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) MaxBatchSize() int { return p.maxBatch }

func (p *Postgres) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	err := p.db.QueryRowContext(ctx, `SELECT NOW()`).Scan(&now)
	return now, err
}

// Close is a no-op; the *sql.DB belongs to the caller.
func (p *Postgres) Close() error { return nil }

// filterClause renders f against placeholders starting at $n. Field names
// are bound as parameters, never spliced into the SQL text.
func filterClause(f Filter, n int) (string, []any, error) {
	key, val := "$"+strconv.Itoa(n)+"::text", "$"+strconv.Itoa(n+1)
	if f.Op == "==" {
		raw, err := json.Marshal(encodeValue(f.Value))
		if err != nil {
			return "", nil, err
		}
		return "data -> " + key + " = " + val + "::jsonb", []any{f.Field, string(raw)}, nil
	}
	switch v := encodeValue(f.Value).(type) {
	case string:
		return "(data ->> " + key + `) COLLATE "C" ` + f.Op + " " + val, []any{f.Field, v}, nil
	case int, int64, float64:
		return "(data ->> " + key + ")::numeric " + f.Op + " " + val, []any{f.Field, v}, nil
	}
	return "", nil, fmt.Errorf("docstore: operator %s not supported for %T", f.Op, f.Value)
}

func encodeValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return encodeTime(t)
	}
	return v
}

func encodeFields(fields Fields) (string, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = encodeValue(v)
	}
	raw, err := json.Marshal(out)
	return string(raw), err
}

func decodeRow(id string, raw []byte) (Document, error) {
	var fields Fields
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return Document{}, fmt.Errorf("docstore: decode %s: %w", id, err)
	}
	for k, v := range fields {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				fields[k] = i
			} else if f, err := n.Float64(); err == nil {
				fields[k] = f
			}
		}
	}
	return Document{ID: id, Fields: fields}, nil
}
