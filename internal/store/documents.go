// Package store opens the connections the services run on: the document
// store backend, Postgres and Redis.
package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"schoolattendance/internal/config"
	"schoolattendance/internal/docstore"
)

// Documents is an open document store plus a readiness probe.
type Documents struct {
	docstore.Store
	db *DB
}

// OpenDocuments connects the backend named by cfg.StoreBackend.
func OpenDocuments(ctx context.Context, cfg config.App, log *zap.Logger) (*Documents, error) {
	switch cfg.StoreBackend {
	case "firestore":
		fs, err := docstore.NewFirestore(ctx, docstore.FirestoreOptions{
			ProjectID:       cfg.FirestoreProjectID,
			CredentialsFile: cfg.FirestoreCredentialsFile,
			CredentialsJSON: cfg.FirestoreCredentialsJSON,
		})
		if err != nil {
			return nil, err
		}
		log.Info("document store ready", zap.String("backend", "firestore"), zap.String("project", cfg.FirestoreProjectID))
		return &Documents{Store: fs}, nil
	case "postgres":
		db, err := NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		pg := docstore.NewPostgres(db.Client, cfg.SweepBatchSize)
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		log.Info("document store ready", zap.String("backend", "postgres"))
		return &Documents{Store: pg, db: db}, nil
	case "memory":
		log.Warn("using in-memory document store; data is lost on exit")
		return &Documents{Store: docstore.NewMemory(nil, cfg.SweepBatchSize)}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// Healthy reports whether the backend answers.
func (d *Documents) Healthy(ctx context.Context) bool {
	if d.db != nil {
		return d.db.Healthy(ctx)
	}
	_, err := d.Store.Now(ctx)
	return err == nil
}

// Close releases the backend and its connection.
func (d *Documents) Close() error {
	err := d.Store.Close()
	if cerr := d.db.Close(); err == nil {
		err = cerr
	}
	return err
}
