package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// firestoreBatchLimit is the per-commit write cap Firestore enforces.
const firestoreBatchLimit = 500

// Firestore is a Store backed by Cloud Firestore.
type Firestore struct {
	client *firestore.Client
}

// FirestoreOptions selects the project and credentials. With no
// credentials set, application default credentials are used.
type FirestoreOptions struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
}

// NewFirestore initialises a firebase app and opens its Firestore client.
func NewFirestore(ctx context.Context, o FirestoreOptions) (*Firestore, error) {
	var opts []option.ClientOption
	if o.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(o.CredentialsFile))
	} else if o.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(o.CredentialsJSON)))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: o.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Firestore{client: client}, nil
}

func (f *Firestore) Get(ctx context.Context, collection, id string) (Document, error) {
	snap, err := f.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return Document{}, mapFirestoreErr(err)
	}
	return Document{ID: snap.Ref.ID, Fields: snap.Data()}, nil
}

func (f *Firestore) Find(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	q := f.client.Collection(collection).Query
	for _, flt := range filters {
		if err := validOp(flt.Op); err != nil {
			return nil, err
		}
		q = q.Where(flt.Field, flt.Op, flt.Value)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	var res []Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, mapFirestoreErr(err)
		}
		res = append(res, Document{ID: snap.Ref.ID, Fields: snap.Data()})
	}
	return res, nil
}

func (f *Firestore) Insert(ctx context.Context, collection string, fields Fields) (string, error) {
	ref, _, err := f.client.Collection(collection).Add(ctx, map[string]any(withServerTime(fields, firestore.ServerTimestamp)))
	if err != nil {
		return "", mapFirestoreErr(err)
	}
	return ref.ID, nil
}

func (f *Firestore) InsertIfAbsent(ctx context.Context, collection, id string, fields Fields) (bool, error) {
	_, err := f.client.Collection(collection).Doc(id).Create(ctx, map[string]any(withServerTime(fields, firestore.ServerTimestamp)))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, mapFirestoreErr(err)
	}
	return true, nil
}

func (f *Firestore) BatchInsert(ctx context.Context, collection string, docs []Document) error {
	if err := checkBatch(docs, firestoreBatchLimit); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	col := f.client.Collection(collection)
	batch := f.client.Batch()
	for _, d := range docs {
		ref := col.NewDoc()
		if d.ID != "" {
			ref = col.Doc(d.ID)
		}
		batch.Create(ref, map[string]any(withServerTime(d.Fields, firestore.ServerTimestamp)))
	}
	if _, err := batch.Commit(ctx); err != nil {
		return mapFirestoreErr(err)
	}
	return nil
}

func (f *Firestore) MaxBatchSize() int { return firestoreBatchLimit }

// Now returns the local clock. Firestore offers no clock read; written
// instants still come from the server via firestore.ServerTimestamp.
func (f *Firestore) Now(context.Context) (time.Time, error) { return time.Now(), nil }

func (f *Firestore) Close() error { return f.client.Close() }

func mapFirestoreErr(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("firestore: %w", err)
}
