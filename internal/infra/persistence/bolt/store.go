// Package bolt stores entity documents in an embedded BoltDB file with one
// bucket per category and a shared bucket for single records.
package bolt

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/errs"

	"modstore/internal/persistence"
	"modstore/pkg/query"
)

// ID is the catalog id of the BoltDB backend.
const ID = "modstore:bolt"

const (
	// fileMode sets permissions so owner can read and write
	fileMode       = 0600
	defaultTimeout = 1 * time.Second
	defaultPath    = "modstore.bolt"
	singlesBucket  = "singles"
)

// Error is the class of BoltDB backend errors.
var Error = errs.Class("bolt")

// Factory serves every category from one BoltDB file.
type Factory struct {
	db   *bolt.DB
	path string
}

var _ persistence.Factory = (*Factory)(nil)

// New opens (creating if needed) the database at path and its buckets.
func New(path string) (*Factory, error) {
	if path == "" {
		path = defaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		names := []string{singlesBucket}
		for _, c := range persistence.Categories() {
			names = append(names, string(c))
		}
		for _, name := range names {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Combine(Error.Wrap(err), db.Close())
	}
	return &Factory{db: db, path: path}, nil
}

// ID returns the catalog id.
func (f *Factory) ID() string { return ID }

// Name returns a human-readable label.
func (f *Factory) Name() string { return "BoltDB" }

// Path returns the database file.
func (f *Factory) Path() string { return f.path }

// KeyedRepository returns the repository for c. Only the built-in
// categories have buckets.
func (f *Factory) KeyedRepository(c persistence.Category) (persistence.KeyedRepository, error) {
	for _, known := range persistence.Categories() {
		if c == known {
			return &keyedRepo{db: f.db, bucket: []byte(c)}, nil
		}
	}
	return nil, persistence.Unsupported("bolt: category %s", c)
}

// SingleRepository returns the repository for the named record.
func (f *Factory) SingleRepository(name string) (persistence.SingleRepository, error) {
	if err := persistence.ValidateID(name); err != nil {
		return nil, err
	}
	return &singleRepo{db: f.db, key: []byte(name)}, nil
}

// Close closes the database file.
func (f *Factory) Close() error { return Error.Wrap(f.db.Close()) }

func get(db *bolt.DB, bucket, key []byte) (persistence.Raw, bool, error) {
	var out persistence.Raw
	err := db.View(func(tx *bolt.Tx) error {
		// values are only valid for the life of the transaction
		if v := tx.Bucket(bucket).Get(key); v != nil {
			out = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, false, Error.Wrap(err)
	}
	return out, out != nil, nil
}

func put(db *bolt.DB, bucket, key []byte, raw persistence.Raw) error {
	return Error.Wrap(db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, bytes.Clone(raw))
	}))
}

func del(db *bolt.DB, bucket, key []byte) error {
	return Error.Wrap(db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete(key)
	}))
}

type keyedRepo struct {
	db     *bolt.DB
	bucket []byte
}

func (r *keyedRepo) Get(_ context.Context, id string) (persistence.Raw, bool, error) {
	return get(r.db, r.bucket, []byte(id))
}

func (r *keyedRepo) Set(_ context.Context, id string, raw persistence.Raw) error {
	if id == "" {
		return persistence.ErrInvalidID.New("empty id")
	}
	return put(r.db, r.bucket, []byte(id), raw)
}

func (r *keyedRepo) Delete(_ context.Context, id string) error {
	return del(r.db, r.bucket, []byte(id))
}

func (r *keyedRepo) Exists(_ context.Context, id string) (bool, error) {
	var ok bool
	err := r.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(r.bucket).Get([]byte(id)) != nil
		return nil
	})
	return ok, Error.Wrap(err)
}

// ListIDs walks the bucket in key order.
func (r *keyedRepo) ListIDs(_ context.Context) ([]string, error) {
	var ids []string
	err := r.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(r.bucket).Cursor()
		for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
			ids = append(ids, string(k))
		}
		return nil
	})
	return ids, Error.Wrap(err)
}

func (r *keyedRepo) IDs(ctx context.Context, q query.Query) ([]string, error) {
	return persistence.ScanMatching(ctx, r, q)
}

type singleRepo struct {
	db  *bolt.DB
	key []byte
}

func (r *singleRepo) Get(_ context.Context) (persistence.Raw, bool, error) {
	return get(r.db, []byte(singlesBucket), r.key)
}

func (r *singleRepo) Set(_ context.Context, raw persistence.Raw) error {
	return put(r.db, []byte(singlesBucket), r.key, raw)
}

func (r *singleRepo) Delete(_ context.Context) error {
	return del(r.db, []byte(singlesBucket), r.key)
}
