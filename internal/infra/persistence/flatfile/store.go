// Package flatfile implements the default persistence backend: one
// human-editable JSON file per entity under a data directory.
//
//	<root>/userdata/<first two chars of id>/<id>.json
//	<root>/worlddata/<first two chars of id>/<id>.json
//	<root>/general.json
//	<root>/kits.json
package flatfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/errs"

	"modstore/internal/persistence"
	"modstore/pkg/query"
)

// ID is the catalog id of the flat-file backend.
const ID = "modstore:flatfile"

const ext = ".json"

// Error is the class of flat-file backend errors.
var Error = errs.Class("flatfile")

var dirs = map[persistence.Category]string{
	persistence.CategoryUser:  "userdata",
	persistence.CategoryWorld: "worlddata",
}

// Factory serves every category from files under root.
type Factory struct {
	root string
}

var _ persistence.Factory = (*Factory)(nil)

// New returns a factory rooted at root, creating the directory if needed.
func New(root string) (*Factory, error) {
	if root == "" {
		root = "./data"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, Error.Wrap(err)
	}
	return &Factory{root: root}, nil
}

// ID returns the catalog id.
func (f *Factory) ID() string { return ID }

// Name returns a human-readable label.
func (f *Factory) Name() string { return "Flat file" }

// Root returns the data directory.
func (f *Factory) Root() string { return f.root }

// KeyedRepository returns the repository for c.
func (f *Factory) KeyedRepository(c persistence.Category) (persistence.KeyedRepository, error) {
	dir, ok := dirs[c]
	if !ok {
		return nil, persistence.Unsupported("flatfile: category %s", c)
	}
	return &keyedRepo{dir: filepath.Join(f.root, dir)}, nil
}

// SingleRepository returns the repository for the named record.
func (f *Factory) SingleRepository(name string) (persistence.SingleRepository, error) {
	if err := persistence.ValidateID(name); err != nil {
		return nil, err
	}
	return &singleRepo{path: filepath.Join(f.root, name+ext)}, nil
}

// Close is a no-op; files are never held open.
func (f *Factory) Close() error { return nil }

type keyedRepo struct {
	dir string
}

func shard(id string) string {
	if len(id) < 2 {
		return strings.ToLower(id)
	}
	return strings.ToLower(id[:2])
}

func (r *keyedRepo) pathFor(id string) (string, error) {
	if err := persistence.ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(r.dir, shard(id), id+ext), nil
}

func (r *keyedRepo) Get(_ context.Context, id string) (persistence.Raw, bool, error) {
	path, err := r.pathFor(id)
	if err != nil {
		return nil, false, err
	}
	return readFile(path)
}

func (r *keyedRepo) Set(_ context.Context, id string, raw persistence.Raw) error {
	path, err := r.pathFor(id)
	if err != nil {
		return err
	}
	return writeFile(path, raw)
}

func (r *keyedRepo) Delete(_ context.Context, id string) error {
	path, err := r.pathFor(id)
	if err != nil {
		return err
	}
	return removeFile(path)
}

func (r *keyedRepo) Exists(_ context.Context, id string) (bool, error) {
	path, err := r.pathFor(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, Error.Wrap(err)
}

// ListIDs walks the category directory for entity files.
func (r *keyedRepo) ListIDs(context.Context) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == r.dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ext) || strings.HasPrefix(name, ".") {
			return nil
		}
		ids = append(ids, strings.TrimSuffix(name, ext))
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *keyedRepo) IDs(ctx context.Context, q query.Query) ([]string, error) {
	return persistence.ScanMatching(ctx, r, q)
}

type singleRepo struct {
	path string
}

func (r *singleRepo) Get(context.Context) (persistence.Raw, bool, error) { return readFile(r.path) }
func (r *singleRepo) Set(_ context.Context, raw persistence.Raw) error   { return writeFile(r.path, raw) }
func (r *singleRepo) Delete(context.Context) error                       { return removeFile(r.path) }

func readFile(path string) (persistence.Raw, bool, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Error.Wrap(err)
	}
	return persistence.Raw(b), true, nil
}

// writeFile indents raw for hand editing and moves it into place atomically.
func writeFile(path string, raw persistence.Raw) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return Error.New("indent %s: %v", filepath.Base(path), err)
	}
	buf.WriteByte('\n')
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Error.Wrap(err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return Error.Wrap(err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return Error.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(os.Rename(tmp.Name(), path))
}

func removeFile(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return Error.Wrap(err)
}
