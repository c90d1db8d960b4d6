// Package persistence defines the storage backend contract: repositories
// that load and store raw entity documents, factories that hand out
// repositories per category, and the registry that selects the active
// factory at startup.
package persistence

import (
	"context"
	"encoding/json"

	"modstore/pkg/query"
)

// Raw is the canonical interchange form of one entity: a JSON object.
type Raw = json.RawMessage

// Category names a family of keyed records.
type Category string

// Record categories.
const (
	CategoryUser  Category = "user"
	CategoryWorld Category = "world"
)

// Categories lists every keyed category in a stable order.
func Categories() []Category { return []Category{CategoryUser, CategoryWorld} }

// Names of the singleton records.
const (
	SingleGeneral = "general"
	SingleKits    = "kits"
)

// Singles lists every singleton record name in a stable order.
func Singles() []string { return []string{SingleGeneral, SingleKits} }

// KeyedRepository stores many documents of one category addressed by id.
// Implementations must be safe for concurrent use.
type KeyedRepository interface {
	// Get returns the stored document; false when nothing is stored.
	Get(ctx context.Context, id string) (Raw, bool, error)
	Set(ctx context.Context, id string, raw Raw) error
	// Delete removes the document. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
	// IDs returns the ids of stored documents matching q in ascending order.
	IDs(ctx context.Context, q query.Query) ([]string, error)
}

// SingleRepository stores exactly one document.
type SingleRepository interface {
	Get(ctx context.Context) (Raw, bool, error)
	Set(ctx context.Context, raw Raw) error
	Delete(ctx context.Context) error
}

// Factory produces repositories for one backend. Either method may return
// ErrUnsupported to signal that the backend cannot serve the category.
type Factory interface {
	// ID is the catalog id the factory is registered and selected under.
	ID() string
	// Name is a human-readable label.
	Name() string
	KeyedRepository(c Category) (KeyedRepository, error)
	SingleRepository(name string) (SingleRepository, error)
	Close() error
}
