// Package translate converts between stored documents and in-memory keyed
// records. Translators are the only place that knows how a record is
// encoded, so services and backends stay independent of each other.
package translate

import (
	"go.uber.org/zap"

	"modstore/internal/persistence"
)

// Translator converts one record type to and from its stored form.
type Translator[R any] interface {
	// CreateNew returns an empty record for an entity that has never been
	// stored.
	CreateNew() R
	// FromRaw decodes a stored document. Per-key failures are isolated; an
	// error means the document as a whole is unusable.
	FromRaw(id string, raw persistence.Raw) (R, error)
	// ToRaw encodes rec for storage.
	ToRaw(rec R) (persistence.Raw, error)
}

// Reporter is told about stored values that no longer decode against their
// declared key.
type Reporter interface {
	KeyDecodeFailed(schema, id, key string, err error)
}

// Nop discards reports.
type Nop struct{}

// KeyDecodeFailed implements Reporter.
func (Nop) KeyDecodeFailed(string, string, string, error) {}

// Reporters fans a report out to every member.
type Reporters []Reporter

// KeyDecodeFailed implements Reporter.
func (rs Reporters) KeyDecodeFailed(schema, id, key string, err error) {
	for _, r := range rs {
		if r != nil {
			r.KeyDecodeFailed(schema, id, key, err)
		}
	}
}

type zapReporter struct {
	log *zap.Logger
}

// Zap returns a Reporter that logs each failure as a warning.
func Zap(log *zap.Logger) Reporter {
	if log == nil {
		log = zap.NewNop()
	}
	return zapReporter{log: log.Named("translate")}
}

func (z zapReporter) KeyDecodeFailed(schema, id, key string, err error) {
	z.log.Warn("stored value does not decode; keeping it aside",
		zap.String("schema", schema),
		zap.String("id", id),
		zap.String("key", key),
		zap.Error(err))
}

func orNop(r Reporter) Reporter {
	if r == nil {
		return Nop{}
	}
	return r
}
