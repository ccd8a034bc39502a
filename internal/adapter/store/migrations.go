package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"legisrag/internal/domain"
)

// CurrentSchemaVersion is the on-disk format version of both bolt stores.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var keySchemaVersion = []byte("schema_version")

// Manifest describes how a vector index was built.
type Manifest struct {
	SchemaVersion int       `json:"schema_version"`
	Model         string    `json:"model"`
	Dimension     int       `json:"dimension"`
	Tokenizer     string    `json:"tokenizer"`
	PipelineHash  string    `json:"pipeline_hash"`
	BuiltAt       time.Time `json:"built_at"`
	Count         int       `json:"count"`
}

// Compatible reports whether vectors built per m can be queried with
// vectors produced as described by want.
func (m Manifest) Compatible(want Manifest) error {
	if m.SchemaVersion > CurrentSchemaVersion {
		return fmt.Errorf("index created by newer version (v%d > v%d): %w", m.SchemaVersion, CurrentSchemaVersion, domain.ErrModelMismatch)
	}
	if m.Model != want.Model {
		return fmt.Errorf("index built with %q, configured %q: %w", m.Model, want.Model, domain.ErrModelMismatch)
	}
	if m.Dimension != want.Dimension {
		return fmt.Errorf("index dimension %d, configured %d: %w", m.Dimension, want.Dimension, domain.ErrModelMismatch)
	}
	return nil
}

// SchemaVersion reads the document store format version. Zero means the
// file predates versioning or is new.
func (s *BoltStore) SchemaVersion() (int, error) {
	var version int
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketStats).Get(keySchemaVersion)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &version)
	})
	return version, err
}

// Migrate brings the document store up to CurrentSchemaVersion.
func (s *BoltStore) Migrate() error {
	version, err := s.SchemaVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("document store created by newer version (v%d > v%d)", version, CurrentSchemaVersion)
	}

	for v := version; v < CurrentSchemaVersion; v++ {
		if err := s.runMigration(v, v+1); err != nil {
			return fmt.Errorf("migration from v%d to v%d failed: %w", v, v+1, err)
		}
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(CurrentSchemaVersion)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketStats).Put(keySchemaVersion, data)
	})
}

func (s *BoltStore) runMigration(from, to int) error {
	switch {
	case from == 0 && to == 1:
		return s.db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketDocs)
			return err
		})
	default:
		return nil
	}
}
