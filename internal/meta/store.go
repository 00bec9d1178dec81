package meta

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/protolith-db/protolith/internal/descriptor"
	"github.com/protolith-db/protolith/internal/kv"
)

// Default column family names a database's meta store uses in its
// backing kv.Store (spec.md §4.3), overridable via Config.
const (
	CFSchema         = "schema"
	CFSchemaVersions = "schema_versions"
	CFIndex          = "index"
)

// CFNames returns the default column families required by Store.
func CFNames() []string { return []string{CFSchema, CFSchemaVersions, CFIndex} }

// Config names the column families a Store keeps its schema/version/index
// bookkeeping in (spec.md §4.3), sourced from config.MetaStoreConfig's
// PROTOLITH_METASTORE_* overrides. A zero-valued field falls back to its
// package default.
type Config struct {
	SchemaCF         string
	SchemaVersionsCF string
	IndexCF          string

	// InitialVersion is the schema version CreateSchema registers a
	// collection's first schema at (config.SchemaConfig's
	// PROTOLITH_SCHEMA_DEFAULT_VERSION). Zero falls back to 1.
	InitialVersion uint64
}

// DefaultConfig returns the package's default column family names.
func DefaultConfig() Config {
	return Config{SchemaCF: CFSchema, SchemaVersionsCF: CFSchemaVersions, IndexCF: CFIndex, InitialVersion: 1}
}

func (cfg Config) withDefaults() Config {
	if cfg.SchemaCF == "" {
		cfg.SchemaCF = CFSchema
	}
	if cfg.SchemaVersionsCF == "" {
		cfg.SchemaVersionsCF = CFSchemaVersions
	}
	if cfg.IndexCF == "" {
		cfg.IndexCF = CFIndex
	}
	if cfg.InitialVersion == 0 {
		cfg.InitialVersion = 1
	}
	return cfg
}

// CFNames returns cfg's column families, defaulting any unset field.
func (cfg Config) CFNames() []string {
	cfg = cfg.withDefaults()
	return []string{cfg.SchemaCF, cfg.SchemaVersionsCF, cfg.IndexCF}
}

var (
	// ErrSchemaNotFound is returned when a collection has no registered
	// schema.
	ErrSchemaNotFound = errors.New("meta: schema not found")
	// ErrUnimplemented is returned by CreateSchema when a schema_id
	// already has a current version: re-versioning an existing
	// collection (spec.md §9's Open Question on the update path) isn't
	// implemented.
	ErrUnimplemented = errors.New("meta: schema update not implemented")
)

// Store is the per-database schema and index metadata layer: it owns the
// schema, schema_versions, and index column families of one database's
// kv.Store, and caches the current schema per collection in memory
// (spec.md §4.3).
type Store struct {
	kv  *kv.Store
	cfg Config

	mu    sync.RWMutex
	cache map[string]*Schema // schema_id -> current Schema
}

// New wraps an already-opened kv.Store (with cfg.CFNames() already
// ensured) as a meta Store.
func New(store *kv.Store, cfg Config) *Store {
	return &Store{kv: store, cfg: cfg.withDefaults(), cache: make(map[string]*Schema)}
}

// Build registers collections discovered from a descriptor pool as
// schemas at the configured initial version, skipping any collection that already has a current
// version. It is idempotent so that reopening a database with the same
// descriptor set on every boot (spec.md §4.6 step 4) doesn't error.
func (s *Store) Build(collections []descriptor.Collection) error {
	for _, col := range collections {
		_, err := s.GetSchema(col.FQN)
		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrSchemaNotFound):
			if _, err := s.CreateSchema(col); err != nil {
				return fmt.Errorf("meta: registering %s: %w", col.FQN, err)
			}
		default:
			return err
		}
	}
	return nil
}

// CreateSchema persists col at cfg.InitialVersion (1 by default) and
// marks it current. It
// fails with ErrUnimplemented if col.FQN already has a current schema.
func (s *Store) CreateSchema(col descriptor.Collection) (*Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cache[col.FQN]; ok {
		return nil, ErrUnimplemented
	}
	if _, err := s.kv.Get(s.cfg.SchemaVersionsCF, currentPointerKey(col.FQN)); err == nil {
		return nil, ErrUnimplemented
	} else if !errors.Is(err, kv.ErrNotFound) {
		return nil, err
	}

	version := s.cfg.InitialVersion
	schema := &Schema{
		SchemaID:         col.FQN,
		SchemaVersion:    version,
		SchemaDefinition: toRecord(col, version),
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("meta: encoding schema %s: %w", col.FQN, err)
	}
	if err := s.kv.Put(s.cfg.SchemaCF, versionedSchemaKey(col.FQN, version), raw); err != nil {
		return nil, err
	}

	ptr := SchemaVersionPointer{
		SchemaID:      col.FQN,
		VersionNumber: version,
		IsCurrent:     true,
		CreatedAt:     time.Now().UTC(),
	}
	ptrRaw, err := json.Marshal(ptr)
	if err != nil {
		return nil, fmt.Errorf("meta: encoding schema version pointer %s: %w", col.FQN, err)
	}
	if err := s.kv.Put(s.cfg.SchemaVersionsCF, versionedSchemaKey(col.FQN, version), ptrRaw); err != nil {
		return nil, err
	}
	if err := s.kv.Put(s.cfg.SchemaVersionsCF, currentPointerKey(col.FQN), []byte(strconv.FormatUint(version, 10))); err != nil {
		return nil, err
	}

	for _, idx := range schema.SchemaDefinition.Indexes {
		idxRaw, err := json.Marshal(idx)
		if err != nil {
			return nil, fmt.Errorf("meta: encoding index %s: %w", idx.IndexID, err)
		}
		if err := s.kv.Put(s.cfg.IndexCF, []byte(idx.IndexID), idxRaw); err != nil {
			return nil, err
		}
	}

	s.cache[col.FQN] = schema
	return schema, nil
}

// GetSchema returns the current schema for schemaID (a collection's fully
// qualified name), consulting the in-memory cache first.
func (s *Store) GetSchema(schemaID string) (*Schema, error) {
	s.mu.RLock()
	if schema, ok := s.cache[schemaID]; ok {
		s.mu.RUnlock()
		return schema, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if schema, ok := s.cache[schemaID]; ok {
		return schema, nil
	}

	verRaw, err := s.kv.Get(s.cfg.SchemaVersionsCF, currentPointerKey(schemaID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrSchemaNotFound
	} else if err != nil {
		return nil, err
	}
	version, err := strconv.ParseUint(string(verRaw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("meta: malformed current-version pointer for %s: %w", schemaID, err)
	}

	raw, err := s.kv.Get(s.cfg.SchemaCF, versionedSchemaKey(schemaID, version))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrSchemaNotFound
	} else if err != nil {
		return nil, err
	}

	schema := &Schema{}
	if err := json.Unmarshal(raw, schema); err != nil {
		return nil, fmt.Errorf("meta: decoding schema %s: %w", schemaID, err)
	}
	s.cache[schemaID] = schema
	return schema, nil
}

// ListSchemas returns the current schema of every collection with
// registered metadata, ordered by schema_id. Used by DatabaseInstance to
// answer ListCollections-shaped queries (spec.md §4.4).
func (s *Store) ListSchemas() ([]*Schema, error) {
	entries, err := s.kv.IterateFrom(s.cfg.SchemaCF, nil, kv.Forward)
	if err != nil {
		return nil, err
	}

	var out []*Schema
	for _, kv := range entries {
		schema := &Schema{}
		if err := json.Unmarshal(kv.Value, schema); err != nil {
			return nil, fmt.Errorf("meta: decoding schema entry %q: %w", kv.Key, err)
		}
		// Only the current version pointer's target is authoritative;
		// GetSchema resolves that, so here we keep the highest version
		// seen per schema_id.
		out = upsertLatest(out, schema)
	}
	return out, nil
}

func upsertLatest(schemas []*Schema, candidate *Schema) []*Schema {
	for i, s := range schemas {
		if s.SchemaID == candidate.SchemaID {
			if candidate.SchemaVersion > s.SchemaVersion {
				schemas[i] = candidate
			}
			return schemas
		}
	}
	return append(schemas, candidate)
}

// toRecord converts col to its persisted shape, rewriting each index's
// SchemaID to "<fqn>:<version>" (spec.md §4.3) so an index row points at
// the specific schema version it was derived from, not just the bare
// collection name.
func toRecord(col descriptor.Collection, version uint64) CollectionRecord {
	rec := CollectionRecord{Name: col.Name, FQN: col.FQN}
	for _, f := range col.Fields {
		rec.Fields = append(rec.Fields, FieldRecord{Name: f.Name, WireType: f.WireType.String()})
	}
	for _, idx := range col.Indexes {
		rec.Indexes = append(rec.Indexes, IndexRecord{
			IndexID:   idx.IndexID,
			SchemaID:  string(versionedSchemaKey(idx.SchemaID, version)),
			FieldName: idx.FieldName,
			Type:      idx.Type.String(),
		})
	}
	return rec
}

func versionedSchemaKey(fqn string, version uint64) []byte {
	return []byte(fqn + ":" + strconv.FormatUint(version, 10))
}

func currentPointerKey(fqn string) []byte {
	return []byte(fqn + ":current")
}
