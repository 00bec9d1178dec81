// Package dbengine implements the per-database record I/O layer
// (DatabaseInstance) and the top-level database registry (DatabaseEngine),
// per spec.md §4.4/§4.5.
package dbengine

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/protolith-db/protolith/internal/descriptor"
	"github.com/protolith-db/protolith/internal/kv"
	"github.com/protolith-db/protolith/internal/meta"
)

// DefaultCF is the column family records are stored in (spec.md §6.3).
const DefaultCF = "default"

// Record pairs a collection's type URL with its wire-encoded bytes, the
// shape of an Any envelope (spec.md §6.1).
type Record struct {
	TypeURL string
	Value   []byte
}

// Instance is one database: a KV handle, a meta store built on top of it,
// and the descriptor pool that describes its collections.
type Instance struct {
	name string
	path string

	store *kv.Store
	meta  *meta.Store
	pool  *descriptor.Pool

	mu          sync.RWMutex
	collections map[string]descriptor.Collection
}

// OpenInstance constructs or reopens a DatabaseInstance at path (spec.md
// §4.4 construction steps 1-4).
func OpenInstance(name, path string, pool *descriptor.Pool, opts kv.Options, metaCfg meta.Config) (*Instance, error) {
	collections, err := pool.Collections()
	if err != nil {
		return nil, fmt.Errorf("dbengine: deriving collections for %s: %w", name, err)
	}

	cfs := desiredColumnFamilies(collections, metaCfg)
	if kv.IsDatabaseDir(path) {
		existing, err := kv.ListColumnFamilies(path)
		if err != nil {
			return nil, fmt.Errorf("dbengine: listing column families for %s: %w", name, err)
		}
		cfs = unionStrings(cfs, existing)
	}

	store, err := kv.Open(path, cfs, opts)
	if err != nil {
		return nil, fmt.Errorf("dbengine: opening store for %s: %w", name, err)
	}

	metaStore := meta.New(store, metaCfg)
	if err := metaStore.Build(collections); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("dbengine: building metadata for %s: %w", name, err)
	}

	inst := &Instance{
		name:        name,
		path:        path,
		store:       store,
		meta:        metaStore,
		pool:        pool,
		collections: make(map[string]descriptor.Collection, len(collections)),
	}
	for _, col := range collections {
		inst.collections[col.FQN] = col
	}
	return inst, nil
}

func desiredColumnFamilies(collections []descriptor.Collection, metaCfg meta.Config) []string {
	cfs := []string{DefaultCF}
	cfs = append(cfs, metaCfg.CFNames()...)
	for _, col := range collections {
		for _, idx := range col.Indexes {
			cfs = append(cfs, idx.IndexID)
		}
	}
	return cfs
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Name returns the database's name.
func (inst *Instance) Name() string { return inst.name }

// Path returns the database's root directory.
func (inst *Instance) Path() string { return inst.path }

// Store returns the instance's underlying KV handle, so a caller (the
// Auth subsystem) can open its own column family against the same bbolt
// file rather than opening a second, conflicting handle (spec.md §4.8
// "user column family ... within the default database").
func (inst *Instance) Store() *kv.Store { return inst.store }

// Insert decodes raw bytes as the message named by typeURL, derives its
// primary key, and writes it into the default column family iff the key
// is not already present (spec.md §4.4 Insert).
func (inst *Instance) Insert(typeURL string, raw []byte) (collectionFQN string, err error) {
	fqn, err := descriptor.ParseTypeURL(typeURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	md, err := inst.pool.FindMessage(fqn)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCollectionNotFound, fqn)
	}

	msg, err := descriptor.Decode(md, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	schema, err := inst.meta.GetSchema(fqn)
	if errors.Is(err, meta.ErrSchemaNotFound) {
		return "", fmt.Errorf("%w: %s", ErrSchemaNotExists, fqn)
	} else if err != nil {
		return "", err
	}

	keyField, err := keyFieldName(schema)
	if err != nil {
		return "", err
	}

	fd := md.Fields().ByName(keyField)
	if fd == nil {
		return "", fmt.Errorf("%w: key field %s missing from message %s", ErrInvalidArgument, keyField, fqn)
	}

	keyStr, err := descriptor.RenderFieldValue(msg.Get(fd), fd.Kind())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	storageKey := descriptor.BuildStorageKey(fqn, keyStr)
	if err := inst.store.CheckAndPut(DefaultCF, storageKey, raw); err != nil {
		if errors.Is(err, kv.ErrKeyExists) {
			return "", fmt.Errorf("%w: %s", ErrKeyAlreadyExists, storageKey)
		}
		return "", err
	}
	return fqn, nil
}

// Get reads and re-encodes the record at collectionFQN:keyString (spec.md
// §4.4 Get).
func (inst *Instance) Get(collectionFQN, keyString string) (Record, error) {
	md, err := inst.pool.FindMessage(collectionFQN)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionFQN)
	}

	raw, err := inst.store.Get(DefaultCF, descriptor.BuildStorageKey(collectionFQN, keyString))
	if errors.Is(err, kv.ErrNotFound) {
		return Record{}, fmt.Errorf("%w: %s:%s", ErrRecordNotFound, collectionFQN, keyString)
	} else if err != nil {
		return Record{}, err
	}

	msg, err := descriptor.Decode(md, raw)
	if err != nil {
		return Record{}, err
	}
	reencoded, err := descriptor.Encode(msg)
	if err != nil {
		return Record{}, err
	}
	return Record{TypeURL: descriptor.BuildTypeURL(collectionFQN), Value: reencoded}, nil
}

// List returns every record currently stored under collectionFQN, a
// point-in-time snapshot of the iteration starting point (spec.md §5,
// §4.4 List). The prefix check is full-token: "foo" never matches records
// of "foobar" (spec.md §8 boundary behavior).
func (inst *Instance) List(collectionFQN string) ([]Record, error) {
	md, err := inst.pool.FindMessage(collectionFQN)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionFQN)
	}

	prefix := collectionFQN + ":"
	entries, err := inst.store.IterateFrom(DefaultCF, []byte(prefix), kv.Forward)
	if err != nil {
		return nil, err
	}

	var out []Record
	for _, entry := range entries {
		if !strings.HasPrefix(string(entry.Key), prefix) {
			break
		}
		msg, err := descriptor.Decode(md, entry.Value)
		if err != nil {
			return nil, err
		}
		reencoded, err := descriptor.Encode(msg)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{TypeURL: descriptor.BuildTypeURL(collectionFQN), Value: reencoded})
	}
	return out, nil
}

// CreateSchema builds a single-key-index Collection and registers it with
// the meta store (spec.md §4.4 CreateSchema).
func (inst *Instance) CreateSchema(collectionFQN, keyField string) (*meta.Schema, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if _, ok := inst.collections[collectionFQN]; ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionAlreadyExists, collectionFQN)
	}

	md, err := inst.pool.FindMessage(collectionFQN)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionFQN)
	}

	name := string(md.Name())
	if idx := strings.LastIndex(collectionFQN, "."); idx >= 0 {
		name = collectionFQN[idx+1:]
	}

	col := descriptor.Collection{
		Name:       name,
		FQN:        collectionFQN,
		Descriptor: md,
		Indexes: []descriptor.Index{{
			IndexID:   collectionFQN + ":" + keyField,
			SchemaID:  collectionFQN,
			FieldName: keyField,
			Type:      descriptor.IndexKey,
		}},
	}
	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		col.Fields = append(col.Fields, descriptor.Field{Name: string(fd.Name()), WireType: fd.Kind()})
	}

	if err := inst.store.EnsureColumnFamilies([]string{col.Indexes[0].IndexID}); err != nil {
		return nil, err
	}

	schema, err := inst.meta.CreateSchema(col)
	if err != nil {
		return nil, err
	}
	inst.collections[collectionFQN] = col
	return schema, nil
}

// Collections returns every collection registered with this instance's
// meta store (spec.md §4.4 GetCollections).
func (inst *Instance) Collections() ([]*meta.Schema, error) {
	return inst.meta.ListSchemas()
}

// Close releases the instance's file handles without removing on-disk
// state.
func (inst *Instance) Close() error {
	return inst.store.Close()
}

// Destroy releases the instance's file handles and removes its on-disk
// state (spec.md §4.5 destroy_db).
func (inst *Instance) Destroy() error {
	return inst.store.Destroy()
}

func keyFieldName(schema *meta.Schema) (protoreflect.Name, error) {
	for _, idx := range schema.SchemaDefinition.Indexes {
		if idx.Type == descriptor.IndexKey.String() {
			return protoreflect.Name(idx.FieldName), nil
		}
	}
	return "", fmt.Errorf("%w: schema %s has no key index", ErrSchemaNotExists, schema.SchemaID)
}
