package dbengine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/protolith-db/protolith/internal/descriptor"
	"github.com/protolith-db/protolith/internal/kv"
	"github.com/protolith-db/protolith/internal/meta"
)

// EngineConfig carries the engine-wide settings needed to boot and create
// databases (spec.md §6.4's database root, descriptor file name, KV
// tuning knobs, and meta store column family names).
type EngineConfig struct {
	Root               string
	DescriptorFileName string
	KVOptions          kv.Options
	MetaStore          meta.Config
}

// DatabaseSummary is the shape returned by ListDatabases (spec.md §4.5,
// §6.1's ListDatabases RPC).
type DatabaseSummary struct {
	Name        string
	Path        string
	Collections []*meta.Schema
}

// Engine is the top-level registry of databases: a name → Instance map
// guarded by a single mutex (spec.md §4.5, §5's "single writer at a
// time" database map).
type Engine struct {
	cfg EngineConfig

	mu        sync.Mutex
	instances map[string]*Instance
}

// NewEngine constructs an empty Engine. Call Boot to discover and open
// on-disk databases.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{cfg: cfg, instances: make(map[string]*Instance)}
}

// Boot scans cfg.Root for subdirectories carrying the KV engine's
// sentinel files and opens each as a DatabaseInstance, always including
// defaultDatabase even if absent on disk (spec.md §4.6 steps 2-5).
func (e *Engine) Boot(defaultDatabase string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := os.MkdirAll(e.cfg.Root, 0o755); err != nil {
		return fmt.Errorf("dbengine: creating root %s: %w", e.cfg.Root, err)
	}

	entries, err := os.ReadDir(e.cfg.Root)
	if err != nil {
		return fmt.Errorf("dbengine: reading root %s: %w", e.cfg.Root, err)
	}

	names := map[string]struct{}{defaultDatabase: {}}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if kv.IsDatabaseDir(filepath.Join(e.cfg.Root, entry.Name())) {
			names[entry.Name()] = struct{}{}
		}
	}

	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	for _, name := range ordered {
		pool, err := e.loadPool(name)
		if err != nil {
			return fmt.Errorf("dbengine: loading descriptor pool for %s: %w", name, err)
		}

		inst, err := OpenInstance(name, filepath.Join(e.cfg.Root, name), pool, e.cfg.KVOptions, e.cfg.MetaStore)
		if err != nil {
			return fmt.Errorf("dbengine: opening %s: %w", name, err)
		}
		e.instances[name] = inst
	}
	return nil
}

// loadPool reads and decodes a database's staged descriptor file. A
// missing file is logged and an empty pool is returned, so an
// on-disk-but-undescribed database can still be enumerated (spec.md §7
// "Recovery at boot").
func (e *Engine) loadPool(name string) (*descriptor.Pool, error) {
	path := filepath.Join(e.cfg.Root, name, e.cfg.DescriptorFileName)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("descriptor file missing, opening with empty pool", "database", name, "path", path)
		return descriptor.Empty(), nil
	} else if err != nil {
		return nil, err
	}
	return descriptor.NewPool(raw)
}

// CreateDatabase decodes descriptorSet, builds a DatabaseInstance, and
// persists the raw descriptor bytes alongside it so a future boot can
// rehydrate without network input (spec.md §4.5 create_database).
func (e *Engine) CreateDatabase(name string, descriptorSet []byte) (*Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.instances[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseAlreadyExists, name)
	}

	pool, err := descriptor.NewPool(descriptorSet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	path := filepath.Join(e.cfg.Root, name)
	inst, err := OpenInstance(name, path, pool, e.cfg.KVOptions, e.cfg.MetaStore)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(filepath.Join(path, e.cfg.DescriptorFileName), descriptorSet, 0o644); err != nil {
		_ = inst.Close()
		return nil, fmt.Errorf("dbengine: staging descriptor for %s: %w", name, err)
	}

	e.instances[name] = inst
	return inst, nil
}

// ListDatabases returns every registered database's name, path, and
// current collection set (spec.md §4.5 list_databases).
func (e *Engine) ListDatabases() ([]DatabaseSummary, error) {
	e.mu.Lock()
	instances := make(map[string]*Instance, len(e.instances))
	names := make([]string, 0, len(e.instances))
	for name, inst := range e.instances {
		instances[name] = inst
		names = append(names, name)
	}
	e.mu.Unlock()

	sort.Strings(names)

	out := make([]DatabaseSummary, 0, len(names))
	for _, name := range names {
		inst := instances[name]
		cols, err := inst.Collections()
		if err != nil {
			return nil, err
		}
		out = append(out, DatabaseSummary{Name: name, Path: inst.Path(), Collections: cols})
	}
	return out, nil
}

// CreateCollection registers a new single-key-indexed collection in an
// existing database (spec.md §4.5 create_collection).
func (e *Engine) CreateCollection(database, collection, keyField string) (*meta.Schema, error) {
	inst, err := e.instance(database)
	if err != nil {
		return nil, err
	}
	return inst.CreateSchema(collection, keyField)
}

// Insert routes an Insert to the named database (spec.md §4.5 insert).
func (e *Engine) Insert(database, typeURL string, raw []byte) (string, error) {
	inst, err := e.instance(database)
	if err != nil {
		return "", err
	}
	return inst.Insert(typeURL, raw)
}

// Get routes a Get to the named database (spec.md §4.5 get).
func (e *Engine) Get(database, collection, keyString string) (Record, error) {
	inst, err := e.instance(database)
	if err != nil {
		return Record{}, err
	}
	return inst.Get(collection, keyString)
}

// List routes a List to the named database (spec.md §4.5 list).
func (e *Engine) List(database, collection string) ([]Record, error) {
	inst, err := e.instance(database)
	if err != nil {
		return nil, err
	}
	return inst.List(collection)
}

// Instance returns the named database's Instance, for callers (the Auth
// subsystem) that need direct access to its underlying store rather than
// routing through Insert/Get/List.
func (e *Engine) Instance(database string) (*Instance, error) {
	return e.instance(database)
}

func (e *Engine) instance(database string) (*Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, ok := e.instances[database]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, database)
	}
	return inst, nil
}

// DestroyDatabase removes a database from the registry, closes its file
// handles, and removes its on-disk state (spec.md §4.5 destroy_db).
func (e *Engine) DestroyDatabase(name string) error {
	e.mu.Lock()
	inst, ok := e.instances[name]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDatabaseNotFound, name)
	}
	delete(e.instances, name)
	e.mu.Unlock()

	return inst.Destroy()
}

// DestroyAll destroys every registered database, used for the
// destroy_on_shutdown shutdown path (spec.md §5).
func (e *Engine) DestroyAll() error {
	e.mu.Lock()
	names := make([]string, 0, len(e.instances))
	for name := range e.instances {
		names = append(names, name)
	}
	e.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := e.DestroyDatabase(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
