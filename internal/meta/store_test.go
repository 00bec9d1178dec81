package meta

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protolith-db/protolith/internal/descriptor"
	"github.com/protolith-db/protolith/internal/kv"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := kv.Open(t.TempDir(), CFNames(), kv.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, DefaultConfig())
}

func itemCollection() descriptor.Collection {
	return descriptor.Collection{
		Name: "Item",
		FQN:  "shop.v1.Item",
		Fields: []descriptor.Field{
			{Name: "id"},
			{Name: "name"},
		},
		Indexes: []descriptor.Index{
			{IndexID: "shop.v1.Item:id", SchemaID: "shop.v1.Item", FieldName: "id", Type: descriptor.IndexKey},
		},
	}
}

func TestCreateSchema_ThenGetSchema(t *testing.T) {
	s := openTestStore(t)
	col := itemCollection()

	created, err := s.CreateSchema(col)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), created.SchemaVersion)
	assert.Equal(t, "shop.v1.Item", created.SchemaDefinition.FQN)

	got, err := s.GetSchema("shop.v1.Item")
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestCreateSchema_Duplicate_ReturnsUnimplemented(t *testing.T) {
	s := openTestStore(t)
	col := itemCollection()

	_, err := s.CreateSchema(col)
	require.NoError(t, err)

	_, err = s.CreateSchema(col)
	assert.ErrorIs(t, err, ErrUnimplemented)
}

func TestGetSchema_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSchema("shop.v1.Missing")
	assert.ErrorIs(t, err, ErrSchemaNotFound)
}

func TestGetSchema_CacheSurvivesAfterCreate(t *testing.T) {
	s := openTestStore(t)
	col := itemCollection()
	_, err := s.CreateSchema(col)
	require.NoError(t, err)

	// Evict nothing; GetSchema should hit the cache without touching kv
	// again. Exercise it twice to be sure the read path is stable.
	_, err = s.GetSchema("shop.v1.Item")
	require.NoError(t, err)
	_, err = s.GetSchema("shop.v1.Item")
	require.NoError(t, err)
}

func TestBuild_IsIdempotent(t *testing.T) {
	s := openTestStore(t)
	col := itemCollection()

	require.NoError(t, s.Build([]descriptor.Collection{col}))
	require.NoError(t, s.Build([]descriptor.Collection{col}))

	schema, err := s.GetSchema("shop.v1.Item")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), schema.SchemaVersion)
}

func TestListSchemas_ReturnsRegisteredCollections(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Build([]descriptor.Collection{itemCollection()}))

	schemas, err := s.ListSchemas()
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, "shop.v1.Item", schemas[0].SchemaID)
}

func TestCreateSchema_IndexPersisted(t *testing.T) {
	s := openTestStore(t)
	col := itemCollection()
	_, err := s.CreateSchema(col)
	require.NoError(t, err)

	raw, err := s.kv.Get(CFIndex, []byte("shop.v1.Item:id"))
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	var idx IndexRecord
	require.NoError(t, json.Unmarshal(raw, &idx))
	assert.Equal(t, "shop.v1.Item:1", idx.SchemaID)
}
