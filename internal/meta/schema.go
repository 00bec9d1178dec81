// Package meta implements the schema and index metadata layer described in
// spec.md §4.3: three column families (schema, schema_versions, index)
// within a database, version selection, and cached schema lookup.
package meta

import "time"

// IndexRecord is the persisted form of descriptor.Index (spec.md §3).
type IndexRecord struct {
	IndexID   string `json:"index_id"`
	SchemaID  string `json:"schema_id"`
	FieldName string `json:"field_name"`
	Type      string `json:"index_type"`
}

// FieldRecord is the persisted form of descriptor.Field.
type FieldRecord struct {
	Name     string `json:"name"`
	WireType string `json:"wire_type"`
}

// CollectionRecord is the persisted form of descriptor.Collection
// (spec.md §3's Collection entity): name, fully qualified name, fields,
// and indexes. It is embedded as the schema_definition of a Schema.
type CollectionRecord struct {
	Name    string        `json:"name"`
	FQN     string        `json:"fqn"`
	Fields  []FieldRecord `json:"fields"`
	Indexes []IndexRecord `json:"indexes"`
}

// Schema is the persisted metadata entry for one collection at one
// version (spec.md §3).
type Schema struct {
	SchemaID         string           `json:"schema_id"`
	SchemaVersion    uint64           `json:"schema_version"`
	SchemaDefinition CollectionRecord `json:"schema_definition"`
}

// SchemaVersionPointer is the pointer record tracked in the
// schema_versions column family (spec.md §3).
type SchemaVersionPointer struct {
	SchemaID      string    `json:"schema_id"`
	VersionNumber uint64    `json:"version_number"`
	IsCurrent     bool      `json:"is_current"`
	CreatedAt     time.Time `json:"created_at"`
}
