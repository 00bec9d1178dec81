package descriptor

import "google.golang.org/protobuf/reflect/protoreflect"

// IndexType distinguishes a primary key index from a future secondary
// index, per spec.md §3's Index entity.
type IndexType int

const (
	// IndexKey marks a collection's primary key field. Exactly one
	// IndexKey entry exists per collection (spec.md §3 invariant).
	IndexKey IndexType = iota
	// IndexSecondary marks a field reserved for future secondary-index
	// use. protolith pre-creates storage for these but never populates
	// them (spec.md §9).
	IndexSecondary
)

func (t IndexType) String() string {
	switch t {
	case IndexKey:
		return "Key"
	case IndexSecondary:
		return "Secondary"
	default:
		return "Unknown"
	}
}

// Index is a declaration that a field is used as a lookup key, per
// spec.md §3.
type Index struct {
	IndexID   string // "<collection_fqn>:<field_name>"
	SchemaID  string // "<collection_fqn>:<version>", filled in by the meta store
	FieldName string
	Type      IndexType
}

// Field is one field of a Collection.
type Field struct {
	Name     string
	WireType protoreflect.Kind
}

// Collection is a persistent record type discovered from a descriptor
// pool, per spec.md §3.
type Collection struct {
	Name       string // unqualified message name
	FQN        string // fully qualified name
	Descriptor protoreflect.MessageDescriptor
	Fields     []Field
	Indexes    []Index
}

// KeyIndex returns the collection's sole primary-key index.
func (c Collection) KeyIndex() (Index, bool) {
	for _, idx := range c.Indexes {
		if idx.Type == IndexKey {
			return idx, true
		}
	}
	return Index{}, false
}

// KeyField returns the field descriptor of the collection's primary key.
func (c Collection) KeyField() (protoreflect.FieldDescriptor, bool) {
	idx, ok := c.KeyIndex()
	if !ok {
		return nil, false
	}
	fd := c.Descriptor.Fields().ByName(protoreflect.Name(idx.FieldName))
	return fd, fd != nil
}
