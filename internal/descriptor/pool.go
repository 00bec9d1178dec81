// Package descriptor provides the in-memory descriptor registry: parsing a
// submitted descriptor set, deriving collections and their primary keys
// from the annotation.v1.collection / annotation.v1.key custom options,
// and dynamically encoding/decoding messages of those types, per spec.md
// §4.2.
package descriptor

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ErrMessageNotFound is returned when a fully qualified type name isn't
// present in the pool.
var ErrMessageNotFound = errors.New("descriptor: message not found")

// ErrMultipleKeys is returned when a collection message declares more than
// one annotation.v1.key field.
var ErrMultipleKeys = errors.New("descriptor: collection has more than one key field")

// ErrNoKey is returned when a collection message declares no
// annotation.v1.key field.
var ErrNoKey = errors.New("descriptor: collection has no key field")

// Pool is an immutable, shareable registry of message descriptors built
// from one submitted descriptor set.
type Pool struct {
	files *protoregistry.Files
}

// Empty returns a Pool with no registered files, used when a database is
// rehydrated without its descriptor file present (spec.md §4.6 step 4 /
// §7 "Recovery at boot").
func Empty() *Pool {
	return &Pool{files: new(protoregistry.Files)}
}

// NewPool builds a Pool from a raw, serialized descriptorpb.FileDescriptorSet.
func NewPool(raw []byte) (*Pool, error) {
	fds := new(descriptorpb.FileDescriptorSet)
	if err := proto.Unmarshal(raw, fds); err != nil {
		return nil, fmt.Errorf("descriptor: decoding file descriptor set: %w", err)
	}
	return NewPoolFromProto(fds)
}

// NewPoolFromProto builds a Pool from an already-decoded FileDescriptorSet.
func NewPoolFromProto(fds *descriptorpb.FileDescriptorSet) (*Pool, error) {
	files, err := protodesc.NewFiles(fds)
	if err != nil {
		return nil, fmt.Errorf("descriptor: building file registry: %w", err)
	}
	return &Pool{files: files}, nil
}

// Raw serializes the pool back to a FileDescriptorSet, the form persisted
// to the per-database descriptor staging file (spec.md §4.5, §6.2).
func (p *Pool) Raw() ([]byte, error) {
	fds := &descriptorpb.FileDescriptorSet{}
	p.files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		fds.File = append(fds.File, protodesc.ToFileDescriptorProto(fd))
		return true
	})
	return proto.Marshal(fds)
}

// FindMessage looks up a message descriptor by its fully qualified name
// (e.g. "shop.v1.Item").
func (p *Pool) FindMessage(fqn string) (protoreflect.MessageDescriptor, error) {
	d, err := p.files.FindDescriptorByName(protoreflect.FullName(fqn))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, fqn)
	}
	md, ok := d.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a message", ErrMessageNotFound, fqn)
	}
	return md, nil
}

// Collections walks every message in the pool and returns the ones
// carrying the annotation.v1.collection option, with their fields and
// their primary-key index derived from the annotation.v1.key field
// annotation; no secondary indexes are derived (spec.md
// §4.2, §4.4 step 3).
func (p *Pool) Collections() ([]Collection, error) {
	var out []Collection
	var walkErr error

	p.files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		walkMessages(fd.Messages(), func(md protoreflect.MessageDescriptor) {
			if walkErr != nil || !IsCollection(md) {
				return
			}
			col, err := buildCollection(md)
			if err != nil {
				walkErr = err
				return
			}
			out = append(out, col)
		})
		return walkErr == nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

func walkMessages(mds protoreflect.MessageDescriptors, fn func(protoreflect.MessageDescriptor)) {
	for i := 0; i < mds.Len(); i++ {
		md := mds.Get(i)
		fn(md)
		walkMessages(md.Messages(), fn)
	}
}

func buildCollection(md protoreflect.MessageDescriptor) (Collection, error) {
	col := Collection{
		Name:       string(md.Name()),
		FQN:        string(md.FullName()),
		Descriptor: md,
	}

	fields := md.Fields()
	var keyCount int
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		col.Fields = append(col.Fields, Field{Name: string(fd.Name()), WireType: fd.Kind()})

		if IsKey(fd) {
			keyCount++
			col.Indexes = append(col.Indexes, Index{
				IndexID:   col.FQN + ":" + string(fd.Name()),
				SchemaID:  col.FQN,
				FieldName: string(fd.Name()),
				Type:      IndexKey,
			})
		}
	}

	if keyCount == 0 {
		return Collection{}, fmt.Errorf("%w: %s", ErrNoKey, col.FQN)
	}
	if keyCount > 1 {
		return Collection{}, fmt.Errorf("%w: %s", ErrMultipleKeys, col.FQN)
	}
	return col, nil
}

// NewDynamicMessage returns a zero-valued dynamic message for md.
func NewDynamicMessage(md protoreflect.MessageDescriptor) *dynamicpb.Message {
	return dynamicpb.NewMessage(md)
}

// Decode unmarshals raw wire bytes into a dynamic message of the given
// descriptor.
func Decode(md protoreflect.MessageDescriptor, raw []byte) (*dynamicpb.Message, error) {
	msg := dynamicpb.NewMessage(md)
	if err := proto.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("descriptor: decoding %s: %w", md.FullName(), err)
	}
	return msg, nil
}

// Encode marshals a message (dynamic or generated) to wire bytes.
func Encode(msg proto.Message) ([]byte, error) {
	return proto.Marshal(msg)
}
