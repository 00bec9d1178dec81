package descriptor

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Field numbers for the annotation.v1 custom options (spec.md §4.2). These
// are assigned from the custom-option extension range and never change.
const (
	collectionExtensionNumber = 50001
	keyExtensionNumber        = 50002
)

var (
	collectionExtType protoreflect.ExtensionType
	keyExtType        protoreflect.ExtensionType
)

// init builds the annotation.v1.collection / annotation.v1.key extension
// descriptors entirely at runtime via protodesc + dynamicpb, so reading
// these annotations off a submitted descriptor set never requires
// protoc or generated Go bindings for annotation.proto. Because protobuf
// extensions are just numbered fields on the wire, this reads annotations
// produced by any client toolchain that assigned the same field numbers,
// regardless of whether that toolchain linked this exact Go package.
func init() {
	fileProto := &descriptorpb.FileDescriptorProto{
		Name:       proto.String("annotation/v1/annotation.proto"),
		Package:    proto.String("annotation.v1"),
		Syntax:     proto.String("proto2"),
		Dependency: []string{"google/protobuf/descriptor.proto"},
		Extension: []*descriptorpb.FieldDescriptorProto{
			{
				Name:     proto.String("collection"),
				Number:   proto.Int32(collectionExtensionNumber),
				Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				Type:     descriptorpb.FieldDescriptorProto_TYPE_BOOL.Enum(),
				Extendee: proto.String(".google.protobuf.MessageOptions"),
				JsonName: proto.String("collection"),
			},
			{
				Name:     proto.String("key"),
				Number:   proto.Int32(keyExtensionNumber),
				Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				Type:     descriptorpb.FieldDescriptorProto_TYPE_BOOL.Enum(),
				Extendee: proto.String(".google.protobuf.FieldOptions"),
				JsonName: proto.String("key"),
			},
		},
	}

	fd, err := protodesc.NewFile(fileProto, protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("descriptor: building annotation.v1 extensions: %v", err))
	}

	exts := fd.Extensions()
	collectionExtType = dynamicpb.NewExtensionType(exts.Get(0))
	keyExtType = dynamicpb.NewExtensionType(exts.Get(1))
}

// IsCollection reports whether md carries the annotation.v1.collection
// message option.
func IsCollection(md protoreflect.MessageDescriptor) bool {
	opts, ok := md.Options().(*descriptorpb.MessageOptions)
	if !ok || opts == nil || !proto.HasExtension(opts, collectionExtType) {
		return false
	}
	v, _ := proto.GetExtension(opts, collectionExtType).(bool)
	return v
}

// IsKey reports whether fd carries the annotation.v1.key field option.
func IsKey(fd protoreflect.FieldDescriptor) bool {
	opts, ok := fd.Options().(*descriptorpb.FieldOptions)
	if !ok || opts == nil || !proto.HasExtension(opts, keyExtType) {
		return false
	}
	v, _ := proto.GetExtension(opts, keyExtType).(bool)
	return v
}

// SetCollectionOption sets the annotation.v1.collection option on a
// message, for callers building a FileDescriptorProto programmatically
// rather than compiling .proto source carrying the option literally.
func SetCollectionOption(opts *descriptorpb.MessageOptions, v bool) error {
	return proto.SetExtension(opts, collectionExtType, v)
}

// SetKeyOption sets the annotation.v1.key option on a field, the
// programmatic counterpart to SetCollectionOption.
func SetKeyOption(opts *descriptorpb.FieldOptions, v bool) error {
	return proto.SetExtension(opts, keyExtType, v)
}
