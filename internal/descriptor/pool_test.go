package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

func protoValueString(s string) protoreflect.Value {
	return protoreflect.ValueOfString(s)
}

// itemFileDescriptorSet builds a FileDescriptorSet equivalent to:
//
//	syntax = "proto2";
//	package shop.v1;
//	message Item {
//	  option (annotation.v1.collection) = true;
//	  optional string id = 1 [(annotation.v1.key) = true];
//	  optional string name = 2;
//	}
//
// by hand, the way a client's build pipeline would produce it — this is
// the only way to construct a descriptor set in a test without a protoc
// invocation.
func itemFileDescriptorSet(t *testing.T) *descriptorpb.FileDescriptorSet {
	t.Helper()

	msgOpts := &descriptorpb.MessageOptions{}
	require.NoError(t, proto.SetExtension(msgOpts, collectionExtType, true))

	idOpts := &descriptorpb.FieldOptions{}
	require.NoError(t, proto.SetExtension(idOpts, keyExtType, true))

	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("shop/v1/item.proto"),
		Package: proto.String("shop.v1"),
		Syntax:  proto.String("proto2"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name:    proto.String("Item"),
				Options: msgOpts,
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:    proto.String("id"),
						Number:  proto.Int32(1),
						Label:   descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
						Type:    descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
						Options: idOpts,
					},
					{
						Name:   proto.String("name"),
						Number: proto.Int32(2),
						Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
						Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
					},
				},
			},
			{
				// NotACollection deliberately carries no
				// annotation.v1.collection option, so Collections()
				// must skip it.
				Name: proto.String("NotACollection"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:   proto.String("note"),
						Number: proto.Int32(1),
						Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
						Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
					},
				},
			},
		},
	}

	return &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{fd}}
}

func TestCollections_FindsAnnotatedMessageOnly(t *testing.T) {
	pool, err := NewPoolFromProto(itemFileDescriptorSet(t))
	require.NoError(t, err)

	cols, err := pool.Collections()
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "shop.v1.Item", cols[0].FQN)

	idx, ok := cols[0].KeyIndex()
	require.True(t, ok)
	assert.Equal(t, "id", idx.FieldName)
	assert.Equal(t, IndexKey, idx.Type)
	assert.Equal(t, "shop.v1.Item:id", idx.IndexID)
}

func TestFindMessage_NotFound(t *testing.T) {
	pool, err := NewPoolFromProto(itemFileDescriptorSet(t))
	require.NoError(t, err)

	_, err = pool.FindMessage("shop.v1.Nope")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	pool, err := NewPoolFromProto(itemFileDescriptorSet(t))
	require.NoError(t, err)

	md, err := pool.FindMessage("shop.v1.Item")
	require.NoError(t, err)

	msg := NewDynamicMessage(md)
	fields := md.Fields()
	msg.Set(fields.ByName("id"), protoValueString("a"))
	msg.Set(fields.ByName("name"), protoValueString("apple"))

	raw, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(md, raw)
	require.NoError(t, err)
	assert.Equal(t, "a", decoded.Get(fields.ByName("id")).String())
	assert.Equal(t, "apple", decoded.Get(fields.ByName("name")).String())
}
