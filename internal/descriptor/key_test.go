package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/reflect/protoreflect"
)

func TestRenderFieldValue_String(t *testing.T) {
	v, err := RenderFieldValue(protoreflect.ValueOfString(`"a"`), protoreflect.StringKind)
	assert.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestRenderFieldValue_Int(t *testing.T) {
	v, err := RenderFieldValue(protoreflect.ValueOfInt64(42), protoreflect.Int64Kind)
	assert.NoError(t, err)
	assert.Equal(t, "42", v)
}

func TestRenderFieldValue_UnsupportedKind(t *testing.T) {
	_, err := RenderFieldValue(protoreflect.ValueOfFloat64(1.5), protoreflect.DoubleKind)
	assert.ErrorIs(t, err, ErrUnsupportedKeyType)
}

func TestBuildStorageKey(t *testing.T) {
	assert.Equal(t, []byte("shop.v1.Item:a"), BuildStorageKey("shop.v1.Item", "a"))
}

func TestParseTypeURL_RoundTrip(t *testing.T) {
	url := BuildTypeURL("shop.v1.Item")
	fqn, err := ParseTypeURL(url)
	assert.NoError(t, err)
	assert.Equal(t, "shop.v1.Item", fqn)
}

func TestParseTypeURL_Malformed(t *testing.T) {
	_, err := ParseTypeURL("not-a-type-url")
	assert.Error(t, err)
}
