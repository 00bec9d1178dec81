package descriptor

import (
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// ErrUnsupportedKeyType is returned when a key-annotated field isn't a
// string or integer type. spec.md §9 leaves non-integer numeric key
// formatting underspecified; protolith resolves that Open Question by
// restricting primary keys to string or integer field kinds.
var ErrUnsupportedKeyType = fmt.Errorf("descriptor: primary key field must be string or integer")

// RenderFieldValue renders a decoded message's key field value as the
// ASCII string used in storage keys (spec.md §4.4's key construction
// rules): integers render as plain decimal, strings render verbatim apart
// from having enclosing double-quote characters trimmed.
func RenderFieldValue(v protoreflect.Value, kind protoreflect.Kind) (string, error) {
	switch kind {
	case protoreflect.StringKind:
		return strings.Trim(v.String(), `"`), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return strconv.FormatInt(v.Int(), 10), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return strconv.FormatUint(v.Uint(), 10), nil
	default:
		return "", fmt.Errorf("%w: got %s", ErrUnsupportedKeyType, kind)
	}
}

// RenderScalarKey renders an RPC-layer scalar key value (spec.md §6.1's
// dynamically-typed Value, carrying either a number or a string) using
// the same rules as RenderFieldValue, so Get(key) addresses the same
// storage key Insert wrote (spec.md invariant 2).
func RenderScalarKey(numeric bool, number int64, str string) string {
	if numeric {
		return strconv.FormatInt(number, 10)
	}
	return strings.Trim(str, `"`)
}

// BuildStorageKey joins a collection's fully qualified name and a
// rendered primary key into the ASCII storage key spec.md §4.4/§6.3
// describe: "<collection_fqn>:<pk_string>".
func BuildStorageKey(fqn, keyString string) []byte {
	return []byte(fqn + ":" + keyString)
}
