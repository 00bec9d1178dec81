package descriptor

import (
	"fmt"
	"strings"
)

// TypeURLPrefix is the prefix used to wrap a fully qualified message name
// into the Any.type_url convention protolith's Engine RPC uses (spec.md
// §6.1).
const TypeURLPrefix = "type.googleapis.com/"

// BuildTypeURL renders a fully qualified message name as an Any type_url.
func BuildTypeURL(fqn string) string {
	return TypeURLPrefix + fqn
}

// ParseTypeURL extracts the fully qualified message name from an Any
// type_url of the form "type.googleapis.com/<fqn>".
func ParseTypeURL(typeURL string) (string, error) {
	fqn, ok := strings.CutPrefix(typeURL, TypeURLPrefix)
	if !ok || fqn == "" {
		return "", fmt.Errorf("descriptor: malformed type_url %q", typeURL)
	}
	return fqn, nil
}
