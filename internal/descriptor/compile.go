package descriptor

import (
	"context"
	"fmt"
	"strings"

	"github.com/bufbuild/protocompile"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/types/descriptorpb"
)

// CompileSource compiles raw .proto source text into a FileDescriptorSet,
// the same way the teacher's protobuf schema parser compiles a submitted
// schema string (internal/schema/protobuf/parser.go in the original
// schema-registry): build a protocompile.Compiler over an in-memory
// resolver, compile, then convert the resulting file descriptors back to
// proto form with protodesc.ToFileDescriptorProto.
//
// This exists alongside NewPool (which accepts an already-compiled
// FileDescriptorSet) so CreateDatabase can accept either a precompiled
// descriptor set or raw .proto text (SPEC_FULL.md §3/§6).
func CompileSource(filename, source string) (*descriptorpb.FileDescriptorSet, error) {
	resolver := &sourceResolver{files: map[string]string{filename: source}}
	compiler := protocompile.Compiler{
		Resolver:       protocompile.WithStandardImports(resolver),
		SourceInfoMode: protocompile.SourceInfoStandard,
	}

	files, err := compiler.Compile(context.Background(), filename)
	if err != nil {
		return nil, fmt.Errorf("descriptor: compiling %s: %w", filename, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("descriptor: no files compiled from %s", filename)
	}

	fds := &descriptorpb.FileDescriptorSet{}
	for _, fd := range files {
		fds.File = append(fds.File, protodesc.ToFileDescriptorProto(fd))
	}
	return fds, nil
}

// sourceResolver resolves the single in-memory .proto source being
// compiled. Multi-file imports beyond well-known types aren't supported;
// callers that need references should submit a precompiled
// FileDescriptorSet instead (it already carries its transitive
// dependencies).
type sourceResolver struct {
	files map[string]string
}

func (r *sourceResolver) FindFileByPath(path string) (protocompile.SearchResult, error) {
	if content, ok := r.files[path]; ok {
		return protocompile.SearchResult{Source: strings.NewReader(content)}, nil
	}
	return protocompile.SearchResult{}, fmt.Errorf("descriptor: file not found: %s", path)
}
