package rpcapi

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	"github.com/protolith-db/protolith/internal/dbengine"
	"github.com/protolith-db/protolith/internal/descriptor"
)

// Any mirrors spec.md §6.1's Any envelope: a fully-qualified type URL
// plus the wire-encoded bytes of that message.
type Any struct {
	TypeURL string `json:"type_url"`
	Value   []byte `json:"value"`
}

// Value is spec.md §6.1's dynamically-typed scalar: either a number or a
// string, never both.
type Value struct {
	Number *int64  `json:"number,omitempty"`
	String *string `json:"string,omitempty"`
}

// render renders the scalar using the same rules Insert used to build
// the storage key (descriptor.RenderScalarKey), so Get addresses the
// record Insert actually wrote.
func (v Value) render() string {
	if v.Number != nil {
		return descriptor.RenderScalarKey(true, *v.Number, "")
	}
	if v.String != nil {
		return descriptor.RenderScalarKey(false, 0, *v.String)
	}
	return ""
}

func recordToAny(r dbengine.Record) Any {
	return Any{TypeURL: r.TypeURL, Value: r.Value}
}

// loginRequest is AuthService.Login's request body.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is AuthService.Login's response body.
type loginResponse struct {
	SessionToken string `json:"session_token"`
}

// createDatabaseRequest is AdminService.CreateDatabase's request body. A
// caller supplies either a precompiled FileDescriptorSet or raw .proto
// source text plus its filename; ProtoSource takes precedence when both
// are set.
type createDatabaseRequest struct {
	Name              string `json:"name"`
	FileDescriptorSet []byte `json:"file_descriptor_set"`
	ProtoSourceName   string `json:"proto_source_name"`
	ProtoSource       string `json:"proto_source"`
}

// descriptorSetBytes resolves the request to a serialized
// FileDescriptorSet, compiling ProtoSource via descriptor.CompileSource
// when present, or else returning FileDescriptorSet as-is.
func (req createDatabaseRequest) descriptorSetBytes() ([]byte, error) {
	if req.ProtoSource == "" {
		return req.FileDescriptorSet, nil
	}
	name := req.ProtoSourceName
	if name == "" {
		name = req.Name + ".proto"
	}
	fds, err := descriptor.CompileSource(name, req.ProtoSource)
	if err != nil {
		return nil, fmt.Errorf("compiling proto_source: %w", err)
	}
	raw, err := proto.Marshal(fds)
	if err != nil {
		return nil, fmt.Errorf("encoding compiled descriptor set: %w", err)
	}
	return raw, nil
}

// createDatabaseResponse is shared by CreateDatabase and
// CreateOrReplaceDatabase.
type createDatabaseResponse struct {
	Name string `json:"name"`
	Op   string `json:"op"`
}

// listDatabasesResponse is AdminService.ListDatabases' response body.
type listDatabasesResponse struct {
	Databases []databaseSummary `json:"databases"`
}

type databaseSummary struct {
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Collections []string `json:"collections"`
}

// createCollectionRequest is AdminService.CreateCollection's request body.
type createCollectionRequest struct {
	Database   string  `json:"database"`
	Collection string  `json:"collection"`
	Key        string  `json:"key"`
	Version    *uint64 `json:"version,omitempty"`
}

// createCollectionResponse is AdminService.CreateCollection's response body.
type createCollectionResponse struct {
	Database string `json:"database"`
	Name     string `json:"name"`
	Op       string `json:"op"`
}

// insertRequest is EngineService.Insert's request body.
type insertRequest struct {
	Database string `json:"database"`
	Data     Any    `json:"data"`
}

// insertResponse is EngineService.Insert's response body.
type insertResponse struct {
	Collection string `json:"collection"`
	Op         string `json:"op"`
}

// getRequest is EngineService.Get's request body.
type getRequest struct {
	Database   string `json:"database"`
	Collection string `json:"collection"`
	Key        Value  `json:"key"`
}

// getResponse is EngineService.Get's response body.
type getResponse struct {
	Collection string `json:"collection"`
	Data       Any    `json:"data"`
}

// listRequest is EngineService.List's request body.
type listRequest struct {
	Database   string `json:"database"`
	Collection string `json:"collection"`
}

// listResponse is EngineService.List's response body.
type listResponse struct {
	Collection string `json:"collection"`
	Data       []Any  `json:"data"`
	Op         string `json:"op"`
}
