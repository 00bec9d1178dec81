package rpcapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/protolith-db/protolith/internal/auth"
	"github.com/protolith-db/protolith/internal/dbengine"
	"github.com/protolith-db/protolith/internal/descriptor"
	"github.com/protolith-db/protolith/internal/kv"
	"github.com/protolith-db/protolith/internal/session"
)

func itemDescriptorSet(t *testing.T) []byte {
	t.Helper()

	msgOpts := &descriptorpb.MessageOptions{}
	require.NoError(t, descriptor.SetCollectionOption(msgOpts, true))

	idOpts := &descriptorpb.FieldOptions{}
	require.NoError(t, descriptor.SetKeyOption(idOpts, true))

	item := &descriptorpb.DescriptorProto{
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
	}

	fds := &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{
			{
				Name:        proto.String("shop/v1/item.proto"),
				Package:     proto.String("shop.v1"),
				Syntax:      proto.String("proto2"),
				MessageType: []*descriptorpb.DescriptorProto{item},
			},
		},
	}
	raw, err := proto.Marshal(fds)
	require.NoError(t, err)
	return raw
}

func encodeItem(t *testing.T, pool *descriptor.Pool, id, name string) []byte {
	t.Helper()
	md, err := pool.FindMessage("shop.v1.Item")
	require.NoError(t, err)

	msg := descriptor.NewDynamicMessage(md)
	fields := md.Fields()
	msg.Set(fields.ByName("id"), protoreflect.ValueOfString(id))
	msg.Set(fields.ByName("name"), protoreflect.ValueOfString(name))

	raw, err := descriptor.Encode(msg)
	require.NoError(t, err)
	return raw
}

type testHarness struct {
	server   *Server
	engine   *dbengine.Engine
	sessions *session.Store
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	root := t.TempDir()
	engine := dbengine.NewEngine(dbengine.EngineConfig{
		Root:               root,
		DescriptorFileName: "descriptor.pb",
		KVOptions:          kv.Options{},
	})
	require.NoError(t, engine.Boot("protolith"))

	_, err := engine.CreateDatabase("shop", itemDescriptorSet(t))
	require.NoError(t, err)

	store, err := kv.Open(t.TempDir(), nil, kv.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sessions := session.New()
	authSvc, err := auth.NewService(store, sessions, "")
	require.NoError(t, err)
	require.NoError(t, authSvc.BootstrapUser("protolith", "protolith"))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(engine, authSvc, sessions, nil, logger)

	return &testHarness{server: srv, engine: engine, sessions: sessions}
}

func (h *testHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set(SessionHeader, token)
	}
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

func (h *testHarness) login(t *testing.T) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, loginPath, "", loginRequest{Username: "protolith", Password: "protolith"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionToken)
	return resp.SessionToken
}

func TestLogin_Succeeds(t *testing.T) {
	h := newTestHarness(t)
	token := h.login(t)
	assert.NotEmpty(t, token)
}

func TestLogin_WrongPassword_Returns401(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodPost, loginPath, "", loginRequest{Username: "protolith", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionGate_MissingToken_Returns401(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodGet, "/admin/databases", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionGate_UnknownToken_Returns401(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodGet, "/admin/databases", "not-a-real-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListDatabases_IncludesCreatedDatabase(t *testing.T) {
	h := newTestHarness(t)
	token := h.login(t)

	rec := h.do(t, http.MethodGet, "/admin/databases", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listDatabasesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	var found bool
	for _, db := range resp.Databases {
		if db.Name == "shop" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCreateDatabase_Duplicate_Returns409(t *testing.T) {
	h := newTestHarness(t)
	token := h.login(t)

	rec := h.do(t, http.MethodPost, "/admin/databases", token, createDatabaseRequest{
		Name:              "shop",
		FileDescriptorSet: itemDescriptorSet(t),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateDatabase_FromProtoSource(t *testing.T) {
	h := newTestHarness(t)
	token := h.login(t)

	source := `
syntax = "proto3";
package widget.v1;

message Widget {
  string id = 1;
}
`
	rec := h.do(t, http.MethodPost, "/admin/databases", token, createDatabaseRequest{
		Name:            "widgets",
		ProtoSourceName: "widget.proto",
		ProtoSource:     source,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	listRec := h.do(t, http.MethodGet, "/admin/databases", token, nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var listResp listDatabasesResponse
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listResp))

	var found bool
	for _, db := range listResp.Databases {
		if db.Name == "widgets" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCreateDatabase_MalformedProtoSource_Returns400(t *testing.T) {
	h := newTestHarness(t)
	token := h.login(t)

	rec := h.do(t, http.MethodPost, "/admin/databases", token, createDatabaseRequest{
		Name:            "broken",
		ProtoSourceName: "broken.proto",
		ProtoSource:     "this is not valid proto syntax {{{",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInsertGetList_RoundTrip(t *testing.T) {
	h := newTestHarness(t)
	token := h.login(t)

	pool, err := descriptor.NewPool(itemDescriptorSet(t))
	require.NoError(t, err)
	raw := encodeItem(t, pool, "a", "apple")

	insertRec := h.do(t, http.MethodPost, "/engine/insert", token, insertRequest{
		Database: "shop",
		Data:     Any{TypeURL: descriptor.BuildTypeURL("shop.v1.Item"), Value: raw},
	})
	require.Equal(t, http.StatusOK, insertRec.Code)

	id := "a"
	getRec := h.do(t, http.MethodPost, "/engine/get", token, getRequest{
		Database:   "shop",
		Collection: "shop.v1.Item",
		Key:        Value{String: &id},
	})
	require.Equal(t, http.StatusOK, getRec.Code)

	var getResp getResponse
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &getResp))
	assert.Equal(t, raw, getResp.Data.Value)

	listRec := h.do(t, http.MethodPost, "/engine/list", token, listRequest{
		Database:   "shop",
		Collection: "shop.v1.Item",
	})
	require.Equal(t, http.StatusOK, listRec.Code)

	var listResp listResponse
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listResp))
	assert.Len(t, listResp.Data, 1)
}

func TestGet_UnknownKey_Returns404(t *testing.T) {
	h := newTestHarness(t)
	token := h.login(t)

	id := "missing"
	rec := h.do(t, http.MethodPost, "/engine/get", token, getRequest{
		Database:   "shop",
		Collection: "shop.v1.Item",
		Key:        Value{String: &id},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInsert_UnknownDatabase_Returns404(t *testing.T) {
	h := newTestHarness(t)
	token := h.login(t)

	rec := h.do(t, http.MethodPost, "/engine/insert", token, insertRequest{
		Database: "nope",
		Data:     Any{TypeURL: descriptor.BuildTypeURL("shop.v1.Item"), Value: nil},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVersionHeader_IsSetOnEveryResponse(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodPost, loginPath, "", loginRequest{Username: "protolith", Password: "protolith"})
	assert.NotEmpty(t, rec.Header().Get(VersionHeader))
}
