package rpcapi

import (
	"encoding/json"
	"net/http"

	"github.com/protolith-db/protolith/internal/meta"
)

func decodeJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}

// handleLogin implements AuthService.Login (spec.md §6.1, §4.8).
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	token, err := s.auth.Login(req.Username, req.Password)
	if s.metrics != nil {
		s.metrics.RecordLogin(err == nil)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{SessionToken: token})
}

// handleCreateDatabase implements AdminService.CreateDatabase (spec.md
// §6.1, §4.5 create_database), accepting either a precompiled
// file_descriptor_set or raw proto_source text (SPEC_FULL.md §3/§6.2).
func (s *Server) handleCreateDatabase(w http.ResponseWriter, r *http.Request) {
	var req createDatabaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	descriptorSet, err := req.descriptorSetBytes()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if _, err := s.engine.CreateDatabase(req.Name, descriptorSet); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createDatabaseResponse{Name: req.Name, Op: "created"})
}

// handleCreateOrReplaceDatabase implements AdminService.
// CreateOrReplaceDatabase, reserved with current no-op semantics (spec.md
// §6.1).
func (s *Server) handleCreateOrReplaceDatabase(w http.ResponseWriter, r *http.Request) {
	var req createDatabaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	writeJSON(w, http.StatusOK, createDatabaseResponse{Name: req.Name, Op: "noop"})
}

// handleListDatabases implements AdminService.ListDatabases (spec.md
// §6.1, §4.5 list_databases).
func (s *Server) handleListDatabases(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.engine.ListDatabases()
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]databaseSummary, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, databaseSummary{
			Name:        sum.Name,
			Path:        sum.Path,
			Collections: collectionFQNs(sum.Collections),
		})
	}
	writeJSON(w, http.StatusOK, listDatabasesResponse{Databases: out})
}

func collectionFQNs(schemas []*meta.Schema) []string {
	out := make([]string, 0, len(schemas))
	for _, sc := range schemas {
		out = append(out, sc.SchemaDefinition.FQN)
	}
	return out
}

// handleCreateCollection implements AdminService.CreateCollection
// (spec.md §6.1, §4.5 create_collection).
func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	if _, err := s.engine.CreateCollection(req.Database, req.Collection, req.Key); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createCollectionResponse{
		Database: req.Database,
		Name:     req.Collection,
		Op:       "created",
	})
}

// handleInsert implements EngineService.Insert (spec.md §6.1, §4.4
// Insert).
func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	s.logOperation(r, "insert", req.Database)
	collection, err := s.engine.Insert(req.Database, req.Data.TypeURL, req.Data.Value)
	if s.metrics != nil {
		s.metrics.RecordInsert(req.Database, collection, err)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insertResponse{Collection: collection, Op: "inserted"})
}

// handleGet implements EngineService.Get (spec.md §6.1, §4.4 Get).
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	var req getRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	s.logOperation(r, "get", req.Database)
	rec, err := s.engine.Get(req.Database, req.Collection, req.Key.render())
	if s.metrics != nil {
		s.metrics.RecordGet(req.Database, req.Collection, err)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, getResponse{Collection: req.Collection, Data: recordToAny(rec)})
}

// handleList implements EngineService.List (spec.md §6.1, §4.4 List).
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	s.logOperation(r, "list", req.Database)
	records, err := s.engine.List(req.Database, req.Collection)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordList(req.Database, req.Collection, len(records))
	}

	data := make([]Any, 0, len(records))
	for _, rec := range records {
		data = append(data, recordToAny(rec))
	}
	writeJSON(w, http.StatusOK, listResponse{Collection: req.Collection, Data: data, Op: "listed"})
}
