package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/chat"
	"github.com/effective-security/mcpchat/store"
	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/xlog"
)

// maxBodySize bounds request bodies, including session imports.
const maxBodySize = 8 << 20

type apiServer struct {
	svc *chat.Service
}

func newHandler(svc *chat.Service) http.Handler {
	s := &apiServer{svc: svc}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/query", s.handleQuery)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /v1/sessions/{id}/rename", s.handleRenameSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /v1/sessions/{id}/export", s.handleExportSession)
	mux.HandleFunc("POST /v1/sessions/import", s.handleImportSession)
	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("POST /v1/servers/update", s.handleUpdateServers)
	mux.HandleFunc("POST /v1/llm/change", s.handleChangeModel)
	return mux
}

type queryRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

func (s *apiServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "sessionId and text are required")
		return
	}

	resp, err := s.svc.Send(r.Context(), req.SessionID, req.Text)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Sessions(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *apiServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := s.svc.CreateSession(r.Context(), req.Title)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *apiServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *apiServer) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	if err := s.svc.Rename(r.Context(), r.PathValue("id"), req.Title); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *apiServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *apiServer) handleExportSession(w http.ResponseWriter, r *http.Request) {
	data, err := s.svc.Export(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *apiServer) handleImportSession(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	session, err := s.svc.Import(r.Context(), data)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *apiServer) handleListTools(w http.ResponseWriter, _ *http.Request) {
	type toolInfo struct {
		Server      string `json:"server"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}

	caps := s.svc.Capabilities()
	list := make([]toolInfo, 0, len(caps))
	for _, c := range caps {
		list = append(list, toolInfo{
			Server:      c.Server,
			Name:        c.Tool.Name,
			Description: c.Tool.Description,
		})
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *apiServer) handleUpdateServers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Servers []*tools.ServerConfig `json:"servers"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.svc.UpdateServers(r.Context(), req.Servers); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *apiServer) handleChangeModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	if err := s.svc.ChangeModel(req.Model); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"model":  s.svc.Model(),
	})
}

var statusOK = map[string]string{"status": "ok"}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, chat.ErrModelNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrMalformedSession),
		errors.Is(err, tools.ErrConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.KV(xlog.ERROR, "reason", "request_failed", "err", err.Error())
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
