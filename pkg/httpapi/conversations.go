package httpapi

import (
	"net/http"
	"strconv"

	"github.com/sekha-ai/sekha/pkg/store"
)

func (s *Server) registerConversationRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/conversations", s.handleStoreConversation)
	mux.HandleFunc("GET /api/v1/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("PUT /api/v1/conversations/{id}/label", s.handleUpdateLabel)
	mux.HandleFunc("PUT /api/v1/conversations/{id}/status", s.handleSetStatus)
	mux.HandleFunc("PUT /api/v1/conversations/{id}/importance", s.handleSetImportance)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", s.handleDeleteConversation)
}

type storeConversationRequest struct {
	Label    string              `json:"label"`
	Folder   string              `json:"folder"`
	Status   store.Status        `json:"status"`
	Messages []messagePayload    `json:"messages"`
	Metadata map[string]any      `json:"metadata"`
}

type messagePayload struct {
	Role    store.Role `json:"role"`
	Content string     `json:"content"`
}

func (s *Server) handleStoreConversation(w http.ResponseWriter, r *http.Request) {
	var req storeConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, "http.store_conversation", err)
		return
	}

	msgs := make([]*store.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = &store.Message{Role: m.Role, Content: m.Content}
	}

	conv, stored, err := s.deps.Repository.StoreConversation(r.Context(), &store.Conversation{
		Label: req.Label, Folder: req.Folder, Status: req.Status,
	}, msgs)
	if err != nil {
		writeError(w, s.deps.Logger, "http.store_conversation", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"conversation": conv, "messages": stored})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := s.deps.Repository.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, s.deps.Logger, "http.get_conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type updateLabelRequest struct {
	Label  string `json:"label"`
	Folder string `json:"folder"`
}

func (s *Server) handleUpdateLabel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateLabelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, "http.update_label", err)
		return
	}
	if err := s.deps.Repository.UpdateLabel(r.Context(), id, req.Label); err != nil {
		writeError(w, s.deps.Logger, "http.update_label", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "label": req.Label})
}

type setStatusRequest struct {
	Status store.Status `json:"status"`
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req setStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, "http.set_status", err)
		return
	}
	if err := s.deps.Repository.SetStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, s.deps.Logger, "http.set_status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(req.Status)})
}

type setImportanceRequest struct {
	ImportanceScore int `json:"importance_score"`
}

func (s *Server) handleSetImportance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req setImportanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, "http.set_importance", err)
		return
	}
	if err := s.deps.Repository.SetImportance(r.Context(), id, req.ImportanceScore); err != nil {
		writeError(w, s.deps.Logger, "http.set_importance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "importance_score": req.ImportanceScore})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Repository.DeleteConversation(r.Context(), id); err != nil {
		writeError(w, s.deps.Logger, "http.delete_conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseLimitOffset reads the limit/offset query parameters shared by every
// paged listing endpoint, defaulting and hard-capping per spec.md §4.6.
func parseLimitOffset(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

