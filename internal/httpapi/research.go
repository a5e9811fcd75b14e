package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/config"
	"github.com/sparka-ai/deepresearch/internal/documents"
	"github.com/sparka-ai/deepresearch/internal/llm"
	"github.com/sparka-ai/deepresearch/internal/workflows"
)

// ResearchHandler starts, inspects and cancels research runs.
//
//	POST   /research
//	GET    /research/{id}
//	DELETE /research/{id}
//	GET    /documents/{id}
type ResearchHandler struct {
	launcher  workflows.Launcher
	docs      documents.Store
	authToken string
	logger    *zap.Logger
}

func NewResearchHandler(l workflows.Launcher, docs documents.Store, authToken string, logger *zap.Logger) *ResearchHandler {
	return &ResearchHandler{launcher: l, docs: docs, authToken: authToken, logger: logger}
}

func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /research", requireToken(h.authToken, h.handleStart))
	mux.HandleFunc("GET /research/{id}", requireToken(h.authToken, h.handleStatus))
	mux.HandleFunc("DELETE /research/{id}", requireToken(h.authToken, h.handleCancel))
	mux.HandleFunc("GET /documents/{id}", requireToken(h.authToken, h.handleDocument))
}

type startRequest struct {
	MessageID  string            `json:"message_id"`
	RequestID  string            `json:"request_id"`
	ToolCallID string            `json:"tool_call_id"`
	Messages   []llm.Message     `json:"messages"`
	Config     *config.Overrides `json:"config,omitempty"`
}

type startResponse struct {
	ID     string `json:"id"`
	Stream string `json:"stream"`
	Status string `json:"status"`
}

func (h *ResearchHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !hasUserMessage(req.Messages) {
		writeError(w, http.StatusBadRequest, "messages must include a user message")
		return
	}

	in := workflows.DeepResearchInput{Config: req.Config}
	in.Request.MessageID = req.MessageID
	in.Request.RequestID = req.RequestID
	in.Request.ToolCallID = req.ToolCallID
	in.Request.Messages = req.Messages

	id, err := h.launcher.Start(r.Context(), in)
	if err != nil {
		if errors.Is(err, workflows.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("Failed to start research", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start research")
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{
		ID:     id,
		Stream: "/stream/sse?message_id=" + id,
		Status: string(workflows.StateRunning),
	})
}

func hasUserMessage(msgs []llm.Message) bool {
	for _, m := range msgs {
		if m.Role == llm.RoleUser && strings.TrimSpace(m.Content) != "" {
			return true
		}
	}
	return false
}

func (h *ResearchHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.launcher.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *ResearchHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.launcher.Cancel(r.Context(), id); err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

func (h *ResearchHandler) handleDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		h.logger.Error("Failed to load document", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load document")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *ResearchHandler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, workflows.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "research run not found")
		return
	}
	h.logger.Error("Research lookup failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}
