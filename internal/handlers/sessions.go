package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/koji0701/peter-video-agent/internal/llm"
	"github.com/koji0701/peter-video-agent/internal/models"
	"github.com/koji0701/peter-video-agent/internal/services"
	"github.com/koji0701/peter-video-agent/internal/session"
)

// StudioService is the session workflow surface the handlers depend on.
type StudioService interface {
	CreateSession() models.SessionView
	GetSession(id uuid.UUID) (models.SessionView, error)
	DeleteSession(id uuid.UUID) error
	GenerateScript(ctx context.Context, id uuid.UUID, topic string) (models.SessionView, error)
	UpdateLine(id uuid.UUID, index int, req models.UpdateLineRequest) (models.SessionView, error)
	GenerateAudio(ctx context.Context, id uuid.UUID) (models.SessionView, error)
	AudioContent(id uuid.UUID) ([]byte, string, error)
	ScriptText(id uuid.UUID) (string, error)
	Subscribe(id uuid.UUID) (<-chan models.Event, func(), error)
}

// Handler contains all HTTP handlers
type Handler struct {
	studio StudioService
}

// NewHandler creates a new handler
func NewHandler(studio StudioService) *Handler {
	return &Handler{studio: studio}
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateSession handles POST /v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	view := h.studio.CreateSession()
	writeJSON(w, http.StatusCreated, models.CreateSessionResponse{
		SessionID: view.ID,
		State:     view.State,
		CreatedAt: view.CreatedAt,
	})
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	view, err := h.studio.GetSession(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DeleteSession handles DELETE /v1/sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if err := h.studio.DeleteSession(id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GenerateScript handles POST /v1/sessions/{id}/script. The call is
// synchronous: the response carries the finished session view, while
// subscribers on the events stream see the intermediate transitions.
func (h *Handler) GenerateScript(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var req models.GenerateScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := h.studio.GenerateScript(r.Context(), id, req.Topic)
	if err != nil {
		log.Error().Err(err).Str("session_id", id.String()).Msg("Failed to generate script")
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UpdateLine handles PUT /v1/sessions/{id}/script/lines/{index}
func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid line index")
		return
	}

	var req models.UpdateLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := h.studio.UpdateLine(id, index, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GenerateAudio handles POST /v1/sessions/{id}/audio. Synthesis failures do
// not surface as HTTP errors: the returned view carries the placeholder
// result with the cause in the audio status message.
func (h *Handler) GenerateAudio(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	view, err := h.studio.GenerateAudio(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("session_id", id.String()).Msg("Failed to generate audio")
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// AudioContent handles GET /v1/sessions/{id}/audio
func (h *Handler) AudioContent(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	audio, mime, err := h.studio.AudioContent(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", `inline; filename="narration.mp3"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		log.Debug().Err(err).Msg("Failed to write audio response")
	}
}

// DownloadScript handles GET /v1/sessions/{id}/script.txt
func (h *Handler) DownloadScript(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	text, err := h.studio.ScriptText(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="script.txt"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, text); err != nil {
		log.Debug().Err(err).Msg("Failed to write script response")
	}
}

func sessionID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

// writeServiceError maps service errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, services.ErrNoAudio):
		writeJSONError(w, http.StatusNotFound, "no audio available")
	case errors.Is(err, session.ErrBusy):
		writeJSONError(w, http.StatusConflict, "a generation is already running for this session")
	case errors.Is(err, services.ErrInvalidInput):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		var genErr *llm.GenerationError
		if errors.As(err, &genErr) {
			writeJSONError(w, http.StatusBadGateway, genErr.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
