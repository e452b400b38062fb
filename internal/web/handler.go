package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/blockedby/videorelay/internal/matcher"
	"github.com/blockedby/videorelay/internal/repository"
	"github.com/blockedby/videorelay/internal/scheduler"
	"github.com/blockedby/videorelay/internal/stats"
	"github.com/blockedby/videorelay/internal/telegram"
)

// Processor is the processing toggle surface.
type Processor interface {
	Start()
	Stop()
	Running() bool
}

// Queue exposes live scheduler counters.
type Queue interface {
	ActiveCount() int
	QueueDepth() int
	CountsByPlatform() map[string]scheduler.PlatformCounts
}

// Telegram is the chat-client surface the API reads.
type Telegram interface {
	GetStatus() telegram.Status
	Dialogs(ctx context.Context, limit int) ([]telegram.Chat, error)
}

// Handler handles HTTP requests for the control API.
type Handler struct {
	processor Processor
	queue     Queue
	ledger    *stats.Ledger
	repo      *repository.Repository
	tg        Telegram
}

// NewHandler creates a handler.
func NewHandler(processor Processor, queue Queue, ledger *stats.Ledger, repo *repository.Repository, tg Telegram) *Handler {
	return &Handler{
		processor: processor,
		queue:     queue,
		ledger:    ledger,
		repo:      repo,
		tg:        tg,
	}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// StartProcessing handles POST /api/v1/processing/start
func (h *Handler) StartProcessing(w http.ResponseWriter, r *http.Request) {
	h.processor.Start()
	respondJSON(w, http.StatusOK, map[string]bool{"running": true})
}

// StopProcessing handles POST /api/v1/processing/stop
func (h *Handler) StopProcessing(w http.ResponseWriter, r *http.Request) {
	h.processor.Stop()
	respondJSON(w, http.StatusOK, map[string]bool{"running": false})
}

// ProcessingStatus handles GET /api/v1/processing/status
func (h *Handler) ProcessingStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"running":   h.processor.Running(),
		"active":    h.queue.ActiveCount(),
		"queued":    h.queue.QueueDepth(),
		"platforms": h.queue.CountsByPlatform(),
		"telegram":  h.tg.GetStatus(),
	})
}

// Stats handles GET /api/v1/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"totals": h.ledger.Totals(),
		"chats":  h.ledger.Snapshot(),
	})
}

// ListChats handles GET /api/v1/chats
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.repo.SelectedChats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, chats)
}

// AvailableChats handles GET /api/v1/chats/available
func (h *Handler) AvailableChats(w http.ResponseWriter, r *http.Request) {
	dialogs, err := h.tg.Dialogs(r.Context(), 100)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, dialogs)
}

type addChatRequest struct {
	ChatID int64  `json:"chat_id"`
	Title  string `json:"title"`
	Kind   string `json:"kind"`
}

// AddChat handles POST /api/v1/chats
func (h *Handler) AddChat(w http.ResponseWriter, r *http.Request) {
	var req addChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.ChatID == 0 {
		respondError(w, http.StatusBadRequest, "chat_id is required")
		return
	}

	err := h.repo.AddSelectedChat(telegram.Chat{
		ID:    req.ChatID,
		Title: req.Title,
		Kind:  telegram.ChatKind(req.Kind),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"chat_id": req.ChatID})
}

// RemoveChat handles DELETE /api/v1/chats/{chatID}
func (h *Handler) RemoveChat(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	if err := h.repo.RemoveSelectedChat(chatID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "chat removed"})
}

// ListParticipants handles GET /api/v1/chats/{chatID}/participants
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	rows, err := h.repo.Participants(chatID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

type setParticipantsRequest struct {
	Participants []repository.Participant `json:"participants"`
}

// SetParticipants handles PUT /api/v1/chats/{chatID}/participants
func (h *Handler) SetParticipants(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	var req setParticipantsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := h.repo.ReplaceParticipants(chatID, req.Participants); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"count": len(req.Participants)})
}

// ListPlatforms handles GET /api/v1/platforms
func (h *Handler) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	flags, err := h.repo.PlatformFlags()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, flags)
}

type setPlatformRequest struct {
	Enabled bool `json:"enabled"`
}

// SetPlatform handles PUT /api/v1/platforms/{platform}
func (h *Handler) SetPlatform(w http.ResponseWriter, r *http.Request) {
	platform := matcher.Platform(chi.URLParam(r, "platform"))
	known := false
	for _, p := range matcher.Order {
		if p == platform {
			known = true
			break
		}
	}
	if !known {
		respondError(w, http.StatusNotFound, "unknown platform")
		return
	}

	var req setPlatformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := h.repo.SetPlatformFlag(platform, req.Enabled); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"platform": platform, "enabled": req.Enabled})
}

// ListResponses handles GET /api/v1/responses
func (h *Handler) ListResponses(w http.ResponseWriter, r *http.Request) {
	rows, err := h.repo.Responses()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

type addResponseRequest struct {
	Text string `json:"text"`
}

// AddResponse handles POST /api/v1/responses
func (h *Handler) AddResponse(w http.ResponseWriter, r *http.Request) {
	var req addResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}
	id, err := h.repo.AddResponse(req.Text)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]uint{"id": id})
}

// DeleteResponse handles DELETE /api/v1/responses/{id}
func (h *Handler) DeleteResponse(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid response id")
		return
	}
	if err := h.repo.DeleteResponse(uint(id)); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "response deleted"})
}

// GetOnlySelf handles GET /api/v1/settings/only-self
func (h *Handler) GetOnlySelf(w http.ResponseWriter, r *http.Request) {
	only, err := h.repo.OnlySelf()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": only})
}

type setOnlySelfRequest struct {
	Enabled bool `json:"enabled"`
}

// SetOnlySelf handles PUT /api/v1/settings/only-self
func (h *Handler) SetOnlySelf(w http.ResponseWriter, r *http.Request) {
	var req setOnlySelfRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := h.repo.SetOnlySelf(req.Enabled); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
