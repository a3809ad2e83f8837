package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/whatsdx/bot-platform-go/internal/errors"
	"github.com/whatsdx/bot-platform-go/internal/middleware"
	"github.com/whatsdx/bot-platform-go/internal/model"
	"github.com/whatsdx/bot-platform-go/internal/service"
	"github.com/whatsdx/bot-platform-go/internal/util"
)

type BotHandler struct {
	botService   *service.BotService
	orchestrator *service.Orchestrator
}

func NewBotHandler(botService *service.BotService, orchestrator *service.Orchestrator) *BotHandler {
	return &BotHandler{
		botService:   botService,
		orchestrator: orchestrator,
	}
}

func (h *BotHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Post("/start-all", h.StartAll)
	r.Post("/stop-all", h.StopAll)
	r.Get("/{botID}", h.Get)
	r.Delete("/{botID}", h.Delete)
	r.Post("/{botID}/start", h.Start)
	r.Post("/{botID}/stop", h.Stop)
	r.Get("/{botID}/auth", h.Auth)

	return r
}

type createBotRequest struct {
	Name string `json:"name"`
}

// botIDParam rejects malformed path ids before any database round trip.
func botIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "botID")
	if !util.IsValidUUID(id) {
		writeError(w, apperrors.InvalidInput("botId", "must be a UUID"))
		return "", false
	}
	return id, true
}

// POST /v1/bots
func (h *BotHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r.Context())

	var req createBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	bot, err := h.botService.Create(r.Context(), tenant, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, formatBot(bot))
}

// GET /v1/bots
func (h *BotHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r.Context())
	page := ParsePagination(r)

	bots, err := h.botService.List(r.Context(), tenant.ID, page.Limit, page.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(bots))
	for i := range bots {
		items = append(items, formatBot(&bots[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": items})
}

// GET /v1/bots/{botID}
func (h *BotHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r.Context())
	botID, ok := botIDParam(w, r)
	if !ok {
		return
	}

	bot, err := h.botService.Get(r.Context(), tenant.ID, botID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatBot(bot))
}

// DELETE /v1/bots/{botID}
func (h *BotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r.Context())
	botID, ok := botIDParam(w, r)
	if !ok {
		return
	}

	if err := h.botService.Delete(r.Context(), tenant.ID, botID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/bots/{botID}/start
func (h *BotHandler) Start(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r.Context())
	botID, ok := botIDParam(w, r)
	if !ok {
		return
	}

	if err := h.botService.Start(r.Context(), tenant.ID, botID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"botId": botID, "status": "starting"})
}

// POST /v1/bots/{botID}/stop
func (h *BotHandler) Stop(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r.Context())
	botID, ok := botIDParam(w, r)
	if !ok {
		return
	}

	if err := h.botService.Stop(r.Context(), tenant.ID, botID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"botId": botID, "status": string(model.BotStatusStopped)})
}

// GET /v1/bots/{botID}/auth
func (h *BotHandler) Auth(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r.Context())
	botID, ok := botIDParam(w, r)
	if !ok {
		return
	}

	bot, err := h.botService.AuthArtifact(r.Context(), tenant.ID, botID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"botId":    bot.ID,
		"kind":     bot.ArtifactKind,
		"artifact": bot.AuthArtifact,
	})
}

// POST /v1/bots/start-all
func (h *BotHandler) StartAll(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r.Context())

	h.orchestrator.StartAll(r.Context(), tenant.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "starting"})
}

// POST /v1/bots/stop-all
func (h *BotHandler) StopAll(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r.Context())

	h.orchestrator.StopAll(r.Context(), tenant.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
