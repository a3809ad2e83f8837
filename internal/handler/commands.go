package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/whatsdx/bot-platform-go/internal/errors"
	"github.com/whatsdx/bot-platform-go/internal/middleware"
	"github.com/whatsdx/bot-platform-go/internal/model"
	"github.com/whatsdx/bot-platform-go/internal/repository"
	"github.com/whatsdx/bot-platform-go/internal/service"
)

// CommandHandler exposes the command registry over HTTP. Execution here
// bypasses the chat-side restriction rules; callers already hold a
// tenant token, so only per-command rate limits and timeouts apply.
type CommandHandler struct {
	registry   *service.CommandRegistry
	botService *service.BotService
	userRepo   repository.BotUserRepository
}

func NewCommandHandler(
	registry *service.CommandRegistry,
	botService *service.BotService,
	userRepo repository.BotUserRepository,
) *CommandHandler {
	return &CommandHandler{
		registry:   registry,
		botService: botService,
		userRepo:   userRepo,
	}
}

func (h *CommandHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/{name}", h.Execute)

	return r
}

// GET /v1/commands
func (h *CommandHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"commands": h.registry.Names()})
}

type executeCommandRequest struct {
	BotID   string   `json:"botId"`
	UserJID string   `json:"userJid"`
	ChatJID string   `json:"chatJid"`
	Args    []string `json:"args"`
	IsGroup bool     `json:"isGroup"`
}

// POST /v1/commands/{name}
func (h *CommandHandler) Execute(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r.Context())
	name := chi.URLParam(r, "name")

	var req executeCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.BotID == "" || req.UserJID == "" {
		writeError(w, apperrors.MissingRequired("botId and userJid"))
		return
	}

	if _, err := h.botService.Get(r.Context(), tenant.ID, req.BotID); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.userRepo.FindByJID(r.Context(), req.BotID, req.UserJID)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if user == nil {
		writeError(w, apperrors.NotFound("User"))
		return
	}

	result := h.registry.Execute(r.Context(), name, &service.CommandContext{
		BotID:     req.BotID,
		Tenant:    tenant,
		User:      user,
		ChatJID:   req.ChatJID,
		SenderJID: req.UserJID,
		Args:      req.Args,
		IsGroup:   req.IsGroup,
		IsOwner:   user.Role == model.UserRoleOwner,
	})

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}
