package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/whatsdx/bot-platform-go/internal/audit"
	apperrors "github.com/whatsdx/bot-platform-go/internal/errors"
	"github.com/whatsdx/bot-platform-go/internal/middleware"
	"github.com/whatsdx/bot-platform-go/internal/service"
	"github.com/whatsdx/bot-platform-go/internal/transport"
)

// inboundTimeout bounds one pipeline run kicked off over HTTP.
const inboundTimeout = 60 * time.Second

// InboundHandler injects inbound messages into the gating pipeline over
// HTTP, for transports that deliver by webhook instead of a live
// session.
type InboundHandler struct {
	botService *service.BotService
	pipeline   *service.Pipeline
}

func NewInboundHandler(botService *service.BotService, pipeline *service.Pipeline) *InboundHandler {
	return &InboundHandler{
		botService: botService,
		pipeline:   pipeline,
	}
}

type inboundRequest struct {
	BotID     string `json:"botId"`
	MessageID string `json:"messageId"`
	ChatJID   string `json:"chatJid"`
	SenderJID string `json:"senderJid"`
	PushName  string `json:"pushName"`
	Text      string `json:"text"`
	IsGroup   bool   `json:"isGroup"`
}

// POST /v1/messages
func (h *InboundHandler) Inject(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r.Context())

	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.BotID == "" || req.SenderJID == "" || req.ChatJID == "" {
		writeError(w, apperrors.MissingRequired("botId, chatJid and senderJid"))
		return
	}

	if _, err := h.botService.Get(r.Context(), tenant.ID, req.BotID); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:     audit.EventMessageInject,
		TenantID: tenant.ID,
		BotID:    req.BotID,
	})

	env := &transport.Envelope{
		MessageID: req.MessageID,
		ChatJID:   req.ChatJID,
		SenderJID: req.SenderJID,
		PushName:  req.PushName,
		Text:      req.Text,
		IsGroup:   req.IsGroup,
	}

	// The pipeline replies through the bot's live session, not through
	// this response, so the run is detached from the request.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
		defer cancel()
		h.pipeline.ProcessInbound(ctx, req.BotID, env)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
