package handler

import (
	"net/http"
	"time"

	"github.com/whatsdx/bot-platform-go/internal/httputil"
	"github.com/whatsdx/bot-platform-go/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func formatBot(bot *model.BotInstance) map[string]any {
	return map[string]any{
		"id":           bot.ID,
		"name":         bot.Name,
		"status":       bot.Status,
		"errorFlag":    bot.ErrorFlag,
		"phoneNumber":  bot.PhoneNumber,
		"artifactKind": bot.ArtifactKind,
		"lastActivity": formatTime(bot.LastActivity),
		"createdAt":    bot.CreatedAt.Format(time.RFC3339),
	}
}
