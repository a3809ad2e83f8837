package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/whatsdx/bot-platform-go/internal/errors"
	"github.com/whatsdx/bot-platform-go/internal/model"
)

func newTestRegistry(timeout time.Duration) *CommandRegistry {
	return NewCommandRegistry(NewWindowStore(), nil, timeout)
}

func testCommandContext() *CommandContext {
	return &CommandContext{
		BotID:     "bot-1",
		User:      &model.BotUser{ID: "user-1", JID: "u@chat"},
		ChatJID:   "u@chat",
		SenderJID: "u@chat",
	}
}

func echoCommand(name string, aliases ...string) *CommandDefinition {
	return &CommandDefinition{
		Name:    name,
		Aliases: aliases,
		Handler: func(ctx context.Context, cmd *CommandContext) (string, error) {
			return "ok: " + name, nil
		},
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := newTestRegistry(0)

	require.NoError(t, r.Register(echoCommand("ping", "p")))

	err := r.Register(echoCommand("ping"))
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeAlreadyExists, appErr.Code)

	// a new command may not reuse an existing alias
	require.Error(t, r.Register(echoCommand("pong", "p")))

	// nor may a new name collide with an existing alias
	require.Error(t, r.Register(echoCommand("p")))
}

func TestRegisterRequiresNameAndHandler(t *testing.T) {
	r := newTestRegistry(0)

	require.Error(t, r.Register(&CommandDefinition{Name: "broken"}))
	require.Error(t, r.Register(&CommandDefinition{
		Handler: func(ctx context.Context, cmd *CommandContext) (string, error) { return "", nil },
	}))
}

func TestGetResolvesAliases(t *testing.T) {
	r := newTestRegistry(0)
	require.NoError(t, r.Register(echoCommand("help", "menu", "h")))

	assert.NotNil(t, r.Get("help"))
	assert.NotNil(t, r.Get("menu"))
	assert.NotNil(t, r.Get("h"))
	assert.Nil(t, r.Get("halp"))
	assert.Equal(t, "help", r.Get("menu").Name)
}

func TestExecuteUnknownCommand(t *testing.T) {
	r := newTestRegistry(0)

	result := r.Execute(context.Background(), "nope", testCommandContext())
	assert.False(t, result.Success)
	assert.Equal(t, "nope", result.Command)
	assert.Contains(t, result.Error, "not found")
}

func TestExecuteSuccess(t *testing.T) {
	r := newTestRegistry(0)
	require.NoError(t, r.Register(echoCommand("ping")))

	result := r.Execute(context.Background(), "ping", testCommandContext())
	assert.True(t, result.Success)
	assert.Equal(t, "ok: ping", result.Result)
	assert.False(t, result.Cached)
	assert.Empty(t, result.Error)
}

func TestExecuteRateLimit(t *testing.T) {
	r := newTestRegistry(0)
	def := echoCommand("roll")
	def.RateLimit = &RateLimitSpec{MaxCalls: 2, Window: time.Minute}
	require.NoError(t, r.Register(def))

	cmdCtx := testCommandContext()
	assert.True(t, r.Execute(context.Background(), "roll", cmdCtx).Success)
	assert.True(t, r.Execute(context.Background(), "roll", cmdCtx).Success)

	result := r.Execute(context.Background(), "roll", cmdCtx)
	assert.False(t, result.Success)
	assert.Equal(t, apperrors.RateLimitExceeded().Message, result.Error)

	// the window is per user, not global
	other := testCommandContext()
	other.User = &model.BotUser{ID: "user-2", JID: "o@chat"}
	assert.True(t, r.Execute(context.Background(), "roll", other).Success)
}

func TestExecuteTimeout(t *testing.T) {
	r := newTestRegistry(30 * time.Millisecond)
	require.NoError(t, r.Register(&CommandDefinition{
		Name: "slow",
		Handler: func(ctx context.Context, cmd *CommandContext) (string, error) {
			select {
			case <-time.After(time.Second):
				return "too late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}))

	result := r.Execute(context.Background(), "slow", testCommandContext())
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out")
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	r := newTestRegistry(0)
	require.NoError(t, r.Register(&CommandDefinition{
		Name: "boom",
		Handler: func(ctx context.Context, cmd *CommandContext) (string, error) {
			panic("handler bug")
		},
	}))

	result := r.Execute(context.Background(), "boom", testCommandContext())
	assert.False(t, result.Success)
	// internal detail never surfaces to the chat
	assert.Equal(t, apperrors.CommandFailed().Message, result.Error)
}

func TestExecuteErrorMapping(t *testing.T) {
	r := newTestRegistry(0)
	require.NoError(t, r.Register(&CommandDefinition{
		Name: "paid",
		Handler: func(ctx context.Context, cmd *CommandContext) (string, error) {
			return "", apperrors.InsufficientCoin(3)
		},
	}))
	require.NoError(t, r.Register(&CommandDefinition{
		Name: "flaky",
		Handler: func(ctx context.Context, cmd *CommandContext) (string, error) {
			return "", errors.New("connection reset")
		},
	}))

	// AppError messages are user-facing and pass through
	result := r.Execute(context.Background(), "paid", testCommandContext())
	assert.Equal(t, apperrors.InsufficientCoin(3).Message, result.Error)

	// plain errors collapse to the generic failure message
	result = r.Execute(context.Background(), "flaky", testCommandContext())
	assert.Equal(t, apperrors.CommandFailed().Message, result.Error)
}

func TestByCategory(t *testing.T) {
	r := newTestRegistry(0)
	game := echoCommand("roll")
	game.Category = "game"
	require.NoError(t, r.Register(game))
	require.NoError(t, r.Register(echoCommand("ping")))

	defs := r.ByCategory("game")
	require.Len(t, defs, 1)
	assert.Equal(t, "roll", defs[0].Name)

	// unset categories default to misc
	assert.Len(t, r.ByCategory("misc"), 1)
	assert.Len(t, r.Names(), 2)
}
