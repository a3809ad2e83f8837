// Package commands holds the built-in command set registered at startup.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/whatsdx/bot-platform-go/internal/config"
	apperrors "github.com/whatsdx/bot-platform-go/internal/errors"
	"github.com/whatsdx/bot-platform-go/internal/model"
	"github.com/whatsdx/bot-platform-go/internal/service"
)

// Deps are the services the built-in handlers reach for.
type Deps struct {
	Registry *service.CommandRegistry
	Plan     *service.PlanService
	AI       *service.AIService
}

// Register installs the built-in commands. Called once at startup;
// a duplicate name is a programming error and aborts registration.
func Register(deps Deps) error {
	defs := []*service.CommandDefinition{
		pingCommand(),
		helpCommand(deps.Registry),
		profileCommand(),
		levelCommand(),
		coinCommand(),
		askCommand(deps),
	}

	for _, def := range defs {
		if err := deps.Registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func pingCommand() *service.CommandDefinition {
	return &service.CommandDefinition{
		Name:        "ping",
		Category:    "info",
		Description: "Check that the bot is alive",
		Handler: func(ctx context.Context, cmd *service.CommandContext) (string, error) {
			return "pong", nil
		},
	}
}

func helpCommand(registry *service.CommandRegistry) *service.CommandDefinition {
	return &service.CommandDefinition{
		Name:        "help",
		Aliases:     []string{"menu"},
		Category:    "info",
		Description: "List available commands",
		CacheTTL:    time.Minute,
		Handler: func(ctx context.Context, cmd *service.CommandContext) (string, error) {
			names := registry.Names()
			sort.Strings(names)
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, name := range names {
				fmt.Fprintf(&b, "  /%s\n", name)
			}
			return b.String(), nil
		},
	}
}

func profileCommand() *service.CommandDefinition {
	return &service.CommandDefinition{
		Name:        "profile",
		Aliases:     []string{"me"},
		Category:    "info",
		Description: "Show your profile",
		Handler: func(ctx context.Context, cmd *service.CommandContext) (string, error) {
			user := cmd.User
			name := user.JID
			if user.Name != nil {
				name = *user.Name
			}
			role := "member"
			if user.Role == model.UserRoleOwner {
				role = "owner"
			}
			return fmt.Sprintf(
				"%s\nRole: %s\nLevel: %d (%d XP)\nCoins: %d\nPremium: %t",
				name, role, user.Level, user.XP, user.Coin, user.Premium,
			), nil
		},
	}
}

func levelCommand() *service.CommandDefinition {
	return &service.CommandDefinition{
		Name:        "level",
		Category:    "info",
		Description: "Show your level progress",
		Handler: func(ctx context.Context, cmd *service.CommandContext) (string, error) {
			return fmt.Sprintf("Level %d, %d/%d XP to the next level.", cmd.User.Level, cmd.User.XP, config.XPPerLevel), nil
		},
	}
}

func coinCommand() *service.CommandDefinition {
	return &service.CommandDefinition{
		Name:        "coin",
		Aliases:     []string{"balance"},
		Category:    "info",
		Description: "Show your coin balance",
		Handler: func(ctx context.Context, cmd *service.CommandContext) (string, error) {
			return fmt.Sprintf("You have %d coins.", cmd.User.Coin), nil
		},
	}
}

// askCommand is the AI completion command. It is coin-priced, rate
// limited per user and counted against the tenant's AI request quota.
func askCommand(deps Deps) *service.CommandDefinition {
	return &service.CommandDefinition{
		Name:        "ask",
		Aliases:     []string{"ai"},
		Category:    "ai",
		Description: "Ask the AI a question",
		RateLimit:   &service.RateLimitSpec{MaxCalls: 5, Window: time.Minute},
		Permissions: service.CommandPermissions{Coin: 3},
		Handler: func(ctx context.Context, cmd *service.CommandContext) (string, error) {
			if deps.AI == nil {
				return "", apperrors.Internal("AI backend is not configured")
			}
			prompt := strings.Join(cmd.Args, " ")
			if prompt == "" {
				return "Usage: /ask <question>", nil
			}

			limit, err := deps.Plan.CheckTenantLimit(ctx, cmd.Tenant, model.ResourceAIRequests)
			if err != nil {
				return "", err
			}
			if !limit.Allowed {
				return "", apperrors.QuotaExceeded(string(model.ResourceAIRequests), limit.Limit)
			}
			deps.Plan.IncrementUsage(ctx, cmd.Tenant.ID, model.ResourceAIRequests)

			return deps.AI.Complete(ctx, prompt)
		},
	}
}
