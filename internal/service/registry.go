package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/whatsdx/bot-platform-go/internal/errors"
	"github.com/whatsdx/bot-platform-go/internal/model"
	redisclient "github.com/whatsdx/bot-platform-go/internal/redis"
	"github.com/whatsdx/bot-platform-go/internal/util"
)

// CommandPermissions declares which permission checks the gating
// pipeline runs before the command executes. Coin is the execution cost;
// zero means free.
type CommandPermissions struct {
	Admin    bool
	BotAdmin bool
	Group    bool
	Owner    bool
	Premium  bool
	Private  bool
	Restrict bool
	Coin     int
}

// RateLimitSpec is a sliding-window limit keyed by (user, command).
type RateLimitSpec struct {
	MaxCalls int
	Window   time.Duration
}

// CommandContext carries everything a handler may need.
type CommandContext struct {
	BotID      string
	Tenant     *model.Tenant
	User       *model.BotUser
	Group      *model.Group
	ChatJID    string
	SenderJID  string
	Text       string
	Args       []string
	IsGroup    bool
	IsOwner    bool
	Suggestion *Suggestion
}

// HandlerFunc executes one admitted command and returns the reply text.
type HandlerFunc func(ctx context.Context, cmd *CommandContext) (string, error)

type CommandDefinition struct {
	Name        string
	Aliases     []string
	Category    string
	Description string
	RateLimit   *RateLimitSpec
	Permissions CommandPermissions
	// CacheTTL enables result caching; zero disables it.
	CacheTTL time.Duration
	Handler  HandlerFunc
}

// ExecutionResult is the structured outcome of one dispatch. The
// dispatcher always returns a result; it never lets a handler fault
// propagate to its caller.
type ExecutionResult struct {
	Success   bool      `json:"success"`
	Command   string    `json:"command"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Cached    bool      `json:"cached,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandRegistry holds the immutable command table and dispatches
// admitted commands under a rate limit and a hard timeout.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]*CommandDefinition
	aliases  map[string]string
	windows  *WindowStore
	redis    *redisclient.Client
	timeout  time.Duration
	now      func() time.Time
}

func NewCommandRegistry(windows *WindowStore, redis *redisclient.Client, timeout time.Duration) *CommandRegistry {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CommandRegistry{
		commands: make(map[string]*CommandDefinition),
		aliases:  make(map[string]string),
		windows:  windows,
		redis:    redis,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Register adds a command definition. Commands are registered once at
// startup; duplicate names (or aliases shadowing names) are rejected.
func (r *CommandRegistry) Register(def *CommandDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return apperrors.ValidationError("command must have a name and a handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[def.Name]; exists {
		return apperrors.AlreadyExists(fmt.Sprintf("Command %s", def.Name))
	}
	if _, exists := r.aliases[def.Name]; exists {
		return apperrors.AlreadyExists(fmt.Sprintf("Command %s", def.Name))
	}
	for _, alias := range def.Aliases {
		if _, exists := r.commands[alias]; exists {
			return apperrors.AlreadyExists(fmt.Sprintf("Command alias %s", alias))
		}
		if _, exists := r.aliases[alias]; exists {
			return apperrors.AlreadyExists(fmt.Sprintf("Command alias %s", alias))
		}
	}

	if def.Category == "" {
		def.Category = "misc"
	}
	r.commands[def.Name] = def
	for _, alias := range def.Aliases {
		r.aliases[alias] = def.Name
	}

	log.Info().Str("command", def.Name).Str("category", def.Category).Msg("registered command")
	return nil
}

// Get resolves a command by name or alias.
func (r *CommandRegistry) Get(name string) *CommandDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.commands[name]; ok {
		return def
	}
	if canonical, ok := r.aliases[name]; ok {
		return r.commands[canonical]
	}
	return nil
}

// Names lists registered command names, for intent suggestions.
func (r *CommandRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	return names
}

// ByCategory lists commands in one category.
func (r *CommandRegistry) ByCategory(category string) []*CommandDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []*CommandDefinition
	for _, def := range r.commands {
		if def.Category == category {
			defs = append(defs, def)
		}
	}
	return defs
}

// Execute dispatches one command. Rate limiting happens before the
// handler runs; the handler itself runs under the hard timeout, and a
// panic or error becomes a structured failure result.
func (r *CommandRegistry) Execute(ctx context.Context, name string, cmdCtx *CommandContext) *ExecutionResult {
	started := r.now()
	def := r.Get(name)
	if def == nil {
		return r.failure(name, apperrors.CommandNotFound(name))
	}

	if def.RateLimit != nil && r.windows != nil {
		key := fmt.Sprintf("cmd:%s:%s", cmdCtx.User.ID, def.Name)
		if !r.windows.Allow(key, def.RateLimit.MaxCalls, def.RateLimit.Window) {
			log.Warn().
				Str("command", def.Name).
				Str("userId", cmdCtx.User.ID).
				Msg("command rate limit exceeded")
			return r.failure(name, apperrors.RateLimitExceeded())
		}
	}

	cacheKey := r.cacheKey(def, cmdCtx)
	if cacheKey != "" {
		if cached, err := r.redis.Get(ctx, cacheKey).Result(); err == nil && cached != "" {
			log.Debug().Str("command", def.Name).Msg("command cache hit")
			return &ExecutionResult{
				Success:   true,
				Command:   def.Name,
				Result:    cached,
				Cached:    true,
				Timestamp: r.now(),
			}
		}
	}

	result, err := r.invoke(ctx, def, cmdCtx)
	elapsed := r.now().Sub(started)

	if err != nil {
		log.Error().
			Err(err).
			Str("command", def.Name).
			Str("userId", cmdCtx.User.ID).
			Dur("elapsed", elapsed).
			Msg("command failed")
		return r.failure(name, err)
	}

	if cacheKey != "" {
		if err := r.redis.Set(ctx, cacheKey, result, def.CacheTTL).Err(); err != nil {
			log.Warn().Err(err).Str("command", def.Name).Msg("failed to cache command result")
		}
	}

	log.Info().
		Str("command", def.Name).
		Str("userId", cmdCtx.User.ID).
		Dur("elapsed", elapsed).
		Msg("command executed")

	return &ExecutionResult{
		Success:   true,
		Command:   def.Name,
		Result:    result,
		Timestamp: r.now(),
	}
}

// invoke runs the handler under the hard timeout, converting panics and
// deadline expiry into errors.
func (r *CommandRegistry) invoke(ctx context.Context, def *CommandDefinition, cmdCtx *CommandContext) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("command panicked: %v", p)}
			}
		}()
		result, err := def.Handler(execCtx, cmdCtx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-execCtx.Done():
		return "", apperrors.CommandTimeout(def.Name)
	case out := <-done:
		return out.result, out.err
	}
}

func (r *CommandRegistry) cacheKey(def *CommandDefinition, cmdCtx *CommandContext) string {
	if def.CacheTTL <= 0 || r.redis == nil {
		return ""
	}
	return redisclient.CommandCacheKey(def.Name, util.HashToken(strings.Join(cmdCtx.Args, " ")))
}

func (r *CommandRegistry) failure(name string, err error) *ExecutionResult {
	result := &ExecutionResult{
		Command:   name,
		Timestamp: r.now(),
	}
	if appErr, ok := apperrors.AsAppError(err); ok {
		result.Error = appErr.Message
	} else {
		// generic message; internal detail stays in the logs
		result.Error = apperrors.CommandFailed().Message
	}
	return result
}
