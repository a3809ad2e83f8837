package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/whatsdx/bot-platform-go/internal/config"
	apperrors "github.com/whatsdx/bot-platform-go/internal/errors"
	redisclient "github.com/whatsdx/bot-platform-go/internal/redis"
	"github.com/whatsdx/bot-platform-go/internal/util"
)

// Classification is the moderation verdict for one message text.
type Classification struct {
	Safe       bool     `json:"safe"`
	Categories []string `json:"categories"`
	Score      float64  `json:"score"`
}

// Suggestion is a detected command intent for a free-form message.
type Suggestion struct {
	Command    string  `json:"command"`
	Confidence float64 `json:"confidence"`
}

const moderationPrompt = `Classify the following chat message for policy violations
(hate speech, violence, adult content, spam, harassment, self harm, illegal activity).
Respond with JSON only: {"safe": bool, "categories": [strings], "score": 0.0-1.0}.

Message:
%s`

const suggestionPrompt = `A chat user sent the message below without using a command.
Available commands: %s.
If the message clearly maps to one command, respond with JSON only:
{"command": "name", "confidence": 0.0-1.0}. If nothing fits, use an empty command.

Message:
%s`

// AIService wraps the Gemini backend for moderation, intent detection
// and text completion. All calls retry with exponential backoff;
// completions are cached in redis by prompt hash.
type AIService struct {
	client *genai.Client
	model  string
	redis  *redisclient.Client
}

func NewAIService(ctx context.Context, apiKey, model string, redis *redisclient.Client) (*AIService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &AIService{client: client, model: model, redis: redis}, nil
}

// Classify moderates one message text. Errors bubble up after retries so
// the caller can decide how to degrade (the pipeline fails open).
func (s *AIService) Classify(ctx context.Context, text string) (*Classification, error) {
	raw, err := s.generate(ctx, fmt.Sprintf(moderationPrompt, text))
	if err != nil {
		return nil, err
	}

	var result Classification
	if err := json.Unmarshal([]byte(extractJSON(raw)), &result); err != nil {
		return nil, fmt.Errorf("parse moderation response: %w", err)
	}
	return &result, nil
}

// SuggestCommand attempts intent detection for a message that parsed to
// no command. A nil result means no confident match.
func (s *AIService) SuggestCommand(ctx context.Context, text string, commands []string) (*Suggestion, error) {
	raw, err := s.generate(ctx, fmt.Sprintf(suggestionPrompt, strings.Join(commands, ", "), text))
	if err != nil {
		return nil, err
	}

	var result Suggestion
	if err := json.Unmarshal([]byte(extractJSON(raw)), &result); err != nil {
		return nil, fmt.Errorf("parse suggestion response: %w", err)
	}
	if result.Command == "" {
		return nil, nil
	}
	return &result, nil
}

// Complete runs a plain text completion with caching.
func (s *AIService) Complete(ctx context.Context, prompt string) (string, error) {
	cacheKey := redisclient.CompletionCacheKey(util.HashToken(prompt))
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil && cached != "" {
			return cached, nil
		}
	}

	text, err := s.generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, cacheKey, text, config.AICompletionCache).Err(); err != nil {
			log.Warn().Err(err).Msg("failed to cache AI completion")
		}
	}
	return text, nil
}

func (s *AIService) generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	backoff := config.AIInitialBackoff

	for attempt := 1; attempt <= config.AIMaxAttempts; attempt++ {
		result, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(prompt), nil)
		if err == nil {
			text := result.Text()
			if text == "" {
				err = fmt.Errorf("empty completion")
			} else {
				return text, nil
			}
		}

		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("AI request failed")

		if attempt < config.AIMaxAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return "", apperrors.External("gemini", lastErr)
}

// extractJSON strips markdown fences the model sometimes wraps around
// JSON answers.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			return raw[start : end+1]
		}
	}
	return raw
}
