package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/whatsdx/bot-platform-go/internal/audit"
	apperrors "github.com/whatsdx/bot-platform-go/internal/errors"
	"github.com/whatsdx/bot-platform-go/internal/model"
	"github.com/whatsdx/bot-platform-go/internal/repository"
)

// BotService is the management surface over bot instances. Connection
// state transitions stay inside the orchestrator; this service handles
// creation under quota, lookups and teardown.
type BotService struct {
	botRepo      repository.BotInstanceRepository
	orchestrator *Orchestrator
}

func NewBotService(
	botRepo repository.BotInstanceRepository,
	orchestrator *Orchestrator,
) *BotService {
	return &BotService{
		botRepo:      botRepo,
		orchestrator: orchestrator,
	}
}

// Create provisions a stopped bot instance. Admission against the
// tenant's bot quota happens atomically with the insert, so concurrent
// creates can never overshoot the cap.
func (s *BotService) Create(ctx context.Context, tenant *model.Tenant, name string) (*model.BotInstance, error) {
	if name == "" {
		return nil, apperrors.MissingRequired("name")
	}
	if tenant.Status == model.TenantStatusSuspended {
		return nil, apperrors.TenantSuspended()
	}

	maxBots := tenant.Quota(model.ResourceMaxBots)
	bot, ok, err := s.botRepo.CreateUnderQuota(ctx, model.CreateBotInstanceParams{
		TenantID: tenant.ID,
		Name:     name,
	}, maxBots)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !ok {
		audit.Log(ctx, audit.Event{
			Type:     audit.EventQuotaDenied,
			TenantID: tenant.ID,
			Details:  map[string]any{"resource": model.ResourceMaxBots, "limit": maxBots},
		})
		return nil, apperrors.QuotaExceeded(string(model.ResourceMaxBots), maxBots)
	}

	audit.Log(ctx, audit.Event{Type: audit.EventBotCreate, TenantID: tenant.ID, BotID: bot.ID})
	log.Info().Str("botId", bot.ID).Str("tenantId", tenant.ID).Msg("bot instance created")
	return bot, nil
}

// Get returns a bot instance scoped to the tenant. Cross-tenant ids
// read as not found.
func (s *BotService) Get(ctx context.Context, tenantID, botID string) (*model.BotInstance, error) {
	bot, err := s.botRepo.FindByID(ctx, botID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if bot == nil || bot.TenantID != tenantID {
		return nil, apperrors.NotFound("Bot instance")
	}
	return bot, nil
}

func (s *BotService) List(ctx context.Context, tenantID string, limit, offset int) ([]model.BotInstance, error) {
	bots, err := s.botRepo.FindPageByTenantID(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return bots, nil
}

// Delete stops the instance, then removes it and its users, groups and
// credentials. Stop runs unconditionally: an instance in the reconnect
// window holds no live session but still owns a pending timer that must
// not survive the row.
func (s *BotService) Delete(ctx context.Context, tenantID, botID string) error {
	bot, err := s.Get(ctx, tenantID, botID)
	if err != nil {
		return err
	}

	if err := s.orchestrator.Stop(ctx, botID); err != nil {
		log.Warn().Err(err).Str("botId", botID).Msg("failed to stop bot before delete, deleting anyway")
	}

	if err := s.botRepo.Delete(ctx, botID); err != nil {
		return apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{Type: audit.EventBotDelete, TenantID: bot.TenantID, BotID: botID})
	log.Info().Str("botId", botID).Msg("bot instance deleted")
	return nil
}

// Start brings a tenant's instance online after a scope check.
func (s *BotService) Start(ctx context.Context, tenantID, botID string) error {
	if _, err := s.Get(ctx, tenantID, botID); err != nil {
		return err
	}
	return s.orchestrator.Start(ctx, botID)
}

// Stop takes a tenant's instance offline after a scope check.
func (s *BotService) Stop(ctx context.Context, tenantID, botID string) error {
	if _, err := s.Get(ctx, tenantID, botID); err != nil {
		return err
	}
	return s.orchestrator.Stop(ctx, botID)
}

// AuthArtifact returns the pending QR code or pairing code for an
// instance waiting to authenticate.
func (s *BotService) AuthArtifact(ctx context.Context, tenantID, botID string) (*model.BotInstance, error) {
	bot, err := s.Get(ctx, tenantID, botID)
	if err != nil {
		return nil, err
	}
	if bot.AuthArtifact == nil {
		return nil, apperrors.NotFound("Auth artifact")
	}
	return bot, nil
}
