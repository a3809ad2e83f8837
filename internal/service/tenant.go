package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/whatsdx/bot-platform-go/internal/audit"
	apperrors "github.com/whatsdx/bot-platform-go/internal/errors"
	"github.com/whatsdx/bot-platform-go/internal/model"
	"github.com/whatsdx/bot-platform-go/internal/repository"
	"github.com/whatsdx/bot-platform-go/internal/util"
)

// PlanQuotas are the default quotas assigned on tenant creation and
// plan changes. QuotaUnlimited marks an uncapped resource.
type PlanQuotas struct {
	MaxBots     int
	MaxUsers    int
	MaxMessages int
	MaxAPICalls int
	AIRequests  int
}

var planQuotas = map[model.PlanTier]PlanQuotas{
	model.PlanFree: {
		MaxBots:     1,
		MaxUsers:    100,
		MaxMessages: 1000,
		MaxAPICalls: 10000,
		AIRequests:  100,
	},
	model.PlanPro: {
		MaxBots:     5,
		MaxUsers:    10000,
		MaxMessages: 100000,
		MaxAPICalls: 100000,
		AIRequests:  10000,
	},
	model.PlanBusiness: {
		MaxBots:     model.QuotaUnlimited,
		MaxUsers:    model.QuotaUnlimited,
		MaxMessages: model.QuotaUnlimited,
		MaxAPICalls: model.QuotaUnlimited,
		AIRequests:  model.QuotaUnlimited,
	},
}

// QuotasForPlan returns the default quota set for a plan tier.
func QuotasForPlan(plan model.PlanTier) (PlanQuotas, bool) {
	q, ok := planQuotas[plan]
	return q, ok
}

// CreateTenantResult carries the plaintext API token. It is shown once;
// only the hash is stored.
type CreateTenantResult struct {
	Tenant   *model.Tenant `json:"tenant"`
	APIToken string        `json:"apiToken"`
}

type TenantService struct {
	tenantRepo repository.TenantRepository
}

func NewTenantService(tenantRepo repository.TenantRepository) *TenantService {
	return &TenantService{tenantRepo: tenantRepo}
}

func (s *TenantService) Create(ctx context.Context, name string, plan model.PlanTier) (*CreateTenantResult, error) {
	if name == "" {
		return nil, apperrors.MissingRequired("name")
	}
	quotas, ok := planQuotas[plan]
	if !ok {
		return nil, apperrors.ValidationError("unknown plan tier")
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, apperrors.Internal("failed to generate API token")
	}

	tenant, err := s.tenantRepo.Create(ctx, model.CreateTenantParams{
		Name:         name,
		Plan:         plan,
		APITokenHash: util.HashToken(token),
		MaxBots:      quotas.MaxBots,
		MaxUsers:     quotas.MaxUsers,
		MaxMessages:  quotas.MaxMessages,
		MaxAPICalls:  quotas.MaxAPICalls,
		AIRequests:   quotas.AIRequests,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{Type: audit.EventTenantCreate, TenantID: tenant.ID, Details: map[string]any{"plan": plan}})
	log.Info().Str("tenantId", tenant.ID).Str("plan", string(plan)).Msg("tenant created")

	return &CreateTenantResult{Tenant: tenant, APIToken: token}, nil
}

func (s *TenantService) Get(ctx context.Context, id string) (*model.Tenant, error) {
	tenant, err := s.tenantRepo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if tenant == nil {
		return nil, apperrors.NotFound("Tenant")
	}
	return tenant, nil
}

// ChangePlan replaces the tenant's quotas wholesale with the new tier's
// defaults. Over-quota resources are not reclaimed; future admission
// checks simply fail until usage drops below the new limits.
func (s *TenantService) ChangePlan(ctx context.Context, id string, plan model.PlanTier) (*model.Tenant, error) {
	quotas, ok := planQuotas[plan]
	if !ok {
		return nil, apperrors.ValidationError("unknown plan tier")
	}

	tenant, err := s.tenantRepo.UpdateQuotas(ctx, id, model.UpdateQuotasParams{
		Plan:        plan,
		MaxBots:     quotas.MaxBots,
		MaxUsers:    quotas.MaxUsers,
		MaxMessages: quotas.MaxMessages,
		MaxAPICalls: quotas.MaxAPICalls,
		AIRequests:  quotas.AIRequests,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if tenant == nil {
		return nil, apperrors.NotFound("Tenant")
	}

	log.Info().Str("tenantId", id).Str("plan", string(plan)).Msg("tenant plan changed")
	return tenant, nil
}

// RegenerateToken rotates the API token. The old token stops working
// immediately.
func (s *TenantService) RegenerateToken(ctx context.Context, id string) (*CreateTenantResult, error) {
	token, err := util.GenerateToken()
	if err != nil {
		return nil, apperrors.Internal("failed to generate API token")
	}

	tenant, err := s.tenantRepo.UpdateToken(ctx, id, util.HashToken(token))
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if tenant == nil {
		return nil, apperrors.NotFound("Tenant")
	}

	audit.Log(ctx, audit.Event{Type: audit.EventTokenRegenerate, TenantID: id})
	return &CreateTenantResult{Tenant: tenant, APIToken: token}, nil
}

func (s *TenantService) Suspend(ctx context.Context, id string) error {
	if err := s.tenantRepo.Suspend(ctx, id); err != nil {
		return apperrors.Database(err)
	}
	audit.Log(ctx, audit.Event{Type: audit.EventTenantSuspend, TenantID: id})
	log.Warn().Str("tenantId", id).Msg("tenant suspended")
	return nil
}

func (s *TenantService) List(ctx context.Context, limit, offset int) ([]model.Tenant, error) {
	tenants, err := s.tenantRepo.FindAll(ctx, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return tenants, nil
}
