package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/whatsdx/bot-platform-go/internal/audit"
	apperrors "github.com/whatsdx/bot-platform-go/internal/errors"
	"github.com/whatsdx/bot-platform-go/internal/model"
	redisclient "github.com/whatsdx/bot-platform-go/internal/redis"
	"github.com/whatsdx/bot-platform-go/internal/repository"
)

// usage counters live for two billing periods so a period that just
// rolled over stays inspectable
const usageCounterTTL = 62 * 24 * time.Hour

// LimitResult is the answer to "may this operation proceed".
type LimitResult struct {
	Allowed  bool           `json:"allowed"`
	Limit    int            `json:"limit"`
	Current  int            `json:"currentUsage"`
	Resource model.Resource `json:"resource"`
}

// PlanService is the admission-control gate for plan quotas and coin
// balances. It is advisory-then-blocking: callers must not perform the
// resource-consuming action when Allowed is false.
type PlanService struct {
	tenantRepo repository.TenantRepository
	botRepo    repository.BotInstanceRepository
	userRepo   repository.BotUserRepository
	redis      *redisclient.Client
	now        func() time.Time
}

func NewPlanService(
	tenantRepo repository.TenantRepository,
	botRepo repository.BotInstanceRepository,
	userRepo repository.BotUserRepository,
	redis *redisclient.Client,
) *PlanService {
	return &PlanService{
		tenantRepo: tenantRepo,
		botRepo:    botRepo,
		userRepo:   userRepo,
		redis:      redis,
		now:        time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (s *PlanService) SetClock(now func() time.Time) {
	s.now = now
}

// CheckLimit evaluates a tenant's quota for one resource class against
// live usage. A quota of model.QuotaUnlimited always allows.
func (s *PlanService) CheckLimit(ctx context.Context, tenantID string, resource model.Resource) (*LimitResult, error) {
	tenant, err := s.tenantRepo.FindByID(ctx, tenantID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if tenant == nil {
		return nil, apperrors.NotFound("Tenant")
	}
	if tenant.Status == model.TenantStatusSuspended {
		return nil, apperrors.TenantSuspended()
	}
	return s.checkTenantLimit(ctx, tenant, resource)
}

// CheckTenantLimit is CheckLimit for callers that already hold the tenant.
func (s *PlanService) CheckTenantLimit(ctx context.Context, tenant *model.Tenant, resource model.Resource) (*LimitResult, error) {
	if tenant.Status == model.TenantStatusSuspended {
		return nil, apperrors.TenantSuspended()
	}
	return s.checkTenantLimit(ctx, tenant, resource)
}

func (s *PlanService) checkTenantLimit(ctx context.Context, tenant *model.Tenant, resource model.Resource) (*LimitResult, error) {
	limit := tenant.Quota(resource)
	current, err := s.currentUsage(ctx, tenant.ID, resource)
	if err != nil {
		return nil, err
	}

	result := &LimitResult{
		Limit:    limit,
		Current:  current,
		Resource: resource,
	}
	if limit == model.QuotaUnlimited {
		result.Allowed = true
		return result, nil
	}
	result.Allowed = current < limit

	if !result.Allowed {
		audit.Log(ctx, audit.Event{
			Type:     audit.EventQuotaDenied,
			TenantID: tenant.ID,
			Details:  map[string]any{"resource": string(resource), "limit": limit, "current": current},
		})
	}
	return result, nil
}

func (s *PlanService) currentUsage(ctx context.Context, tenantID string, resource model.Resource) (int, error) {
	switch resource {
	case model.ResourceMaxBots:
		count, err := s.botRepo.CountByTenantID(ctx, tenantID)
		if err != nil {
			return 0, apperrors.Database(err)
		}
		return count, nil
	case model.ResourceMaxUsers:
		count, err := s.userRepo.CountByTenantID(ctx, tenantID)
		if err != nil {
			return 0, apperrors.Database(err)
		}
		return count, nil
	default:
		return s.counterValue(ctx, tenantID, resource), nil
	}
}

// IncrementUsage records one chargeable event against the tenant's
// current billing period. Callers invoke it after the admission check
// passed and the action is being performed.
func (s *PlanService) IncrementUsage(ctx context.Context, tenantID string, resource model.Resource) {
	if s.redis == nil {
		return
	}
	key := redisclient.UsageKey(tenantID, string(resource), s.period())
	pipe := s.redis.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, usageCounterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("tenantId", tenantID).Str("resource", string(resource)).
			Msg("failed to increment usage counter")
	}
}

func (s *PlanService) counterValue(ctx context.Context, tenantID string, resource model.Resource) int {
	if s.redis == nil {
		return 0
	}
	key := redisclient.UsageKey(tenantID, string(resource), s.period())
	value, err := s.redis.Get(ctx, key).Int()
	if err != nil {
		// missing key or redis outage both read as zero usage; admission
		// fails open rather than blocking every tenant
		return 0
	}
	return value
}

func (s *PlanService) period() string {
	return s.now().UTC().Format("2006-01")
}

// CheckCoin gates paid command execution. Owners and premium users
// bypass the charge entirely. For everyone else the cost is deducted
// atomically; insufficient funds block the operation with no deduction.
func (s *PlanService) CheckCoin(ctx context.Context, user *model.BotUser, required int, isOwner bool) error {
	if required <= 0 || isOwner || user.Premium {
		return nil
	}

	remaining, ok, err := s.userRepo.DeductCoin(ctx, user.ID, required)
	if err != nil {
		return apperrors.Database(err)
	}
	if !ok {
		audit.Log(ctx, audit.Event{
			Type:   audit.EventCoinDenied,
			UserID: user.ID,
			Details: map[string]any{"required": required, "balance": user.Coin},
		})
		return apperrors.InsufficientCoin(required)
	}

	user.Coin = remaining
	return nil
}
