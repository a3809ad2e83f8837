package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/whatsdx/bot-platform-go/internal/model"
)

type TenantRepository interface {
	FindByID(ctx context.Context, id string) (*model.Tenant, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Tenant, error)
	FindAll(ctx context.Context, limit, offset int) ([]model.Tenant, error)
	Create(ctx context.Context, params model.CreateTenantParams) (*model.Tenant, error)
	UpdateQuotas(ctx context.Context, id string, params model.UpdateQuotasParams) (*model.Tenant, error)
	UpdateToken(ctx context.Context, id, tokenHash string) (*model.Tenant, error)
	Suspend(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) TenantRepository
}

type tenantRepo struct {
	db sqlxDB
}

func NewTenantRepository(db *sqlx.DB) TenantRepository {
	return &tenantRepo{db: db}
}

func (r *tenantRepo) WithTx(tx *sqlx.Tx) TenantRepository {
	return &tenantRepo{db: tx}
}

func (r *tenantRepo) FindByID(ctx context.Context, id string) (*model.Tenant, error) {
	var tenant model.Tenant
	err := r.db.GetContext(ctx, &tenant, `
		SELECT * FROM tenants WHERE id = $1
	`, id)
	return HandleNotFound(&tenant, err)
}

func (r *tenantRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Tenant, error) {
	var tenant model.Tenant
	err := r.db.GetContext(ctx, &tenant, `
		SELECT * FROM tenants
		WHERE api_token_hash = $1 AND suspended_at IS NULL
	`, tokenHash)
	return HandleNotFound(&tenant, err)
}

func (r *tenantRepo) FindAll(ctx context.Context, limit, offset int) ([]model.Tenant, error) {
	var tenants []model.Tenant
	err := r.db.SelectContext(ctx, &tenants, `
		SELECT * FROM tenants
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return tenants, nil
}

func (r *tenantRepo) Create(ctx context.Context, params model.CreateTenantParams) (*model.Tenant, error) {
	var tenant model.Tenant
	err := r.db.GetContext(ctx, &tenant, `
		INSERT INTO tenants (id, name, plan, status, api_token_hash,
			max_bots, max_users, max_messages, max_api_calls, ai_requests)
		VALUES ($1, $2, $3, 'active', $4, $5, $6, $7, $8, $9)
		RETURNING *
	`, uuid.NewString(), params.Name, params.Plan, params.APITokenHash,
		params.MaxBots, params.MaxUsers, params.MaxMessages, params.MaxAPICalls, params.AIRequests)
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *tenantRepo) UpdateQuotas(ctx context.Context, id string, params model.UpdateQuotasParams) (*model.Tenant, error) {
	var tenant model.Tenant
	err := r.db.GetContext(ctx, &tenant, `
		UPDATE tenants SET
			plan = $2,
			max_bots = $3,
			max_users = $4,
			max_messages = $5,
			max_api_calls = $6,
			ai_requests = $7,
			updated_at = $8
		WHERE id = $1
		RETURNING *
	`, id, params.Plan, params.MaxBots, params.MaxUsers, params.MaxMessages,
		params.MaxAPICalls, params.AIRequests, time.Now())
	return HandleNotFound(&tenant, err)
}

func (r *tenantRepo) UpdateToken(ctx context.Context, id, tokenHash string) (*model.Tenant, error) {
	var tenant model.Tenant
	err := r.db.GetContext(ctx, &tenant, `
		UPDATE tenants SET
			api_token_hash = $2,
			updated_at = $3
		WHERE id = $1
		RETURNING *
	`, id, tokenHash, time.Now())
	return HandleNotFound(&tenant, err)
}

func (r *tenantRepo) Suspend(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tenants SET status = 'suspended', suspended_at = $2, updated_at = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}

func (r *tenantRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	return err
}

func (r *tenantRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM tenants`)
	return count, err
}
