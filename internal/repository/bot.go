package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/whatsdx/bot-platform-go/internal/model"
)

type BotInstanceRepository interface {
	FindByID(ctx context.Context, id string) (*model.BotInstance, error)
	FindByTenantID(ctx context.Context, tenantID string) ([]model.BotInstance, error)
	FindPageByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]model.BotInstance, error)
	CountByTenantID(ctx context.Context, tenantID string) (int, error)
	Create(ctx context.Context, params model.CreateBotInstanceParams) (*model.BotInstance, error)
	CreateUnderQuota(ctx context.Context, params model.CreateBotInstanceParams, maxBots int) (*model.BotInstance, bool, error)
	UpdateStatus(ctx context.Context, id string, params model.UpdateBotStatusParams) error
	SetAuthArtifact(ctx context.Context, id, artifact string, kind model.AuthArtifactKind) error
	ClearAuthArtifact(ctx context.Context, id string) error
	SetIdentity(ctx context.Context, id, phoneNumber string) error
	SetSessionCreds(ctx context.Context, id string, creds *string) error
	TouchActivity(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	ClearStaleArtifacts(ctx context.Context, olderThan time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) BotInstanceRepository
}

type botInstanceRepo struct {
	db sqlxDB
	// sdb opens transactions; nil inside WithTx
	sdb *sqlx.DB
}

func NewBotInstanceRepository(db *sqlx.DB) BotInstanceRepository {
	return &botInstanceRepo{db: db, sdb: db}
}

func (r *botInstanceRepo) WithTx(tx *sqlx.Tx) BotInstanceRepository {
	return &botInstanceRepo{db: tx}
}

func (r *botInstanceRepo) FindByID(ctx context.Context, id string) (*model.BotInstance, error) {
	var bot model.BotInstance
	err := r.db.GetContext(ctx, &bot, `
		SELECT * FROM bot_instances WHERE id = $1
	`, id)
	return HandleNotFound(&bot, err)
}

func (r *botInstanceRepo) FindByTenantID(ctx context.Context, tenantID string) ([]model.BotInstance, error) {
	var bots []model.BotInstance
	err := r.db.SelectContext(ctx, &bots, `
		SELECT * FROM bot_instances
		WHERE tenant_id = $1
		ORDER BY created_at ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	return bots, nil
}

func (r *botInstanceRepo) FindPageByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]model.BotInstance, error) {
	var bots []model.BotInstance
	err := r.db.SelectContext(ctx, &bots, `
		SELECT * FROM bot_instances
		WHERE tenant_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	return bots, nil
}

func (r *botInstanceRepo) CountByTenantID(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM bot_instances WHERE tenant_id = $1
	`, tenantID)
	return count, err
}

func (r *botInstanceRepo) Create(ctx context.Context, params model.CreateBotInstanceParams) (*model.BotInstance, error) {
	var bot model.BotInstance
	err := r.db.GetContext(ctx, &bot, `
		INSERT INTO bot_instances (id, tenant_id, name, status)
		VALUES ($1, $2, $3, 'stopped')
		RETURNING *
	`, uuid.NewString(), params.TenantID, params.Name)
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

// CreateUnderQuota inserts a bot instance only while the tenant's stored
// count is below maxBots. The count and the insert run in one transaction
// behind a per-tenant advisory lock, so concurrent creates for the same
// tenant serialize and each one counts the rows committed before it.
// ok is false when the quota is full.
func (r *botInstanceRepo) CreateUnderQuota(ctx context.Context, params model.CreateBotInstanceParams, maxBots int) (*model.BotInstance, bool, error) {
	if r.sdb == nil {
		return createUnderQuota(ctx, r.db, params, maxBots)
	}

	tx, err := r.sdb.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	bot, ok, err := createUnderQuota(ctx, tx, params, maxBots)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return bot, ok, nil
}

func createUnderQuota(ctx context.Context, db sqlxDB, params model.CreateBotInstanceParams, maxBots int) (*model.BotInstance, bool, error) {
	// lock first, count second: the count must run in a statement after
	// the lock is held so it sees rows committed by the transaction that
	// released it
	if _, err := db.ExecContext(ctx, `
		SELECT pg_advisory_xact_lock(hashtextextended($1, 0))
	`, params.TenantID); err != nil {
		return nil, false, err
	}

	if maxBots != model.QuotaUnlimited {
		var count int
		if err := db.GetContext(ctx, &count, `
			SELECT COUNT(*) FROM bot_instances WHERE tenant_id = $1
		`, params.TenantID); err != nil {
			return nil, false, err
		}
		if count >= maxBots {
			return nil, false, nil
		}
	}

	var bot model.BotInstance
	err := db.GetContext(ctx, &bot, `
		INSERT INTO bot_instances (id, tenant_id, name, status)
		VALUES ($1, $2, $3, 'stopped')
		RETURNING *
	`, uuid.NewString(), params.TenantID, params.Name)
	if err != nil {
		return nil, false, err
	}
	return &bot, true, nil
}

func (r *botInstanceRepo) UpdateStatus(ctx context.Context, id string, params model.UpdateBotStatusParams) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bot_instances SET status = $2, error_flag = $3, updated_at = $4
		WHERE id = $1
	`, id, params.Status, params.ErrorFlag, time.Now())
	return err
}

func (r *botInstanceRepo) SetAuthArtifact(ctx context.Context, id, artifact string, kind model.AuthArtifactKind) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bot_instances SET auth_artifact = $2, artifact_kind = $3, updated_at = $4
		WHERE id = $1
	`, id, artifact, kind, time.Now())
	return err
}

func (r *botInstanceRepo) ClearAuthArtifact(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bot_instances SET auth_artifact = NULL, artifact_kind = NULL, updated_at = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}

func (r *botInstanceRepo) SetIdentity(ctx context.Context, id, phoneNumber string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bot_instances SET phone_number = $2, updated_at = $3
		WHERE id = $1
	`, id, phoneNumber, time.Now())
	return err
}

func (r *botInstanceRepo) SetSessionCreds(ctx context.Context, id string, creds *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bot_instances SET session_creds = $2, updated_at = $3
		WHERE id = $1
	`, id, creds, time.Now())
	return err
}

func (r *botInstanceRepo) TouchActivity(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bot_instances SET last_activity = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}

func (r *botInstanceRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM bot_instances WHERE id = $1`, id)
	return err
}

// ClearStaleArtifacts drops QR/pairing artifacts for instances that have
// been waiting for authentication longer than the artifact TTL.
func (r *botInstanceRepo) ClearStaleArtifacts(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bot_instances
		SET auth_artifact = NULL, artifact_kind = NULL, updated_at = $2
		WHERE status = 'awaiting_auth' AND auth_artifact IS NOT NULL AND updated_at < $1
	`, olderThan, time.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
