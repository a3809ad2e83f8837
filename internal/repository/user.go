package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/whatsdx/bot-platform-go/internal/model"
)

type BotUserRepository interface {
	FindByID(ctx context.Context, id string) (*model.BotUser, error)
	FindByJID(ctx context.Context, botInstanceID, jid string) (*model.BotUser, error)
	Create(ctx context.Context, params model.CreateBotUserParams) (*model.BotUser, error)
	// UpsertOwner records the connecting account as the instance owner.
	// An existing owner row wins; the role is never downgraded.
	UpsertOwner(ctx context.Context, botInstanceID, jid string, name *string, phone *string) (*model.BotUser, error)
	UpdateEngagement(ctx context.Context, id string, xp, level int) error
	RecordWarning(ctx context.Context, id string, warnings model.WarnTimestamps) error
	// DeductCoin atomically subtracts amount if the balance covers it.
	// Returns the remaining balance and false when funds are insufficient.
	DeductCoin(ctx context.Context, id string, amount int) (int, bool, error)
	AddCoin(ctx context.Context, id string, amount int) error
	SetBanned(ctx context.Context, id string, banned bool) error
	SetPremium(ctx context.Context, id string, premium bool) error
	CountByTenantID(ctx context.Context, tenantID string) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) BotUserRepository
}

type botUserRepo struct {
	db sqlxDB
}

func NewBotUserRepository(db *sqlx.DB) BotUserRepository {
	return &botUserRepo{db: db}
}

func (r *botUserRepo) WithTx(tx *sqlx.Tx) BotUserRepository {
	return &botUserRepo{db: tx}
}

func (r *botUserRepo) FindByID(ctx context.Context, id string) (*model.BotUser, error) {
	var user model.BotUser
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM bot_users WHERE id = $1
	`, id)
	return HandleNotFound(&user, err)
}

func (r *botUserRepo) FindByJID(ctx context.Context, botInstanceID, jid string) (*model.BotUser, error) {
	var user model.BotUser
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM bot_users
		WHERE bot_instance_id = $1 AND jid = $2
	`, botInstanceID, jid)
	return HandleNotFound(&user, err)
}

func (r *botUserRepo) Create(ctx context.Context, params model.CreateBotUserParams) (*model.BotUser, error) {
	var user model.BotUser
	err := r.db.GetContext(ctx, &user, `
		INSERT INTO bot_users (id, bot_instance_id, jid, name, phone, role, last_sent_msg)
		VALUES ($1, $2, $3, $4, $5, $6, '{}'::jsonb)
		RETURNING *
	`, uuid.NewString(), params.BotInstanceID, params.JID, params.Name, params.Phone, params.Role)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *botUserRepo) UpsertOwner(ctx context.Context, botInstanceID, jid string, name *string, phone *string) (*model.BotUser, error) {
	var user model.BotUser
	err := r.db.GetContext(ctx, &user, `
		INSERT INTO bot_users (id, bot_instance_id, jid, name, phone, role, last_sent_msg)
		VALUES ($1, $2, $3, $4, $5, 'owner', '{}'::jsonb)
		ON CONFLICT (bot_instance_id, jid) DO UPDATE SET
			name = COALESCE(EXCLUDED.name, bot_users.name),
			phone = COALESCE(EXCLUDED.phone, bot_users.phone),
			role = 'owner',
			updated_at = NOW()
		RETURNING *
	`, uuid.NewString(), botInstanceID, jid, name, phone)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *botUserRepo) UpdateEngagement(ctx context.Context, id string, xp, level int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bot_users SET xp = $2, level = $3, updated_at = $4
		WHERE id = $1
	`, id, xp, level, time.Now())
	return err
}

func (r *botUserRepo) RecordWarning(ctx context.Context, id string, warnings model.WarnTimestamps) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bot_users SET last_sent_msg = $2, updated_at = $3
		WHERE id = $1
	`, id, warnings, time.Now())
	return err
}

func (r *botUserRepo) DeductCoin(ctx context.Context, id string, amount int) (int, bool, error) {
	// Conditional update keeps the read-check-deduct serialized in the
	// database; concurrent spenders can never drive the balance negative.
	var remaining int
	err := r.db.GetContext(ctx, &remaining, `
		UPDATE bot_users SET coin = coin - $2, updated_at = $3
		WHERE id = $1 AND coin >= $2
		RETURNING coin
	`, id, amount, time.Now())
	result, err := HandleNotFound(&remaining, err)
	if err != nil {
		return 0, false, err
	}
	if result == nil {
		return 0, false, nil
	}
	return *result, true, nil
}

func (r *botUserRepo) AddCoin(ctx context.Context, id string, amount int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bot_users SET coin = coin + $2, updated_at = $3
		WHERE id = $1
	`, id, amount, time.Now())
	return err
}

func (r *botUserRepo) SetBanned(ctx context.Context, id string, banned bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bot_users SET banned = $2, updated_at = $3
		WHERE id = $1
	`, id, banned, time.Now())
	return err
}

func (r *botUserRepo) SetPremium(ctx context.Context, id string, premium bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bot_users SET premium = $2, updated_at = $3
		WHERE id = $1
	`, id, premium, time.Now())
	return err
}

func (r *botUserRepo) CountByTenantID(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM bot_users u
		JOIN bot_instances b ON b.id = u.bot_instance_id
		WHERE b.tenant_id = $1
	`, tenantID)
	return count, err
}
