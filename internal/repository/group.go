package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/whatsdx/bot-platform-go/internal/model"
)

type GroupRepository interface {
	FindByID(ctx context.Context, id string) (*model.Group, error)
	FindByJID(ctx context.Context, botInstanceID, jid string) (*model.Group, error)
	Create(ctx context.Context, params model.CreateGroupParams) (*model.Group, error)
	UpdateOptions(ctx context.Context, id string, options model.GroupOptions) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) GroupRepository
}

type groupRepo struct {
	db sqlxDB
}

func NewGroupRepository(db *sqlx.DB) GroupRepository {
	return &groupRepo{db: db}
}

func (r *groupRepo) WithTx(tx *sqlx.Tx) GroupRepository {
	return &groupRepo{db: tx}
}

func (r *groupRepo) FindByID(ctx context.Context, id string) (*model.Group, error) {
	var group model.Group
	err := r.db.GetContext(ctx, &group, `
		SELECT * FROM groups WHERE id = $1
	`, id)
	return HandleNotFound(&group, err)
}

func (r *groupRepo) FindByJID(ctx context.Context, botInstanceID, jid string) (*model.Group, error) {
	var group model.Group
	err := r.db.GetContext(ctx, &group, `
		SELECT * FROM groups
		WHERE bot_instance_id = $1 AND jid = $2
	`, botInstanceID, jid)
	return HandleNotFound(&group, err)
}

func (r *groupRepo) Create(ctx context.Context, params model.CreateGroupParams) (*model.Group, error) {
	var group model.Group
	err := r.db.GetContext(ctx, &group, `
		INSERT INTO groups (id, bot_instance_id, jid, name, options)
		VALUES ($1, $2, $3, $4, '{}'::jsonb)
		ON CONFLICT (bot_instance_id, jid) DO UPDATE SET
			name = COALESCE(EXCLUDED.name, groups.name),
			updated_at = NOW()
		RETURNING *
	`, uuid.NewString(), params.BotInstanceID, params.JID, params.Name)
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *groupRepo) UpdateOptions(ctx context.Context, id string, options model.GroupOptions) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE groups SET options = $2, updated_at = $3
		WHERE id = $1
	`, id, options, time.Now())
	return err
}
