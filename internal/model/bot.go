package model

import (
	"time"
)

type BotInstance struct {
	ID           string            `db:"id" json:"id"`
	TenantID     string            `db:"tenant_id" json:"tenantId"`
	Name         string            `db:"name" json:"name"`
	Status       BotStatus         `db:"status" json:"status"`
	ErrorFlag    bool              `db:"error_flag" json:"errorFlag"`
	PhoneNumber  *string           `db:"phone_number" json:"phoneNumber,omitempty"`
	AuthArtifact *string           `db:"auth_artifact" json:"-"`
	ArtifactKind *AuthArtifactKind `db:"artifact_kind" json:"artifactKind,omitempty"`
	// SessionCreds is the transport's opaque credential blob, encrypted
	// at rest when an encryption key is configured.
	SessionCreds *string    `db:"session_creds" json:"-"`
	LastActivity *time.Time `db:"last_activity" json:"lastActivity,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
}

type CreateBotInstanceParams struct {
	TenantID string
	Name     string
}

type UpdateBotStatusParams struct {
	Status    BotStatus
	ErrorFlag bool
}
