package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// GroupOptions are per-group feature flags. Stored as JSONB.
type GroupOptions struct {
	// GameRestrict limits game-category commands to group admins.
	GameRestrict bool `json:"gameRestrict"`
	// Rental marks the group's bot subscription as active.
	Rental bool `json:"rental"`
	// Welcome enables join greetings.
	Welcome bool `json:"welcome"`
}

func (o GroupOptions) Value() (driver.Value, error) {
	return json.Marshal(o)
}

func (o *GroupOptions) Scan(src any) error {
	if src == nil {
		*o = GroupOptions{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into GroupOptions", src)
	}
	return json.Unmarshal(data, o)
}

type Group struct {
	ID            string       `db:"id" json:"id"`
	BotInstanceID string       `db:"bot_instance_id" json:"botInstanceId"`
	JID           string       `db:"jid" json:"jid"`
	Name          *string      `db:"name" json:"name,omitempty"`
	Options       GroupOptions `db:"options" json:"options"`
	CreatedAt     time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updatedAt"`
}

type CreateGroupParams struct {
	BotInstanceID string
	JID           string
	Name          *string
}
