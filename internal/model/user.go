package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// WarnTimestamps maps a restriction/permission rule key to the time the
// last full warning was sent to the user for that key. Stored as JSONB.
type WarnTimestamps map[string]time.Time

func (w WarnTimestamps) Value() (driver.Value, error) {
	if w == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(w)
}

func (w *WarnTimestamps) Scan(src any) error {
	if src == nil {
		*w = WarnTimestamps{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into WarnTimestamps", src)
	}
	return json.Unmarshal(data, w)
}

type BotUser struct {
	ID            string         `db:"id" json:"id"`
	BotInstanceID string         `db:"bot_instance_id" json:"botInstanceId"`
	JID           string         `db:"jid" json:"jid"`
	Name          *string        `db:"name" json:"name,omitempty"`
	Phone         *string        `db:"phone" json:"phone,omitempty"`
	Role          UserRole       `db:"role" json:"role"`
	XP            int            `db:"xp" json:"xp"`
	Level         int            `db:"level" json:"level"`
	Coin          int            `db:"coin" json:"coin"`
	Premium       bool           `db:"premium" json:"premium"`
	Banned        bool           `db:"banned" json:"banned"`
	AutoLevelUp   bool           `db:"auto_level_up" json:"autoLevelUp"`
	LastSentMsg   WarnTimestamps `db:"last_sent_msg" json:"-"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updatedAt"`
}

type CreateBotUserParams struct {
	BotInstanceID string
	JID           string
	Name          *string
	Phone         *string
	Role          UserRole
}
