package model

type PlanTier string

const (
	PlanFree     PlanTier = "free"
	PlanPro      PlanTier = "pro"
	PlanBusiness PlanTier = "business"
)

type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

// BotStatus is the connection state of a bot instance. Transitions are
// owned exclusively by the connection orchestrator.
type BotStatus string

const (
	BotStatusStopped      BotStatus = "stopped"
	BotStatusStarting     BotStatus = "starting"
	BotStatusAwaitingAuth BotStatus = "awaiting_auth"
	BotStatusConnected    BotStatus = "connected"
	BotStatusReconnecting BotStatus = "reconnecting"
	BotStatusLoggedOut    BotStatus = "logged_out"
)

// Terminal reports whether the status accepts no further transport events.
func (s BotStatus) Terminal() bool {
	return s == BotStatusStopped || s == BotStatusLoggedOut
}

type AuthArtifactKind string

const (
	AuthArtifactQR          AuthArtifactKind = "qr"
	AuthArtifactPairingCode AuthArtifactKind = "pairing_code"
)

type UserRole string

const (
	UserRoleOwner  UserRole = "owner"
	UserRoleMember UserRole = "member"
)
