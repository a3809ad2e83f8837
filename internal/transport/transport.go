// Package transport defines the boundary to the external chat network.
// The wire protocol itself lives behind these interfaces; the platform
// only consumes connect/send/receive and the authentication events.
package transport

import "context"

type EventType string

const (
	EventQRCode       EventType = "qr_code"
	EventPairingReady EventType = "pairing_ready"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventMessage      EventType = "message"
)

type DisconnectReason string

const (
	ReasonLoggedOut      DisconnectReason = "logged_out"
	ReasonConnectionLost DisconnectReason = "connection_lost"
	ReasonConflict       DisconnectReason = "conflict"
	ReasonRestartNeeded  DisconnectReason = "restart_needed"
)

// Identity is the external account a session authenticated as.
type Identity struct {
	JID         string
	PhoneNumber string
	Name        string
}

// Envelope is one inbound message as delivered by the network.
type Envelope struct {
	MessageID string
	ChatJID   string
	SenderJID string
	PushName  string
	Text      string
	IsGroup   bool
	FromMe    bool
}

// Event is a single transport-level occurrence on a session. Exactly one
// payload field is set, matching Type.
type Event struct {
	Type        EventType
	QRCode      string
	PairingCode string
	Identity    *Identity
	Reason      DisconnectReason
	Message     *Envelope
}

// Payload is an outbound reply.
type Payload struct {
	Text     string
	Footer   string
	Buttons  []Button
	Reaction string
}

type Button struct {
	ID    string
	Label string
}

// Session is one live connection to the chat network.
type Session interface {
	// Events delivers transport events in order for this session. The
	// channel is closed when the session ends.
	Events() <-chan Event
	Send(ctx context.Context, target string, payload Payload) error
	// Credentials returns the opaque session-credential blob to persist
	// so the session can be restored without re-authentication.
	Credentials() (string, error)
	// Logout requests a graceful logout. Best effort; callers bound it
	// with a context deadline.
	Logout(ctx context.Context) error
	Close() error
}

// Dialer opens sessions. creds is the previously persisted credential
// blob, or empty for a fresh authentication.
type Dialer interface {
	Dial(ctx context.Context, creds string) (Session, error)
}

// GroupInfo answers membership questions the gating pipeline needs. The
// chat network is authoritative for admin lists, so this is served by
// the transport, not the database.
type GroupInfo interface {
	IsAdmin(ctx context.Context, groupJID, memberJID string) (bool, error)
	IsBotAdmin(ctx context.Context, groupJID string) (bool, error)
	IsMember(ctx context.Context, groupJID, memberJID string) (bool, error)
}
