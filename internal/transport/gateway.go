package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	gatewayDialTimeout  = 15 * time.Second
	gatewayWriteTimeout = 10 * time.Second
	groupQueryTimeout   = 10 * time.Second
	eventBufferSize     = 64
)

// gatewayFrame is the JSON wire frame exchanged with the chat gateway.
// Op selects which fields are meaningful.
type gatewayFrame struct {
	Op       string     `json:"op"`
	ID       string     `json:"id,omitempty"`
	Creds    string     `json:"creds,omitempty"`
	Data     string     `json:"data,omitempty"`
	Reason   string     `json:"reason,omitempty"`
	Target   string     `json:"target,omitempty"`
	Identity *Identity  `json:"identity,omitempty"`
	Message  *Envelope  `json:"message,omitempty"`
	Payload  *Payload   `json:"payload,omitempty"`
	Query    *groupQry  `json:"query,omitempty"`
	Result   *bool      `json:"result,omitempty"`
}

type groupQry struct {
	Kind      string `json:"kind"`
	GroupJID  string `json:"groupJid"`
	MemberJID string `json:"memberJid,omitempty"`
}

// GatewayDialer opens sessions against a chat gateway over websocket.
// The gateway terminates the actual chat-network protocol; this side
// only speaks the frame protocol above.
type GatewayDialer struct {
	url string
}

func NewGatewayDialer(url string) *GatewayDialer {
	return &GatewayDialer{url: url}
}

func (d *GatewayDialer) Dial(ctx context.Context, creds string) (Session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: gatewayDialTimeout}
	conn, _, err := dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	s := &gatewaySession{
		conn:    conn,
		events:  make(chan Event, eventBufferSize),
		pending: make(map[string]chan bool),
	}

	if err := s.write(gatewayFrame{Op: "auth", Creds: creds}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send auth frame: %w", err)
	}

	go s.readLoop()
	return s, nil
}

// gatewaySession is one websocket connection to the gateway. It
// implements Session and GroupInfo.
type gatewaySession struct {
	conn   *websocket.Conn
	events chan Event

	writeMu sync.Mutex

	mu      sync.Mutex
	creds   string
	pending map[string]chan bool
	closed  bool
}

func (s *gatewaySession) Events() <-chan Event {
	return s.events
}

func (s *gatewaySession) Send(ctx context.Context, target string, payload Payload) error {
	return s.write(gatewayFrame{Op: "send", Target: target, Payload: &payload})
}

func (s *gatewaySession) Credentials() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, nil
}

func (s *gatewaySession) Logout(ctx context.Context) error {
	return s.write(gatewayFrame{Op: "logout"})
}

func (s *gatewaySession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	return s.conn.Close()
}

func (s *gatewaySession) IsAdmin(ctx context.Context, groupJID, memberJID string) (bool, error) {
	return s.groupQuery(ctx, &groupQry{Kind: "is_admin", GroupJID: groupJID, MemberJID: memberJID})
}

func (s *gatewaySession) IsBotAdmin(ctx context.Context, groupJID string) (bool, error) {
	return s.groupQuery(ctx, &groupQry{Kind: "is_bot_admin", GroupJID: groupJID})
}

func (s *gatewaySession) IsMember(ctx context.Context, groupJID, memberJID string) (bool, error) {
	return s.groupQuery(ctx, &groupQry{Kind: "is_member", GroupJID: groupJID, MemberJID: memberJID})
}

// groupQuery sends one query frame and waits for the correlated result.
func (s *gatewaySession) groupQuery(ctx context.Context, q *groupQry) (bool, error) {
	id := uuid.NewString()
	ch := make(chan bool, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, fmt.Errorf("session closed")
	}
	s.pending[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.write(gatewayFrame{Op: "group_query", ID: id, Query: q}); err != nil {
		return false, err
	}

	timer := time.NewTimer(groupQueryTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return false, fmt.Errorf("group query timed out")
	case result, ok := <-ch:
		if !ok {
			return false, fmt.Errorf("session closed")
		}
		return result, nil
	}
}

func (s *gatewaySession) write(frame gatewayFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(gatewayWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop translates gateway frames into transport events. It owns the
// events channel and closes it when the connection ends.
func (s *gatewaySession) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.events <- Event{Type: EventDisconnected, Reason: ReasonConnectionLost}
			}
			return
		}

		var frame gatewayFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Msg("malformed gateway frame, skipping")
			continue
		}

		switch frame.Op {
		case "qr":
			s.events <- Event{Type: EventQRCode, QRCode: frame.Data}
		case "pairing":
			s.events <- Event{Type: EventPairingReady, PairingCode: frame.Data}
		case "connected":
			s.events <- Event{Type: EventConnected, Identity: frame.Identity}
		case "disconnected":
			s.events <- Event{Type: EventDisconnected, Reason: DisconnectReason(frame.Reason)}
			return
		case "message":
			s.events <- Event{Type: EventMessage, Message: frame.Message}
		case "creds":
			s.mu.Lock()
			s.creds = frame.Data
			s.mu.Unlock()
		case "group_result":
			s.mu.Lock()
			ch := s.pending[frame.ID]
			s.mu.Unlock()
			if ch != nil && frame.Result != nil {
				ch <- *frame.Result
			}
		default:
			log.Debug().Str("op", frame.Op).Msg("unknown gateway frame op")
		}
	}
}
