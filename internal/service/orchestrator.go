package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/whatsdx/bot-platform-go/internal/audit"
	apperrors "github.com/whatsdx/bot-platform-go/internal/errors"
	"github.com/whatsdx/bot-platform-go/internal/model"
	"github.com/whatsdx/bot-platform-go/internal/repository"
	"github.com/whatsdx/bot-platform-go/internal/sse"
	"github.com/whatsdx/bot-platform-go/internal/transport"
	"github.com/whatsdx/bot-platform-go/internal/util"
)

const logoutTimeout = 5 * time.Second

// EventPublisher fans bot lifecycle events out to tenant subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, tenantID string, event sse.Event) error
}

// InboundSink receives admitted inbound message envelopes.
type InboundSink interface {
	ProcessInbound(ctx context.Context, botID string, env *transport.Envelope)
}

// botHandle is the live-handle table entry for one bot instance. At most
// one exists per instance id; the orchestrator mutex serializes start and
// stop for the same id, and the per-handle event loop serializes state
// transitions driven by transport events.
type botHandle struct {
	botID     string
	tenantID  string
	session   transport.Session
	cancel    context.CancelFunc
	reconnect *time.Timer
	starting  bool
}

type OrchestratorConfig struct {
	ReconnectDelay time.Duration
	EncryptionKey  string
}

// Orchestrator owns the connection state machine for every bot instance
// across all tenants.
type Orchestrator struct {
	dialer   transport.Dialer
	botRepo  repository.BotInstanceRepository
	userRepo repository.BotUserRepository
	broker   EventPublisher
	cfg      OrchestratorConfig

	sink InboundSink

	mu      sync.Mutex
	handles map[string]*botHandle
}

func NewOrchestrator(
	dialer transport.Dialer,
	botRepo repository.BotInstanceRepository,
	userRepo repository.BotUserRepository,
	broker EventPublisher,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Orchestrator{
		dialer:   dialer,
		botRepo:  botRepo,
		userRepo: userRepo,
		broker:   broker,
		cfg:      cfg,
		handles:  make(map[string]*botHandle),
	}
}

// SetInboundSink wires the message gating pipeline. Must be called before
// any bot is started.
func (o *Orchestrator) SetInboundSink(sink InboundSink) {
	o.sink = sink
}

// IsLive reports whether a live transport session exists for the instance.
func (o *Orchestrator) IsLive(botID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.handles[botID]
	return ok && (h.session != nil || h.starting)
}

// Start opens a transport session for the bot instance. Calling Start on
// an already-live instance is an idempotent no-op.
func (o *Orchestrator) Start(ctx context.Context, botID string) error {
	bot, err := o.botRepo.FindByID(ctx, botID)
	if err != nil {
		return apperrors.Database(err)
	}
	if bot == nil {
		return apperrors.NotFound("Bot instance")
	}
	if bot.Status == model.BotStatusLoggedOut && bot.SessionCreds != nil {
		// stale creds from before the logout; never reuse them
		_ = o.botRepo.SetSessionCreds(ctx, botID, nil)
		bot.SessionCreds = nil
	}

	o.mu.Lock()
	h := o.handles[botID]
	if h != nil && (h.session != nil || h.starting) {
		o.mu.Unlock()
		log.Info().Str("botId", botID).Msg("bot already running, start is a no-op")
		return nil
	}
	if h == nil {
		h = &botHandle{botID: botID, tenantID: bot.TenantID}
		o.handles[botID] = h
	}
	if h.reconnect != nil {
		h.reconnect.Stop()
		h.reconnect = nil
	}
	h.starting = true
	o.mu.Unlock()

	if err := o.transition(ctx, h, model.BotStatusStarting, false); err != nil {
		log.Error().Err(err).Str("botId", botID).Msg("failed to persist starting status")
	}

	creds, err := o.loadCredentials(bot)
	if err != nil {
		log.Warn().Err(err).Str("botId", botID).Msg("failed to load session credentials, authenticating from scratch")
		creds = ""
	}

	session, err := o.dialer.Dial(ctx, creds)
	if err != nil {
		o.mu.Lock()
		h.starting = false
		if h.session == nil && h.reconnect == nil {
			delete(o.handles, botID)
		}
		o.mu.Unlock()
		_ = o.botRepo.UpdateStatus(ctx, botID, model.UpdateBotStatusParams{
			Status: model.BotStatusStopped, ErrorFlag: true,
		})
		return apperrors.Transport("failed to open transport session", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	h.session = session
	h.cancel = cancel
	h.starting = false
	o.mu.Unlock()

	go o.eventLoop(loopCtx, h, session)

	audit.Log(ctx, audit.Event{Type: audit.EventBotStart, TenantID: bot.TenantID, BotID: botID})
	log.Info().Str("botId", botID).Str("tenantId", bot.TenantID).Msg("bot started")
	return nil
}

// Stop cancels any pending reconnect, requests a graceful logout and
// removes the live handle. The instance ends in the stopped state.
func (o *Orchestrator) Stop(ctx context.Context, botID string) error {
	o.mu.Lock()
	h := o.handles[botID]
	var session transport.Session
	if h != nil {
		if h.reconnect != nil {
			h.reconnect.Stop()
			h.reconnect = nil
		}
		if h.cancel != nil {
			h.cancel()
		}
		session = h.session
		h.session = nil
		delete(o.handles, botID)
	}
	tenantID := ""
	if h != nil {
		tenantID = h.tenantID
	}
	o.mu.Unlock()

	if session != nil {
		logoutCtx, cancel := context.WithTimeout(ctx, logoutTimeout)
		if err := session.Logout(logoutCtx); err != nil {
			log.Warn().Err(err).Str("botId", botID).Msg("graceful logout failed")
		}
		cancel()
		_ = session.Close()
	}

	if err := o.botRepo.UpdateStatus(ctx, botID, model.UpdateBotStatusParams{
		Status: model.BotStatusStopped,
	}); err != nil {
		return apperrors.Database(err)
	}
	o.publishStatus(ctx, tenantID, botID, model.BotStatusStopped)

	audit.Log(ctx, audit.Event{Type: audit.EventBotStop, TenantID: tenantID, BotID: botID})
	log.Info().Str("botId", botID).Msg("bot stopped")
	return nil
}

// StartAll starts every instance of a tenant sequentially. An instance
// that fails to start is logged and skipped; it never aborts the batch.
func (o *Orchestrator) StartAll(ctx context.Context, tenantID string) {
	bots, err := o.botRepo.FindByTenantID(ctx, tenantID)
	if err != nil {
		log.Error().Err(err).Str("tenantId", tenantID).Msg("failed to list bots for start-all")
		return
	}
	for _, bot := range bots {
		if bot.Status == model.BotStatusLoggedOut {
			continue
		}
		if err := o.Start(ctx, bot.ID); err != nil {
			log.Error().Err(err).Str("botId", bot.ID).Str("tenantId", tenantID).Msg("failed to start bot in batch, continuing")
		}
	}
}

// StopAll stops every instance of a tenant sequentially.
func (o *Orchestrator) StopAll(ctx context.Context, tenantID string) {
	bots, err := o.botRepo.FindByTenantID(ctx, tenantID)
	if err != nil {
		log.Error().Err(err).Str("tenantId", tenantID).Msg("failed to list bots for stop-all")
		return
	}
	for _, bot := range bots {
		if err := o.Stop(ctx, bot.ID); err != nil {
			log.Error().Err(err).Str("botId", bot.ID).Str("tenantId", tenantID).Msg("failed to stop bot in batch, continuing")
		}
	}
}

// Send delivers an outbound payload through the live session of a bot
// instance. It fails when the instance is not connected.
func (o *Orchestrator) Send(ctx context.Context, botID, target string, payload transport.Payload) error {
	o.mu.Lock()
	h := o.handles[botID]
	var session transport.Session
	if h != nil {
		session = h.session
	}
	o.mu.Unlock()

	if session == nil {
		return apperrors.NotRunning(botID)
	}
	if err := session.Send(ctx, target, payload); err != nil {
		return apperrors.Transport("failed to send message", err)
	}
	_ = o.botRepo.TouchActivity(ctx, botID)
	return nil
}

// Groups exposes the group-membership view of a live session, or nil
// when the instance is not connected or its transport has none.
func (o *Orchestrator) Groups(botID string) transport.GroupInfo {
	o.mu.Lock()
	h := o.handles[botID]
	var session transport.Session
	if h != nil {
		session = h.session
	}
	o.mu.Unlock()

	if session == nil {
		return nil
	}
	if info, ok := session.(transport.GroupInfo); ok {
		return info
	}
	return nil
}

// LiveCount reports the number of live handles.
func (o *Orchestrator) LiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handles)
}

// eventLoop consumes transport events for one session. Running it in a
// single goroutine per instance keeps that instance's state transitions
// strictly sequential.
func (o *Orchestrator) eventLoop(ctx context.Context, h *botHandle, session transport.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			if done := o.handleEvent(ctx, h, session, ev); done {
				return
			}
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, h *botHandle, session transport.Session, ev transport.Event) bool {
	switch ev.Type {
	case transport.EventQRCode:
		o.handleAuthArtifact(ctx, h, ev.QRCode, model.AuthArtifactQR)
	case transport.EventPairingReady:
		o.handleAuthArtifact(ctx, h, ev.PairingCode, model.AuthArtifactPairingCode)
	case transport.EventConnected:
		o.handleConnected(ctx, h, session, ev.Identity)
	case transport.EventDisconnected:
		return o.handleDisconnected(ctx, h, session, ev.Reason)
	case transport.EventMessage:
		o.handleMessage(ctx, h, ev.Message)
	}
	return false
}

func (o *Orchestrator) handleAuthArtifact(ctx context.Context, h *botHandle, artifact string, kind model.AuthArtifactKind) {
	if err := o.botRepo.SetAuthArtifact(ctx, h.botID, artifact, kind); err != nil {
		log.Error().Err(err).Str("botId", h.botID).Msg("failed to persist auth artifact")
	}
	if err := o.transition(ctx, h, model.BotStatusAwaitingAuth, false); err != nil {
		log.Error().Err(err).Str("botId", h.botID).Msg("failed to persist awaiting-auth status")
	}
	o.publishEvent(ctx, h.tenantID, sse.Event{
		Type: "auth_artifact",
		Data: mustJSON(map[string]any{"botId": h.botID, "kind": kind}),
	})
	log.Info().Str("botId", h.botID).Str("kind", string(kind)).Msg("auth artifact received")
}

func (o *Orchestrator) handleConnected(ctx context.Context, h *botHandle, session transport.Session, identity *transport.Identity) {
	if err := o.botRepo.ClearAuthArtifact(ctx, h.botID); err != nil {
		log.Error().Err(err).Str("botId", h.botID).Msg("failed to clear auth artifact")
	}
	if err := o.transition(ctx, h, model.BotStatusConnected, false); err != nil {
		log.Error().Err(err).Str("botId", h.botID).Msg("failed to persist connected status")
	}

	if identity != nil {
		if err := o.botRepo.SetIdentity(ctx, h.botID, identity.PhoneNumber); err != nil {
			log.Error().Err(err).Str("botId", h.botID).Msg("failed to persist bot identity")
		}
		var name *string
		if identity.Name != "" {
			name = &identity.Name
		}
		var phone *string
		if identity.PhoneNumber != "" {
			phone = &identity.PhoneNumber
		}
		if _, err := o.userRepo.UpsertOwner(ctx, h.botID, identity.JID, name, phone); err != nil {
			log.Error().Err(err).Str("botId", h.botID).Msg("failed to record owning identity")
		}
	}

	o.persistCredentials(ctx, h.botID, session)
	_ = o.botRepo.TouchActivity(ctx, h.botID)

	log.Info().Str("botId", h.botID).Msg("bot connected")
}

func (o *Orchestrator) handleDisconnected(ctx context.Context, h *botHandle, session transport.Session, reason transport.DisconnectReason) bool {
	_ = session.Close()

	if reason == transport.ReasonLoggedOut {
		o.mu.Lock()
		h.session = nil
		if h.reconnect != nil {
			h.reconnect.Stop()
			h.reconnect = nil
		}
		delete(o.handles, h.botID)
		o.mu.Unlock()

		// A logout invalidates everything cached for the session; the
		// tenant has to authenticate from scratch.
		_ = o.botRepo.SetSessionCreds(ctx, h.botID, nil)
		_ = o.botRepo.ClearAuthArtifact(ctx, h.botID)
		if err := o.transition(ctx, h, model.BotStatusLoggedOut, false); err != nil {
			log.Error().Err(err).Str("botId", h.botID).Msg("failed to persist logged-out status")
		}
		audit.Log(ctx, audit.Event{Type: audit.EventBotLoggedOut, TenantID: h.tenantID, BotID: h.botID})
		log.Warn().Str("botId", h.botID).Msg("bot logged out, re-authentication required")
		return true
	}

	if err := o.transition(ctx, h, model.BotStatusReconnecting, false); err != nil {
		log.Error().Err(err).Str("botId", h.botID).Msg("failed to persist reconnecting status")
	}

	o.mu.Lock()
	h.session = nil
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	// Only arm the timer while the handle is still registered; Stop
	// removes it and must win this race, otherwise a zombie reconnect
	// would resurrect a stopped instance.
	if o.handles[h.botID] == h {
		h.reconnect = time.AfterFunc(o.cfg.ReconnectDelay, func() {
			o.mu.Lock()
			if o.handles[h.botID] != h {
				o.mu.Unlock()
				return
			}
			h.reconnect = nil
			o.mu.Unlock()
			if err := o.Start(context.Background(), h.botID); err != nil {
				log.Error().Err(err).Str("botId", h.botID).Msg("scheduled reconnect failed")
			}
		})
	}
	o.mu.Unlock()

	log.Info().
		Str("botId", h.botID).
		Str("reason", string(reason)).
		Dur("delay", o.cfg.ReconnectDelay).
		Msg("bot disconnected, reconnect scheduled")
	return true
}

func (o *Orchestrator) handleMessage(ctx context.Context, h *botHandle, env *transport.Envelope) {
	if env == nil || env.FromMe {
		return
	}
	_ = o.botRepo.TouchActivity(ctx, h.botID)
	if o.sink == nil {
		log.Warn().Str("botId", h.botID).Msg("no inbound sink wired, dropping message")
		return
	}
	// One logical worker per message; a slow pipeline run must not stall
	// this instance's connection events.
	go o.sink.ProcessInbound(context.Background(), h.botID, env)
}

func (o *Orchestrator) transition(ctx context.Context, h *botHandle, status model.BotStatus, errorFlag bool) error {
	if err := o.botRepo.UpdateStatus(ctx, h.botID, model.UpdateBotStatusParams{
		Status: status, ErrorFlag: errorFlag,
	}); err != nil {
		return err
	}
	o.publishStatus(ctx, h.tenantID, h.botID, status)
	return nil
}

func (o *Orchestrator) loadCredentials(bot *model.BotInstance) (string, error) {
	if bot.SessionCreds == nil || *bot.SessionCreds == "" {
		return "", nil
	}
	if o.cfg.EncryptionKey == "" {
		return *bot.SessionCreds, nil
	}
	return util.Decrypt(o.cfg.EncryptionKey, *bot.SessionCreds)
}

func (o *Orchestrator) persistCredentials(ctx context.Context, botID string, session transport.Session) {
	creds, err := session.Credentials()
	if err != nil {
		log.Warn().Err(err).Str("botId", botID).Msg("failed to read session credentials")
		return
	}
	if creds == "" {
		return
	}
	if o.cfg.EncryptionKey != "" {
		creds, err = util.Encrypt(o.cfg.EncryptionKey, creds)
		if err != nil {
			log.Error().Err(err).Str("botId", botID).Msg("failed to encrypt session credentials")
			return
		}
	}
	if err := o.botRepo.SetSessionCreds(ctx, botID, &creds); err != nil {
		log.Error().Err(err).Str("botId", botID).Msg("failed to persist session credentials")
	}
}

func (o *Orchestrator) publishStatus(ctx context.Context, tenantID, botID string, status model.BotStatus) {
	o.publishEvent(ctx, tenantID, sse.Event{
		Type: "bot_status",
		Data: mustJSON(map[string]any{"botId": botID, "status": status}),
	})
}

func (o *Orchestrator) publishEvent(ctx context.Context, tenantID string, event sse.Event) {
	if o.broker == nil || tenantID == "" {
		return
	}
	if err := o.broker.Publish(ctx, tenantID, event); err != nil {
		log.Warn().Err(err).Str("tenantId", tenantID).Msg("failed to publish tenant event")
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
