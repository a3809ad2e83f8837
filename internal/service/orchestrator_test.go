package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsdx/bot-platform-go/internal/model"
	"github.com/whatsdx/bot-platform-go/internal/transport"
)

func testBot(id string) *model.BotInstance {
	return &model.BotInstance{
		ID:       id,
		TenantID: "tenant-1",
		Name:     "test bot",
		Status:   model.BotStatusStopped,
	}
}

func newTestOrchestrator(t *testing.T, dialer *mockDialer, botRepo *mockBotRepo) (*Orchestrator, *mockUserRepo) {
	t.Helper()
	userRepo := newMockUserRepo()
	o := NewOrchestrator(dialer, botRepo, userRepo, &mockBroker{}, OrchestratorConfig{
		ReconnectDelay: 25 * time.Millisecond,
	})
	return o, userRepo
}

func TestStartIsIdempotentUnderConcurrency(t *testing.T) {
	botRepo := newMockBotRepo(testBot("bot-1"))
	dialer := &mockDialer{}
	o, _ := newTestOrchestrator(t, dialer, botRepo)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = o.Start(context.Background(), "bot-1")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, 1, o.LiveCount())
	assert.True(t, o.IsLive("bot-1"))
}

func TestStartUnknownBot(t *testing.T) {
	o, _ := newTestOrchestrator(t, &mockDialer{}, newMockBotRepo())

	err := o.Start(context.Background(), "missing")
	require.Error(t, err)
}

func TestStartDialFailureLeavesStoppedWithError(t *testing.T) {
	botRepo := newMockBotRepo(testBot("bot-1"))
	dialer := &mockDialer{err: errors.New("gateway unreachable")}
	o, _ := newTestOrchestrator(t, dialer, botRepo)

	err := o.Start(context.Background(), "bot-1")
	require.Error(t, err)

	assert.Equal(t, 0, o.LiveCount())
	assert.Equal(t, model.BotStatusStopped, botRepo.status("bot-1"))

	botRepo.mu.Lock()
	errorFlag := botRepo.bots["bot-1"].ErrorFlag
	botRepo.mu.Unlock()
	assert.True(t, errorFlag)
}

func TestAuthArtifactThenConnected(t *testing.T) {
	botRepo := newMockBotRepo(testBot("bot-1"))
	dialer := &mockDialer{}
	o, userRepo := newTestOrchestrator(t, dialer, botRepo)

	require.NoError(t, o.Start(context.Background(), "bot-1"))
	session := dialer.session(0)
	require.NotNil(t, session)

	session.events <- transport.Event{Type: transport.EventQRCode, QRCode: "qr-data"}
	require.Eventually(t, func() bool {
		return botRepo.status("bot-1") == model.BotStatusAwaitingAuth
	}, time.Second, 5*time.Millisecond)

	session.mu.Lock()
	session.creds = "fresh-creds"
	session.mu.Unlock()

	session.events <- transport.Event{
		Type:     transport.EventConnected,
		Identity: &transport.Identity{JID: "owner@chat", PhoneNumber: "+15550001", Name: "Owner"},
	}
	require.Eventually(t, func() bool {
		return botRepo.status("bot-1") == model.BotStatusConnected
	}, time.Second, 5*time.Millisecond)

	botRepo.mu.Lock()
	bot := botRepo.bots["bot-1"]
	assert.Nil(t, bot.AuthArtifact)
	require.NotNil(t, bot.SessionCreds)
	assert.Equal(t, "fresh-creds", *bot.SessionCreds)
	botRepo.mu.Unlock()

	owner, err := userRepo.FindByJID(context.Background(), "bot-1", "owner@chat")
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, model.UserRoleOwner, owner.Role)
}

func TestDisconnectSchedulesReconnect(t *testing.T) {
	botRepo := newMockBotRepo(testBot("bot-1"))
	dialer := &mockDialer{}
	o, _ := newTestOrchestrator(t, dialer, botRepo)

	require.NoError(t, o.Start(context.Background(), "bot-1"))
	session := dialer.session(0)

	session.events <- transport.Event{Type: transport.EventDisconnected, Reason: transport.ReasonConnectionLost}

	require.Eventually(t, func() bool {
		return dialer.dialCount() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	botRepo := newMockBotRepo(testBot("bot-1"))
	dialer := &mockDialer{}
	o, _ := newTestOrchestrator(t, dialer, botRepo)

	require.NoError(t, o.Start(context.Background(), "bot-1"))
	session := dialer.session(0)

	session.events <- transport.Event{Type: transport.EventDisconnected, Reason: transport.ReasonConnectionLost}
	require.Eventually(t, func() bool {
		return botRepo.status("bot-1") == model.BotStatusReconnecting
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, o.Stop(context.Background(), "bot-1"))

	// well past the reconnect delay; a zombie timer would redial here
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, model.BotStatusStopped, botRepo.status("bot-1"))
	assert.Equal(t, 0, o.LiveCount())
}

func TestManualStartDuringReconnectWindow(t *testing.T) {
	botRepo := newMockBotRepo(testBot("bot-1"))
	dialer := &mockDialer{}
	o, _ := newTestOrchestrator(t, dialer, botRepo)

	require.NoError(t, o.Start(context.Background(), "bot-1"))
	session := dialer.session(0)

	session.events <- transport.Event{Type: transport.EventDisconnected, Reason: transport.ReasonConnectionLost}
	require.Eventually(t, func() bool {
		return botRepo.status("bot-1") == model.BotStatusReconnecting
	}, time.Second, 5*time.Millisecond)

	// manual start should win and disarm the scheduled reconnect
	require.NoError(t, o.Start(context.Background(), "bot-1"))
	assert.Equal(t, 2, dialer.dialCount())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestLoggedOutIsTerminal(t *testing.T) {
	bot := testBot("bot-1")
	creds := "old-creds"
	bot.SessionCreds = &creds
	botRepo := newMockBotRepo(bot)
	dialer := &mockDialer{}
	o, _ := newTestOrchestrator(t, dialer, botRepo)

	require.NoError(t, o.Start(context.Background(), "bot-1"))
	session := dialer.session(0)

	session.events <- transport.Event{Type: transport.EventDisconnected, Reason: transport.ReasonLoggedOut}

	require.Eventually(t, func() bool {
		return botRepo.status("bot-1") == model.BotStatusLoggedOut
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, o.LiveCount())
	assert.True(t, botRepo.credsCleared)

	// no automatic reconnect after a logout
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestStartAfterLogoutDiscardsStaleCreds(t *testing.T) {
	bot := testBot("bot-1")
	bot.Status = model.BotStatusLoggedOut
	creds := "stale-creds"
	bot.SessionCreds = &creds
	botRepo := newMockBotRepo(bot)
	dialer := &mockDialer{}
	o, _ := newTestOrchestrator(t, dialer, botRepo)

	require.NoError(t, o.Start(context.Background(), "bot-1"))

	assert.True(t, botRepo.credsCleared)
	assert.Equal(t, 1, dialer.dialCount())
}

type recordingSink struct {
	mu   sync.Mutex
	envs []*transport.Envelope
}

func (s *recordingSink) ProcessInbound(ctx context.Context, botID string, env *transport.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

func TestInboundMessagesReachSink(t *testing.T) {
	botRepo := newMockBotRepo(testBot("bot-1"))
	dialer := &mockDialer{}
	o, _ := newTestOrchestrator(t, dialer, botRepo)
	sink := &recordingSink{}
	o.SetInboundSink(sink)

	require.NoError(t, o.Start(context.Background(), "bot-1"))
	session := dialer.session(0)

	session.events <- transport.Event{Type: transport.EventMessage, Message: &transport.Envelope{
		SenderJID: "user@chat", ChatJID: "user@chat", Text: "hello",
	}}
	// messages from the bot's own account are dropped
	session.events <- transport.Event{Type: transport.EventMessage, Message: &transport.Envelope{
		SenderJID: "bot@chat", ChatJID: "user@chat", Text: "echo", FromMe: true,
	}}

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sink.count())
}

func TestSendRequiresLiveSession(t *testing.T) {
	botRepo := newMockBotRepo(testBot("bot-1"))
	dialer := &mockDialer{}
	o, _ := newTestOrchestrator(t, dialer, botRepo)

	err := o.Send(context.Background(), "bot-1", "user@chat", transport.Payload{Text: "hi"})
	require.Error(t, err)

	require.NoError(t, o.Start(context.Background(), "bot-1"))
	require.NoError(t, o.Send(context.Background(), "bot-1", "user@chat", transport.Payload{Text: "hi"}))

	session := dialer.session(0)
	sent := session.sentPayloads()
	require.Len(t, sent, 1)
	assert.Equal(t, "user@chat", sent[0].target)
}
