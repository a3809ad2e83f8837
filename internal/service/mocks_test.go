package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/whatsdx/bot-platform-go/internal/model"
	"github.com/whatsdx/bot-platform-go/internal/repository"
	"github.com/whatsdx/bot-platform-go/internal/sse"
	"github.com/whatsdx/bot-platform-go/internal/transport"
)

type mockBotRepo struct {
	mu             sync.Mutex
	bots           map[string]*model.BotInstance
	statusHistory  []model.BotStatus
	credsCleared   bool
	artifactSet    bool
	countByTenant  int
	created        int
	clearStaleFunc func(ctx context.Context, olderThan time.Time) (int64, error)
}

func newMockBotRepo(bots ...*model.BotInstance) *mockBotRepo {
	m := &mockBotRepo{bots: make(map[string]*model.BotInstance)}
	for _, b := range bots {
		m.bots[b.ID] = b
	}
	return m
}

func (m *mockBotRepo) FindByID(ctx context.Context, id string) (*model.BotInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bot, ok := m.bots[id]; ok {
		copied := *bot
		return &copied, nil
	}
	return nil, nil
}

func (m *mockBotRepo) FindByTenantID(ctx context.Context, tenantID string) ([]model.BotInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BotInstance
	for _, b := range m.bots {
		if b.TenantID == tenantID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *mockBotRepo) FindPageByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]model.BotInstance, error) {
	all, _ := m.FindByTenantID(ctx, tenantID)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *mockBotRepo) CountByTenantID(ctx context.Context, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countByTenant, nil
}

func (m *mockBotRepo) Create(ctx context.Context, params model.CreateBotInstanceParams) (*model.BotInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bot := &model.BotInstance{ID: "bot-new", TenantID: params.TenantID, Name: params.Name, Status: model.BotStatusStopped}
	m.bots[bot.ID] = bot
	copied := *bot
	return &copied, nil
}

// CreateUnderQuota mirrors the real repository contract: the count and
// the insert happen under one lock.
func (m *mockBotRepo) CreateUnderQuota(ctx context.Context, params model.CreateBotInstanceParams, maxBots int) (*model.BotInstance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if maxBots != model.QuotaUnlimited {
		count := 0
		for _, b := range m.bots {
			if b.TenantID == params.TenantID {
				count++
			}
		}
		if count >= maxBots {
			return nil, false, nil
		}
	}

	m.created++
	bot := &model.BotInstance{
		ID:       fmt.Sprintf("created-%d", m.created),
		TenantID: params.TenantID,
		Name:     params.Name,
		Status:   model.BotStatusStopped,
	}
	m.bots[bot.ID] = bot
	copied := *bot
	return &copied, true, nil
}

func (m *mockBotRepo) UpdateStatus(ctx context.Context, id string, params model.UpdateBotStatusParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusHistory = append(m.statusHistory, params.Status)
	if bot, ok := m.bots[id]; ok {
		bot.Status = params.Status
		bot.ErrorFlag = params.ErrorFlag
	}
	return nil
}

func (m *mockBotRepo) SetAuthArtifact(ctx context.Context, id, artifact string, kind model.AuthArtifactKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifactSet = true
	if bot, ok := m.bots[id]; ok {
		bot.AuthArtifact = &artifact
		bot.ArtifactKind = &kind
	}
	return nil
}

func (m *mockBotRepo) ClearAuthArtifact(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bot, ok := m.bots[id]; ok {
		bot.AuthArtifact = nil
		bot.ArtifactKind = nil
	}
	return nil
}

func (m *mockBotRepo) SetIdentity(ctx context.Context, id, phoneNumber string) error {
	return nil
}

func (m *mockBotRepo) SetSessionCreds(ctx context.Context, id string, creds *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if creds == nil {
		m.credsCleared = true
	}
	if bot, ok := m.bots[id]; ok {
		bot.SessionCreds = creds
	}
	return nil
}

func (m *mockBotRepo) TouchActivity(ctx context.Context, id string) error {
	return nil
}

func (m *mockBotRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bots, id)
	return nil
}

func (m *mockBotRepo) ClearStaleArtifacts(ctx context.Context, olderThan time.Time) (int64, error) {
	if m.clearStaleFunc != nil {
		return m.clearStaleFunc(ctx, olderThan)
	}
	return 0, nil
}

func (m *mockBotRepo) WithTx(tx *sqlx.Tx) repository.BotInstanceRepository {
	return m
}

func (m *mockBotRepo) status(id string) model.BotStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bot, ok := m.bots[id]; ok {
		return bot.Status
	}
	return ""
}

type mockTenantRepo struct {
	mu      sync.Mutex
	tenants map[string]*model.Tenant
}

func newMockTenantRepo(tenants ...*model.Tenant) *mockTenantRepo {
	m := &mockTenantRepo{tenants: make(map[string]*model.Tenant)}
	for _, t := range tenants {
		m.tenants[t.ID] = t
	}
	return m
}

func (m *mockTenantRepo) FindByID(ctx context.Context, id string) (*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tenants[id]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, nil
}

func (m *mockTenantRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Tenant, error) {
	return nil, nil
}

func (m *mockTenantRepo) FindAll(ctx context.Context, limit, offset int) ([]model.Tenant, error) {
	return nil, nil
}

func (m *mockTenantRepo) Create(ctx context.Context, params model.CreateTenantParams) (*model.Tenant, error) {
	tenant := &model.Tenant{
		ID:          "tenant-new",
		Name:        params.Name,
		Plan:        params.Plan,
		Status:      model.TenantStatusActive,
		MaxBots:     params.MaxBots,
		MaxUsers:    params.MaxUsers,
		MaxMessages: params.MaxMessages,
		MaxAPICalls: params.MaxAPICalls,
		AIRequests:  params.AIRequests,
	}
	m.mu.Lock()
	m.tenants[tenant.ID] = tenant
	m.mu.Unlock()
	copied := *tenant
	return &copied, nil
}

func (m *mockTenantRepo) UpdateQuotas(ctx context.Context, id string, params model.UpdateQuotasParams) (*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, nil
	}
	t.Plan = params.Plan
	t.MaxBots = params.MaxBots
	t.MaxUsers = params.MaxUsers
	t.MaxMessages = params.MaxMessages
	t.MaxAPICalls = params.MaxAPICalls
	t.AIRequests = params.AIRequests
	copied := *t
	return &copied, nil
}

func (m *mockTenantRepo) UpdateToken(ctx context.Context, id, tokenHash string) (*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, nil
	}
	t.APITokenHash = &tokenHash
	copied := *t
	return &copied, nil
}

func (m *mockTenantRepo) Suspend(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tenants[id]; ok {
		now := time.Now()
		t.SuspendedAt = &now
		t.Status = model.TenantStatusSuspended
	}
	return nil
}

func (m *mockTenantRepo) Delete(ctx context.Context, id string) error {
	return nil
}

func (m *mockTenantRepo) Count(ctx context.Context) (int, error) {
	return len(m.tenants), nil
}

func (m *mockTenantRepo) WithTx(tx *sqlx.Tx) repository.TenantRepository {
	return m
}

type mockUserRepo struct {
	mu            sync.Mutex
	users         map[string]*model.BotUser // keyed by JID
	warnings      model.WarnTimestamps
	engagements   []int
	countByTenant int
}

func newMockUserRepo(users ...*model.BotUser) *mockUserRepo {
	m := &mockUserRepo{users: make(map[string]*model.BotUser)}
	for _, u := range users {
		m.users[u.JID] = u
	}
	return m
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.BotUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) FindByJID(ctx context.Context, botInstanceID, jid string) (*model.BotUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[jid]; ok {
		copied := *u
		copied.LastSentMsg = cloneWarnings(u.LastSentMsg)
		return &copied, nil
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, params model.CreateBotUserParams) (*model.BotUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := &model.BotUser{
		ID:            "user-" + params.JID,
		BotInstanceID: params.BotInstanceID,
		JID:           params.JID,
		Name:          params.Name,
		Role:          params.Role,
		LastSentMsg:   model.WarnTimestamps{},
	}
	m.users[params.JID] = user
	copied := *user
	return &copied, nil
}

func (m *mockUserRepo) UpsertOwner(ctx context.Context, botInstanceID, jid string, name *string, phone *string) (*model.BotUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[jid]
	if !ok {
		user = &model.BotUser{ID: "user-" + jid, BotInstanceID: botInstanceID, JID: jid, LastSentMsg: model.WarnTimestamps{}}
		m.users[jid] = user
	}
	user.Role = model.UserRoleOwner
	copied := *user
	return &copied, nil
}

func (m *mockUserRepo) UpdateEngagement(ctx context.Context, id string, xp, level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engagements = append(m.engagements, xp)
	for _, u := range m.users {
		if u.ID == id {
			u.XP = xp
			u.Level = level
		}
	}
	return nil
}

func (m *mockUserRepo) RecordWarning(ctx context.Context, id string, warnings model.WarnTimestamps) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings = cloneWarnings(warnings)
	for _, u := range m.users {
		if u.ID == id {
			u.LastSentMsg = cloneWarnings(warnings)
		}
	}
	return nil
}

func (m *mockUserRepo) DeductCoin(ctx context.Context, id string, amount int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			if u.Coin < amount {
				return 0, false, nil
			}
			u.Coin -= amount
			return u.Coin, true, nil
		}
	}
	return 0, false, nil
}

func (m *mockUserRepo) AddCoin(ctx context.Context, id string, amount int) error {
	return nil
}

func (m *mockUserRepo) SetBanned(ctx context.Context, id string, banned bool) error {
	return nil
}

func (m *mockUserRepo) SetPremium(ctx context.Context, id string, premium bool) error {
	return nil
}

func (m *mockUserRepo) CountByTenantID(ctx context.Context, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countByTenant, nil
}

func (m *mockUserRepo) WithTx(tx *sqlx.Tx) repository.BotUserRepository {
	return m
}

func cloneWarnings(w model.WarnTimestamps) model.WarnTimestamps {
	out := model.WarnTimestamps{}
	for k, v := range w {
		out[k] = v
	}
	return out
}

type mockGroupRepo struct {
	mu     sync.Mutex
	groups map[string]*model.Group // keyed by JID
}

func newMockGroupRepo(groups ...*model.Group) *mockGroupRepo {
	m := &mockGroupRepo{groups: make(map[string]*model.Group)}
	for _, g := range groups {
		m.groups[g.JID] = g
	}
	return m
}

func (m *mockGroupRepo) FindByID(ctx context.Context, id string) (*model.Group, error) {
	return nil, nil
}

func (m *mockGroupRepo) FindByJID(ctx context.Context, botInstanceID, jid string) (*model.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.groups[jid]; ok {
		copied := *g
		return &copied, nil
	}
	return nil, nil
}

func (m *mockGroupRepo) Create(ctx context.Context, params model.CreateGroupParams) (*model.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	group := &model.Group{ID: "group-" + params.JID, BotInstanceID: params.BotInstanceID, JID: params.JID}
	m.groups[params.JID] = group
	copied := *group
	return &copied, nil
}

func (m *mockGroupRepo) UpdateOptions(ctx context.Context, id string, options model.GroupOptions) error {
	return nil
}

func (m *mockGroupRepo) WithTx(tx *sqlx.Tx) repository.GroupRepository {
	return m
}

// mockSession is a scriptable transport session. Tests feed events into
// the channel and observe sent payloads.
type mockSession struct {
	mu        sync.Mutex
	events    chan transport.Event
	sent      []sentPayload
	creds     string
	loggedOut bool
	closed    bool
}

type sentPayload struct {
	target  string
	payload transport.Payload
}

func newMockSession() *mockSession {
	return &mockSession{events: make(chan transport.Event, 16)}
}

func (s *mockSession) Events() <-chan transport.Event {
	return s.events
}

func (s *mockSession) Send(ctx context.Context, target string, payload transport.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentPayload{target: target, payload: payload})
	return nil
}

func (s *mockSession) Credentials() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, nil
}

func (s *mockSession) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedOut = true
	return nil
}

func (s *mockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *mockSession) sentPayloads() []sentPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentPayload, len(s.sent))
	copy(out, s.sent)
	return out
}

// mockDialer hands out sessions in order and counts dials.
type mockDialer struct {
	mu       sync.Mutex
	sessions []*mockSession
	dials    int
	err      error
}

func (d *mockDialer) Dial(ctx context.Context, creds string) (transport.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.dials++
	idx := d.dials - 1
	if idx >= len(d.sessions) {
		d.sessions = append(d.sessions, newMockSession())
		idx = len(d.sessions) - 1
	}
	return d.sessions[idx], nil
}

func (d *mockDialer) session(i int) *mockSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < len(d.sessions) {
		return d.sessions[i]
	}
	return nil
}

func (d *mockDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type mockBroker struct {
	mu     sync.Mutex
	events []sse.Event
}

func (b *mockBroker) Publish(ctx context.Context, tenantID string, event sse.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

// mockSender records pipeline replies without a live transport.
type mockSender struct {
	mu     sync.Mutex
	sent   []transport.Payload
	groups transport.GroupInfo
}

func (s *mockSender) Send(ctx context.Context, botID, target string, payload transport.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, payload)
	return nil
}

func (s *mockSender) Groups(botID string) transport.GroupInfo {
	return s.groups
}

func (s *mockSender) payloads() []transport.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Payload, len(s.sent))
	copy(out, s.sent)
	return out
}

type mockGroupInfo struct {
	admin    bool
	botAdmin bool
	member   bool
}

func (g *mockGroupInfo) IsAdmin(ctx context.Context, groupJID, memberJID string) (bool, error) {
	return g.admin, nil
}

func (g *mockGroupInfo) IsBotAdmin(ctx context.Context, groupJID string) (bool, error) {
	return g.botAdmin, nil
}

func (g *mockGroupInfo) IsMember(ctx context.Context, groupJID, memberJID string) (bool, error) {
	return g.member, nil
}
