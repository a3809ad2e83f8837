package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/whatsdx/bot-platform-go/internal/audit"
	"github.com/whatsdx/bot-platform-go/internal/config"
	"github.com/whatsdx/bot-platform-go/internal/model"
	"github.com/whatsdx/bot-platform-go/internal/repository"
	"github.com/whatsdx/bot-platform-go/internal/transport"
)

var commandPrefixes = []string{"/", "!", "."}

const moderationNotice = "Your message was removed because it violates the content policy."

// Sender delivers outbound payloads and answers group membership
// questions through the live transport session of a bot instance.
type Sender interface {
	Send(ctx context.Context, botID, target string, payload transport.Payload) error
	Groups(botID string) transport.GroupInfo
}

type PipelineConfig struct {
	ModerationEnabled    bool
	Cooldown             time.Duration
	NightHoursEnabled    bool
	NightHoursStart      int
	NightHoursEnd        int
	Location             *time.Location
	PrivatePremiumOnly   bool
	RequireGroupRental   bool
	CommunityGroupJID    string
	RequireCommunityJoin bool
	UseCoin              bool
	GlobalRestrict       bool
	SuppressionWindow    time.Duration
}

// gateContext bundles everything the gating stages need for one message.
type gateContext struct {
	bot        *model.BotInstance
	tenant     *model.Tenant
	user       *model.BotUser
	group      *model.Group
	env        *transport.Envelope
	def        *CommandDefinition
	args       []string
	suggestion *Suggestion
	isOwner    bool
}

// Pipeline gates every inbound message through moderation, engagement
// tracking, the restriction rules and per-command permissions before
// handing admitted commands to the registry.
type Pipeline struct {
	botRepo    repository.BotInstanceRepository
	tenantRepo repository.TenantRepository
	userRepo   repository.BotUserRepository
	groupRepo  repository.GroupRepository
	plan       *PlanService
	ai         *AIService
	registry   *CommandRegistry
	sender     Sender
	windows    *WindowStore
	cfg        PipelineConfig
	now        func() time.Time
}

func NewPipeline(
	botRepo repository.BotInstanceRepository,
	tenantRepo repository.TenantRepository,
	userRepo repository.BotUserRepository,
	groupRepo repository.GroupRepository,
	plan *PlanService,
	ai *AIService,
	registry *CommandRegistry,
	sender Sender,
	windows *WindowStore,
	cfg PipelineConfig,
) *Pipeline {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SuppressionWindow <= 0 {
		cfg.SuppressionWindow = config.WarningSuppressionWindow
	}
	return &Pipeline{
		botRepo:    botRepo,
		tenantRepo: tenantRepo,
		userRepo:   userRepo,
		groupRepo:  groupRepo,
		plan:       plan,
		ai:         ai,
		registry:   registry,
		sender:     sender,
		windows:    windows,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// ProcessInbound runs the full gating sequence for one inbound envelope.
// Stage order is fixed: admission, moderation, intent annotation,
// engagement, restrictions, permissions, dispatch. Engagement always
// commits, even when a later stage blocks the message.
func (p *Pipeline) ProcessInbound(ctx context.Context, botID string, env *transport.Envelope) {
	if env == nil || env.Text == "" {
		return
	}

	gc, ok := p.admit(ctx, botID, env)
	if !ok {
		return
	}

	if blocked := p.moderate(ctx, gc); blocked {
		return
	}

	name, args, isCommand := parseCommand(env.Text)
	if isCommand {
		gc.def = p.registry.Get(name)
		gc.args = args
	}
	p.annotate(ctx, gc)

	// Engagement is counted before any restriction can block the message,
	// so a user throttled by a rule still accrues activity.
	p.trackEngagement(ctx, gc)

	if !isCommand {
		p.offerSuggestion(ctx, gc)
		return
	}

	if gc.def == nil {
		log.Debug().Str("botId", botID).Str("command", name).Msg("unknown command, ignoring")
		return
	}

	if key := p.checkRestrictions(ctx, gc); key != "" {
		p.warn(ctx, gc, key)
		return
	}

	if key := p.checkPermissions(ctx, gc); key != "" {
		p.warn(ctx, gc, key)
		return
	}

	p.dispatch(ctx, gc)
}

// admit loads the bot, tenant and user, enforcing the message quota and
// auto-provisioning first-time users under the user quota.
func (p *Pipeline) admit(ctx context.Context, botID string, env *transport.Envelope) (*gateContext, bool) {
	bot, err := p.botRepo.FindByID(ctx, botID)
	if err != nil || bot == nil {
		log.Error().Err(err).Str("botId", botID).Msg("failed to load bot for inbound message")
		return nil, false
	}

	tenant, err := p.tenantRepo.FindByID(ctx, bot.TenantID)
	if err != nil || tenant == nil {
		log.Error().Err(err).Str("tenantId", bot.TenantID).Msg("failed to load tenant for inbound message")
		return nil, false
	}

	limit, err := p.plan.CheckTenantLimit(ctx, tenant, model.ResourceMaxMessages)
	if err != nil || !limit.Allowed {
		audit.Log(ctx, audit.Event{
			Type:     audit.EventQuotaDenied,
			TenantID: tenant.ID,
			BotID:    botID,
			Details:  map[string]any{"resource": model.ResourceMaxMessages},
		})
		log.Warn().Str("tenantId", tenant.ID).Str("botId", botID).Msg("message quota exhausted, dropping inbound message")
		return nil, false
	}
	p.plan.IncrementUsage(ctx, tenant.ID, model.ResourceMaxMessages)

	user, err := p.userRepo.FindByJID(ctx, botID, env.SenderJID)
	if err != nil {
		log.Error().Err(err).Str("botId", botID).Msg("failed to load user for inbound message")
		return nil, false
	}
	if user == nil {
		userLimit, err := p.plan.CheckTenantLimit(ctx, tenant, model.ResourceMaxUsers)
		if err != nil || !userLimit.Allowed {
			audit.Log(ctx, audit.Event{
				Type:     audit.EventQuotaDenied,
				TenantID: tenant.ID,
				BotID:    botID,
				Details:  map[string]any{"resource": model.ResourceMaxUsers},
			})
			return nil, false
		}
		var name *string
		if env.PushName != "" {
			name = &env.PushName
		}
		user, err = p.userRepo.Create(ctx, model.CreateBotUserParams{
			BotInstanceID: botID,
			JID:           env.SenderJID,
			Name:          name,
			Role:          model.UserRoleMember,
		})
		if err != nil {
			log.Error().Err(err).Str("botId", botID).Msg("failed to provision user")
			return nil, false
		}
	}

	gc := &gateContext{
		bot:     bot,
		tenant:  tenant,
		user:    user,
		env:     env,
		isOwner: user.Role == model.UserRoleOwner,
	}

	if env.IsGroup {
		group, err := p.groupRepo.FindByJID(ctx, botID, env.ChatJID)
		if err != nil {
			log.Error().Err(err).Str("botId", botID).Msg("failed to load group")
		}
		if group == nil {
			group, err = p.groupRepo.Create(ctx, model.CreateGroupParams{
				BotInstanceID: botID,
				JID:           env.ChatJID,
			})
			if err != nil {
				log.Error().Err(err).Str("botId", botID).Msg("failed to provision group")
			}
		}
		gc.group = group
	}

	return gc, true
}

// moderate runs content classification. Classification errors fail open:
// an unreachable moderation backend never blocks the platform.
func (p *Pipeline) moderate(ctx context.Context, gc *gateContext) bool {
	if !p.cfg.ModerationEnabled || p.ai == nil {
		return false
	}

	verdict, err := p.ai.Classify(ctx, gc.env.Text)
	if err != nil {
		audit.Log(ctx, audit.Event{
			Type:     audit.EventModerationBypass,
			TenantID: gc.tenant.ID,
			BotID:    gc.bot.ID,
			UserID:   gc.user.ID,
		})
		log.Warn().Err(err).Str("botId", gc.bot.ID).Msg("moderation unavailable, failing open")
		return false
	}
	if verdict.Safe {
		return false
	}

	audit.Log(ctx, audit.Event{
		Type:     audit.EventModerationFlag,
		TenantID: gc.tenant.ID,
		BotID:    gc.bot.ID,
		UserID:   gc.user.ID,
		Details:  map[string]any{"categories": verdict.Categories, "score": verdict.Score},
	})
	p.send(ctx, gc, transport.Payload{Text: moderationNotice})
	return true
}

// annotate resolves the message's command intent. A prefixed known
// command is its own intent; free-form text goes through the detection
// backend, best effort. The annotation rides on the gate context into
// dispatch.
func (p *Pipeline) annotate(ctx context.Context, gc *gateContext) {
	if gc.def != nil {
		gc.suggestion = &Suggestion{Command: gc.def.Name, Confidence: 1}
		return
	}
	if p.ai == nil {
		return
	}
	suggestion, err := p.ai.SuggestCommand(ctx, gc.env.Text, p.registry.Names())
	if err != nil {
		log.Debug().Err(err).Str("botId", gc.bot.ID).Msg("intent detection failed")
		return
	}
	gc.suggestion = suggestion
}

// offerSuggestion proposes the detected command for a free-form message.
func (p *Pipeline) offerSuggestion(ctx context.Context, gc *gateContext) {
	if gc.suggestion == nil {
		return
	}
	p.send(ctx, gc, transport.Payload{
		Text: fmt.Sprintf("Did you mean /%s?", gc.suggestion.Command),
		Buttons: []transport.Button{
			{ID: "/" + gc.suggestion.Command, Label: "Run /" + gc.suggestion.Command},
		},
	})
}

// trackEngagement awards message XP and rolls levels over. The update
// always commits; it reports whether a level boundary was crossed.
func (p *Pipeline) trackEngagement(ctx context.Context, gc *gateContext) bool {
	xp := gc.user.XP + config.XPPerMessage
	level := gc.user.Level
	leveled := false
	for xp >= config.XPPerLevel {
		xp -= config.XPPerLevel
		level++
		leveled = true
	}

	if err := p.userRepo.UpdateEngagement(ctx, gc.user.ID, xp, level); err != nil {
		log.Error().Err(err).Str("userId", gc.user.ID).Msg("failed to persist engagement")
		return false
	}
	gc.user.XP = xp
	gc.user.Level = level

	if leveled && gc.user.AutoLevelUp {
		p.send(ctx, gc, transport.Payload{
			Text: fmt.Sprintf("Level up! You reached level %d.", level),
		})
	}
	return leveled
}

// warn notifies the user why a message was blocked. At most one full
// warning per rule key goes out per suppression window; inside the
// window the user only gets a reaction glyph.
func (p *Pipeline) warn(ctx context.Context, gc *gateContext, key string) {
	if p.suppressionOpen(gc, key, p.cfg.SuppressionWindow) {
		p.send(ctx, gc, transport.Payload{Reaction: suppressedReaction})
		return
	}

	if gc.user.LastSentMsg == nil {
		gc.user.LastSentMsg = model.WarnTimestamps{}
	}
	gc.user.LastSentMsg[key] = p.now()
	if err := p.userRepo.RecordWarning(ctx, gc.user.ID, gc.user.LastSentMsg); err != nil {
		log.Error().Err(err).Str("userId", gc.user.ID).Msg("failed to persist warning timestamp")
	}

	p.send(ctx, gc, transport.Payload{
		Text:   warningText(key),
		Footer: "This notice is sent at most once a day.",
		Buttons: []transport.Button{
			{ID: "/help", Label: "Help"},
		},
	})

	log.Info().
		Str("botId", gc.bot.ID).
		Str("userId", gc.user.ID).
		Str("rule", key).
		Msg("message blocked")
}

// dispatch hands the admitted command to the registry and relays the
// structured outcome back to the chat.
func (p *Pipeline) dispatch(ctx context.Context, gc *gateContext) {
	cmdCtx := &CommandContext{
		BotID:      gc.bot.ID,
		Tenant:     gc.tenant,
		User:       gc.user,
		Group:      gc.group,
		ChatJID:    gc.env.ChatJID,
		SenderJID:  gc.env.SenderJID,
		Text:       gc.env.Text,
		Args:       gc.args,
		IsGroup:    gc.env.IsGroup,
		IsOwner:    gc.isOwner,
		Suggestion: gc.suggestion,
	}

	result := p.registry.Execute(ctx, gc.def.Name, cmdCtx)
	if result.Success {
		if result.Result != "" {
			p.send(ctx, gc, transport.Payload{Text: result.Result})
		}
		return
	}
	p.send(ctx, gc, transport.Payload{Text: result.Error})
}

func (p *Pipeline) send(ctx context.Context, gc *gateContext, payload transport.Payload) {
	if err := p.sender.Send(ctx, gc.bot.ID, gc.env.ChatJID, payload); err != nil {
		log.Warn().Err(err).Str("botId", gc.bot.ID).Msg("failed to deliver reply")
	}
}

// parseCommand splits a prefixed message into the command name and its
// arguments. Messages without a known prefix are not commands.
func parseCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	for _, prefix := range commandPrefixes {
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(trimmed, prefix))
		if len(fields) == 0 || fields[0] == "" {
			return "", nil, false
		}
		return strings.ToLower(fields[0]), fields[1:], true
	}
	return "", nil, false
}
