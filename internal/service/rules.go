package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Rule keys double as the per-user warning-suppression keys persisted in
// bot_users.last_sent_msg.
const (
	ruleBanned          = "banned"
	ruleCooldown        = "cooldown"
	ruleGameRestrict    = "gamerestrict"
	rulePrivatePremium  = "privatePremiumOnly"
	ruleCommunityJoin   = "requireBotGroupMembership"
	ruleGroupRental     = "requireGroupRental"
	ruleNightHours      = "unavailableAtNight"
	permAdmin           = "admin"
	permBotAdmin        = "botAdmin"
	permCoin            = "coin"
	permGroup           = "group"
	permOwner           = "owner"
	permPremium         = "premium"
	permPrivate         = "private"
	permRestrict        = "restrict"
	warnUnknownFallback = "This action is not available right now."
)

// suppressedReaction is sent instead of the full warning while the 24h
// suppression window for a rule key is still open.
const suppressedReaction = "⏳"

var warningMessages = map[string]string{
	ruleBanned:         "Your account is banned from using this bot. Contact the bot owner if you think this is a mistake.",
	ruleCooldown:       "Slow down. Wait a moment before sending the next command.",
	ruleGameRestrict:   "Game commands are restricted to group admins in this group.",
	rulePrivatePremium: "Private chat is available to premium users only. Use the bot in a group or upgrade to premium.",
	ruleCommunityJoin:  "Join the bot community group to use commands.",
	ruleGroupRental:    "The bot subscription for this group has expired. Ask a group admin to renew it.",
	ruleNightHours:     "The bot is asleep during night hours. Try again in the morning.",
	permAdmin:          "This command can only be used by group admins.",
	permBotAdmin:       "The bot must be a group admin to run this command.",
	permCoin:           "You do not have enough coins for this command.",
	permGroup:          "This command only works inside a group.",
	permOwner:          "This command is reserved for the bot owner.",
	permPremium:        "This command requires a premium account.",
	permPrivate:        "This command only works in a private chat.",
	permRestrict:       "This command is currently disabled by the bot owner.",
}

func warningText(key string) string {
	if msg, ok := warningMessages[key]; ok {
		return msg
	}
	return warnUnknownFallback
}

// checkRestrictions evaluates the global restriction rules in their fixed
// order. The first rule that trips wins; later rules are never consulted.
// A non-empty return is the tripped rule key.
func (p *Pipeline) checkRestrictions(ctx context.Context, gc *gateContext) string {
	if gc.user.Banned && !gc.isOwner {
		return ruleBanned
	}

	if !gc.isOwner && !gc.user.Premium && p.cfg.Cooldown > 0 {
		if !p.windows.Allow("cooldown:"+gc.user.ID, 1, p.cfg.Cooldown) {
			return ruleCooldown
		}
	}

	if gc.env.IsGroup && gc.group != nil && gc.group.Options.GameRestrict &&
		gc.def != nil && gc.def.Category == "game" {
		admin, err := p.senderIsAdmin(ctx, gc)
		if err == nil && !admin {
			return ruleGameRestrict
		}
	}

	if p.cfg.PrivatePremiumOnly && !gc.env.IsGroup && !gc.user.Premium && !gc.isOwner {
		return rulePrivatePremium
	}

	if p.cfg.RequireCommunityJoin && p.cfg.CommunityGroupJID != "" && !gc.isOwner {
		groups := p.sender.Groups(gc.bot.ID)
		if groups != nil {
			member, err := groups.IsMember(ctx, p.cfg.CommunityGroupJID, gc.env.SenderJID)
			// membership lookups fail open
			if err == nil && !member {
				return ruleCommunityJoin
			}
		}
	}

	if p.cfg.RequireGroupRental && gc.env.IsGroup && !gc.isOwner &&
		(gc.group == nil || !gc.group.Options.Rental) {
		return ruleGroupRental
	}

	if p.cfg.NightHoursEnabled && !gc.isOwner && !gc.user.Premium && p.isNight() {
		return ruleNightHours
	}

	return ""
}

// checkPermissions evaluates the per-command permission requirements in
// their fixed order: admin, botAdmin, coin, group, owner, premium,
// private, restrict. Coin deducts on pass (owner and premium bypass the
// charge inside CheckCoin).
func (p *Pipeline) checkPermissions(ctx context.Context, gc *gateContext) string {
	perms := gc.def.Permissions

	if perms.Admin && gc.env.IsGroup {
		admin, err := p.senderIsAdmin(ctx, gc)
		if err != nil {
			log.Warn().Err(err).Str("botId", gc.bot.ID).Msg("admin lookup failed, failing open")
		} else if !admin && !gc.isOwner {
			return permAdmin
		}
	}

	if perms.BotAdmin && gc.env.IsGroup {
		groups := p.sender.Groups(gc.bot.ID)
		if groups != nil {
			botAdmin, err := groups.IsBotAdmin(ctx, gc.env.ChatJID)
			if err != nil {
				log.Warn().Err(err).Str("botId", gc.bot.ID).Msg("bot-admin lookup failed, failing open")
			} else if !botAdmin {
				return permBotAdmin
			}
		}
	}

	if p.cfg.UseCoin && perms.Coin > 0 {
		if err := p.plan.CheckCoin(ctx, gc.user, perms.Coin, gc.isOwner); err != nil {
			return permCoin
		}
	}

	if perms.Group && !gc.env.IsGroup {
		return permGroup
	}

	if perms.Owner && !gc.isOwner {
		return permOwner
	}

	if perms.Premium && !gc.user.Premium && !gc.isOwner {
		return permPremium
	}

	if perms.Private && gc.env.IsGroup {
		return permPrivate
	}

	if perms.Restrict && p.cfg.GlobalRestrict && !gc.isOwner {
		return permRestrict
	}

	return ""
}

func (p *Pipeline) senderIsAdmin(ctx context.Context, gc *gateContext) (bool, error) {
	groups := p.sender.Groups(gc.bot.ID)
	if groups == nil {
		return false, nil
	}
	return groups.IsAdmin(ctx, gc.env.ChatJID, gc.env.SenderJID)
}

// isNight reports whether the configured local time falls inside the
// night window [start, end). A start after the end wraps past midnight.
func (p *Pipeline) isNight() bool {
	hour := p.now().In(p.cfg.Location).Hour()
	start, end := p.cfg.NightHoursStart, p.cfg.NightHoursEnd
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// suppressionOpen reports whether a full warning for the key was already
// sent within the suppression window.
func (p *Pipeline) suppressionOpen(gc *gateContext, key string, window time.Duration) bool {
	last, ok := gc.user.LastSentMsg[key]
	if !ok {
		return false
	}
	return p.now().Sub(last) < window
}
