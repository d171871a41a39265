// Package bot routes incoming updates to the menfess relay, the fetch
// pipeline and the moderation handlers.
package bot

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"menfessbot/internal/fetch"
	"menfessbot/internal/quota"
	"menfessbot/internal/storage"
	kit "menfessbot/internal/transport"
	logx "menfessbot/pkg/logx"
)

type Config struct {
	ChannelID    int64
	LogChannelID int64
	OwnerIDs     []int64
}

type Router struct {
	cfg     Config
	adapter kit.Adapter
	store   storage.Store
	policy  *quota.AccessPolicy
	jobs    *fetch.Dispatcher
	direct  *fetch.DirectFetch
	priv    quota.Privileged
	log     logx.Logger

	// Channel reachability is probed once at startup. When the channel is
	// down, posts fall back to an owner DM.
	channelOK    bool
	logChannelOK bool
}

func NewRouter(cfg Config, adapter kit.Adapter, store storage.Store, policy *quota.AccessPolicy,
	jobs *fetch.Dispatcher, direct *fetch.DirectFetch, priv quota.Privileged, log logx.Logger) *Router {
	if priv == nil {
		priv = func(int64) bool { return false }
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cfg:     cfg,
		adapter: adapter,
		store:   store,
		policy:  policy,
		jobs:    jobs,
		direct:  direct,
		priv:    priv,
		log:     log,
	}
}

// ValidateChannels probes the configured channels so send failures later
// can take the fallback path immediately.
func (r *Router) ValidateChannels(ctx context.Context) {
	r.channelOK = r.adapter.Reachable(ctx, r.cfg.ChannelID)
	if !r.channelOK {
		r.log.Warn("channel not reachable at startup", logx.Int64("chat_id", r.cfg.ChannelID))
	}
	if r.cfg.LogChannelID != 0 {
		r.logChannelOK = r.adapter.Reachable(ctx, r.cfg.LogChannelID)
		if !r.logChannelOK {
			r.log.Warn("log channel not reachable at startup", logx.Int64("chat_id", r.cfg.LogChannelID))
		}
	}
}

// Run consumes updates until ctx ends. Each update is handled on its own
// goroutine: a fetch job blocks for minutes and must not starve other
// users' requests.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			go r.handle(ctx, up)
		}
	}
}

func (r *Router) handle(ctx context.Context, up kit.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("handler panicked",
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	switch up.Kind {
	case kit.UpdateUserJoined:
		if up.Joined != nil {
			r.handleJoined(ctx, up.Joined)
		}
	case kit.UpdateMessage:
		m := up.Message
		if m == nil || m.IsBot {
			return
		}
		if m.IsGroup {
			if m.HasLink {
				r.handleAntiLink(ctx, m)
			} else if isCommand(m.Text) {
				r.handleCommand(ctx, m)
			}
			return
		}
		if isCommand(m.Text) {
			r.handleCommand(ctx, m)
			return
		}
		r.handleMenfess(ctx, m)
	}
}

func isCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// splitCommand returns the command name (lowercased, bot-suffix stripped)
// and the remaining arguments.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return "", nil
	}
	cmd := strings.ToLower(fields[0])
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.TrimPrefix(cmd, "/"), fields[1:]
}

func (r *Router) handleCommand(ctx context.Context, m *kit.Message) {
	cmd, args := splitCommand(m.Text)
	switch cmd {
	case "help", "start":
		r.replyHelp(ctx, m)
	case "fetch":
		r.handleFetch(ctx, m, args)
	case "ban", "unban", "kick", "tag":
		r.handleModeration(ctx, m, cmd, args)
	default:
		r.reply(ctx, m, "❓ Perintah tidak dikenal. Coba /help.")
	}
}

func (r *Router) reply(ctx context.Context, m *kit.Message, text string) {
	if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, text, nil); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}

func (r *Router) ownerTarget() (kit.ChatTarget, bool) {
	if len(r.cfg.OwnerIDs) == 0 {
		return kit.ChatTarget{}, false
	}
	return kit.ChatTarget{ChatID: r.cfg.OwnerIDs[0]}, true
}

func (r *Router) audit(ctx context.Context, m *kit.Message, action, target string, ok bool, errStr string, took time.Duration) {
	e := storage.AuditEntry{
		At:       time.Now(),
		UserID:   m.FromID,
		Username: m.FromUsername,
		Action:   action,
		Target:   target,
		OK:       ok,
		Error:    errStr,
		TookMS:   took.Milliseconds(),
	}
	if err := r.store.AppendAudit(ctx, e); err != nil {
		r.log.Warn("audit append failed", logx.Err(err))
	}
}

func (r *Router) replyHelp(ctx context.Context, m *kit.Message) {
	r.reply(ctx, m, ""+
		"📚 Fitur Bot:\n\n"+
		"- Menfess via private: kirim teks/foto/video dengan tag #pria atau #wanita\n"+
		"- Limit menfess per hari: foto/video dan teks\n"+
		"- /fetch <url> [low|high|audio] untuk unduh media\n"+
		"- Moderation: /tag, /ban, /kick, /unban\n")
}
