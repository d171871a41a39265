package bot

import (
	"context"
	"fmt"
	"html"

	kit "menfessbot/internal/transport"
	logx "menfessbot/pkg/logx"
)

const linkBanSeconds = 3600

// handleAntiLink removes link posts from non-admins in group chats and
// bans the sender for an hour.
func (r *Router) handleAntiLink(ctx context.Context, m *kit.Message) {
	if r.priv(m.FromID) {
		return
	}
	if admin, err := r.adapter.IsChatAdmin(ctx, m.ChatID, m.FromID); err == nil && admin {
		return
	}

	if err := r.adapter.DeleteMessage(ctx, kit.MessageRef{ChatID: m.ChatID, MessageID: m.ID}); err != nil {
		r.log.Debug("link message delete failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}

	if err := r.adapter.Ban(ctx, m.ChatID, m.FromID, linkBanSeconds); err != nil {
		r.log.Warn("link ban failed",
			logx.Int64("chat_id", m.ChatID), logx.Int64("user", m.FromID), logx.Err(err))
		return
	}
	text := fmt.Sprintf("🚫 %s diblokir 1 jam\nAlasan: Mengirim link", html.EscapeString(m.FromName))
	if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, text, &kit.SendOptions{ParseMode: "HTML"}); err != nil {
		r.log.Warn("link ban notice failed", logx.Err(err))
	}
}
