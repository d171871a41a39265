package bot

import (
	"context"
	"fmt"
	"html"

	kit "menfessbot/internal/transport"
	logx "menfessbot/pkg/logx"
)

// handleJoined greets first-time members and removes the join service
// message. The welcomed set is persisted so restarts do not re-greet.
func (r *Router) handleJoined(ctx context.Context, j *kit.Joined) {
	if err := r.adapter.DeleteMessage(ctx, kit.MessageRef{ChatID: j.ChatID, MessageID: j.MessageID}); err != nil {
		r.log.Debug("join message delete failed", logx.Int64("chat_id", j.ChatID), logx.Err(err))
	}

	for _, u := range j.Users {
		if u.IsBot {
			continue
		}
		seen, err := r.store.WasWelcomed(ctx, u.ID, j.ChatID)
		if err != nil {
			r.log.Warn("welcome lookup failed", logx.Int64("user", u.ID), logx.Err(err))
			continue
		}
		if seen {
			continue
		}
		if err := r.store.MarkWelcomed(ctx, u.ID, j.ChatID); err != nil {
			r.log.Warn("welcome mark failed", logx.Int64("user", u.ID), logx.Err(err))
		}
		text := fmt.Sprintf("👋 Selamat datang %s!", html.EscapeString(u.Name))
		if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: j.ChatID}, text, &kit.SendOptions{ParseMode: "HTML"}); err != nil {
			r.log.Warn("welcome send failed", logx.Int64("chat_id", j.ChatID), logx.Err(err))
		}
	}
}
