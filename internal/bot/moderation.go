package bot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	kit "menfessbot/internal/transport"
	logx "menfessbot/pkg/logx"
)

const kickBanSeconds = 35 // just above Telegram's minimum, acts as a kick

// handleModeration runs the owner-only group commands. The target is the
// replied-to user or an explicit numeric id argument.
func (r *Router) handleModeration(ctx context.Context, m *kit.Message, cmd string, args []string) {
	if !r.priv(m.FromID) {
		r.reply(ctx, m, "❌ Perintah ini khusus admin.")
		return
	}

	target := int64(m.ReplyToID)
	if target == 0 && len(args) > 0 {
		if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
			target = id
		}
	}
	if target == 0 {
		r.reply(ctx, m, "ℹ️ Balas pesan target atau sebutkan user id.")
		return
	}

	start := time.Now()
	var err error
	switch cmd {
	case "ban":
		err = r.adapter.Ban(ctx, m.ChatID, target, 0)
	case "unban":
		err = r.adapter.Unban(ctx, m.ChatID, target)
	case "kick":
		err = r.adapter.Ban(ctx, m.ChatID, target, kickBanSeconds)
	case "tag":
		text := fmt.Sprintf("🔔 <a href=\"tg://user?id=%d\">Hey!</a>", target)
		_, err = r.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, text, &kit.SendOptions{ParseMode: "HTML"})
	}

	r.audit(ctx, m, "moderation."+cmd, strconv.FormatInt(target, 10), err == nil, errString(err), time.Since(start))
	if err != nil {
		r.log.Warn("moderation command failed",
			logx.String("cmd", cmd), logx.Int64("target", target), logx.Err(err))
		r.reply(ctx, m, "❌ Gagal menjalankan perintah.")
		return
	}
	r.reply(ctx, m, "✅ Selesai.")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
