package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"menfessbot/internal/quota"
	kit "menfessbot/internal/transport"
	logx "menfessbot/pkg/logx"
)

var genderTags = []string{"#pria", "#wanita"}

// findGender extracts the required gender tag from a post, or "".
func findGender(text string) string {
	lower := strings.ToLower(text)
	for _, tag := range genderTags {
		if strings.Contains(lower, tag) {
			return strings.TrimPrefix(tag, "#")
		}
	}
	return ""
}

// handleMenfess relays an admitted private post to the public channel.
// The charge is reserved up front and rolled back unless the post
// actually reached the channel.
func (r *Router) handleMenfess(ctx context.Context, m *kit.Message) {
	start := time.Now()

	gender := findGender(m.Text)
	if gender == "" {
		r.reply(ctx, m, "❌ Post ditolak.\nWajib pakai #pria atau #wanita")
		return
	}

	cat := quota.CategoryTextPost
	kindLabel := "teks"
	if m.Media != kit.MediaNone {
		cat = quota.CategoryMediaPost
		kindLabel = "foto/video"
	}

	res, err := r.policy.Decide(ctx, m.FromID, cat)
	if err != nil {
		r.replyDenied(ctx, m, kindLabel, err)
		return
	}

	// Gender is sticky: the first tagged post fixes it for the account.
	if prev, found, gerr := r.store.Gender(ctx, m.FromID); gerr == nil && found && prev != gender {
		r.policy.Abort(ctx, res)
		r.reply(ctx, m, fmt.Sprintf("❌ Post ditolak.\nGender akun kamu sudah tercatat sebagai #%s.", prev))
		return
	} else if gerr != nil {
		r.log.Warn("gender lookup failed", logx.Int64("user", m.FromID), logx.Err(gerr))
	} else if !found {
		if serr := r.store.SetGender(ctx, m.FromID, m.FromUsername, gender); serr != nil {
			r.log.Warn("gender persist failed", logx.Int64("user", m.FromID), logx.Err(serr))
		}
	}

	if err := r.relayToChannel(ctx, m); err != nil {
		r.policy.Abort(ctx, res)
		r.audit(ctx, m, "menfess."+string(cat), "", false, err.Error(), time.Since(start))
		r.notifyOwnerFallback(ctx, m, gender)
		r.reply(ctx, m, "⚠️ Posting ke channel gagal; admin telah diberitahu.")
		return
	}

	if err := r.policy.Finish(ctx, res); err != nil {
		r.log.Warn("cooldown mark failed after post", logx.Int64("user", m.FromID), logx.Err(err))
	}
	r.audit(ctx, m, "menfess."+string(cat), "", true, "", time.Since(start))
	r.mirrorToLogChannel(ctx, m, gender)
	r.reply(ctx, m, "✅ Post berhasil dikirim.")
}

func (r *Router) relayToChannel(ctx context.Context, m *kit.Message) error {
	if !r.channelOK {
		return errors.New("channel unavailable")
	}
	to := kit.ChatTarget{ChatID: r.cfg.ChannelID}
	if m.Media != kit.MediaNone {
		_, err := r.adapter.SendMedia(ctx, to, m.Media, m.MediaID, safeCaption(m.Text))
		return err
	}
	_, err := r.adapter.SendText(ctx, to, safeText(m.Text), &kit.SendOptions{DisablePreview: true})
	return err
}

// replyDenied renders quota/cooldown denials with the wait left.
func (r *Router) replyDenied(ctx context.Context, m *kit.Message, kindLabel string, err error) {
	var cd *quota.CooldownError
	if errors.As(err, &cd) {
		r.reply(ctx, m, fmt.Sprintf("🕐 Pelan-pelan ya.\n⏳ Coba lagi dalam %s", humanTime(cd.After)))
		return
	}
	var ex *quota.ExceededError
	if errors.As(err, &ex) {
		r.reply(ctx, m, fmt.Sprintf("😅 Kuota kirim %s hari ini sudah habis.\n⏳ Reset dalam %s", kindLabel, humanTime(ex.After)))
		return
	}
	r.log.Error("admission failed", logx.Int64("user", m.FromID), logx.Err(err))
	r.reply(ctx, m, "❌ Gagal memproses. Silakan coba lagi.")
}

// notifyOwnerFallback DMs the first owner when the channel is down, so
// the post content is not lost silently.
func (r *Router) notifyOwnerFallback(ctx context.Context, m *kit.Message, gender string) {
	owner, ok := r.ownerTarget()
	if !ok {
		return
	}
	content := safeText(m.Text)
	if m.Media != kit.MediaNone {
		content = "(media attached)"
	}
	text := fmt.Sprintf(
		"[FALLBACK] Failed to post to channel (%d).\nUser: @%s (id: %d)\nGender: #%s\n\nContent:\n%s",
		r.cfg.ChannelID, m.FromUsername, m.FromID, gender, content,
	)
	if _, err := r.adapter.SendText(ctx, owner, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		r.log.Error("owner fallback notify failed", logx.Err(err))
	}
}

// mirrorToLogChannel posts the audit header + content to the log
// channel, falling back to an owner DM.
func (r *Router) mirrorToLogChannel(ctx context.Context, m *kit.Message, gender string) {
	name := m.FromName
	if name == "" {
		name = "-"
	}
	username := "(no username)"
	if m.FromUsername != "" {
		username = "@" + m.FromUsername
	}
	header := fmt.Sprintf(
		"👤 <b>Nama:</b> %s\n🔗 <b>Username:</b> %s\n🆔 <b>User ID:</b> <code>%d</code>\n⚧ <b>Gender:</b> #%s\n\n%s",
		html.EscapeString(name), html.EscapeString(username), m.FromID,
		html.EscapeString(gender), html.EscapeString(safeCaption(m.Text)),
	)
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

	if r.logChannelOK {
		to := kit.ChatTarget{ChatID: r.cfg.LogChannelID}
		var err error
		if m.Media != kit.MediaNone {
			_, err = r.adapter.SendMedia(ctx, to, m.Media, m.MediaID, safeCaption(header))
		} else {
			_, err = r.adapter.SendText(ctx, to, header, opt)
		}
		if err == nil {
			return
		}
		r.log.Warn("log channel mirror failed", logx.Err(err))
	}
	if owner, ok := r.ownerTarget(); ok {
		if _, err := r.adapter.SendText(ctx, owner, "[LOG] "+header, opt); err != nil {
			r.log.Warn("log fallback to owner failed", logx.Err(err))
		}
	}
}
