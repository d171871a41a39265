package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"menfessbot/internal/fetch"
	"menfessbot/internal/quota"
	kit "menfessbot/internal/transport"
	logx "menfessbot/pkg/logx"
)

// handleFetch runs /fetch <url> [low|high|audio]. Direct image links
// take the synchronous path; everything else goes through the job
// dispatcher and may block for minutes, which is fine because every
// update is handled on its own goroutine.
func (r *Router) handleFetch(ctx context.Context, m *kit.Message, args []string) {
	if len(args) == 0 {
		r.reply(ctx, m, "ℹ️ Pakai: /fetch <url> [low|high|audio]")
		return
	}
	rawURL := args[0]
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		r.reply(ctx, m, "❌ URL tidak valid.")
		return
	}

	qualityArg := ""
	if len(args) > 1 {
		qualityArg = args[1]
	}
	q, err := fetch.ParseQuality(qualityArg)
	if err != nil {
		r.reply(ctx, m, "❌ Pilihan kualitas tidak dikenal. Pakai low, high, atau audio.")
		return
	}

	start := time.Now()
	reply := kit.ChatTarget{ChatID: m.ChatID}

	if fetch.IsDirectImageURL(rawURL) {
		err = r.direct.Fetch(ctx, m.FromID, rawURL, reply)
	} else {
		err = r.jobs.Submit(ctx, fetch.Request{
			UserID:  m.FromID,
			URL:     rawURL,
			Quality: q,
			Reply:   reply,
		})
	}
	took := time.Since(start)

	if err != nil {
		r.audit(ctx, m, "fetch", rawURL, false, err.Error(), took)
		r.replyFetchError(ctx, m, err)
		return
	}
	r.audit(ctx, m, "fetch", rawURL, true, "", took)
}

func (r *Router) replyFetchError(ctx context.Context, m *kit.Message, err error) {
	switch {
	case errors.Is(err, fetch.ErrAlreadyRunning):
		r.reply(ctx, m, "⏳ Masih ada unduhan yang berjalan. Tunggu sampai selesai ya.")
	case errors.Is(err, fetch.ErrCapabilityUnavailable):
		r.reply(ctx, m, "❌ Fitur ini tidak tersedia di server saat ini.")
	case fetch.IsOversized(err):
		r.reply(ctx, m, "❌ File hasil unduhan terlalu besar untuk dikirim (maks 50 MB).")
	case quota.IsCooldown(err) || quota.IsExceeded(err):
		var ra quota.RetryAfterError
		if errors.As(err, &ra) {
			if quota.IsCooldown(err) {
				r.reply(ctx, m, fmt.Sprintf("🕐 Pelan-pelan ya.\n⏳ Coba lagi dalam %s", humanTime(ra.RetryAfter())))
			} else {
				r.reply(ctx, m, fmt.Sprintf("😅 Kuota unduh hari ini sudah habis.\n⏳ Reset dalam %s", humanTime(ra.RetryAfter())))
			}
			return
		}
		r.reply(ctx, m, "❌ Permintaan ditolak. Coba lagi nanti.")
	default:
		// Timeout, tool failure and delivery failure all look the same to
		// the user; detail goes to the log.
		r.log.Warn("fetch failed", logx.Int64("user", m.FromID), logx.Err(err))
		r.reply(ctx, m, "❌ Gagal mengunduh media. Silakan coba lagi.")
	}
}
