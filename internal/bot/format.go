package bot

import (
	"fmt"
	"strings"
	"time"
)

const (
	captionLimit = 1024
	textLimit    = 4096
)

// humanTime renders a wait duration the way users read it.
func humanTime(d time.Duration) string {
	s := int(d.Seconds())
	h := s / 3600
	m := (s % 3600) / 60
	if h > 0 {
		return fmt.Sprintf("%d jam %d menit", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%d menit", m)
	}
	return "beberapa detik"
}

// safeCaption strips NUL bytes and truncates to the media caption limit.
func safeCaption(text string) string {
	return clampText(text, captionLimit)
}

// safeText strips NUL bytes and truncates to the message limit.
func safeText(text string) string {
	return clampText(text, textLimit)
}

func clampText(text string, limit int) string {
	t := strings.ReplaceAll(text, "\x00", "")
	rs := []rune(t)
	if len(rs) > limit {
		return string(rs[:limit])
	}
	return t
}
