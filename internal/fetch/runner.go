package fetch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	logx "menfessbot/pkg/logx"
)

// Quality selects the output variant requested from the fetch tool.
type Quality string

const (
	QualityLow   Quality = "low"
	QualityHigh  Quality = "high"
	QualityAudio Quality = "audio"
)

// ParseQuality maps user input to a Quality, defaulting to high.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "high":
		return QualityHigh, nil
	case "low":
		return QualityLow, nil
	case "audio", "mp3":
		return QualityAudio, nil
	default:
		return "", fmt.Errorf("unknown quality %q", s)
	}
}

// Runner invokes the external fetch/transcode step. It writes zero or
// more files under dir; nothing else about its output is relied upon.
type Runner interface {
	Fetch(ctx context.Context, url string, quality Quality, dir string) error
	// Supports reports whether the host has the optional tooling the
	// given quality needs. Checked before admission.
	Supports(quality Quality) bool
}

// ToolRunner shells out to a yt-dlp style downloader.
type ToolRunner struct {
	path string
	log  logx.Logger

	// killWait bounds how long Fetch keeps waiting for the process after
	// a kill. Past it the wait is abandoned; cleanup proceeds regardless.
	killWait time.Duration
}

func NewToolRunner(path string, log logx.Logger) *ToolRunner {
	if strings.TrimSpace(path) == "" {
		path = "yt-dlp"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ToolRunner{path: path, log: log, killWait: 5 * time.Second}
}

// Available reports whether the fetch tool itself is installed.
func (r *ToolRunner) Available() bool {
	_, err := exec.LookPath(r.path)
	return err == nil
}

func (r *ToolRunner) Supports(quality Quality) bool {
	if quality != QualityAudio {
		return true
	}
	// Audio extraction transcodes via ffmpeg.
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

func (r *ToolRunner) args(url string, quality Quality, dir string) []string {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--no-warnings",
		"-o", filepath.Join(dir, "%(title).80s.%(ext)s"),
	}
	switch quality {
	case QualityLow:
		args = append(args, "-f", "best[height<=480]/best")
	case QualityAudio:
		args = append(args, "-x", "--audio-format", "mp3")
	default:
		args = append(args, "-f", "bestvideo*+bestaudio/best")
	}
	return append(args, url)
}

// Fetch blocks until the tool exits, the context ends, or the kill wait
// is exhausted. Cancellation is best-effort: the process group gets
// SIGKILL, but the tool may linger; the caller proceeds to cleanup
// either way.
func (r *ToolRunner) Fetch(ctx context.Context, url string, quality Quality, dir string) error {
	cmd := exec.Command(r.path, r.args(url, quality, dir)...)
	setProcGroup(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", r.path, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: %w (%s)", r.path, err, stderrTail(&stderr))
		}
		r.log.Debug("fetch tool finished",
			logx.String("url", url),
			logx.Duration("took", time.Since(start)),
		)
		return nil
	case <-ctx.Done():
		killProcGroup(cmd)
		select {
		case <-done:
		case <-time.After(r.killWait):
			r.log.Warn("fetch tool did not exit after kill, abandoning wait",
				logx.String("url", url),
			)
		}
		return ctx.Err()
	}
}

func stderrTail(b *bytes.Buffer) string {
	s := strings.TrimSpace(b.String())
	if len(s) > 300 {
		s = s[len(s)-300:]
	}
	if s == "" {
		return "no stderr"
	}
	return s
}
