package config

import "time"

// Config is the whole bot configuration. JSON is the native format; YAML
// files are accepted and coerced. All durations are Go duration strings
// (e.g. "500ms", "10s", "5m").
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Limits      LimitsConfig      `json:"limits"`
	Fetch       FetchConfig       `json:"fetch"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs are privileged identities: exempt from quotas and
	// cooldowns, allowed to use moderation commands, and the fallback
	// recipients when a channel is unreachable.
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// ChannelID is the public channel user posts are relayed to.
	ChannelID int64 `json:"channel_id"`
	// LogChannelID receives the audit mirror. 0 disables it.
	LogChannelID int64  `json:"log_channel_id,omitempty"`
	PollTimeout  string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/menfess.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// LimitsConfig holds the per-category daily limits and cooldowns.
// This block is hot-reloadable: editing it while the bot runs takes
// effect without a restart.
type LimitsConfig struct {
	Fetch     CategoryLimit `json:"fetch,omitempty"`
	MediaPost CategoryLimit `json:"media_post,omitempty"`
	TextPost  CategoryLimit `json:"text_post,omitempty"`
}

type CategoryLimit struct {
	DailyLimit int    `json:"daily_limit,omitempty"`
	Cooldown   string `json:"cooldown,omitempty"`
}

// FetchConfig controls the external fetch pipeline.
type FetchConfig struct {
	ToolPath       string `json:"tool_path,omitempty"`       // default "yt-dlp"
	MaxConcurrent  int    `json:"max_concurrent,omitempty"`  // default 1
	Timeout        string `json:"timeout,omitempty"`         // default "300s"
	MaxOutputBytes int64  `json:"max_output_bytes,omitempty"` // default 50 MiB
	ScratchDir     string `json:"scratch_dir,omitempty"`     // default os temp
}

type MaintenanceConfig struct {
	// PruneSchedule is a cron expression for the stale-row prune job.
	// Empty disables it.
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

// PollTimeoutDuration returns the parsed long-poll timeout with default.
func (c TelegramConfig) PollTimeoutDuration() (time.Duration, error) {
	return ParseDurationOrDefault("telegram.poll_timeout", c.PollTimeout, 10*time.Second)
}
