package fetch

import (
	"path/filepath"
	"strings"

	"menfessbot/internal/transport"
	logx "menfessbot/pkg/logx"
)

// State is the lifecycle of one fetch job. Failed is reachable from every
// non-terminal state; Completed and Failed are terminal.
type State int

const (
	StateIdle State = iota
	StateAdmitted
	StateFetching
	StateValidating
	StateDelivering
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAdmitted:
		return "admitted"
	case StateFetching:
		return "fetching"
	case StateValidating:
		return "validating"
	case StateDelivering:
		return "delivering"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// job is the in-memory state of one dispatch. It exists only for the
// duration of a single Submit call and is owned exclusively by the
// dispatcher.
type job struct {
	id     string
	userID int64
	url    string
	state  State
	log    logx.Logger
}

func (j *job) to(s State) {
	j.log.Debug("job state",
		logx.String("job", j.id),
		logx.Int64("user", j.userID),
		logx.String("from", j.state.String()),
		logx.String("to", s.String()),
	)
	j.state = s
}

// kindForPath maps an output file extension to a delivery method.
func kindForPath(path string) transport.FileKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".mkv", ".webm", ".mov", ".avi":
		return transport.FileVideo
	case ".mp3", ".m4a", ".ogg", ".opus", ".flac", ".wav":
		return transport.FileAudio
	case ".jpg", ".jpeg", ".png", ".webp":
		return transport.FileImage
	default:
		return transport.FileDocument
	}
}

// IsDirectImageURL reports whether a URL points straight at an image
// file. Such inputs skip the job dispatcher and take the direct path.
func IsDirectImageURL(rawURL string) bool {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	switch strings.ToLower(filepath.Ext(u)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}
