package transport

import "context"

type UpdateKind string

const (
	UpdateMessage    UpdateKind = "message"
	UpdateUserJoined UpdateKind = "user_joined"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Joined  *Joined
}

// MediaKind classifies the inbound attachment of a message, if any.
type MediaKind string

const (
	MediaNone  MediaKind = ""
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	FromName     string
	Text         string // text or caption
	Media        MediaKind
	MediaID      string // platform file id, usable for re-sending
	HasLink      bool
	IsGroup      bool
	IsBot        bool

	// ReplyToID is the user id of the replied-to message's sender (0 if none).
	// Moderation commands operate on it.
	ReplyToID int
}

type Joined struct {
	ChatID    int64
	MessageID int
	Users     []JoinedUser
}

type JoinedUser struct {
	ID    int64
	Name  string
	IsBot bool
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string // "HTML" or empty
	DisablePreview bool
}

// FileKind selects the delivery method for a fetched artifact.
type FileKind string

const (
	FileVideo    FileKind = "video"
	FileAudio    FileKind = "audio"
	FileImage    FileKind = "image"
	FileDocument FileKind = "document"
)

// Adapter is the messaging transport used by the bot layer.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// SendMedia re-sends a platform-hosted attachment by its file id.
	SendMedia(ctx context.Context, to ChatTarget, kind MediaKind, mediaID, caption string) (MessageRef, error)
	// SendFile uploads a local file. Used by the fetch pipeline for delivery.
	SendFile(ctx context.Context, to ChatTarget, path string, kind FileKind, caption string) (MessageRef, error)

	DeleteMessage(ctx context.Context, ref MessageRef) error
	Ban(ctx context.Context, chatID, userID int64, forSeconds int64) error
	Unban(ctx context.Context, chatID, userID int64) error
	// IsChatAdmin reports whether the user administrates the group chat.
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)

	// Reachable reports whether the bot can access the given chat.
	// Used at startup to validate the channel and log channel.
	Reachable(ctx context.Context, chatID int64) bool
}

// Deliverer is the slice of Adapter the fetch pipeline needs.
type Deliverer interface {
	SendFile(ctx context.Context, to ChatTarget, path string, kind FileKind, caption string) (MessageRef, error)
}
