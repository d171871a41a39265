package telegram

import (
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "menfessbot/internal/transport"
	logx "menfessbot/pkg/logx"
)

func TestMessageFromText(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		ID:     10,
		Chat:   &tele.Chat{ID: 55, Type: tele.ChatPrivate},
		Sender: &tele.User{ID: 7, Username: "alice", FirstName: "Alice"},
		Text:   "halo #pria",
	}
	got := messageFrom(m)
	if got.ID != 10 || got.ChatID != 55 || got.FromID != 7 {
		t.Fatalf("ids = %+v", got)
	}
	if got.Text != "halo #pria" || got.Media != kit.MediaNone {
		t.Fatalf("text/media = %q/%q", got.Text, got.Media)
	}
	if got.IsGroup || got.IsBot || got.HasLink {
		t.Fatalf("flags = %+v", got)
	}
}

func TestMessageFromPhotoCaption(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		ID:      11,
		Chat:    &tele.Chat{ID: 55, Type: tele.ChatPrivate},
		Sender:  &tele.User{ID: 7},
		Caption: "caption #wanita",
		Photo:   &tele.Photo{File: tele.File{FileID: "ph-1"}},
	}
	got := messageFrom(m)
	if got.Media != kit.MediaPhoto || got.MediaID != "ph-1" {
		t.Fatalf("media = %q id = %q", got.Media, got.MediaID)
	}
	if got.Text != "caption #wanita" {
		t.Fatalf("caption should become Text, got %q", got.Text)
	}
}

func TestMessageFromGroupLink(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		ID:       12,
		Chat:     &tele.Chat{ID: -100500, Type: tele.ChatSuperGroup},
		Sender:   &tele.User{ID: 7},
		Text:     "check http://spam.example",
		Entities: []tele.MessageEntity{{Type: tele.EntityURL, Offset: 6, Length: 23}},
	}
	got := messageFrom(m)
	if !got.IsGroup {
		t.Fatal("supergroup message should be marked group")
	}
	if !got.HasLink {
		t.Fatal("URL entity should set HasLink")
	}
}

func TestMessageFromReplyTarget(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		ID:      13,
		Chat:    &tele.Chat{ID: -100500, Type: tele.ChatGroup},
		Sender:  &tele.User{ID: 7},
		Text:    "/kick",
		ReplyTo: &tele.Message{Sender: &tele.User{ID: 42}},
	}
	got := messageFrom(m)
	if got.ReplyToID != 42 {
		t.Fatalf("ReplyToID = %d, want 42", got.ReplyToID)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
