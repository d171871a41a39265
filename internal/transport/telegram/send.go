package telegram

import (
	"context"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "menfessbot/internal/transport"
)

func sendOptions(opt *kit.SendOptions) *tele.SendOptions {
	if opt == nil {
		return nil
	}
	o := &tele.SendOptions{DisableWebPagePreview: opt.DisablePreview}
	if opt.ParseMode != "" {
		o.ParseMode = opt.ParseMode
	}
	return o
}

func (a *Adapter) wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := a.wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	m, err := a.bot.Send(tele.ChatID(to.ChatID), text, sendOptions(opt))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: m.ID}, nil
}

// SendMedia re-sends a platform-hosted attachment by file id, so relayed
// posts never transit through this host.
func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, kind kit.MediaKind, mediaID, caption string) (kit.MessageRef, error) {
	if err := a.wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	var what any
	switch kind {
	case kit.MediaPhoto:
		what = &tele.Photo{File: tele.File{FileID: mediaID}, Caption: caption}
	case kit.MediaVideo:
		what = &tele.Video{File: tele.File{FileID: mediaID}, Caption: caption}
	default:
		return a.SendText(ctx, to, caption, nil)
	}
	m, err := a.bot.Send(tele.ChatID(to.ChatID), what)
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: m.ID}, nil
}

func (a *Adapter) SendFile(ctx context.Context, to kit.ChatTarget, path string, kind kit.FileKind, caption string) (kit.MessageRef, error) {
	if err := a.wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	f := tele.FromDisk(path)
	var what any
	switch kind {
	case kit.FileVideo:
		what = &tele.Video{File: f, Caption: caption}
	case kit.FileAudio:
		what = &tele.Audio{File: f, Caption: caption}
	case kit.FileImage:
		what = &tele.Photo{File: f, Caption: caption}
	default:
		what = &tele.Document{File: f, Caption: caption}
	}
	m, err := a.bot.Send(tele.ChatID(to.ChatID), what)
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: m.ID}, nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	return a.bot.Delete(&tele.StoredMessage{
		MessageID: strconv.Itoa(ref.MessageID),
		ChatID:    ref.ChatID,
	})
}

func (a *Adapter) Ban(ctx context.Context, chatID, userID int64, forSeconds int64) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	member := &tele.ChatMember{User: &tele.User{ID: userID}}
	if forSeconds > 0 {
		member.RestrictedUntil = time.Now().Unix() + forSeconds
	}
	return a.bot.Ban(&tele.Chat{ID: chatID}, member)
}

func (a *Adapter) Unban(ctx context.Context, chatID, userID int64) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	return a.bot.Unban(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
}

func (a *Adapter) IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := a.wait(ctx); err != nil {
		return false, err
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return false, err
	}
	return m.Role == tele.Administrator || m.Role == tele.Creator, nil
}

// Reachable probes a chat id. Used at startup so the bot knows whether
// the channel and the log channel can be posted to.
func (a *Adapter) Reachable(ctx context.Context, chatID int64) bool {
	if chatID == 0 {
		return false
	}
	if err := a.wait(ctx); err != nil {
		return false
	}
	_, err := a.bot.ChatByID(chatID)
	return err == nil
}
