// Package telegram adapts the transport kit to the Telegram Bot API via
// telebot's long poller.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	rtsup "menfessbot/internal/runtime/supervisor"
	kit "menfessbot/internal/transport"
	logx "menfessbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendRatePerSec caps outbound API calls. Telegram throttles bots
	// around 30 messages/second globally.
	SendRatePerSec int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	limiter *rate.Limiter

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	// droppedUpdates counts updates the consumer was too slow to take.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.SendRatePerSec
	if rps <= 0 {
		rps = 25
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel; Start() may swap it.
	onMessage := func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: messageFrom(m)})
		return nil
	}
	a.bot.Handle(tele.OnText, onMessage)
	a.bot.Handle(tele.OnPhoto, onMessage)
	a.bot.Handle(tele.OnVideo, onMessage)

	a.bot.Handle(tele.OnUserJoined, func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		users := m.UsersJoined
		if len(users) == 0 && m.UserJoined != nil {
			users = []tele.User{*m.UserJoined}
		}
		joined := &kit.Joined{ChatID: m.Chat.ID, MessageID: m.ID}
		for i := range users {
			joined.Users = append(joined.Users, kit.JoinedUser{
				ID:    users[i].ID,
				Name:  users[i].FirstName,
				IsBot: users[i].IsBot,
			})
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateUserJoined, Joined: joined})
		return nil
	})
}

func messageFrom(m *tele.Message) *kit.Message {
	msg := &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		FromName:     m.Sender.FirstName,
		Text:         m.Text,
		IsGroup:      m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
		IsBot:        m.Sender.IsBot,
	}
	switch {
	case m.Photo != nil:
		msg.Media = kit.MediaPhoto
		msg.MediaID = m.Photo.FileID
		msg.Text = m.Caption
	case m.Video != nil:
		msg.Media = kit.MediaVideo
		msg.MediaID = m.Video.FileID
		msg.Text = m.Caption
	}
	for _, e := range append(m.Entities, m.CaptionEntities...) {
		if e.Type == tele.EntityURL || e.Type == tele.EntityTextLink {
			msg.HasLink = true
			break
		}
	}
	if m.ReplyTo != nil && m.ReplyTo.Sender != nil {
		msg.ReplyToID = int(m.ReplyTo.Sender.ID)
	}
	return msg
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, a.log.With(logx.String("comp", "telegram.adapter")))
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary for dropped updates (avoid per-update log spam).
	sup.Go("updates.drop_report", func(c context.Context) error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return nil
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)",
						logx.Any("count", n))
				}
			}
		}
	})

	sup.Go("telebot.stop_on_cancel", func(c context.Context) error {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
		return nil
	})

	sup.Go("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop()
		a.log.Info("polling stopped")
		return nil
	})

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}

	// Keep shutdown snappy even if a getUpdates long-poll is still open.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	if sup != nil {
		if err := sup.Stop(grace); err != nil {
			a.log.Warn("telegram stop timed out", logx.Err(err))
		}
	}
	return nil
}
