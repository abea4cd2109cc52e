package notifier

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"autopost/internal/httpx"
	logx "autopost/pkg/logx"
	"autopost/pkg/tgui"
)

// Sender delivers one alert text.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Telegram sends alerts to one chat (and optional topic) through the Bot
// API.
type Telegram struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
}

func NewTelegram(cfg Config) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("notifier token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notifier chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Token:   cfg.Token,
		Client:  httpx.NewClient(10 * time.Second),
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, threadID: cfg.ThreadID}, nil
}

// Send renders text as an HTML card, first line in bold, cut to the
// message limit.
func (t *Telegram) Send(ctx context.Context, text string) error {
	opt := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true, ThreadID: t.threadID}
	msg := tgui.TextCard(text).Render(tgui.MessageLimit).String()
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(t.chat, msg, opt)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSender writes alerts to the log. It is the fallback when no chat is
// configured.
type LogSender struct {
	Log logx.Logger
}

func (l LogSender) Send(_ context.Context, text string) error {
	l.Log.Warn("operator alert", logx.String("text", text))
	return nil
}
