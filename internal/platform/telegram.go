package platform

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"autopost/internal/account"
	"autopost/internal/content"
	"autopost/internal/failure"
	"autopost/internal/httpx"
	"autopost/pkg/tgui"
)

// Telegram posts to a channel or group through a bot.
//
// Credentials: bot_token, chat_id (numeric id or @channelname).
type Telegram struct {
	api     string
	timeout time.Duration

	mu   sync.Mutex
	bots map[string]*tele.Bot
}

func NewTelegram(apiURL string, timeout time.Duration) *Telegram {
	return &Telegram{api: strings.TrimRight(apiURL, "/"), timeout: timeout, bots: map[string]*tele.Bot{}}
}

func (t *Telegram) Platform() string { return "telegram" }

func (t *Telegram) Capabilities() Capabilities {
	return Capabilities{
		MaxTextLen:  tgui.MessageLimit,
		Formats:     socialFormats,
		Images:      true,
		Credentials: []string{"bot_token", "chat_id"},
	}
}

// bot returns a cached offline bot for token; offline skips the getMe
// round trip at construction.
func (t *Telegram) bot(token string) (*tele.Bot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.bots[token]; ok {
		return b, nil
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     t.api,
		Token:   token,
		Client:  httpx.NewClient(t.timeout),
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	t.bots[token] = b
	return b, nil
}

// channel is a public chat addressed by @username.
type channel string

func (c channel) Recipient() string { return string(c) }

func recipient(chatID string) tele.Recipient {
	chatID = strings.TrimSpace(chatID)
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return tele.ChatID(id)
	}
	if !strings.HasPrefix(chatID, "@") {
		chatID = "@" + chatID
	}
	return channel(chatID)
}

func (t *Telegram) Publish(ctx context.Context, acct account.Account, c content.Content) (Receipt, error) {
	if err := Check(t, acct, c); err != nil {
		return Receipt{}, err
	}
	b, err := t.bot(acct.Credential("telegram", "bot_token"))
	if err != nil {
		return Receipt{}, failure.Publish(failure.Permanent, failure.ReasonAuth, err)
	}
	chatID := acct.Credential("telegram", "chat_id")

	var what any
	if c.ImageURL != "" {
		what = &tele.Photo{File: tele.FromURL(c.ImageURL), Caption: content.Caption(c, tgui.CaptionLimit)}
	} else {
		what = content.Caption(c, tgui.MessageLimit)
	}
	opt := &tele.SendOptions{}
	if c.Link != "" {
		opt.ReplyMarkup = tgui.NewInline().Row(tgui.URLBtn("Read more", c.Link)).Markup()
	}

	// telebot calls carry no context; the client timeout bounds the call
	// and ctx only stops the wait.
	type result struct {
		msg *tele.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := b.Send(recipient(chatID), what, opt)
		done <- result{msg, err}
	}()
	var res result
	select {
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return Receipt{}, classifyTelegram(res.err)
	}
	if res.msg == nil {
		return Receipt{}, failure.Publish(failure.Transient, failure.ReasonUpstream, errors.New("message missing from response"))
	}

	r := Receipt{RemoteID: strconv.Itoa(res.msg.ID)}
	if strings.HasPrefix(strings.TrimSpace(chatID), "@") {
		r.URL = "https://t.me/" + strings.TrimPrefix(strings.TrimSpace(chatID), "@") + "/" + r.RemoteID
	}
	return r, nil
}

func classifyTelegram(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return failure.WithRetryAfter(
			failure.Publish(failure.Transient, failure.ReasonRateLimited, err),
			time.Duration(flood.RetryAfter)*time.Second,
		)
	}
	var te *tele.Error
	if errors.As(err, &te) {
		switch {
		case te.Code == http.StatusUnauthorized || te.Code == http.StatusForbidden:
			return failure.Publish(failure.Permanent, failure.ReasonAuth, err)
		case te.Code >= 400 && te.Code < 500:
			return failure.Publish(failure.Permanent, failure.ReasonRejected, err)
		default:
			return failure.Publish(failure.Transient, failure.ReasonUpstream, err)
		}
	}
	return classify(err)
}
