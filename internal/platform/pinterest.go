package platform

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"autopost/internal/account"
	"autopost/internal/content"
	"autopost/internal/failure"
	"autopost/internal/httpx"
)

const pinterestAPI = "https://api.pinterest.com/v5"

// Pinterest creates an image pin on a board.
//
// Credentials: access_token, board_id.
type Pinterest struct {
	api    string
	client *http.Client
}

func NewPinterest(apiURL string, timeout time.Duration) *Pinterest {
	return &Pinterest{api: strings.TrimRight(firstNonEmpty(apiURL, pinterestAPI), "/"), client: httpx.NewClient(timeout)}
}

func (p *Pinterest) Platform() string { return "pinterest" }

func (p *Pinterest) Capabilities() Capabilities {
	return Capabilities{
		MaxTextLen:    500,
		Formats:       socialFormats,
		Images:        true,
		RequiresImage: true,
		Credentials:   []string{"access_token", "board_id"},
	}
}

type pinRequest struct {
	BoardID     string         `json:"board_id"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description"`
	Link        string         `json:"link,omitempty"`
	MediaSource pinMediaSource `json:"media_source"`
}

type pinMediaSource struct {
	SourceType string `json:"source_type"`
	URL        string `json:"url"`
}

func (p *Pinterest) Publish(ctx context.Context, acct account.Account, c content.Content) (Receipt, error) {
	if err := Check(p, acct, c); err != nil {
		return Receipt{}, err
	}
	desc := c
	desc.Link = ""
	req := pinRequest{
		BoardID:     acct.Credential("pinterest", "board_id"),
		Title:       pinTitle(c),
		Description: content.Caption(desc, p.Capabilities().MaxTextLen),
		Link:        c.Link,
		MediaSource: pinMediaSource{SourceType: "image_url", URL: c.ImageURL},
	}
	var out struct {
		ID string `json:"id"`
	}
	err := httpx.Do(ctx, p.client, httpx.Request{
		URL:    p.api + "/pins",
		Header: bearer(acct.Credential("pinterest", "access_token")),
		JSON:   req,
	}, &out)
	if err != nil {
		return Receipt{}, classify(err)
	}
	if out.ID == "" {
		return Receipt{}, failure.Publish(failure.Transient, failure.ReasonUpstream, errors.New("pin id missing from response"))
	}
	return Receipt{RemoteID: out.ID, URL: "https://www.pinterest.com/pin/" + out.ID + "/"}, nil
}

// pinTitle uses the content title, else the first line of the body, capped
// at 100 runes.
func pinTitle(c content.Content) string {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		title, _, _ = strings.Cut(strings.TrimSpace(c.Body), "\n")
	}
	if utf8.RuneCountInString(title) > 100 {
		title = string([]rune(title)[:99]) + "…"
	}
	return title
}
