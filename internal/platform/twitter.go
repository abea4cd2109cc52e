package platform

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"autopost/internal/account"
	"autopost/internal/content"
	"autopost/internal/failure"
	"autopost/internal/httpx"
)

const twitterAPI = "https://api.x.com/2"

// Twitter posts through the X API v2 with a user-context bearer token.
//
// Credentials: bearer_token.
type Twitter struct {
	api    string
	client *http.Client
}

func NewTwitter(apiURL string, timeout time.Duration) *Twitter {
	return &Twitter{api: strings.TrimRight(firstNonEmpty(apiURL, twitterAPI), "/"), client: httpx.NewClient(timeout)}
}

func (t *Twitter) Platform() string { return "twitter" }

func (t *Twitter) Capabilities() Capabilities {
	return Capabilities{MaxTextLen: 280, Formats: socialFormats, Credentials: []string{"bearer_token"}}
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (t *Twitter) Publish(ctx context.Context, acct account.Account, c content.Content) (Receipt, error) {
	if err := Check(t, acct, c); err != nil {
		return Receipt{}, err
	}
	var out tweetResponse
	err := httpx.Do(ctx, t.client, httpx.Request{
		URL:    t.api + "/tweets",
		Header: bearer(acct.Credential("twitter", "bearer_token")),
		JSON:   map[string]string{"text": content.Caption(c, t.Capabilities().MaxTextLen)},
	}, &out)
	if err != nil {
		return Receipt{}, classify(err)
	}
	if out.Data.ID == "" {
		return Receipt{}, failure.Publish(failure.Transient, failure.ReasonUpstream, errors.New("tweet id missing from response"))
	}
	handle := strings.TrimPrefix(acct.Handles["twitter"], "@")
	if handle == "" {
		handle = "i/web"
	}
	return Receipt{RemoteID: out.Data.ID, URL: "https://x.com/" + handle + "/status/" + out.Data.ID}, nil
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func classify(err error) error {
	return httpx.Classify(err, failure.Publish, failure.ReasonRejected)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
