package platform

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"autopost/internal/account"
	"autopost/internal/content"
	"autopost/internal/failure"
	"autopost/internal/httpx"
)

const graphAPI = "https://graph.facebook.com/v19.0"

type graphID struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
}

// Facebook posts to a page feed, or as a photo when the content has an
// image.
//
// Credentials: page_id, access_token.
type Facebook struct {
	api    string
	client *http.Client
}

func NewFacebook(apiURL string, timeout time.Duration) *Facebook {
	return &Facebook{api: strings.TrimRight(firstNonEmpty(apiURL, graphAPI), "/"), client: httpx.NewClient(timeout)}
}

func (f *Facebook) Platform() string { return "facebook" }

func (f *Facebook) Capabilities() Capabilities {
	return Capabilities{
		MaxTextLen:  63206,
		Formats:     socialFormats,
		Images:      true,
		Credentials: []string{"page_id", "access_token"},
	}
}

func (f *Facebook) Publish(ctx context.Context, acct account.Account, c content.Content) (Receipt, error) {
	if err := Check(f, acct, c); err != nil {
		return Receipt{}, err
	}
	page := acct.Credential("facebook", "page_id")
	form := url.Values{"access_token": {acct.Credential("facebook", "access_token")}}
	target := f.api + "/" + url.PathEscape(page)
	if c.ImageURL != "" {
		target += "/photos"
		form.Set("url", c.ImageURL)
		form.Set("caption", content.Caption(c, f.Capabilities().MaxTextLen))
	} else {
		target += "/feed"
		body := c
		link := body.Link
		body.Link = ""
		form.Set("message", content.Caption(body, f.Capabilities().MaxTextLen))
		if link != "" {
			form.Set("link", link)
		}
	}

	var out graphID
	if err := httpx.Do(ctx, f.client, httpx.Request{URL: target, Form: form}, &out); err != nil {
		return Receipt{}, classify(err)
	}
	id := firstNonEmpty(out.PostID, out.ID)
	if id == "" {
		return Receipt{}, failure.Publish(failure.Transient, failure.ReasonUpstream, errors.New("post id missing from response"))
	}
	return Receipt{RemoteID: id, URL: "https://www.facebook.com/" + id}, nil
}

// Instagram publishes an image post in two steps: create a media
// container, then publish it.
//
// Credentials: user_id (the Instagram business account), access_token.
type Instagram struct {
	api    string
	client *http.Client
}

func NewInstagram(apiURL string, timeout time.Duration) *Instagram {
	return &Instagram{api: strings.TrimRight(firstNonEmpty(apiURL, graphAPI), "/"), client: httpx.NewClient(timeout)}
}

func (i *Instagram) Platform() string { return "instagram" }

func (i *Instagram) Capabilities() Capabilities {
	return Capabilities{
		MaxTextLen:    2200,
		Formats:       socialFormats,
		Images:        true,
		RequiresImage: true,
		Credentials:   []string{"user_id", "access_token"},
	}
}

func (i *Instagram) Publish(ctx context.Context, acct account.Account, c content.Content) (Receipt, error) {
	if err := Check(i, acct, c); err != nil {
		return Receipt{}, err
	}
	user := url.PathEscape(acct.Credential("instagram", "user_id"))
	token := acct.Credential("instagram", "access_token")

	var container graphID
	err := httpx.Do(ctx, i.client, httpx.Request{
		URL: i.api + "/" + user + "/media",
		Form: url.Values{
			"image_url":    {c.ImageURL},
			"caption":      {content.Caption(c, i.Capabilities().MaxTextLen)},
			"access_token": {token},
		},
	}, &container)
	if err != nil {
		return Receipt{}, classify(err)
	}
	if container.ID == "" {
		return Receipt{}, failure.Publish(failure.Transient, failure.ReasonUpstream, errors.New("media container id missing from response"))
	}

	var media graphID
	err = httpx.Do(ctx, i.client, httpx.Request{
		URL:  i.api + "/" + user + "/media_publish",
		Form: url.Values{"creation_id": {container.ID}, "access_token": {token}},
	}, &media)
	if err != nil {
		return Receipt{}, classify(err)
	}
	if media.ID == "" {
		return Receipt{}, failure.Publish(failure.Transient, failure.ReasonUpstream, errors.New("media id missing from response"))
	}

	r := Receipt{RemoteID: media.ID}
	var link struct {
		Permalink string `json:"permalink"`
	}
	// The permalink is cosmetic; a failed lookup does not fail the post.
	if err := httpx.Do(ctx, i.client, httpx.Request{
		Method: http.MethodGet,
		URL:    i.api + "/" + url.PathEscape(media.ID),
		Query:  url.Values{"fields": {"permalink"}, "access_token": {token}},
	}, &link); err == nil {
		r.URL = link.Permalink
	}
	return r, nil
}
