package tgui

import (
	"strings"
	"unicode/utf8"
)

// Card is a bold title followed by plain lines and key/value rows.
type Card struct {
	title string
	lines []line
}

type line struct {
	key, text string
}

func NewCard(title string) *Card {
	return &Card{title: strings.TrimSpace(title)}
}

// Line appends a plain line. Blank lines are kept as separators.
func (c *Card) Line(s string) *Card {
	c.lines = append(c.lines, line{text: s})
	return c
}

// KV appends a "key: value" row; an empty value drops the row.
func (c *Card) KV(key, value string) *Card {
	value = strings.TrimSpace(value)
	if value == "" {
		return c
	}
	c.lines = append(c.lines, line{key: strings.TrimSpace(key), text: value})
	return c
}

// Render returns the card as HTML whose visible text fits in limit
// characters. Lines are shortened before escaping, so the cut never
// lands inside an entity or tag.
func (c *Card) Render(limit int) H {
	if limit <= 0 {
		limit = MessageLimit
	}
	parts := make([]string, 0, len(c.lines)+1)
	budget := limit
	if c.title != "" {
		t := TruncRunes(c.title, budget)
		parts = append(parts, B(t).String())
		budget -= utf8.RuneCountInString(t)
	}
	for _, ln := range c.lines {
		// one character for the joining newline
		budget--
		if budget <= 0 {
			break
		}
		if ln.key != "" {
			prefix := ln.key + ": "
			n := utf8.RuneCountInString(prefix)
			if n >= budget {
				break
			}
			v := TruncRunes(ln.text, budget-n)
			parts = append(parts, B(ln.key).String()+": "+Esc(v).String())
			budget -= n + utf8.RuneCountInString(v)
			continue
		}
		t := TruncRunes(ln.text, budget)
		parts = append(parts, Esc(t).String())
		budget -= utf8.RuneCountInString(t)
	}
	return H(strings.Join(parts, "\n"))
}

// TextCard turns free text into a card: the first line becomes the title.
func TextCard(text string) *Card {
	title, rest, _ := strings.Cut(strings.TrimSpace(text), "\n")
	c := NewCard(title)
	if rest != "" {
		for _, l := range strings.Split(rest, "\n") {
			c.Line(l)
		}
	}
	return c
}
