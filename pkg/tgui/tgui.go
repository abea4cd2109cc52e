package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline builds an inline keyboard row by row.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row; buttons with neither URL nor data are dropped and an
// empty row is skipped.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	kept := btn[:0:0]
	for _, b := range btn {
		if b.Text != "" && (b.URL != "" || b.Data != "") {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(kept...))
	i.rm.Inline(i.rows...)
	return i
}

// Markup returns the keyboard, or nil when no row was added.
func (i *Inline) Markup() *tele.ReplyMarkup {
	if len(i.rows) == 0 {
		return nil
	}
	return i.rm
}

func URLBtn(text, url string) tele.Btn {
	return tele.Btn{Text: text, URL: url}
}
