package tgui

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "he…"},
		{"héllo wörld", 4, "hél…"},
		{"hello", 1, "…"},
		{"hello", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncRunes(tt.in, tt.n); got != tt.want {
			t.Errorf("TruncRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestCardRenderEscapes(t *testing.T) {
	t.Parallel()
	got := NewCard("post failed: <bread>").
		KV("reason", "auth & co").
		KV("error", "").
		Line("see log").
		Render(0).String()
	want := "<b>post failed: &lt;bread&gt;</b>\n<b>reason</b>: auth &amp; co\nsee log"
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}

func TestCardRenderFitsLimit(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("a<b ", 600)
	out := TextCard("title\n" + long).Render(100).String()
	if strings.Count(out, "<b>") != strings.Count(out, "</b>") {
		t.Fatalf("unbalanced tags: %q", out)
	}
	visible := strings.NewReplacer("<b>", "", "</b>", "", "&lt;", "<").Replace(out)
	if n := utf8.RuneCountInString(visible); n > 100 {
		t.Fatalf("visible length %d > 100", n)
	}
	if !strings.HasSuffix(out, "…") {
		t.Fatalf("expected ellipsis: %q", out)
	}
}

func TestInlineSkipsEmptyRows(t *testing.T) {
	t.Parallel()
	if NewInline().Row(URLBtn("Read more", "")).Markup() != nil {
		t.Fatal("a row without a usable button must not produce markup")
	}
	rm := NewInline().Row(URLBtn("Read more", "https://example.com/p")).Markup()
	if rm == nil || len(rm.InlineKeyboard) != 1 || rm.InlineKeyboard[0][0].URL != "https://example.com/p" {
		t.Fatalf("markup = %+v", rm)
	}
}
