package content

import (
	"strings"
	"unicode"
	"unicode/utf8"

	yaml "go.yaml.in/yaml/v3"
)

// Hashtag turns "Sourdough discard" into "#SourdoughDiscard". Already
// prefixed tags are returned unchanged.
func Hashtag(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "#") {
		return s
	}
	var b strings.Builder
	b.WriteByte('#')
	for _, w := range strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }) {
		r, size := utf8.DecodeRuneInString(w)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(w[size:])
	}
	if b.Len() == 1 {
		return ""
	}
	return b.String()
}

// Slugify makes a URL-safe lowercase slug.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) && r < utf8.RuneSelf, unicode.IsDigit(r) && r < utf8.RuneSelf:
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > 80 {
		out = strings.TrimRight(out[:80], "-")
	}
	return out
}

// Caption renders c for a social platform in at most max runes (0 means
// no limit). Tags are appended while they fit; the body is cut at a word
// boundary with an ellipsis when it does not.
func Caption(c Content, max int) string {
	body := strings.TrimSpace(c.Body)
	if c.Link != "" && !strings.Contains(body, c.Link) {
		body += "\n\n" + c.Link
	}
	if max <= 0 {
		return joinTags(body, c.Tags)
	}
	if utf8.RuneCountInString(body) > max {
		return truncateWords(body, max)
	}
	out := body
	sep := "\n\n"
	for _, tag := range c.Tags {
		tag = Hashtag(tag)
		if tag == "" || strings.Contains(out, tag) {
			continue
		}
		if utf8.RuneCountInString(out)+utf8.RuneCountInString(sep)+utf8.RuneCountInString(tag) > max {
			break
		}
		out += sep + tag
		sep = " "
	}
	return out
}

func joinTags(body string, tags []string) string {
	var ts []string
	for _, t := range tags {
		if h := Hashtag(t); h != "" && !strings.Contains(body, h) {
			ts = append(ts, h)
		}
	}
	if len(ts) == 0 {
		return body
	}
	return body + "\n\n" + strings.Join(ts, " ")
}

func truncateWords(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	cut := runes[:max-1]
	if i := lastSpace(cut); i > max/2 {
		cut = cut[:i]
	}
	return strings.TrimRightFunc(string(cut), unicode.IsSpace) + "…"
}

func lastSpace(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if unicode.IsSpace(rs[i]) {
			return i
		}
	}
	return -1
}

type frontMatter struct {
	Title       string   `yaml:"title"`
	Date        string   `yaml:"date"`
	Slug        string   `yaml:"slug"`
	Tags        []string `yaml:"tags,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Image       string   `yaml:"image,omitempty"`
	Draft       bool     `yaml:"draft"`
}

// RenderPage renders c as a markdown page with YAML front matter.
func RenderPage(c Content) ([]byte, error) {
	fm := frontMatter{
		Title: c.Title,
		Date:  c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Slug:  c.Slug,
		Image: c.ImageURL,
	}
	for _, t := range c.Tags {
		fm.Tags = append(fm.Tags, strings.TrimPrefix(strings.TrimSpace(t), "#"))
	}
	if desc := PlainText(firstParagraph(c.Body)); desc != "" {
		fm.Description = desc
		if utf8.RuneCountInString(desc) > 160 {
			fm.Description = truncateWords(desc, 160)
		}
	}
	head, err := yaml.Marshal(fm)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString("---\n")
	b.Write(head)
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimSpace(c.Body))
	b.WriteString("\n")
	return []byte(b.String()), nil
}

func firstParagraph(body string) string {
	for _, para := range strings.Split(strings.TrimSpace(body), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" || strings.HasPrefix(para, "#") {
			continue
		}
		return strings.Join(strings.Fields(para), " ")
	}
	return ""
}

// splitTitle pulls a leading "# Heading" line out of a markdown body.
func splitTitle(text string) (title, body string) {
	text = strings.TrimSpace(text)
	first, rest, _ := strings.Cut(text, "\n")
	if strings.HasPrefix(first, "# ") {
		return strings.TrimSpace(strings.TrimPrefix(first, "# ")), strings.TrimSpace(rest)
	}
	return "", text
}
