package content

import (
	"html"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var (
	mdParser  = goldmark.New(goldmark.WithExtensions(extension.Strikethrough)).Parser()
	stripTags = bluemonday.StripTagsPolicy()
)

// PlainText flattens markdown to text a social platform shows as-is.
// Emphasis and heading markers are dropped, links keep their text with
// the URL in parentheses, list items become "- " lines and HTML tags are
// removed. Blocks are separated by a blank line.
func PlainText(md string) string {
	src := []byte(md)
	doc := mdParser.Parse(text.NewReader(src))
	f := &flattener{src: src}
	_ = ast.Walk(doc, f.visit)
	out := html.UnescapeString(f.b.String())
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

type flattener struct {
	src    []byte
	b      strings.Builder
	lists  []int // next number per open list; 0 for bullet lists
	links  []int // builder offsets where open links start
	marked bool  // a list marker was just written
}

// block starts a new block: a blank line at top level, a line break
// inside lists.
func (f *flattener) block() {
	if f.marked {
		f.marked = false
		return
	}
	if f.b.Len() == 0 {
		return
	}
	if len(f.lists) > 0 {
		f.newline()
		return
	}
	f.b.WriteString("\n\n")
}

func (f *flattener) newline() {
	if s := f.b.String(); s != "" && !strings.HasSuffix(s, "\n") {
		f.b.WriteByte('\n')
	}
}

func (f *flattener) lines(n ast.Node) {
	ls := n.Lines()
	for i := 0; i < ls.Len(); i++ {
		seg := ls.At(i)
		f.b.Write(seg.Value(f.src))
	}
}

func (f *flattener) visit(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch n := n.(type) {
	case *ast.Paragraph, *ast.Heading, *ast.TextBlock, *ast.ThematicBreak:
		if entering {
			f.block()
		}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if !entering {
			break
		}
		f.block()
		f.lines(n)
		return ast.WalkSkipChildren, nil
	case *ast.HTMLBlock:
		if !entering {
			break
		}
		var raw strings.Builder
		ls := n.Lines()
		for i := 0; i < ls.Len(); i++ {
			seg := ls.At(i)
			raw.Write(seg.Value(f.src))
		}
		if t := strings.TrimSpace(stripTags.Sanitize(raw.String())); t != "" {
			f.block()
			f.b.WriteString(t)
		}
		return ast.WalkSkipChildren, nil
	case *ast.List:
		if entering {
			f.block()
			next := 0
			if n.IsOrdered() {
				next = n.Start
			}
			f.lists = append(f.lists, next)
		} else {
			f.lists = f.lists[:len(f.lists)-1]
		}
	case *ast.ListItem:
		if entering {
			f.newline()
			depth := len(f.lists) - 1
			f.b.WriteString(strings.Repeat("  ", depth))
			if next := f.lists[depth]; next > 0 {
				f.b.WriteString(strconv.Itoa(next) + ". ")
				f.lists[depth]++
			} else {
				f.b.WriteString("- ")
			}
			f.marked = true
		}
	case *ast.Text:
		if entering {
			v := n.Segment.Value(f.src)
			if !n.IsRaw() {
				v = util.UnescapePunctuations(v)
			}
			f.b.Write(v)
			if n.SoftLineBreak() || n.HardLineBreak() {
				f.b.WriteByte('\n')
			}
		}
	case *ast.String:
		if entering {
			f.b.Write(n.Value)
		}
	case *ast.Link:
		if entering {
			f.links = append(f.links, f.b.Len())
			return ast.WalkContinue, nil
		}
		start := f.links[len(f.links)-1]
		f.links = f.links[:len(f.links)-1]
		label := strings.TrimSpace(f.b.String()[start:])
		if dest := string(n.Destination); dest != "" && dest != label {
			f.b.WriteString(" (" + dest + ")")
		}
	case *ast.AutoLink:
		if entering {
			f.b.Write(n.URL(f.src))
		}
		return ast.WalkSkipChildren, nil
	case *ast.Image, *ast.RawHTML:
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}
