package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// LoadPrinciples reads the user's custom coding-principles Markdown from the
// config root and strips HTML-comment placeholder blocks. Returns "" when the
// file does not exist.
func LoadPrinciples(root string) (string, error) {
	source, err := os.ReadFile(filepath.Join(root, PrinciplesFileName))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read principles: %w", err)
	}
	return StripHTMLComments(source), nil
}

// StripHTMLComments removes HTML comment blocks from Markdown source while
// preserving everything else byte-for-byte. The document is parsed with
// goldmark and the byte ranges of comment nodes are cut from the source.
func StripHTMLComments(source []byte) string {
	md := goldmark.New()
	reader := text.NewReader(source)
	doc := md.Parser().Parse(reader)

	type span struct{ start, stop int }
	var comments []span

	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.HTMLBlock:
			lines := node.Lines()
			if lines.Len() == 0 {
				return ast.WalkContinue, nil
			}
			start := lines.At(0).Start
			stop := lines.At(lines.Len() - 1).Stop
			if isComment(source[start:stop]) {
				comments = append(comments, span{start, stop})
			}
		case *ast.RawHTML:
			for i := 0; i < node.Segments.Len(); i++ {
				seg := node.Segments.At(i)
				if isComment(source[seg.Start:seg.Stop]) {
					comments = append(comments, span{seg.Start, seg.Stop})
				}
			}
		}
		return ast.WalkContinue, nil
	})

	if len(comments) == 0 {
		return string(source)
	}

	var out strings.Builder
	cursor := 0
	for _, c := range comments {
		if c.start > cursor {
			out.Write(source[cursor:c.start])
		}
		if c.stop > cursor {
			cursor = c.stop
		}
	}
	out.Write(source[cursor:])

	return collapseBlankLines(out.String())
}

func isComment(b []byte) bool {
	return strings.HasPrefix(strings.TrimSpace(string(b)), "<!--")
}

// collapseBlankLines squeezes runs of three or more newlines left behind by
// removed comment blocks down to a single blank line.
func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
