package syncer

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

var (
	markdown          = goldmark.New()
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// CleanText flattens markdown and stray HTML into the plain text that gets
// embedded. Markup never reaches the embedding model, so two renderings of
// the same prose produce the same checksum.
func CleanText(raw string) string {
	source := []byte(raw)
	doc := markdown.Parser().Parse(gmtext.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.AutoLink:
			b.Write(node.URL(source))
		case *ast.RawHTML:
			for i := 0; i < node.Segments.Len(); i++ {
				segment := node.Segments.At(i)
				b.Write(segment.Value(source))
			}
		case *ast.HTMLBlock, *ast.CodeBlock, *ast.FencedCodeBlock:
			// These blocks hold raw lines instead of text children.
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				line := lines.At(i)
				b.Write(line.Value(source))
				b.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})

	text := htmlTagPattern.ReplaceAllString(b.String(), " ")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}
