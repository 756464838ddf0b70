package syncer

import "strings"

// DefaultTemplate embeds the whole document body.
const DefaultTemplate = "{CONTENT}"

// Template renders the text that gets embedded for a document. Placeholders
// are substituted in a single pass, so a document whose body happens to
// contain a placeholder token cannot trigger a second expansion.
type Template struct {
	text string
}

// NewTemplate creates a template from the given text, falling back to
// DefaultTemplate when text is empty.
func NewTemplate(text string) *Template {
	if text == "" {
		text = DefaultTemplate
	}
	return &Template{text: text}
}

// Render substitutes the document's fields into the template.
func (t *Template) Render(doc *Document) string {
	replacer := strings.NewReplacer(
		"{CONTENT}", doc.Content,
		"{TITLE}", doc.Title,
		"{URL}", doc.URL,
		"{EXCERPT}", doc.Excerpt,
		"{LANGUAGE}", doc.Language,
		"{ID}", doc.ID,
	)
	return strings.TrimSpace(replacer.Replace(t.text))
}
