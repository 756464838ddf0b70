package syncer

import "testing"

func TestTemplate_Render(t *testing.T) {
	doc := &Document{
		ID:       "42",
		Title:    "My Doc",
		Content:  "The body.",
		URL:      "https://example.com/my-doc",
		Excerpt:  "A summary.",
		Language: "en",
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{
			name:     "default embeds content",
			template: "",
			want:     "The body.",
		},
		{
			name:     "all placeholders",
			template: "{TITLE} ({ID}, {LANGUAGE})\n{EXCERPT}\n{CONTENT}\n{URL}",
			want:     "My Doc (42, en)\nA summary.\nThe body.\nhttps://example.com/my-doc",
		},
		{
			name:     "unknown placeholder stays literal",
			template: "{TITLE} {NOPE}",
			want:     "My Doc {NOPE}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewTemplate(tt.template).Render(doc)
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTemplate_SinglePass(t *testing.T) {
	// A document whose body contains a placeholder token must not get a
	// second expansion.
	doc := &Document{Title: "Sneaky", Content: "literal {TITLE} inside"}
	got := NewTemplate("{CONTENT}").Render(doc)
	if got != "literal {TITLE} inside" {
		t.Errorf("Render() = %q, placeholder in content was expanded", got)
	}
}
