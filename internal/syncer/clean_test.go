package syncer

import (
	"strings"
	"testing"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text unchanged",
			in:   "Just a sentence.",
			want: "Just a sentence.",
		},
		{
			name: "markdown markup stripped",
			in:   "# Heading\n\nSome **bold** and *italic* text with `code`.",
			want: "Heading Some bold and italic text with code.",
		},
		{
			name: "link keeps label",
			in:   "See [the docs](https://example.com) for more.",
			want: "See the docs for more.",
		},
		{
			name: "html tags stripped",
			in:   "<p>Hello <strong>world</strong></p>",
			want: "Hello world",
		},
		{
			name: "fenced code block content kept",
			in:   "Before\n\n```\nx := 1\n```\n\nAfter",
			want: "Before x := 1 After",
		},
		{
			name: "inline html stripped around text",
			in:   "Hello <em>big</em> world",
			want: "Hello big world",
		},
		{
			name: "whitespace collapsed",
			in:   "a\n\n\n   b\t\tc",
			want: "a b c",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanText(tt.in)
			if got != tt.want {
				t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanText_Deterministic(t *testing.T) {
	in := "## Title\n\nBody with [link](https://x.test) and <em>markup</em>."
	first := CleanText(in)
	second := CleanText(in)
	if first != second {
		t.Errorf("CleanText not deterministic: %q vs %q", first, second)
	}
	if strings.ContainsAny(first, "<>#*") {
		t.Errorf("CleanText left markup behind: %q", first)
	}
}
