package parley

import (
	"context"
	"testing"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text passthrough", "hello world", "hello world"},
		{"heading", "# Hello\n\nWorld", "Hello\nWorld"},
		{"emphasis stripped", "**bold** and *em*", "bold and em"},
		{"link keeps label", "[Click](https://x.com)", "Click"},
		{"autolink keeps url", "<https://go.dev>", "https://go.dev"},
		{"unordered list", "- a\n- b", "- a\n- b"},
		{"ordered list", "1. first\n2. second", "1. first\n2. second"},
		{"ordered list custom start", "3. c\n4. d", "3. c\n4. d"},
		{"strikethrough", "~~old~~ new", "old new"},
		{"inline code", "`go test` runs them", "go test runs them"},
		{"fenced code block", "```\ncode here\n```", "code here"},
		{"image dropped", "![alt](img.png)", ""},
		{"soft line break", "line one\nline two", "line one\nline two"},
		{"thematic break", "a\n\n---\n\nb", "a\n\nb"},
		{"blockquote", "> quoted text", "quoted text"},
		{"inline html dropped", "a <b>bold</b> word", "a bold word"},
		{
			"mixed document",
			"# Menu\n\nToday we have:\n\n- soup\n- bread",
			"Menu\nToday we have:\n- soup\n- bread",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlainText(tt.in); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPlainTextProcessor(t *testing.T) {
	resp := ExecutorResponse{Content: "**hi** there"}
	if err := (PlainTextProcessor{}).PostExecute(context.Background(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hi there" {
		t.Errorf("Content = %q", resp.Content)
	}
}
