package text

import "testing"

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain text", "Hello world", "Hello world"},
		{"bold asterisk", "**bold** text", "bold text"},
		{"bold underscore", "__bold__ text", "bold text"},
		{"italic asterisk", "*italic* text", "italic text"},
		{"italic underscore", "_italic_ text", "italic text"},
		{"snake case kept", "snake_case_name", "snake_case_name"},
		{"strikethrough", "~~deleted~~ text", "deleted text"},
		{"inline code", "`code` here", "code here"},
		{"code block", "before ```code block``` after", "before  after"},
		{"atx header", "# Heading 1\n## Heading 2", "Heading 1\nHeading 2"},
		{"link", "[docs](https://example.com) page", "docs page"},
		{"image", "![logo](a.png)", "logo"},
		{"list", "- one\n- two", "one\ntwo"},
		{"html", "<b>bold</b>", "bold"},
		{"quote", "> Guten Tag", "Guten Tag"},
		{"chinese", "**你好**，世界", "你好，世界"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdown(tt.input); got != tt.expected {
				t.Errorf("StripMarkdown(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestMarkdownFilterConfig(t *testing.T) {
	filter := NewMarkdownFilter(&MarkdownFilterConfig{RemoveHeading: true})
	got := filter.Filter("# Title\n**keep**")
	if got != "Title\n**keep**" {
		t.Errorf("Filter() = %q", got)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"bare object", `{"en":"hello"}`, `{"en":"hello"}`, true},
		{"fenced", "```json\n{\"de\":\"hallo\"}\n```", `{"de":"hallo"}`, true},
		{"fence without language", "```\n{\"fr\":\"salut\"}```", `{"fr":"salut"}`, true},
		{"surrounding prose", "Sure! {\"ja\":\"こんにちは\"} Hope this helps.", `{"ja":"こんにちは"}`, true},
		{"no object", "hello", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.input)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, %v; want %q, %v", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}
