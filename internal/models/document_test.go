package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitTitle(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantTitle string
		wantRest  string
	}{
		{
			name:      "leading heading",
			body:      "# Hello\n\nBody text.",
			wantTitle: "Hello",
			wantRest:  "Body text.",
		},
		{
			name:      "no space after hashes",
			body:      "##Title\nrest",
			wantTitle: "Title",
			wantRest:  "rest",
		},
		{
			name:      "heading after preamble",
			body:      "intro\n# Later\nend",
			wantTitle: "Later",
			wantRest:  "intro\nend",
		},
		{
			name:      "bare hashes skipped",
			body:      "#\n# Real\nx",
			wantTitle: "Real",
			wantRest:  "#\nx",
		},
		{
			name:      "no heading",
			body:      "plain\ntext",
			wantTitle: "",
			wantRest:  "plain\ntext",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, rest := SplitTitle(tt.body)
			assert.Equal(t, tt.wantTitle, title)
			assert.Equal(t, tt.wantRest, rest)
		})
	}
}
