package processor

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

type ProcessorConfig struct {
	MaxTokens int
	Encoding  string
	// Tokenizer overrides the tiktoken encoder. Tests use it to avoid
	// downloading BPE tables.
	Tokenizer Tokenizer
}

// Tokenizer counts tokens in a piece of text.
type Tokenizer interface {
	Count(text string) int
}

type Processor struct {
	config    ProcessorConfig
	tokenizer Tokenizer
}

func NewWithConfig(config ProcessorConfig) *Processor {
	if config.MaxTokens == 0 {
		config.MaxTokens = 30000
	}
	if config.Encoding == "" {
		config.Encoding = "cl100k_base"
	}

	tokenizer := config.Tokenizer
	if tokenizer == nil {
		tokenizer = newTokenizer(config.Encoding)
	}

	return &Processor{
		config:    config,
		tokenizer: tokenizer,
	}
}

// Clean normalizes whitespace while keeping paragraph breaks.
func (p *Processor) Clean(text string) string {
	text = sanitizeUTF8(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var paragraphs []string
	for _, block := range strings.Split(text, "\n\n") {
		var lines []string
		for _, line := range strings.Split(block, "\n") {
			line = strings.Join(strings.Fields(line), " ")
			if line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			paragraphs = append(paragraphs, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

// Truncate cuts text to the token budget on a sentence boundary.
func (p *Processor) Truncate(text string) string {
	if p.tokenizer.Count(text) <= p.config.MaxTokens {
		return text
	}

	var b strings.Builder
	used := 0
	for _, sentence := range p.splitIntoSentences(text) {
		n := p.tokenizer.Count(sentence)
		if used+n > p.config.MaxTokens {
			break
		}
		b.WriteString(sentence)
		used += n
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		// A single sentence larger than the budget: cut by runes.
		out = truncateRunes(text, p.config.MaxTokens*4)
	}
	return out + "\n[TRUNCATED]"
}

// Process cleans and truncates fetched content in one step.
func (p *Processor) Process(text string) string {
	return p.Truncate(p.Clean(text))
}

// splitIntoSentences splits after sentence enders, keeping the ender and
// the following whitespace with the sentence so the pieces rejoin exactly.
func (p *Processor) splitIntoSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)

	for i := 0; i < len(runes); i++ {
		if !isSentenceEnder(runes[i]) {
			continue
		}
		j := i + 1
		if !isCJKEnder(runes[i]) && j < len(runes) && runes[j] != ' ' && runes[j] != '\n' {
			continue
		}
		for j < len(runes) && (runes[j] == ' ' || runes[j] == '\n') {
			j++
		}
		sentences = append(sentences, string(runes[start:j]))
		start = j
		i = j - 1
	}

	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}

func isSentenceEnder(r rune) bool {
	return r == '.' || r == '!' || r == '?' || isCJKEnder(r)
}

func isCJKEnder(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// runeEstimate approximates one token per four runes.
type runeEstimate struct{}

func (runeEstimate) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

func newTokenizer(encoding string) Tokenizer {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return runeEstimate{}
	}
	return tiktokenCounter{enc: enc}
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
