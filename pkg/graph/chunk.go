package graph

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/sd8capricon/graph-rag/pkg/common"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter returns the number of tokens in s.
type TokenCounter func(s string) int

// WordCounter approximates tokens by whitespace separated words.
func WordCounter(s string) int {
	return len(strings.Fields(s))
}

// NewTiktokenCounter counts tokens with the named tiktoken encoding,
// e.g. "o200k_base".
func NewTiktokenCounter(encoding string) (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load token encoding %s: %w", encoding, err)
	}
	return func(s string) int {
		return len(enc.Encode(s, nil, nil))
	}, nil
}

// SplitOptions bounds the chunks produced by SplitText.
type SplitOptions struct {
	MaxTokens     int
	OverlapTokens int
	Count         TokenCounter
}

func (o SplitOptions) withDefaults() SplitOptions {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 512
	}
	if o.OverlapTokens < 0 || o.OverlapTokens >= o.MaxTokens {
		o.OverlapTokens = 0
	}
	if o.Count == nil {
		o.Count = WordCounter
	}
	return o
}

// SplitText packs whole sentences into chunks of at most MaxTokens. A
// sentence longer than the budget becomes its own chunk. Consecutive chunks
// share trailing sentences worth at most OverlapTokens.
func SplitText(text string, opts SplitOptions) []string {
	opts = opts.withDefaults()
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	join := func(from, to int) string {
		return strings.Join(sentences[from:to], " ")
	}
	fits := func(from, to, budget int) bool {
		return opts.Count(join(from, to)) <= budget
	}

	var chunks []string
	start := 0
	for start < len(sentences) {
		end := start + 1
		for end < len(sentences) && fits(start, end+1, opts.MaxTokens) {
			end++
		}
		chunks = append(chunks, join(start, end))
		if end >= len(sentences) {
			break
		}

		next := end
		for k := end - 1; k > start && opts.OverlapTokens > 0; k-- {
			// the carried sentences must leave room for at least one new one
			if !fits(k, end, opts.OverlapTokens) || !fits(k, end+1, opts.MaxTokens) {
				break
			}
			next = k
		}
		start = next
	}
	return chunks
}

// ChunkFile splits text and wraps each piece as a Chunk of file with a
// fresh id.
func ChunkFile(file common.FileMetadata, text string, opts SplitOptions) ([]common.Chunk, error) {
	pieces := SplitText(text, opts)
	chunks := make([]common.Chunk, 0, len(pieces))
	for _, p := range pieces {
		id, err := gonanoid.New()
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, common.Chunk{
			ID:           id,
			Text:         p,
			SourceFileID: file.ID,
			Source:       file.Name,
		})
	}
	return chunks, nil
}

var tableDelimiter = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)+\|?\s*$`)

func isTableRow(line string) bool {
	t := strings.TrimSpace(line)
	return t != "" && strings.Contains(t, "|")
}

type sentenceSplitter struct {
	out []string
	cur strings.Builder
}

func (s *sentenceSplitter) emit(sentence string) {
	if sentence = strings.TrimSpace(sentence); sentence != "" {
		s.out = append(s.out, sentence)
	}
}

func (s *sentenceSplitter) flush() {
	s.emit(s.cur.String())
	s.cur.Reset()
}

// addProse appends the sentences of one line; a sentence left open at the
// end of the line continues on the next one.
func (s *sentenceSplitter) addProse(line string) {
	for _, sentence := range splitLine(line) {
		if s.cur.Len() > 0 {
			s.cur.WriteString(" ")
		}
		s.cur.WriteString(sentence)
		if endsSentence(sentence) {
			s.flush()
		}
	}
}

// splitSentences breaks text into sentences. Blank lines end a sentence and
// a markdown table (header row followed by a delimiter row) is kept whole.
func splitSentences(text string) []string {
	var sp sentenceSplitter
	lines := strings.Split(text, "\n")

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			sp.flush()
		case isTableRow(line) && i+1 < len(lines) && tableDelimiter.MatchString(strings.TrimSpace(lines[i+1])):
			sp.flush()
			table := []string{line}
			for i+1 < len(lines) && isTableRow(lines[i+1]) {
				i++
				table = append(table, lines[i])
			}
			sp.emit(strings.Join(table, "\n"))
		case isTableRow(line):
			sp.flush()
			sp.emit(trimmed)
		default:
			sp.addProse(trimmed)
		}
	}
	sp.flush()
	return sp.out
}

func isTerminal(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isCloser(b byte) bool {
	return b == '"' || b == '\'' || b == ')' || b == ']' || b == '}'
}

func endsSentence(s string) bool {
	s = strings.TrimRightFunc(strings.TrimSpace(s), func(r rune) bool {
		return r < 128 && isCloser(byte(r))
	})
	return s != "" && isTerminal(s[len(s)-1])
}

// splitLine cuts a line after terminal punctuation, keeping runs of
// punctuation and closing quotes or brackets with the sentence. "1. " style
// list markers do not end a sentence.
func splitLine(line string) []string {
	var out []string
	start := 0
	for i := 0; i < len(line); i++ {
		if !isTerminal(line[i]) {
			continue
		}
		if i > 0 && unicode.IsDigit(rune(line[i-1])) && i+1 < len(line) && line[i+1] == ' ' {
			continue
		}
		j := i + 1
		for j < len(line) && isTerminal(line[j]) {
			j++
		}
		for j < len(line) && isCloser(line[j]) {
			j++
		}
		if s := strings.TrimSpace(line[start:j]); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(line[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
