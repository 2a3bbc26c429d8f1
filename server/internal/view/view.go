// Package view builds the plain data the session transport renders: the
// records a client asked for and a word-frequency summary of their titles
// and descriptions.
package view

import (
	"html"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/tubedrift/tubedrift/pkg/types"
)

// Defaults for Build.
const (
	DefaultWordLimit = 30
	MinWordLength    = 3
)

var (
	urlRegex    = regexp.MustCompile(`https?://[^\s]+`)
	whitespace  = regexp.MustCompile(`\s+`)
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "you": {}, "your": {},
	"this": {}, "that": {}, "from": {}, "are": {}, "was": {}, "how": {},
	"what": {}, "why": {}, "not": {}, "but": {}, "all": {}, "can": {},
	"our": {}, "out": {}, "new": {}, "get": {}, "has": {}, "have": {},
}

// WordCount is one entry of the word summary.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// Result is the payload of a "result" or "history" event.
type Result struct {
	Records []types.SearchRecord `json:"records"`
	Words   []WordCount          `json:"words"`
}

// Build assembles the view for records, summarising at most wordLimit words.
func Build(records []types.SearchRecord, wordLimit int) Result {
	var sb strings.Builder
	for _, r := range records {
		for _, it := range r.Results {
			sb.WriteString(it.Title)
			sb.WriteByte(' ')
			sb.WriteString(it.Description)
			sb.WriteByte(' ')
		}
	}
	words := Words(sb.String(), wordLimit, MinWordLength)
	if words == nil {
		words = []WordCount{}
	}
	return Result{Records: types.CloneRecords(records), Words: words}
}

// CleanText strips HTML entities, URLs and punctuation and squeezes
// whitespace.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = urlRegex.ReplaceAllString(decoded, " ")
	decoded = punctuation.ReplaceAllString(decoded, " ")
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// Words returns the most frequent words of text that are at least minLen
// runes long and not stop-words, most frequent first. Ties sort
// alphabetically. A non-positive limit returns every word.
func Words(text string, limit, minLen int) []WordCount {
	clean := strings.ToLower(CleanText(text))
	if clean == "" {
		return nil
	}

	freq := make(map[string]int)
	for _, token := range strings.Fields(clean) {
		token = strings.TrimFunc(token, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if len([]rune(token)) < minLen {
			continue
		}
		if _, skip := stopwords[token]; skip {
			continue
		}
		freq[token]++
	}
	if len(freq) == 0 {
		return nil
	}

	out := make([]WordCount, 0, len(freq))
	for word, count := range freq {
		out = append(out, WordCount{Word: word, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Word < out[j].Word
		}
		return out[i].Count > out[j].Count
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}
