// Package summarizer builds short extractive digests of a corpus.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// DefaultSentences is used when a non-positive limit is requested.
const DefaultSentences = 3

// FrequencySummarizer picks the sentences whose content words are most
// frequent across the whole text, then returns them in reading order.
type FrequencySummarizer struct {
	tokenPattern    *regexp.Regexp
	sentencePattern *regexp.Regexp
	stopwords       map[string]struct{}
}

// NewFrequencySummarizer creates a summarizer with English and Spanish stopwords.
func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{
		tokenPattern:    regexp.MustCompile(`[\p{L}\p{N}]+(?:['’]\p{L}+)*`),
		sentencePattern: regexp.MustCompile(`[^.!?\n]+[.!?]+|[^.!?\n]+$`),
		stopwords:       defaultStopwords(),
	}
}

// Summarize returns up to maxSentences sentences of text. Text without sentence
// punctuation is returned trimmed.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = DefaultSentences
	}
	var sentences []string
	for _, line := range strings.Split(text, "\n") {
		for _, sent := range s.sentencePattern.FindAllString(line, -1) {
			if sent = strings.TrimSpace(sent); sent != "" {
				sentences = append(sentences, sent)
			}
		}
	}
	if len(sentences) == 0 {
		return strings.TrimSpace(text), nil
	}

	tokens := make([][]string, len(sentences))
	freq := map[string]float64{}
	maxF := 0.0
	for i, sent := range sentences {
		tokens[i] = s.contentTokens(sent)
		for _, tok := range tokens[i] {
			freq[tok]++
			maxF = math.Max(maxF, freq[tok])
		}
	}

	scores := make([]float64, len(sentences))
	for i, toks := range tokens {
		if len(toks) == 0 || maxF == 0 {
			continue
		}
		for _, tok := range toks {
			scores[i] += freq[tok] / maxF
		}
		// dampen long sentences
		scores[i] /= math.Sqrt(float64(len(toks)))
	}

	order := make([]int, len(sentences))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	selected := order[:min(maxSentences, len(order))]
	sort.Ints(selected)

	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " "), nil
}

func (s *FrequencySummarizer) contentTokens(text string) []string {
	raw := s.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, tok := range raw {
		if _, stop := s.stopwords[tok]; !stop {
			out = append(out, tok)
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "it", "this", "that", "from",
		"el", "la", "los", "las", "un", "una", "unos", "unas", "de", "del", "al", "y", "o", "u", "en", "es", "son", "que", "se", "por", "con", "para", "su", "sus", "lo", "le", "les", "mi", "tu", "te", "si", "no", "como", "más", "pero", "este", "esta", "hay",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
