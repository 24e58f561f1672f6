package index

import (
	"regexp"
	"strings"
)

var (
	positiveWords = map[string]bool{"great": true, "good": true, "excellent": true, "bullish": true, "up": true}
	negativeWords = map[string]bool{"bad": true, "poor": true, "bearish": true, "down": true}

	hashtagRe = regexp.MustCompile(`#\w+`)
)

// Sentiment scores text by lexicon hits: +0.1 per positive token, -0.1 per
// negative token, no normalization. Tokens are whitespace-delimited and
// matched whole, so "up!" does not count.
func Sentiment(text string) float64 {
	var score float64
	for _, w := range strings.Fields(strings.ToLower(text)) {
		switch {
		case positiveWords[w]:
			score += 0.1
		case negativeWords[w]:
			score -= 0.1
		}
	}
	return score
}

// ExtractTopics returns the lowercase hashtag bodies in text, in order of
// appearance, duplicates kept. Never nil.
func ExtractTopics(text string) []string {
	tags := hashtagRe.FindAllString(strings.ToLower(text), -1)
	topics := make([]string, 0, len(tags))
	for _, tag := range tags {
		topics = append(topics, tag[1:])
	}
	return topics
}
