// Package policy decides whether a post gets a reply and what the reply says.
// It reads the index and memory but never mutates them.
package policy

import (
	"strings"

	"github.com/kalambet/feedagent/internal/index"
	"github.com/kalambet/feedagent/internal/social"
)

const (
	relevantTopicLimit = 5
	hashtagLimit       = 2
	praiseThreshold    = 100.0
)

// Index is the part of index.Index the policy reads.
type Index interface {
	HasRepliedTo(postID string) bool
	EngagementStatsFor(author string) index.Stats
}

// Memory is the part of memory.Memory the policy reads.
type Memory interface {
	TopTopicsFor(author string, limit int) []string
}

type Policy struct {
	target string
	index  Index
	memory Memory
}

func New(target string, ix Index, mem Memory) *Policy {
	return &Policy{
		target: strings.ToLower(target),
		index:  ix,
		memory: mem,
	}
}

// ShouldReply is a conjunction of gates; new rules belong as additional
// conjuncts.
func (p *Policy) ShouldReply(post social.Post) bool {
	return strings.EqualFold(post.Author, p.target) &&
		!post.IsReply() &&
		!p.index.HasRepliedTo(post.ID)
}

// ComposeReply builds reply text from the author's topics and engagement.
// The same index and memory state always yields the same text.
func (p *Policy) ComposeReply(post social.Post) string {
	topics := p.memory.TopTopicsFor(post.Author, relevantTopicLimit)
	stats := p.index.EngagementStatsFor(post.Author)
	text := strings.ToLower(post.Text)

	var b strings.Builder
	switch {
	case strings.Contains(text, "update") || strings.Contains(text, "release"):
		b.WriteString("I'm tracking this update! Users can find more details in our latest GitHub commits. ")
	case mentionsAny(text, topics):
		b.WriteString("This aligns with our work on ")
		b.WriteString(topics[0])
		b.WriteString(". ")
	default:
		b.WriteString("Interesting insight! ")
	}

	if stats.AvgLikes > praiseThreshold {
		b.WriteString("Your community engagement is impressive! ")
	}

	for i, t := range topics {
		if i == hashtagLimit {
			break
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('#')
		b.WriteString(t)
	}

	return strings.TrimSpace(b.String())
}

func mentionsAny(text string, topics []string) bool {
	for _, t := range topics {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
