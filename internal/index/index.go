// Package index holds every post the agent has seen, enriched with derived
// fields, and answers the engagement and reply-linkage queries the reply
// policy needs.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/feedagent/internal/social"
	"github.com/kalambet/feedagent/internal/storage"
)

const postPrefix = "posts/"

// Store defines the storage operations the Index needs.
// Implemented by storage.Store.
type Store interface {
	Save(ctx context.Context, key string, value []byte) error
	LoadPrefix(ctx context.Context, prefix string) ([]storage.KV, error)
}

// Recorder receives an interaction for every indexed post with a known
// author. Implemented by memory.Memory.
type Recorder interface {
	RecordInteraction(ctx context.Context, author string, topics []string) error
}

type Engagement struct {
	Likes    int `json:"likes"`
	Retweets int `json:"retweets"`
	Replies  int `json:"replies"`
}

// IndexedPost is a Post plus the fields derived once at index time.
type IndexedPost struct {
	social.Post
	Sentiment   float64    `json:"sentiment"`
	Topics      []string   `json:"topics"`
	IsReply     bool       `json:"is_reply"`
	ReplyToID   string     `json:"reply_to_id,omitempty"`
	ReplyToUser string     `json:"reply_to_user,omitempty"` // the post's own author
	Engagement  Engagement `json:"engagement"`
	IndexedAt   time.Time  `json:"indexed_at"`
}

// Stats summarizes an author's indexed posts.
type Stats struct {
	AvgLikes    float64  `json:"avgLikes"`
	AvgRetweets float64  `json:"avgRetweets"`
	TopTopics   []string `json:"topTopics"`
}

// Index is safe for concurrent use.
type Index struct {
	store     Store
	recorder  Recorder
	ownHandle string
	now       func() time.Time
	logger    *slog.Logger

	mu    sync.RWMutex
	posts map[string]*IndexedPost
	order []string // first-insertion order
	// ownReplies counts own-authored posts per reply target.
	ownReplies map[string]int
}

// New creates an empty Index. ownHandle identifies posts written by the
// agent itself.
func New(store Store, recorder Recorder, ownHandle string) *Index {
	return &Index{
		store:      store,
		recorder:   recorder,
		ownHandle:  strings.ToLower(ownHandle),
		now:        time.Now,
		logger:     slog.Default().With("component", "index"),
		posts:      make(map[string]*IndexedPost),
		ownReplies: make(map[string]int),
	}
}

// Analyze derives an IndexedPost from p. It has no side effects.
func Analyze(p social.Post, now time.Time) IndexedPost {
	return IndexedPost{
		Post:        p,
		Sentiment:   Sentiment(p.Text),
		Topics:      ExtractTopics(p.Text),
		IsReply:     p.InReplyToID != "",
		ReplyToID:   p.InReplyToID,
		ReplyToUser: p.Author,
		Engagement: Engagement{
			Likes:    p.Likes,
			Retweets: p.Reposts,
		},
		IndexedAt: now.UTC(),
	}
}

// Index stores p keyed by ID, overwriting any earlier entry, persists it,
// and records an interaction for its author. The in-memory entry exists
// even when an error is returned; the error is the first failed write.
func (ix *Index) Index(ctx context.Context, p social.Post) error {
	ip := Analyze(p, ix.now())

	ix.mu.Lock()
	ix.putLocked(&ip)
	data, err := json.Marshal(&ip)
	if err == nil {
		err = ix.store.Save(ctx, postPrefix+ip.ID, data)
	}
	ix.mu.Unlock()

	var firstErr error
	if err != nil {
		firstErr = fmt.Errorf("persisting post %s: %w", ip.ID, err)
	}

	if ip.Author != "" {
		if rerr := ix.recorder.RecordInteraction(ctx, ip.Author, ip.Topics); rerr != nil && firstErr == nil {
			firstErr = rerr
		}
	}
	return firstErr
}

func (ix *Index) putLocked(ip *IndexedPost) {
	if old, ok := ix.posts[ip.ID]; ok {
		ix.untrackLocked(old)
	} else {
		ix.order = append(ix.order, ip.ID)
	}
	ix.posts[ip.ID] = ip
	if ix.isOwn(ip) && ip.ReplyToID != "" {
		ix.ownReplies[ip.ReplyToID]++
	}
}

func (ix *Index) untrackLocked(old *IndexedPost) {
	if ix.isOwn(old) && old.ReplyToID != "" {
		if ix.ownReplies[old.ReplyToID]--; ix.ownReplies[old.ReplyToID] <= 0 {
			delete(ix.ownReplies, old.ReplyToID)
		}
	}
}

func (ix *Index) isOwn(ip *IndexedPost) bool {
	return ix.ownHandle != "" && strings.EqualFold(ip.Author, ix.ownHandle)
}

// HasRepliedTo reports whether an own-authored indexed post replies to postID.
func (ix *Index) HasRepliedTo(postID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.ownReplies[postID] > 0
}

// EngagementStatsFor averages likes and reposts over author's indexed
// posts and ranks their top five hashtags. An author with no posts gets
// zero averages and an empty topic list.
func (ix *Index) EngagementStatsFor(author string) Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var n, likes, reposts int
	var counts []topicCount
	for _, id := range ix.order {
		ip := ix.posts[id]
		if ip.Author != author {
			continue
		}
		n++
		likes += ip.Engagement.Likes
		reposts += ip.Engagement.Retweets
		for _, t := range ip.Topics {
			counts = bumpTopic(counts, t)
		}
	}

	stats := Stats{TopTopics: []string{}}
	if n == 0 {
		return stats
	}
	stats.AvgLikes = float64(likes) / float64(n)
	stats.AvgRetweets = float64(reposts) / float64(n)

	sort.SliceStable(counts, func(i, j int) bool { return counts[i].count > counts[j].count })
	for i := 0; i < len(counts) && i < 5; i++ {
		stats.TopTopics = append(stats.TopTopics, counts[i].topic)
	}
	return stats
}

type topicCount struct {
	topic string
	count int
}

func bumpTopic(counts []topicCount, topic string) []topicCount {
	for i := range counts {
		if counts[i].topic == topic {
			counts[i].count++
			return counts
		}
	}
	return append(counts, topicCount{topic: topic, count: 1})
}

// Get returns a copy of the indexed post with the given ID.
func (ix *Index) Get(id string) (IndexedPost, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ip, ok := ix.posts[id]
	if !ok {
		return IndexedPost{}, false
	}
	cp := *ip
	cp.Topics = append([]string(nil), ip.Topics...)
	return cp, true
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.posts)
}

// Load restores previously indexed posts, in indexing order. It does not
// touch the recorder; memory carries its own snapshot.
func (ix *Index) Load(ctx context.Context) error {
	kvs, err := ix.store.LoadPrefix(ctx, postPrefix)
	if err != nil {
		return fmt.Errorf("loading posts: %w", err)
	}

	loaded := make([]*IndexedPost, 0, len(kvs))
	for _, kv := range kvs {
		var ip IndexedPost
		if err := json.Unmarshal(kv.Value, &ip); err != nil {
			ix.logger.Warn("skipping corrupt post", "key", kv.Key, "error", err)
			continue
		}
		loaded = append(loaded, &ip)
	}
	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].IndexedAt.Before(loaded[j].IndexedAt)
	})

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.posts = make(map[string]*IndexedPost, len(loaded))
	ix.order = ix.order[:0]
	ix.ownReplies = make(map[string]int)
	for _, ip := range loaded {
		ix.putLocked(ip)
	}
	ix.logger.Debug("index loaded", "posts", len(loaded))
	return nil
}
