package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/feedagent/internal/social"
	"github.com/kalambet/feedagent/internal/storage"
)

const (
	FeedInterval  = 30 * time.Second
	FeedBatchSize = 10
	SendDelay     = 2 * time.Second
)

// Indexer is the part of index.Index the feed monitor drives.
type Indexer interface {
	Index(ctx context.Context, post social.Post) error
}

// Policy decides and composes replies. Implemented by policy.Policy.
type Policy interface {
	ShouldReply(post social.Post) bool
	ComposeReply(post social.Post) string
}

// FeedMonitor watches the target account's posts and replies to the ones
// the policy accepts.
type FeedMonitor struct {
	*poller

	client  social.Client
	index   Indexer
	policy  Policy
	replies ReplyLog
	target  string
	self    string

	sendDelay time.Duration
	now       func() time.Time
}

// NewFeedMonitor creates an Idle monitor of target's posts. self is the
// agent's own handle, used to index sent replies as its own.
func NewFeedMonitor(client social.Client, ix Indexer, pol Policy, replies ReplyLog, sched Scheduler, target, self string) *FeedMonitor {
	m := &FeedMonitor{
		client:    client,
		index:     ix,
		policy:    pol,
		replies:   replies,
		target:    target,
		self:      self,
		sendDelay: SendDelay,
		now:       time.Now,
	}
	m.poller = newPoller("feed", FeedInterval, sched, slog.Default().With("component", "feed_monitor", "target", target))
	m.poller.poll = m.pollOnce
	return m
}

// pollOnce fetches the newest posts and processes the unseen ones
// oldest-first. Only a fetch failure aborts the cycle.
func (m *FeedMonitor) pollOnce(ctx context.Context) error {
	posts, err := m.client.FetchUserPosts(ctx, m.target, FeedBatchSize)
	if err != nil {
		return fmt.Errorf("fetching posts of %s: %w", m.target, err)
	}

	fresh := m.admit(posts, nil)
	if len(fresh) > 0 {
		m.logger.Debug("new posts", "count", len(fresh), "cursor", m.Cursor())
	}
	for _, post := range fresh {
		if err := m.process(ctx, post); err != nil {
			m.logger.Error("processing post", "post_id", post.ID, "error", err)
		}
	}
	return nil
}

func (m *FeedMonitor) process(ctx context.Context, post social.Post) error {
	if err := m.index.Index(ctx, post); err != nil {
		// The index keeps the entry in memory; carry on with the decision.
		m.logger.Warn("index write failed", "post_id", post.ID, "error", err)
	}

	if !m.policy.ShouldReply(post) {
		return nil
	}

	text := m.policy.ComposeReply(post)
	replyID, err := m.client.SendReply(ctx, text, post.ID, nil)
	m.logReply(ctx, storage.KindReply, post, replyID, text, err)
	if err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	m.logger.Info("replied", "post_id", post.ID, "reply_id", replyID, "text", text)

	// Index our own reply now so the already-replied guard sees it
	// without waiting for it to come back through a fetch.
	own := social.Post{
		ID:            replyID,
		Author:        m.self,
		Text:          text,
		InReplyToID:   post.ID,
		InReplyToUser: post.Author,
		CreatedAt:     m.now().UTC(),
	}
	if err := m.index.Index(ctx, own); err != nil {
		m.logger.Warn("indexing own reply failed", "reply_id", replyID, "error", err)
	}

	sleepCtx(ctx, m.sendDelay)
	return nil
}

func (m *FeedMonitor) logReply(ctx context.Context, kind string, post social.Post, replyID, text string, cause error) {
	recordReply(ctx, m.replies, m.logger, storage.Reply{
		PostID:    post.ID,
		ReplyID:   replyID,
		Author:    post.Author,
		Kind:      kind,
		Text:      text,
		CreatedAt: m.now().UTC(),
	}, cause)
}

// Interaction pairs a post with the reply the policy would send now.
type Interaction struct {
	Post       social.Post `json:"post"`
	Reply      string      `json:"reply"`
	WouldReply bool        `json:"would_reply"`
}

// LatestInteractions previews composed replies for the target's newest
// posts without indexing or sending anything.
func (m *FeedMonitor) LatestInteractions(ctx context.Context, limit int) ([]Interaction, error) {
	posts, err := m.client.FetchUserPosts(ctx, m.target, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching posts of %s: %w", m.target, err)
	}
	out := make([]Interaction, 0, len(posts))
	for _, post := range posts {
		out = append(out, Interaction{
			Post:       post,
			Reply:      m.policy.ComposeReply(post),
			WouldReply: m.policy.ShouldReply(post),
		})
	}
	return out, nil
}
