package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/feedagent/internal/social"
	"github.com/kalambet/feedagent/internal/storage"
)

const (
	MentionInterval  = 60 * time.Second
	MentionBatchSize = 20
	ArtTag           = "#generateart"
)

var promptRe = regexp.MustCompile(`(?i)#generateart\s+(.+)$`)

// ExtractPrompt returns the text following the art tag. ok is false when
// the tag is absent or nothing but whitespace follows it.
func ExtractPrompt(text string) (prompt string, ok bool) {
	m := promptRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	prompt = strings.TrimSpace(m[1])
	return prompt, prompt != ""
}

// Renderer turns a prompt into PNG bytes. Implemented by the art backends.
type Renderer interface {
	Render(ctx context.Context, prompt string) ([]byte, error)
}

// Archiver keeps a copy of every rendered image.
type Archiver interface {
	Archive(image []byte) (string, error)
}

// ReplyHistory returns what was already sent in answer to a post.
// Implemented by storage.Store.
type ReplyHistory interface {
	RepliesForPost(ctx context.Context, postID string) ([]storage.Reply, error)
}

// MentionLog is the reply log the mention monitor both writes and consults.
type MentionLog interface {
	ReplyLog
	ReplyHistory
}

// MentionMonitor answers "@bot #generateart <prompt>" mentions with a
// rendered image, or an apology when rendering or sending fails.
type MentionMonitor struct {
	*poller

	client   social.Client
	renderer Renderer
	archive  Archiver
	replies  MentionLog
	self     string
	now      func() time.Time
}

// NewMentionMonitor creates an Idle mention monitor. self is the handle the
// session logged in as; mentions of it trigger renders, posts by it are ignored.
func NewMentionMonitor(client social.Client, renderer Renderer, archive Archiver, replies MentionLog, sched Scheduler, self string) *MentionMonitor {
	m := &MentionMonitor{
		client:   client,
		renderer: renderer,
		archive:  archive,
		replies:  replies,
		self:     strings.TrimPrefix(self, "@"),
		now:      time.Now,
	}
	m.poller = newPoller("mentions", MentionInterval, sched, slog.Default().With("component", "mention_monitor"))
	m.poller.poll = m.pollOnce
	return m
}

func (m *MentionMonitor) query() string {
	return "@" + m.self + " " + ArtTag
}

func (m *MentionMonitor) pollOnce(ctx context.Context) error {
	posts, err := m.client.SearchPosts(ctx, m.query(), MentionBatchSize, social.SearchLatest)
	if err != nil {
		return fmt.Errorf("searching mentions: %w", err)
	}

	fresh := m.admit(posts, func(p social.Post) bool {
		return !strings.EqualFold(p.Author, m.self)
	})
	for _, post := range fresh {
		m.process(ctx, post)
	}
	return nil
}

func (m *MentionMonitor) process(ctx context.Context, mention social.Post) {
	prompt, ok := ExtractPrompt(mention.Text)
	if !ok {
		return
	}
	log := m.logger.With("post_id", mention.ID, "author", mention.Author)
	if m.answered(ctx, mention.ID) {
		// The cursor starts empty after a restart; the reply log does not.
		log.Debug("mention already answered")
		return
	}
	log.Info("generating art", "prompt", prompt)

	img, err := m.renderer.Render(ctx, prompt)
	if err != nil {
		log.Error("rendering art", "error", err)
		m.apologize(ctx, mention, err)
		return
	}

	if m.archive != nil {
		if path, err := m.archive.Archive(img); err != nil {
			log.Warn("archiving art failed", "error", err)
		} else {
			log.Debug("art archived", "path", path)
		}
	}

	text := fmt.Sprintf("@%s Here's your generated art! 🎨", mention.Author)
	replyID, err := m.client.SendReply(ctx, text, mention.ID, []social.Media{{Data: img, MimeType: "image/png"}})
	m.logReply(ctx, storage.KindArt, mention, replyID, text, err)
	if err != nil {
		log.Error("sending art reply", "error", err)
		m.apologize(ctx, mention, err)
		return
	}
	log.Info("replied with art", "reply_id", replyID)
}

// answered reports whether an art reply or apology for postID was delivered.
// Feed replies to the same post do not count.
// A lookup failure counts as not answered.
func (m *MentionMonitor) answered(ctx context.Context, postID string) bool {
	if m.replies == nil {
		return false
	}
	past, err := m.replies.RepliesForPost(ctx, postID)
	if err != nil {
		m.logger.Warn("reading reply log", "post_id", postID, "error", err)
		return false
	}
	for _, r := range past {
		if r.ReplyID != "" && (r.Kind == storage.KindArt || r.Kind == storage.KindApology) {
			return true
		}
	}
	return false
}

// apologize tells the author their request failed. Its own failure is
// logged and not retried.
func (m *MentionMonitor) apologize(ctx context.Context, mention social.Post, cause error) {
	text := fmt.Sprintf("@%s Sorry, I encountered an error while generating your art. Please try again later.", mention.Author)
	replyID, err := m.client.SendReply(ctx, text, mention.ID, nil)
	logErr := cause
	if err != nil {
		m.logger.Error("sending apology", "post_id", mention.ID, "error", err)
		logErr = fmt.Errorf("%v; apology: %w", cause, err)
	}
	m.logReply(ctx, storage.KindApology, mention, replyID, text, logErr)
}

func (m *MentionMonitor) logReply(ctx context.Context, kind string, post social.Post, replyID, text string, cause error) {
	recordReply(ctx, m.replies, m.logger, storage.Reply{
		PostID:    post.ID,
		ReplyID:   replyID,
		Author:    post.Author,
		Kind:      kind,
		Text:      text,
		CreatedAt: m.now().UTC(),
	}, cause)
}
