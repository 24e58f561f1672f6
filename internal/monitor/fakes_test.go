package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kalambet/feedagent/internal/scheduler"
	"github.com/kalambet/feedagent/internal/social"
	"github.com/kalambet/feedagent/internal/storage"
)

type sentReply struct {
	text      string
	inReplyTo string
	media     []social.Media
}

// fakeClient serves queued batches and records sends.
type fakeClient struct {
	mu       sync.Mutex
	batches  [][]social.Post // consumed one per fetch; the last one repeats
	fetchErr error
	queries  []string
	sent     []sentReply
	sendErr  func(text, inReplyTo string) error
	nextID   int
}

func (c *fakeClient) next() ([]social.Post, error) {
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	if len(c.batches) == 0 {
		return nil, nil
	}
	b := c.batches[0]
	if len(c.batches) > 1 {
		c.batches = c.batches[1:]
	}
	return append([]social.Post(nil), b...), nil
}

func (c *fakeClient) FetchUserPosts(_ context.Context, handle string, limit int) ([]social.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, fmt.Sprintf("feed:%s:%d", handle, limit))
	return c.next()
}

func (c *fakeClient) SearchPosts(_ context.Context, query string, limit int, mode social.SearchMode) ([]social.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, fmt.Sprintf("search:%s:%d:%s", query, limit, mode))
	return c.next()
}

func (c *fakeClient) SendReply(_ context.Context, text, inReplyTo string, media []social.Media) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		if err := c.sendErr(text, inReplyTo); err != nil {
			return "", err
		}
	}
	c.nextID++
	c.sent = append(c.sent, sentReply{text: text, inReplyTo: inReplyTo, media: media})
	return fmt.Sprintf("r%03d", c.nextID), nil
}

func (c *fakeClient) sends() []sentReply {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentReply(nil), c.sent...)
}

// fakeScheduler records arming without running anything.
type fakeScheduler struct {
	mu      sync.Mutex
	jobs    map[string]scheduler.Job
	armed   int
	removed int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[string]scheduler.Job)}
}

func (s *fakeScheduler) Every(name string, _ time.Duration, job scheduler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = job
	s.armed++
	return nil
}

func (s *fakeScheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		delete(s.jobs, name)
		s.removed++
	}
}

func (s *fakeScheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

func (s *fakeScheduler) fire(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return errors.New("job not armed")
	}
	return job(ctx)
}

// recordingIndex remembers the order of Index calls.
type recordingIndex struct {
	mu      sync.Mutex
	ids     []string
	failIDs map[string]bool
}

func (r *recordingIndex) Index(_ context.Context, p social.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, p.ID)
	if r.failIDs[p.ID] {
		return errors.New("disk full")
	}
	return nil
}

// acceptAll replies to every post that is not ours.
type acceptAll struct{ self string }

func (a acceptAll) ShouldReply(p social.Post) bool { return p.Author != a.self }
func (a acceptAll) ComposeReply(p social.Post) string { return "re " + p.ID }

type memReplyLog struct {
	mu      sync.Mutex
	replies []storage.Reply
}

func (l *memReplyLog) SaveReply(_ context.Context, r storage.Reply) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replies = append(l.replies, r)
	return nil
}

func (l *memReplyLog) RepliesForPost(_ context.Context, postID string) ([]storage.Reply, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []storage.Reply
	for _, r := range l.replies {
		if r.PostID == postID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *memReplyLog) all() []storage.Reply {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]storage.Reply(nil), l.replies...)
}

func post(id, author, text string) social.Post {
	return social.Post{ID: id, Author: author, Text: text}
}
