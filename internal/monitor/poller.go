// Package monitor polls the platform for new posts and mentions and drives
// each new item exactly once through its handler.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/feedagent/internal/scheduler"
	"github.com/kalambet/feedagent/internal/social"
	"github.com/kalambet/feedagent/internal/storage"
)

// Scheduler arms the recurring poll. Implemented by scheduler.Scheduler.
type Scheduler interface {
	Every(name string, interval time.Duration, job scheduler.Job) error
	Remove(name string)
	Next(name string) (time.Time, bool)
}

// ReplyLog records every reply the agent sends. Implemented by storage.Store.
type ReplyLog interface {
	SaveReply(ctx context.Context, r storage.Reply) error
}

type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Status is a point-in-time view of a monitor.
type Status struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Cursor    string    `json:"cursor"`
	Polls     int       `json:"polls"`
	LastPoll  time.Time `json:"last_poll"`
	LastError string    `json:"last_error,omitempty"`
	NextRun   time.Time `json:"next_run"`
}

// poller is the state machine shared by both monitors: an Idle/Running
// state, the cursor, and a single-slot guard so two polls of the same
// monitor never overlap.
type poller struct {
	name     string
	interval time.Duration
	sched    Scheduler
	poll     func(ctx context.Context) error
	logger   *slog.Logger

	slot sync.Mutex // held for the duration of a poll

	mu        sync.Mutex
	state     State
	cursor    string
	polls     int
	lastPoll  time.Time
	lastError string
}

func newPoller(name string, interval time.Duration, sched Scheduler, logger *slog.Logger) *poller {
	return &poller{
		name:     name,
		interval: interval,
		sched:    sched,
		logger:   logger,
	}
}

// Start moves Idle to Running: one immediate poll, then a recurring job.
// Calling Start while Running is a no-op. A failed immediate poll is
// logged; the recurring job retries it.
func (p *poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state == Running {
		p.mu.Unlock()
		return nil
	}
	p.state = Running
	p.mu.Unlock()

	p.logger.Info("monitor started", "interval", p.interval)
	if err := p.PollOnce(ctx); err != nil {
		p.logger.Warn("initial poll failed", "error", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Running {
		// Stopped during the initial poll.
		return nil
	}
	if err := p.sched.Every(p.name, p.interval, p.tick); err != nil {
		p.state = Idle
		return fmt.Errorf("arming %s: %w", p.name, err)
	}
	return nil
}

// Stop moves Running to Idle. Future firings are cancelled; a poll already
// in flight runs to completion. Calling Stop while Idle is a no-op.
func (p *poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Idle {
		return
	}
	p.sched.Remove(p.name)
	p.state = Idle
	p.logger.Info("monitor stopped")
}

func (p *poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PollOnce runs one poll cycle, waiting for any poll in flight to finish first.
func (p *poller) PollOnce(ctx context.Context) error {
	p.slot.Lock()
	defer p.slot.Unlock()
	return p.run(ctx)
}

// tick is the scheduled entry point; it skips when a poll is in flight.
func (p *poller) tick(ctx context.Context) error {
	if !p.slot.TryLock() {
		p.logger.Debug("previous poll still running, skipping tick")
		return nil
	}
	defer p.slot.Unlock()
	return p.run(ctx)
}

func (p *poller) run(ctx context.Context) error {
	err := p.poll(ctx)

	p.mu.Lock()
	p.polls++
	p.lastPoll = time.Now()
	p.lastError = ""
	if err != nil {
		p.lastError = err.Error()
	}
	p.mu.Unlock()
	return err
}

// Cursor returns the highest post ID handed to processing, "" before any.
func (p *poller) Cursor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// admit filters posts (newest-first) down to those past the cursor that
// keep accepts, advances the cursor to the first survivor, and returns the
// survivors oldest-first. IDs compare lexically.
func (p *poller) admit(posts []social.Post, keep func(social.Post) bool) []social.Post {
	p.mu.Lock()
	cursor := p.cursor
	p.mu.Unlock()

	fresh := make([]social.Post, 0, len(posts))
	for _, post := range posts {
		if cursor != "" && post.ID <= cursor {
			continue
		}
		if keep != nil && !keep(post) {
			continue
		}
		fresh = append(fresh, post)
	}
	if len(fresh) == 0 {
		return nil
	}

	p.mu.Lock()
	if fresh[0].ID > p.cursor {
		p.cursor = fresh[0].ID
	}
	p.mu.Unlock()

	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}
	return fresh
}

func (p *poller) Status() Status {
	p.mu.Lock()
	st := Status{
		Name:      p.name,
		State:     p.state.String(),
		Cursor:    p.cursor,
		Polls:     p.polls,
		LastPoll:  p.lastPoll,
		LastError: p.lastError,
	}
	running := p.state == Running
	p.mu.Unlock()

	if running {
		if next, ok := p.sched.Next(p.name); ok {
			st.NextRun = next
		}
	}
	return st
}

// recordReply appends r to the reply log; a failed write is only logged.
func recordReply(ctx context.Context, replies ReplyLog, logger *slog.Logger, r storage.Reply, cause error) {
	if replies == nil {
		return
	}
	r.ID = uuid.New().String()
	if cause != nil {
		r.LastError = cause.Error()
	}
	if err := replies.SaveReply(ctx, r); err != nil {
		logger.Warn("recording reply failed", "post_id", r.PostID, "error", err)
	}
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
