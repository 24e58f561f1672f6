package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/feedagent/internal/githubfeed"
	"github.com/kalambet/feedagent/internal/index"
	"github.com/kalambet/feedagent/internal/memory"
	"github.com/kalambet/feedagent/internal/monitor"
	"github.com/kalambet/feedagent/internal/storage"
)

const (
	interactionsLimit   = 100
	defaultRepliesLimit = 20
	maxRepliesLimit     = 200
	topicsLimit         = 5
	topicHistoryLimit   = 50
)

// Stats is the read side of the post index.
type Stats interface {
	EngagementStatsFor(author string) index.Stats
}

// Topics is the read side of the interaction memory.
type Topics interface {
	TopTopicsFor(author string, limit int) []string
	TopicHistory(limit int) []memory.TopicCount
}

type ReplyLog interface {
	RecentReplies(ctx context.Context, limit int) ([]storage.Reply, error)
}

type Commits interface {
	Latest(ctx context.Context, limit int) ([]githubfeed.Commit, error)
}

// Previewer composes replies for the target's newest posts without sending.
type Previewer interface {
	LatestInteractions(ctx context.Context, limit int) ([]monitor.Interaction, error)
}

type StatusReporter interface {
	Status() monitor.Status
}

// DashboardDeps holds what the read-only dashboard reports on. Commits and
// Preview are optional; their routes answer 503 when nil.
type DashboardDeps struct {
	Stats    Stats
	Topics   Topics
	Replies  ReplyLog
	Commits  Commits
	Preview  Previewer
	Monitors []StatusReporter
	Token    string // empty: loopback clients only
}

// NewDashboardHandler returns the dashboard router.
func NewDashboardHandler(deps DashboardDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(DashboardAuth(deps.Token))
		r.Get("/api/stats/{username}", handleStats(deps))
		r.Get("/api/topics/{username}", handleAuthorTopics(deps))
		r.Get("/api/topics", handleTopicHistory(deps))
		r.Get("/api/github/updates", handleGitHubUpdates(deps))
		r.Get("/api/interactions", handleInteractions(deps))
		r.Get("/api/replies", handleReplies(deps))
		r.Get("/api/monitors", handleMonitors(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStats(deps DashboardDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Stats.EngagementStatsFor(chi.URLParam(r, "username")))
	}
}

func handleAuthorTopics(deps DashboardDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Topics.TopTopicsFor(chi.URLParam(r, "username"), topicsLimit))
	}
}

func handleTopicHistory(deps DashboardDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Topics.TopicHistory(topicHistoryLimit))
	}
}

func handleGitHubUpdates(deps DashboardDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Commits == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "github feed not configured")
			return
		}
		commits, err := deps.Commits.Latest(r.Context(), githubfeed.DefaultLimit)
		if err != nil {
			slog.Error("fetching github updates", "error", err)
			httpError(w, http.StatusBadGateway, "api_error", "failed to fetch GitHub updates")
			return
		}
		writeJSON(w, commits)
	}
}

type interactionView struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	ReplyContent string    `json:"replyContent"`
	Timestamp    time.Time `json:"timestamp"`
}

func handleInteractions(deps DashboardDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Preview == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "feed monitor not running")
			return
		}
		items, err := deps.Preview.LatestInteractions(r.Context(), interactionsLimit)
		if err != nil {
			slog.Error("fetching interactions", "error", err)
			httpError(w, http.StatusBadGateway, "api_error", "failed to fetch interactions")
			return
		}

		out := make([]interactionView, 0, len(items))
		for _, it := range items {
			if !it.WouldReply {
				continue
			}
			out = append(out, interactionView{
				ID:           it.Post.ID,
				Text:         it.Post.Text,
				ReplyContent: it.Reply,
				Timestamp:    it.Post.CreatedAt,
			})
		}
		writeJSON(w, out)
	}
}

type replyView struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	ReplyID   string    `json:"reply_id,omitempty"`
	Author    string    `json:"author"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Error     string    `json:"error,omitempty"`
}

func handleReplies(deps DashboardDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRepliesLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = min(n, maxRepliesLimit)
		}

		replies, err := deps.Replies.RecentReplies(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list replies: %v", err)
			return
		}

		out := make([]replyView, len(replies))
		for i, rp := range replies {
			out[i] = replyView{
				ID:        rp.ID,
				PostID:    rp.PostID,
				ReplyID:   rp.ReplyID,
				Author:    rp.Author,
				Kind:      rp.Kind,
				Text:      rp.Text,
				CreatedAt: rp.CreatedAt,
				Error:     rp.LastError,
			}
		}
		writeJSON(w, out)
	}
}

func handleMonitors(deps DashboardDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]monitor.Status, len(deps.Monitors))
		for i, m := range deps.Monitors {
			out[i] = m.Status()
		}
		writeJSON(w, out)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
