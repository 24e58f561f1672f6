package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/feedagent/internal/githubfeed"
	"github.com/kalambet/feedagent/internal/index"
	"github.com/kalambet/feedagent/internal/memory"
	"github.com/kalambet/feedagent/internal/monitor"
	"github.com/kalambet/feedagent/internal/social"
	"github.com/kalambet/feedagent/internal/storage"
)

const testToken = "test-token-12345"

type fixture struct {
	store *storage.Store
	mem   *memory.Memory
	ix    *index.Index
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mem := memory.New(store)
	ix := index.New(store, mem, "cheshbot")
	ctx := context.Background()
	for _, p := range []social.Post{
		{ID: "1", Author: "aixbt_agent", Text: "#defi is back", Likes: 120, Reposts: 10},
		{ID: "2", Author: "aixbt_agent", Text: "more #defi and #l2", Likes: 80, Reposts: 30},
	} {
		if err := ix.Index(ctx, p); err != nil {
			t.Fatalf("Index: %v", err)
		}
	}
	return fixture{store: store, mem: mem, ix: ix}
}

type stubCommits struct {
	commits []githubfeed.Commit
	err     error
}

func (s stubCommits) Latest(context.Context, int) ([]githubfeed.Commit, error) {
	return s.commits, s.err
}

type stubPreview struct{ items []monitor.Interaction }

func (s stubPreview) LatestInteractions(_ context.Context, limit int) ([]monitor.Interaction, error) {
	if limit != interactionsLimit {
		return nil, errors.New("unexpected limit")
	}
	return s.items, nil
}

type stubStatus monitor.Status

func (s stubStatus) Status() monitor.Status { return monitor.Status(s) }

func (f fixture) handler(token string) http.Handler {
	return NewDashboardHandler(DashboardDeps{
		Stats:   f.ix,
		Topics:  f.mem,
		Replies: f.store,
		Commits: stubCommits{commits: []githubfeed.Commit{{SHA: "abc", Message: "init"}}},
		Preview: stubPreview{items: []monitor.Interaction{
			{Post: social.Post{ID: "9", Text: "big launch"}, Reply: "Interesting update!", WouldReply: true},
			{Post: social.Post{ID: "8", Text: "a reply"}, Reply: "x", WouldReply: false},
		}},
		Monitors: []StatusReporter{stubStatus{Name: "feed", State: "running", Cursor: "9"}},
		Token:    token,
	})
}

func get(t *testing.T, h http.Handler, url, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	req.RemoteAddr = "127.0.0.1:53122"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, r io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	h := newFixture(t).handler(testToken)

	rr := get(t, h, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	decode(t, rr.Body, &body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestAuth(t *testing.T) {
	h := newFixture(t).handler(testToken)

	if rr := get(t, h, "/api/topics", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}
	if rr := get(t, h, "/api/topics", "wrong"); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}
	if rr := get(t, h, "/api/topics", testToken); rr.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rr.Code)
	}
}

func TestAuth_Challenge(t *testing.T) {
	h := newFixture(t).handler(testToken)

	rr := get(t, h, "/api/monitors", "wrong-but-longer-than-the-real-token")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Errorf("WWW-Authenticate = %q", got)
	}
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	decode(t, rr.Body, &body)
	if body.Error.Type != "authentication_error" {
		t.Errorf("error type = %q", body.Error.Type)
	}
}

func TestNoTokenLoopbackOnly(t *testing.T) {
	h := newFixture(t).handler("")
	if rr := get(t, h, "/api/topics", ""); rr.Code != http.StatusOK {
		t.Errorf("loopback: status = %d, want 200", rr.Code)
	}

	for _, addr := range []string{"192.0.2.7:4000", "[::1]:4000"} {
		req := httptest.NewRequest(http.MethodGet, "/api/monitors", nil)
		req.RemoteAddr = addr
		req.Header.Set("X-Forwarded-For", "127.0.0.1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		want := http.StatusForbidden
		if addr == "[::1]:4000" {
			want = http.StatusOK
		}
		if rr.Code != want {
			t.Errorf("%s: status = %d, want %d", addr, rr.Code, want)
		}
	}

	// /health stays public for the CLI liveness check.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.0.2.7:4000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("/health from remote: status = %d, want 200", rr.Code)
	}
}

func TestStats(t *testing.T) {
	h := newFixture(t).handler("")

	rr := get(t, h, "/api/stats/aixbt_agent", "")
	var stats index.Stats
	decode(t, rr.Body, &stats)
	if stats.AvgLikes != 100 || stats.AvgRetweets != 20 {
		t.Errorf("stats = %+v", stats)
	}
	if len(stats.TopTopics) == 0 || stats.TopTopics[0] != "defi" {
		t.Errorf("top topics = %v", stats.TopTopics)
	}

	rr = get(t, h, "/api/stats/nobody", "")
	if got := strings.TrimSpace(rr.Body.String()); got != `{"avgLikes":0,"avgRetweets":0,"topTopics":[]}` {
		t.Errorf("unknown author body = %s", got)
	}
}

func TestTopics(t *testing.T) {
	h := newFixture(t).handler("")

	var topics []string
	decode(t, get(t, h, "/api/topics/aixbt_agent", "").Body, &topics)
	if len(topics) != 2 || topics[0] != "defi" || topics[1] != "l2" {
		t.Errorf("author topics = %v", topics)
	}

	var history []memory.TopicCount
	decode(t, get(t, h, "/api/topics", "").Body, &history)
	if len(history) != 2 || history[0].Topic != "defi" || history[0].Count != 2 {
		t.Errorf("history = %+v", history)
	}
}

func TestGitHubUpdates(t *testing.T) {
	f := newFixture(t)
	h := f.handler("")

	var commits []githubfeed.Commit
	decode(t, get(t, h, "/api/github/updates", "").Body, &commits)
	if len(commits) != 1 || commits[0].SHA != "abc" {
		t.Errorf("commits = %+v", commits)
	}

	failing := NewDashboardHandler(DashboardDeps{Commits: stubCommits{err: errors.New("403")}})
	if rr := get(t, failing, "/api/github/updates", ""); rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rr.Code)
	}
	if rr := get(t, NewDashboardHandler(DashboardDeps{}), "/api/github/updates", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured status = %d, want 503", rr.Code)
	}
}

// TestInteractions verifies only posts the policy would answer are listed.
func TestInteractions(t *testing.T) {
	h := newFixture(t).handler("")

	var items []map[string]any
	decode(t, get(t, h, "/api/interactions", "").Body, &items)
	if len(items) != 1 {
		t.Fatalf("got %d interactions, want 1", len(items))
	}
	if items[0]["id"] != "9" || items[0]["replyContent"] != "Interesting update!" {
		t.Errorf("interaction = %v", items[0])
	}
}

func TestReplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, kind := range []string{storage.KindReply, storage.KindArt, storage.KindApology} {
		if err := f.store.SaveReply(ctx, storage.Reply{
			ID: kind, PostID: "p", Kind: kind, Text: kind, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}
	h := f.handler("")

	var replies []map[string]any
	decode(t, get(t, h, "/api/replies?limit=2", "").Body, &replies)
	if len(replies) != 2 || replies[0]["kind"] != storage.KindApology {
		t.Errorf("replies = %v", replies)
	}

	if rr := get(t, h, "/api/replies?limit=abc", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", rr.Code)
	}
}

func TestMonitors(t *testing.T) {
	h := newFixture(t).handler("")

	var statuses []monitor.Status
	decode(t, get(t, h, "/api/monitors", "").Body, &statuses)
	if len(statuses) != 1 || statuses[0].Name != "feed" || statuses[0].Cursor != "9" {
		t.Errorf("statuses = %+v", statuses)
	}
}
