package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/feedagent/internal/social"
	"github.com/kalambet/feedagent/internal/storage"
)

func TestExtractPrompt(t *testing.T) {
	tests := []struct {
		text   string
		prompt string
		ok     bool
	}{
		{"@cheshbot #generateart a neon cat in rain", "a neon cat in rain", true},
		{"@cheshbot #GenerateArt   sunset over dunes  ", "sunset over dunes", true},
		{"@cheshbot #generateart", "", false},
		{"@cheshbot #generateart   ", "", false},
		{"@cheshbot make me something", "", false},
		{"#generateartwork please", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractPrompt(tt.text)
		if got != tt.prompt || ok != tt.ok {
			t.Errorf("ExtractPrompt(%q) = (%q, %v), want (%q, %v)", tt.text, got, ok, tt.prompt, tt.ok)
		}
	}
}

type fakeRenderer struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (r *fakeRenderer) Render(_ context.Context, prompt string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	if r.err != nil {
		return nil, r.err
	}
	return []byte("\x89PNG" + prompt), nil
}

type fakeArchive struct {
	images [][]byte
	err    error
}

func (a *fakeArchive) Archive(img []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.images = append(a.images, img)
	return "/tmp/generated.png", nil
}

func newTestMentions(client *fakeClient, r Renderer, a Archiver) (*MentionMonitor, *memReplyLog) {
	log := &memReplyLog{}
	return NewMentionMonitor(client, r, a, log, newFakeScheduler(), "@"+self), log
}

func TestMentions_ArtReply(t *testing.T) {
	client := &fakeClient{batches: [][]social.Post{{
		post("m2", "dave", "@cheshbot #generateart a neon cat in rain"),
	}}}
	r := &fakeRenderer{}
	a := &fakeArchive{}
	m, log := newTestMentions(client, r, a)

	if err := m.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	if want := "search:@cheshbot #generateart:20:latest"; client.queries[0] != want {
		t.Errorf("query = %q, want %q", client.queries[0], want)
	}
	if len(r.prompts) != 1 || r.prompts[0] != "a neon cat in rain" {
		t.Errorf("prompts = %v", r.prompts)
	}
	sent := client.sends()
	if len(sent) != 1 {
		t.Fatalf("sent %d replies, want 1", len(sent))
	}
	if sent[0].text != "@dave Here's your generated art! 🎨" || sent[0].inReplyTo != "m2" {
		t.Errorf("reply = %+v", sent[0])
	}
	if len(sent[0].media) != 1 || sent[0].media[0].MimeType != "image/png" {
		t.Errorf("media = %+v", sent[0].media)
	}
	if len(a.images) != 1 {
		t.Error("image not archived")
	}
	if entries := log.all(); len(entries) != 1 || entries[0].Kind != storage.KindArt {
		t.Errorf("reply log = %+v", entries)
	}
}

// TestMentions_SkipsBareTagAndSelf verifies a tag with no prompt and the
// bot's own posts never reach the renderer.
func TestMentions_SkipsBareTagAndSelf(t *testing.T) {
	client := &fakeClient{batches: [][]social.Post{{
		post("m3", "CheshBot", "@cheshbot #generateart a self portrait"),
		post("m2", "erin", "@cheshbot #generateart"),
	}}}
	r := &fakeRenderer{}
	m, log := newTestMentions(client, r, nil)

	if err := m.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(r.prompts) != 0 {
		t.Errorf("renderer called with %v", r.prompts)
	}
	if len(client.sends()) != 0 || len(log.all()) != 0 {
		t.Error("skipped mentions should produce no reply")
	}
	// The bare tag still advances the cursor; the own post is filtered first.
	if m.Cursor() != "m2" {
		t.Errorf("cursor = %q, want m2", m.Cursor())
	}
}

func TestMentions_RenderFailureApologizes(t *testing.T) {
	client := &fakeClient{batches: [][]social.Post{{
		post("m4", "frank", "@cheshbot #generateart a cube"),
	}}}
	m, log := newTestMentions(client, &fakeRenderer{err: errors.New("content policy")}, nil)

	if err := m.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	sent := client.sends()
	if len(sent) != 1 {
		t.Fatalf("sent %d replies, want 1 apology", len(sent))
	}
	want := "@frank Sorry, I encountered an error while generating your art. Please try again later."
	if sent[0].text != want || sent[0].media != nil {
		t.Errorf("apology = %+v", sent[0])
	}
	entries := log.all()
	if len(entries) != 1 || entries[0].Kind != storage.KindApology || !strings.Contains(entries[0].LastError, "content policy") {
		t.Errorf("reply log = %+v", entries)
	}
}

func TestMentions_SendFailureApologizes(t *testing.T) {
	client := &fakeClient{
		batches: [][]social.Post{{post("m5", "gina", "@cheshbot #generateart waves")}},
		sendErr: func(text, _ string) error {
			if strings.Contains(text, "generated art") {
				return errors.New("blob too large")
			}
			return nil
		},
	}
	m, log := newTestMentions(client, &fakeRenderer{}, nil)

	if err := m.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	sent := client.sends()
	if len(sent) != 1 || !strings.HasPrefix(sent[0].text, "@gina Sorry") {
		t.Fatalf("sends = %+v, want one apology", sent)
	}
	entries := log.all()
	if len(entries) != 2 || entries[0].Kind != storage.KindArt || entries[1].Kind != storage.KindApology {
		t.Errorf("reply log = %+v", entries)
	}
	if entries[0].ReplyID != "" || entries[0].LastError == "" {
		t.Errorf("failed art send logged as %+v", entries[0])
	}
}

// TestMentions_ApologyFailureNotRetried verifies a failing apology is
// recorded once and the loop moves on.
func TestMentions_ApologyFailureNotRetried(t *testing.T) {
	client := &fakeClient{
		batches: [][]social.Post{{
			post("m7", "ivan", "@cheshbot #generateart two"),
			post("m6", "hank", "@cheshbot #generateart one"),
		}},
		sendErr: func(_, inReplyTo string) error {
			if inReplyTo == "m6" {
				return errors.New("offline")
			}
			return nil
		},
	}
	m, log := newTestMentions(client, &fakeRenderer{}, &fakeArchive{err: errors.New("read-only fs")})

	if err := m.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	sent := client.sends()
	if len(sent) != 1 || sent[0].inReplyTo != "m7" {
		t.Errorf("sends = %+v, want only the art reply to m7", sent)
	}
	var apologies int
	for _, r := range log.all() {
		if r.PostID == "m6" && r.Kind == storage.KindApology {
			apologies++
			if !strings.Contains(r.LastError, "apology") {
				t.Errorf("apology failure not recorded: %q", r.LastError)
			}
		}
	}
	if apologies != 1 {
		t.Errorf("apologies for m6 = %d, want 1", apologies)
	}
}

func TestMentions_DedupAcrossPolls(t *testing.T) {
	client := &fakeClient{batches: [][]social.Post{
		{post("m8", "jo", "@cheshbot #generateart moon")},
		{post("m9", "jo", "@cheshbot #generateart sun"), post("m8", "jo", "@cheshbot #generateart moon")},
	}}
	r := &fakeRenderer{}
	m, _ := newTestMentions(client, r, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := m.PollOnce(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if len(r.prompts) != 2 || r.prompts[0] != "moon" || r.prompts[1] != "sun" {
		t.Errorf("prompts = %v, want [moon sun]", r.prompts)
	}
}

// TestMentions_AnsweredBeforeRestart verifies a fresh monitor, whose cursor
// is empty, does not render again for mentions the reply log shows as answered.
func TestMentions_AnsweredBeforeRestart(t *testing.T) {
	client := &fakeClient{batches: [][]social.Post{{
		post("m12", "lee", "@cheshbot #generateart harbor at dusk"),
		post("m11", "kim", "@cheshbot #generateart a red fox"),
		post("m10", "jan", "@cheshbot #generateart glass city"),
	}}}
	r := &fakeRenderer{}
	m, log := newTestMentions(client, r, nil)
	ctx := context.Background()
	for _, prior := range []storage.Reply{
		{PostID: "m10", ReplyID: "r10", Kind: storage.KindArt},
		{PostID: "m11", Kind: storage.KindArt, LastError: "offline"},
		{PostID: "m11", ReplyID: "r11", Kind: storage.KindApology},
		{PostID: "m12", Kind: storage.KindApology, LastError: "offline"},
		{PostID: "m12", ReplyID: "r12", Kind: storage.KindReply},
	} {
		if err := log.SaveReply(ctx, prior); err != nil {
			t.Fatal(err)
		}
	}

	if err := m.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	if len(r.prompts) != 1 || r.prompts[0] != "harbor at dusk" {
		t.Errorf("prompts = %v, want only the undelivered m12", r.prompts)
	}
	if sent := client.sends(); len(sent) != 1 || sent[0].inReplyTo != "m12" {
		t.Errorf("sends = %+v, want one reply to m12", sent)
	}
}
