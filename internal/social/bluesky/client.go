// Package bluesky implements social.Client over the AT Protocol XRPC API.
package bluesky

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/bluesky-social/indigo/xrpc"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kalambet/feedagent/internal/social"
)

const (
	postCollection = "app.bsky.feed.post"
	refCacheSize   = 2048
	userAgent      = "feedagent/1.0"
)

// Client reads and writes posts on a Bluesky PDS using a single
// app-password session.
//
// Post IDs are record keys (TIDs). Replying needs the full strong refs of
// the target, so every post returned by a read is remembered in an LRU
// keyed by ID; SendReply fails for IDs it has never seen.
type Client struct {
	identifier string
	password   string

	mu   sync.Mutex
	xrpc *xrpc.Client

	refs   *lru.Cache[string, threadRef]
	logger *slog.Logger
}

type threadRef struct {
	Post strongRef
	Root strongRef
}

// New creates a client against host (e.g. https://bsky.social). Call Login
// before any other method.
func New(host, identifier, password string, httpClient *http.Client) *Client {
	refs, _ := lru.New[string, threadRef](refCacheSize)
	ua := userAgent
	return &Client{
		identifier: strings.TrimPrefix(identifier, "@"),
		password:   password,
		xrpc: &xrpc.Client{
			Client:    httpClient,
			Host:      strings.TrimRight(host, "/"),
			UserAgent: &ua,
		},
		refs:   refs,
		logger: slog.Default().With("component", "bluesky"),
	}
}

var _ social.Client = (*Client)(nil)

// Login creates a session with the configured app password.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	in := createSessionInput{Identifier: c.identifier, Password: c.password}
	var out createSessionOutput

	// createSession must go out without a stale bearer token.
	anon := *c.xrpc
	anon.Auth = nil
	if err := anon.Do(ctx, xrpc.Procedure, "application/json", "com.atproto.server.createSession", nil, in, &out); err != nil {
		return fmt.Errorf("creating session for %s: %w", c.identifier, err)
	}

	c.xrpc.Auth = &xrpc.AuthInfo{
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Handle:     out.Handle,
		Did:        out.Did,
	}
	c.logger.Info("logged in", "handle", out.Handle, "did", out.Did)
	return nil
}

// Handle returns the session's handle, or "" before Login.
func (c *Client) Handle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.xrpc.Auth == nil {
		return ""
	}
	return c.xrpc.Auth.Handle
}

// do runs an XRPC call, logging in again once if the access token expired.
func (c *Client) do(ctx context.Context, kind xrpc.XRPCRequestType, inpenc, method string, params map[string]any, body, out any) error {
	c.mu.Lock()
	if c.xrpc.Auth == nil {
		c.mu.Unlock()
		return errors.New("bluesky: not logged in")
	}
	cl := *c.xrpc
	c.mu.Unlock()

	err := cl.Do(ctx, kind, inpenc, method, params, body, out)
	if !isExpiredToken(err) {
		return err
	}

	c.mu.Lock()
	if lerr := c.loginLocked(ctx); lerr != nil {
		c.mu.Unlock()
		return lerr
	}
	cl = *c.xrpc
	c.mu.Unlock()

	if r, ok := body.(*bytes.Reader); ok {
		if _, serr := r.Seek(0, 0); serr != nil {
			return serr
		}
	}
	return cl.Do(ctx, kind, inpenc, method, params, body, out)
}

func isExpiredToken(err error) bool {
	var xe *xrpc.Error
	if !errors.As(err, &xe) {
		return false
	}
	var inner *xrpc.XRPCError
	if errors.As(xe.Wrapped, &inner) {
		return inner.ErrStr == "ExpiredToken"
	}
	return false
}

// FetchUserPosts returns the newest posts authored by handle, reposts excluded.
func (c *Client) FetchUserPosts(ctx context.Context, handle string, limit int) ([]social.Post, error) {
	params := map[string]any{
		"actor": strings.TrimPrefix(handle, "@"),
		"limit": clampLimit(limit),
	}
	var out authorFeedOutput
	if err := c.do(ctx, xrpc.Query, "", "app.bsky.feed.getAuthorFeed", params, nil, &out); err != nil {
		return nil, fmt.Errorf("fetching feed of %s: %w", handle, err)
	}

	posts := make([]social.Post, 0, len(out.Feed))
	for _, item := range out.Feed {
		if item.Reason != nil {
			continue
		}
		p, err := c.convert(item.Post)
		if err != nil {
			c.logger.Warn("skipping malformed post", "uri", item.Post.URI, "error", err)
			continue
		}
		if item.Reply != nil && item.Reply.Parent.Author.Handle != "" {
			p.InReplyToUser = item.Reply.Parent.Author.Handle
		}
		posts = append(posts, p)
		if len(posts) == limit {
			break
		}
	}
	return posts, nil
}

// SearchPosts runs a full-text search. Results are newest-first for
// SearchLatest.
func (c *Client) SearchPosts(ctx context.Context, query string, limit int, mode social.SearchMode) ([]social.Post, error) {
	if mode == "" {
		mode = social.SearchLatest
	}
	params := map[string]any{
		"q":     query,
		"limit": clampLimit(limit),
		"sort":  string(mode),
	}
	var out searchPostsOutput
	if err := c.do(ctx, xrpc.Query, "", "app.bsky.feed.searchPosts", params, nil, &out); err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}

	posts := make([]social.Post, 0, len(out.Posts))
	for _, pv := range out.Posts {
		p, err := c.convert(pv)
		if err != nil {
			c.logger.Warn("skipping malformed post", "uri", pv.URI, "error", err)
			continue
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// SendReply publishes text as a reply to inReplyToID, uploading media as
// an image embed.
func (c *Client) SendReply(ctx context.Context, text, inReplyToID string, media []social.Media) (string, error) {
	parent, ok := c.refs.Get(inReplyToID)
	if !ok {
		return "", fmt.Errorf("replying to %s: post not seen in a recent fetch", inReplyToID)
	}

	rec := postRecord{
		Type:      postCollection,
		Text:      text,
		CreatedAt: syntax.DatetimeNow().String(),
		Reply: &replyRef{
			Root:   parent.Root,
			Parent: parent.Post,
		},
	}

	if len(media) > 0 {
		embed := &imagesEmbed{Type: "app.bsky.embed.images"}
		for i, m := range media {
			blob, err := c.uploadBlob(ctx, m)
			if err != nil {
				return "", fmt.Errorf("uploading media %d: %w", i, err)
			}
			embed.Images = append(embed.Images, embedImage{Alt: "", Image: blob})
		}
		rec.Embed = embed
	}

	c.mu.Lock()
	did := ""
	if c.xrpc.Auth != nil {
		did = c.xrpc.Auth.Did
	}
	c.mu.Unlock()

	in := createRecordInput{Repo: did, Collection: postCollection, Record: rec}
	var out createRecordOutput
	if err := c.do(ctx, xrpc.Procedure, "application/json", "com.atproto.repo.createRecord", nil, in, &out); err != nil {
		return "", fmt.Errorf("creating reply to %s: %w", inReplyToID, err)
	}

	id, err := recordKey(out.URI)
	if err != nil {
		return "", fmt.Errorf("parsing created record uri: %w", err)
	}
	c.refs.Add(id, threadRef{Post: strongRef{URI: out.URI, CID: out.CID}, Root: parent.Root})
	return id, nil
}

func (c *Client) uploadBlob(ctx context.Context, m social.Media) (blobRef, error) {
	mime := m.MimeType
	if mime == "" {
		mime = "image/png"
	}
	var out uploadBlobOutput
	if err := c.do(ctx, xrpc.Procedure, mime, "com.atproto.repo.uploadBlob", nil, bytes.NewReader(m.Data), &out); err != nil {
		return nil, err
	}
	return out.Blob, nil
}

// convert maps a post view to a social.Post and remembers its thread refs.
func (c *Client) convert(pv postView) (social.Post, error) {
	id, err := recordKey(pv.URI)
	if err != nil {
		return social.Post{}, err
	}

	p := social.Post{
		ID:      id,
		Author:  strings.ToLower(pv.Author.Handle),
		Text:    pv.Record.Text,
		Likes:   pv.LikeCount,
		Reposts: pv.RepostCount,
	}
	if t, err := syntax.ParseDatetimeTime(pv.Record.CreatedAt); err == nil {
		p.CreatedAt = t
	}

	ref := threadRef{Post: strongRef{URI: pv.URI, CID: pv.CID}}
	ref.Root = ref.Post
	if r := pv.Record.Reply; r != nil {
		ref.Root = r.Root
		if pid, err := recordKey(r.Parent.URI); err == nil {
			p.InReplyToID = pid
		}
		if p.InReplyToUser == "" {
			if u, err := syntax.ParseATURI(r.Parent.URI); err == nil {
				if auth, err := u.Authority(); err == nil {
					p.InReplyToUser = auth.String()
				}
			}
		}
	}
	c.refs.Add(id, ref)
	return p, nil
}

func recordKey(uri string) (string, error) {
	u, err := syntax.ParseATURI(uri)
	if err != nil {
		return "", err
	}
	rkey, err := u.RecordKey()
	if err != nil {
		return "", err
	}
	return rkey.String(), nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 50
	case n > 100:
		return 100
	}
	return n
}
