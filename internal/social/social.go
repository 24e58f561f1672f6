// Package social defines the platform contract the monitors depend on.
package social

import (
	"context"
	"time"
)

// Post is a single unit of content read from the platform. IDs are opaque
// strings whose lexical order matches the platform's issuance order.
type Post struct {
	ID            string    `json:"id"`
	Author        string    `json:"author"`
	Text          string    `json:"text"`
	InReplyToID   string    `json:"in_reply_to_id,omitempty"`
	InReplyToUser string    `json:"in_reply_to_user,omitempty"`
	Likes         int       `json:"likes"`
	Reposts       int       `json:"reposts"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsReply reports whether the post answers another post.
func (p Post) IsReply() bool {
	return p.InReplyToID != ""
}

// Media is an attachment sent with a reply.
type Media struct {
	Data     []byte
	MimeType string
}

type SearchMode string

const (
	SearchLatest SearchMode = "latest"
	SearchTop    SearchMode = "top"
)

// Client is the platform surface used by the monitors and the dashboard.
// Both read calls return posts newest-first.
type Client interface {
	FetchUserPosts(ctx context.Context, handle string, limit int) ([]Post, error)
	SearchPosts(ctx context.Context, query string, limit int, mode SearchMode) ([]Post, error)
	// SendReply posts text in reply to inReplyToID and returns the new post's ID.
	SendReply(ctx context.Context, text, inReplyToID string, media []Media) (string, error)
}
