package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Reply kinds recorded in the reply log.
const (
	KindReply   = "reply"
	KindArt     = "art"
	KindApology = "apology"
)

// Reply is one message the agent sent back to the platform.
type Reply struct {
	ID        string
	PostID    string // post being replied to
	ReplyID   string // identifier of the sent reply; empty when the send failed
	Author    string // author of the post being replied to
	Kind      string
	Text      string
	CreatedAt time.Time
	LastError string
}
