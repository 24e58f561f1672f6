// Package githubfeed lists the latest commits of a repository for the
// dashboard.
package githubfeed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v66/github"
)

const DefaultLimit = 5

// Commit is the dashboard view of one commit.
type Commit struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	URL     string    `json:"url"`
}

type Feed struct {
	client *github.Client
	owner  string
	repo   string
}

// New returns a feed of owner/repo. An empty token uses unauthenticated
// requests.
func New(owner, repo, token string, httpClient *http.Client) *Feed {
	client := github.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &Feed{client: client, owner: owner, repo: repo}
}

// Latest returns up to limit commits, newest first.
func (f *Feed) Latest(ctx context.Context, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	commits, _, err := f.client.Repositories.ListCommits(ctx, f.owner, f.repo, &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, fmt.Errorf("listing commits of %s/%s: %w", f.owner, f.repo, err)
	}

	out := make([]Commit, 0, len(commits))
	for _, c := range commits {
		item := Commit{
			SHA: c.GetSHA(),
			URL: c.GetHTMLURL(),
		}
		if rc := c.GetCommit(); rc != nil {
			item.Message = rc.GetMessage()
			item.Author = rc.GetAuthor().GetName()
			item.Date = rc.GetAuthor().GetDate().Time
		}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
