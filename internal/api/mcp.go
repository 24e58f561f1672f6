package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPDeps holds dependencies for the MCP server. The server only reads.
type MCPDeps struct {
	Stats   Stats
	Topics  Topics
	Replies ReplyLog
}

// NewMCPServer creates an MCP server exposing engagement, topic and reply
// log queries.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"feedagent",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("feedagent: read-only view of the social agent's post index, interaction memory and reply log."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("engagement_stats",
			mcp.WithDescription("Average likes and reposts plus top hashtags for an author's indexed posts."),
			mcp.WithString("username", mcp.Description("Author handle"), mcp.Required()),
		),
		mcpEngagementStats(deps),
	)

	s.AddTool(
		mcp.NewTool("top_topics",
			mcp.WithDescription("Most frequent hashtags seen from an author, most frequent first."),
			mcp.WithString("username", mcp.Description("Author handle"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of topics (default 5)")),
		),
		mcpTopTopics(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_replies",
			mcp.WithDescription("Replies the agent sent most recently, newest first, including failed attempts."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of replies (default 10)")),
		),
		mcpRecentReplies(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"memory://topics",
			"Topic History",
			mcp.WithResourceDescription("Global hashtag counts across every author"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTopics(deps),
	)

	return s
}

func mcpEngagementStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		username, err := req.RequireString("username")
		if err != nil {
			return mcpError("username is required"), nil
		}
		return mcpJSON(deps.Stats.EngagementStatsFor(username)), nil
	}
}

func mcpTopTopics(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		username, err := req.RequireString("username")
		if err != nil {
			return mcpError("username is required"), nil
		}
		limit := req.GetInt("limit", topicsLimit)
		if limit <= 0 {
			limit = topicsLimit
		}
		return mcpJSON(deps.Topics.TopTopicsFor(username, limit)), nil
	}
}

func mcpRecentReplies(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > maxRepliesLimit {
			limit = maxRepliesLimit
		}

		replies, err := deps.Replies.RecentReplies(ctx, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing replies failed: %v", err)), nil
		}

		type replySummary struct {
			PostID    string `json:"post_id"`
			Kind      string `json:"kind"`
			Text      string `json:"text"`
			CreatedAt string `json:"created_at"`
			Error     string `json:"error,omitempty"`
		}
		out := make([]replySummary, len(replies))
		for i, r := range replies {
			out[i] = replySummary{
				PostID:    r.PostID,
				Kind:      r.Kind,
				Text:      r.Text,
				CreatedAt: r.CreatedAt.Format(time.RFC3339),
				Error:     r.LastError,
			}
		}
		return mcpJSON(out), nil
	}
}

func mcpResourceTopics(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Topics.TopicHistory(0))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal topics: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
