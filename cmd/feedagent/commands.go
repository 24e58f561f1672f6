package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/feedagent/internal/config"
	"github.com/kalambet/feedagent/internal/index"
	"github.com/kalambet/feedagent/internal/memory"
	"github.com/kalambet/feedagent/internal/monitor"
)

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent and monitor status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadDisplay()
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		showStatus(cmd.Context(), client, cfg)
		return nil
	},
}

func showStatus(ctx context.Context, client *apiClient, cfg config.Config) {
	var health map[string]string
	if err := client.getJSON(ctx, "/health", &health); err != nil {
		printStatus("Agent", "stopped")
	} else {
		printStatus("Agent", "running, dashboard on port %d", cfg.Dashboard.Port)

		var statuses []monitor.Status
		if err := client.getJSON(ctx, "/api/monitors", &statuses); err != nil {
			printWarning("could not read monitors: %v", err)
		}
		for _, st := range statuses {
			printStatus("Monitor "+st.Name, "%s", describeMonitor(st, time.Now()))
		}

		var replies []struct{}
		if err := client.getJSON(ctx, "/api/replies?limit=100", &replies); err == nil {
			printStatus("Recent replies", "%s", countLabel(len(replies), 100))
		}
	}

	printStatus("Target", "@%s", cfg.Agent.TargetHandle)
	printStatus("Bot", "@%s", cfg.Agent.BotHandle)
	printStatus("Art provider", "%s (%s)", cfg.Art.Provider, cfg.Art.Model)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats <username>",
	Short: "Show engagement stats for an author",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runStats(cmd.Context(), client, cmd.OutOrStdout(), args[0])
	},
}

func runStats(ctx context.Context, client *apiClient, w io.Writer, username string) error {
	username = strings.TrimPrefix(username, "@")
	var stats index.Stats
	if err := client.getJSON(ctx, "/api/stats/"+url.PathEscape(username), &stats); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s\n", colorize(colorBold, "@"+username))
	fmt.Fprintf(w, "  avg likes:    %.1f\n", stats.AvgLikes)
	fmt.Fprintf(w, "  avg reposts:  %.1f\n", stats.AvgRetweets)
	fmt.Fprintf(w, "  top topics:   %s\n", hashtags(stats.TopTopics))
	return nil
}

// --- topics ---

var topicsCmd = &cobra.Command{
	Use:   "topics [username]",
	Short: "Show an author's top topics, or the global topic history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		username := ""
		if len(args) == 1 {
			username = args[0]
		}
		return runTopics(cmd.Context(), client, cmd.OutOrStdout(), username)
	},
}

func runTopics(ctx context.Context, client *apiClient, w io.Writer, username string) error {
	if username != "" {
		var topics []string
		if err := client.getJSON(ctx, "/api/topics/"+url.PathEscape(strings.TrimPrefix(username, "@")), &topics); err != nil {
			return err
		}
		if len(topics) == 0 {
			fmt.Fprintln(w, "No topics recorded.")
			return nil
		}
		for i, t := range topics {
			fmt.Fprintf(w, "%2d. #%s\n", i+1, t)
		}
		return nil
	}

	var history []memory.TopicCount
	if err := client.getJSON(ctx, "/api/topics", &history); err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintln(w, "No topics recorded.")
		return nil
	}
	for _, tc := range history {
		fmt.Fprintf(w, "%5d  #%s\n", tc.Count, tc.Topic)
	}
	return nil
}

// --- preview ---

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show the replies the agent would send to the target's latest posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runPreview(cmd.Context(), client, cmd.OutOrStdout())
	},
}

func runPreview(ctx context.Context, client *apiClient, w io.Writer) error {
	var items []struct {
		ID           string `json:"id"`
		Text         string `json:"text"`
		ReplyContent string `json:"replyContent"`
	}
	if err := client.getJSON(ctx, "/api/interactions", &items); err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(w, "Nothing to reply to.")
		return nil
	}
	for _, it := range items {
		fmt.Fprintf(w, "%s  %s\n", colorize(colorCyan, it.ID), truncate(it.Text, 80))
		fmt.Fprintf(w, "  → %s\n", it.ReplyContent)
	}
	return nil
}

// --- replies ---

var repliesCmd = &cobra.Command{
	Use:   "replies",
	Short: "List replies the agent sent",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runReplies(cmd.Context(), client, cmd.OutOrStdout(), limit)
	},
}

func init() {
	repliesCmd.Flags().Int("limit", 20, "maximum number of replies to list")
}

func runReplies(ctx context.Context, client *apiClient, w io.Writer, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}
	var replies []struct {
		PostID    string    `json:"post_id"`
		Author    string    `json:"author"`
		Kind      string    `json:"kind"`
		Text      string    `json:"text"`
		CreatedAt time.Time `json:"created_at"`
		Error     string    `json:"error"`
	}
	if err := client.getJSON(ctx, fmt.Sprintf("/api/replies?limit=%d", limit), &replies); err != nil {
		return err
	}
	if len(replies) == 0 {
		fmt.Fprintln(w, "No replies sent yet.")
		return nil
	}
	for _, r := range replies {
		fmt.Fprintf(w, "%s  %s @%s/%s  %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"), kindLabel(r.Kind, r.Error != ""), r.Author, r.PostID, truncate(r.Text, 60))
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration (secrets omitted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		for _, k := range config.ShowAll(config.LoadDisplay()) {
			fmt.Fprintf(w, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value, restoring its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
