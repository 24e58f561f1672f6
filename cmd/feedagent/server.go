package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/feedagent/internal/api"
	"github.com/kalambet/feedagent/internal/art"
	"github.com/kalambet/feedagent/internal/config"
	"github.com/kalambet/feedagent/internal/githubfeed"
	"github.com/kalambet/feedagent/internal/httpclient"
	"github.com/kalambet/feedagent/internal/index"
	"github.com/kalambet/feedagent/internal/memory"
	"github.com/kalambet/feedagent/internal/monitor"
	"github.com/kalambet/feedagent/internal/policy"
	"github.com/kalambet/feedagent/internal/scheduler"
	"github.com/kalambet/feedagent/internal/social/bluesky"
	"github.com/kalambet/feedagent/internal/storage"
)

const (
	platformTimeout = 30 * time.Second
	renderTimeout   = 120 * time.Second
	shutdownTimeout = 10 * time.Second
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the agent and its dashboard (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Make the running agent poll the feed and mentions now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalServer(syscall.SIGHUP, "poll")
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve read-only MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "feedagent.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// openState opens storage and restores memory and the post index from it.
// Posts by ownHandle are indexed as the bot's own.
func openState(ctx context.Context, cfg config.Config, ownHandle string) (*storage.Store, *memory.Memory, *index.Index, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening storage: %w", err)
	}

	mem := memory.New(store)
	if err := mem.Load(ctx); err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("loading memory: %w", err)
	}

	ix := index.New(store, mem, ownHandle)
	if err := ix.Load(ctx); err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("loading post index: %w", err)
	}
	return store, mem, ix, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "feedagent version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Dashboard.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("feedagent is already running (PID %d)", pid)
			return fmt.Errorf("agent already running (PID %d)", pid)
		}
		printWarning("something is already listening on port %d", cfg.Dashboard.Port)
		return fmt.Errorf("port %d in use", cfg.Dashboard.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStep("Logging in as @%s", cfg.Agent.BotHandle)
	platformHTTP := httpclient.New(platformTimeout)
	client := bluesky.New(cfg.Bluesky.Host, cfg.Agent.BotHandle, cfg.Bluesky.AppPassword, platformHTTP)
	if err := client.Login(ctx); err != nil {
		return fmt.Errorf("logging in as %s: %w", cfg.Agent.BotHandle, err)
	}
	self := selfHandle(client.Handle(), cfg.Agent.BotHandle)
	slog.Info("logged in", "handle", self, "host", cfg.Bluesky.Host)

	printStep("Restoring state from %s", cfg.Storage.DataDir)
	store, mem, ix, err := openState(ctx, cfg, self)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	slog.Info("state restored", "posts", ix.Len(), "authors", len(mem.Authors()))

	sched := scheduler.New()
	pol := policy.New(cfg.Agent.TargetHandle, ix, mem)
	feed := monitor.NewFeedMonitor(client, ix, pol, store, sched, cfg.Agent.TargetHandle, self)
	monitors := []api.StatusReporter{feed}

	var mentions *monitor.MentionMonitor
	renderer, err := art.New(ctx, cfg.Art, httpclient.New(renderTimeout))
	if err != nil {
		printWarning("art generation disabled: %v", err)
	} else {
		mentions = monitor.NewMentionMonitor(client, renderer, art.NewArchive(cfg.Art.OutputDir), store, sched, self)
		monitors = append(monitors, mentions)
	}

	handler := api.NewDashboardHandler(api.DashboardDeps{
		Stats:    ix,
		Topics:   mem,
		Replies:  store,
		Commits:  githubfeed.New(cfg.GitHub.Owner, cfg.GitHub.Repo, cfg.GitHub.Token, platformHTTP),
		Preview:  feed,
		Monitors: monitors,
		Token:    cfg.Dashboard.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Dashboard.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)
	sched.Start(gctx)
	g.Go(func() error { return pollOnSignal(gctx, sched, hup) })

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "dashboard listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("dashboard: %w", err)
		}
		return nil
	})
	g.Go(func() error { return feed.Start(gctx) })
	if mentions != nil {
		g.Go(func() error { return mentions.Start(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")

		feed.Stop()
		if mentions != nil {
			mentions.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		select {
		case <-sched.Stop().Done():
		case <-shutdownCtx.Done():
			slog.Warn("scheduled polls still running at shutdown")
		}
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := mem.Save(flushCtx); err != nil {
		slog.Error("flushing memory", "error", err)
	}
	return runErr
}

// selfHandle is the handle the session actually belongs to. It differs from
// the configured identifier when that is an email address or has changed case.
func selfHandle(sessionHandle, configured string) string {
	if sessionHandle == "" {
		return configured
	}
	return strings.ToLower(sessionHandle)
}

// pollNow runs every scheduled job once, concurrently, and waits for them.
// A job already in progress is not started twice.
func pollNow(sched *scheduler.Scheduler) {
	var wg sync.WaitGroup
	for _, job := range sched.ListJobs() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sched.RunNow(job.Name); err != nil {
				slog.Warn("manual poll", "job", job.Name, "error", err)
			}
		}()
	}
	wg.Wait()
}

// pollOnSignal polls on every value from sig until ctx is done.
func pollOnSignal(ctx context.Context, sched *scheduler.Scheduler, sig <-chan os.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sig:
			slog.Info("poll requested")
			pollNow(sched)
		}
	}
}

func stopServer() error {
	return signalServer(syscall.SIGTERM, "stop")
}

// signalServer delivers sig to the agent named in the PID file.
func signalServer(sig os.Signal, what string) error {
	cfg := config.LoadDisplay()

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("feedagent is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(sig); err != nil {
		printError("could not signal feedagent (PID %d): %v", pid, err)
		if errors.Is(err, os.ErrProcessDone) {
			removePIDFile(pidPath)
		}
		return err
	}

	printSuccess("Sent %s signal to feedagent (PID %d)", what, pid)
	return nil
}

// runMCP serves MCP over stdio from the local database. It does not log in
// and never writes.
func runMCP() error {
	cfg := config.LoadDisplay()
	// stdout carries the protocol; logs go to stderr only.
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, mem, ix, err := openState(ctx, cfg, strings.ToLower(cfg.Agent.BotHandle))
	if err != nil {
		return err
	}
	defer store.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Stats:   ix,
		Topics:  mem,
		Replies: store,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
