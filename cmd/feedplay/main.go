package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/mmcdole/feedplay/internal/backend"
	"github.com/mmcdole/feedplay/internal/config"
	"github.com/mmcdole/feedplay/internal/domain"
	"github.com/mmcdole/feedplay/internal/feed"
	"github.com/mmcdole/feedplay/internal/log"
	"github.com/mmcdole/feedplay/internal/loop"
	"github.com/mmcdole/feedplay/internal/metrics"
	"github.com/mmcdole/feedplay/internal/playback"
	"github.com/mmcdole/feedplay/internal/player"
	"github.com/mmcdole/feedplay/internal/source"
	"github.com/mmcdole/feedplay/internal/store"
	"github.com/mmcdole/feedplay/internal/stream"
	"github.com/mmcdole/feedplay/internal/tui"
	"github.com/mmcdole/feedplay/internal/tui/styles"
)

// Version is set at build time via -ldflags
var Version = "dev"

// clearSpinnerLine clears the spinner line from the terminal
const clearSpinnerLine = "\r                                    \r"

func main() {
	var showVersion, setup bool
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.BoolVar(&setup, "setup", false, "run the server setup again")
	flag.Parse()

	if showVersion {
		fmt.Printf("feedplay %s\n", Version)
		return
	}

	if err := run(setup); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(setup bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closer, err := log.Setup(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = log.NullLogger()
	} else {
		defer closer.Close()
	}
	slog.SetDefault(logger)

	logger.Info("starting feedplay", "version", Version)

	if setup || !cfg.IsConfigured() {
		return runSetupFlow(cfg)
	}

	db, err := store.Open(cfg.Store.Path, cfg.Server.URL, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	client := backend.NewClient(backend.Options{BaseURL: cfg.Server.URL, Token: cfg.Server.Token}, logger)

	lp := loop.New()
	records := store.NewRecordStore(db, lp, store.RecordOptions{
		Capacity:   cfg.Store.RecordCapacity,
		FlushDelay: cfg.Store.FlushDelay,
	}, logger)
	prefs := store.NewPreferences(db, logger)
	members := store.NewMembershipCache(db, logger)

	el := player.New(player.Options{
		Command:   cfg.Player.Command,
		Args:      cfg.Player.Args,
		StartFlag: cfg.Player.StartFlag,
	}, logger)
	streams := stream.New(lp, el, player.NewPipeline, prefs, client.Host(), stream.Config{
		NetworkRetryLimit: cfg.Stream.NetworkRetryLimit,
		MediaRetryLimit:   cfg.Stream.MediaRetryLimit,
		RebuildLimit:      cfg.Stream.RebuildLimit,
		RebuildDelay:      cfg.Stream.RebuildDelay,
		HealDelay:         cfg.Stream.HealDelay,
		HealMaxAttempts:   cfg.Stream.HealMaxAttempts,
		HealWindow:        cfg.Stream.HealWindow,
	}, logger)

	feeds := feed.New(lp, client, feed.Options{
		PageSize:        cfg.Feed.PageSize,
		RefreshDebounce: cfg.Feed.RefreshDebounce,
	}, logger)
	ctrl := playback.New(playback.Deps{
		Runtime:     lp,
		Feed:        feeds,
		Sources:     source.NewEngine(client, source.Options{ProxyUpstream: cfg.Playback.ProxyStreams}, logger),
		Stream:      streams,
		Backend:     client,
		Records:     records,
		Membership:  members,
		Preferences: prefs,
	}, playback.Options{
		ProgressInterval: cfg.Playback.ProgressInterval,
		ResumeThreshold:  cfg.Playback.ResumeThreshold,
		PrefetchBytes:    cfg.Playback.PrefetchBytes,
		PlaylistID:       cfg.Playback.PlaylistID,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lp.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := feeds.Listen(gctx, client); err != nil && gctx.Err() == nil {
			logger.Warn("push stream stopped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := metrics.Serve(gctx, cfg.Metrics.Listen, logger); err != nil {
			logger.Error("metrics listener failed", "error", err)
		}
		return nil
	})

	if err := lp.Do(func() { ctrl.Start(domain.FeedFilter{Kind: domain.FilterDaily}) }); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	p := tea.NewProgram(
		tui.NewModel(lp, ctrl, client, logger),
		tea.WithAltScreen(),
	)

	logger.Info("starting TUI")
	_, runErr := p.Run()
	if runErr != nil {
		logger.Error("TUI error", "error", runErr)
	}

	logger.Info("shutting down")
	if err := lp.Do(func() {
		ctrl.Close()
		records.Close()
	}); err != nil {
		logger.Warn("engine already stopped", "error", err)
	}
	lp.Close()
	cancel()
	if err := g.Wait(); err != nil {
		logger.Error("background task failed", "error", err)
	}

	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return nil
}

// runSetupFlow asks for the server and verifies it before saving
func runSetupFlow(cfg *config.Config) error {
	fmt.Println()
	fmt.Println("Welcome to feedplay!")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("Enter your server URL (e.g., http://192.168.1.100:8000): ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		serverURL := strings.TrimSpace(input)
		if serverURL == "" {
			fmt.Println("Server URL cannot be empty. Please try again.")
			continue
		}

		// Prompt for token (hidden input)
		fmt.Print("Access token (leave empty if none): ")
		tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		fmt.Println()

		token := strings.TrimSpace(string(tokenBytes))
		if err := probeWithSpinner(serverURL, token); err != nil {
			fmt.Printf("\n✗ Could not reach server: %v\n", err)
			fmt.Println("Please check the URL and try again.")
			fmt.Println()
			continue
		}

		cfg.Server.URL = serverURL
		cfg.Server.Token = token
		break
	}

	if err := config.SaveConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Println("✓ Configuration saved!")
	fmt.Println()
	fmt.Println("Run feedplay again to start the application.")
	return nil
}

// probeWithSpinner checks the network endpoint with a visual spinner
func probeWithSpinner(serverURL, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := backend.NewClient(backend.Options{BaseURL: serverURL, Token: token}, log.NullLogger())

	type result struct {
		info *domain.NetworkInfo
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		info, err := client.Network(ctx)
		resultCh <- result{info, err}
	}()

	frame := 0
	fmt.Printf("\r%s Connecting...", styles.SpinnerFrames[frame])

	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case res := <-resultCh:
			fmt.Print(clearSpinnerLine)
			if res.err != nil {
				return res.err
			}
			where := "remote"
			if res.info.IsLAN {
				where = "LAN"
			}
			fmt.Printf("✓ Connected (%s, client %s)\n", where, res.info.IP)
			return nil

		case <-ticker.C:
			frame++
			fmt.Printf("\r%s Connecting...", styles.SpinnerFrames[frame%len(styles.SpinnerFrames)])

		case <-ctx.Done():
			fmt.Print(clearSpinnerLine)
			return fmt.Errorf("connection timed out")
		}
	}
}
