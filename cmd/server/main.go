package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"lyric-studio/internal/api"
	"lyric-studio/internal/config"
	"lyric-studio/internal/database"
	"lyric-studio/internal/logger"
	"lyric-studio/internal/lyrics"
	"lyric-studio/internal/music"
	"lyric-studio/internal/store"
	"lyric-studio/internal/websocket"
	"lyric-studio/internal/worker"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %+v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "lyric-studio",
		Short:         "Prompt-to-song service: lyrics, confirmation and music generation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (toml, yaml or json)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}
			return run(cmd.Context(), cfg)
		},
	}
	serve.Flags().String("addr", "", "listen address, overrides server.addr")

	root.AddCommand(serve)
	return root
}

func run(parent context.Context, cfg *config.Config) error {
	if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
		return errors.Wrap(err, "initialize logger")
	}
	defer logger.Sync()
	log := logger.ComponentLogger("server")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open database
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		return err
	}
	log.Infow("Database initialized", "path", cfg.Database.Path)

	requestLog := database.NewRequestLog(db, cfg.Database.QueueSize)
	defer requestLog.Close()

	jobStore := store.NewMemoryStore()
	go store.RunJanitor(ctx, jobStore, cfg.Jobs.SweepInterval, cfg.Jobs.MaxAge, nil)

	lyricsRequester := lyrics.New(lyrics.Options{
		Endpoint:  cfg.Lyrics.Endpoint,
		Model:     cfg.Lyrics.Model,
		Token:     cfg.Lyrics.Token,
		Template:  cfg.Lyrics.Template,
		Timeout:   cfg.Lyrics.Timeout,
		MinLength: cfg.Lyrics.MinLength,
		Fallback:  cfg.Lyrics.Fallback,
	}, nil)

	musicClient := music.NewClient(music.Options{
		RelayURL:       cfg.Music.RelayURL,
		TargetURL:      cfg.Music.TargetURL,
		StatusURL:      cfg.Music.StatusURL,
		Timeout:        cfg.Music.Timeout,
		MaxLyricsRunes: cfg.Music.MaxLyricsRunes,
		PromptSuffix:   cfg.Music.PromptSuffix,
		UserAgent:      cfg.Music.UserAgent,
	}, nil)
	poller := music.NewPoller(musicClient, music.PollOptions{
		Interval:    cfg.Poll.Interval,
		MaxAttempts: cfg.Poll.MaxAttempts,
		MaxWait:     cfg.Poll.MaxWait,
	})

	// The dashboard snapshot reads from the API server, which needs the manager.
	var apiServer *api.Server
	wsManager := websocket.New(websocket.SnapshotFunc(func() interface{} {
		return apiServer.Snapshot()
	}))
	defer wsManager.Close()

	orchestrator := worker.New(ctx, jobStore, musicClient, poller, requestLog, wsManager.Broadcast)

	apiServer = api.NewServer(jobStore, lyricsRequester, orchestrator, requestLog, wsManager, api.Options{
		TrustProxy:      cfg.Server.TrustProxy,
		TrustedProxies:  cfg.Server.TrustedProxies,
		StaticDir:       cfg.Server.StaticDir,
		LyricsTimeout:   cfg.Lyrics.Timeout,
		RateLimitPerMin: cfg.RateLimit.PerMinute,
		RateLimitBurst:  cfg.RateLimit.Burst,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: apiServer.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("Server starting", logger.FieldAddress, cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "http server")
		}
	case <-ctx.Done():
	}

	log.Infow("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("HTTP shutdown incomplete", logger.FieldError, err)
	}

	// ctx is done, so running jobs are being cancelled; wait for them to record it.
	stop()
	orchestrator.Wait()
	log.Infow("Stopped")
	return nil
}
