package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/InnNhi24/vibetune/pkg/config"
	"github.com/InnNhi24/vibetune/pkg/persistence/convstore"
	"github.com/InnNhi24/vibetune/pkg/provider"
	"github.com/InnNhi24/vibetune/pkg/ratelimit"
	"github.com/InnNhi24/vibetune/pkg/webtutor"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "vibetune",
		Short: "Conversational language tutor server",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)
			return runServer(cmd.Context(), cfg)
		},
	}
	root.AddCommand(serve)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func runServer(ctx context.Context, cfg config.Config) error {
	store, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	gateway := convstore.NewGateway(store)
	defer func() { _ = gateway.Close() }()

	var limiter *ratelimit.Limiter
	if cfg.Limit.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		limiter = ratelimit.NewLimiter(rdb, cfg.Limit.Requests, cfg.Limit.Window.Std())
	}

	var completer provider.CompletionProvider
	var transcriber provider.TranscriptionProvider
	if cfg.Provider.APIKey != "" {
		gemini, err := provider.NewGemini(ctx, provider.GeminiConfig{
			APIKey: cfg.Provider.APIKey,
			Model:  cfg.Provider.Model,
		})
		if err != nil {
			return errors.Wrap(err, "configure completion provider")
		}
		completer = gemini
		transcriber = gemini
	} else {
		log.Warn().Msg("no GEMINI_API_KEY set, using the canned completion provider")
		completer = &provider.FakeCompletion{}
	}

	backend, err := webtutor.NewStreamBackend(webtutor.StreamSettings{
		RedisEnabled:  cfg.Redis.Enabled,
		RedisAddr:     cfg.Redis.Addr,
		ConsumerGroup: cfg.Redis.ConsumerGroup,
		Consumer:      cfg.Redis.Consumer,
	})
	if err != nil {
		return errors.Wrap(err, "build stream backend")
	}
	defer func() { _ = backend.Close() }()

	turns, err := webtutor.NewTurnService(webtutor.TurnServiceConfig{
		Gateway:   gateway,
		Completer: completer,
		Publisher: backend.Publisher(),
	})
	if err != nil {
		return err
	}
	router, err := webtutor.NewRouter(webtutor.RouterConfig{
		BaseCtx:     ctx,
		Turns:       turns,
		Gateway:     gateway,
		Limiter:     limiter,
		Transcriber: transcriber,
		Backend:     backend,
	})
	if err != nil {
		return err
	}
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// openStore picks sqlite when a path is configured and the in-memory store
// otherwise. A failed sqlite open falls through to nil so the gateway runs
// degraded instead of refusing to start.
func openStore(cfg config.StoreConfig) (convstore.Store, error) {
	if cfg.Path == "" {
		log.Warn().Msg("no store path configured, using in-memory persistence")
		return convstore.NewMemoryStore(), nil
	}
	dsn, err := convstore.SQLiteDSNForFile(cfg.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve sqlite dsn for %s", cfg.Path)
	}
	store, err := convstore.NewSQLiteStore(dsn)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.Path).Msg("sqlite unavailable, persistence degraded")
		return nil, nil
	}
	log.Info().Str("path", cfg.Path).Msg("sqlite store opened")
	return store, nil
}
