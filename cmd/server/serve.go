package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/soaringjerry/imagechat/internal/api"
	"github.com/soaringjerry/imagechat/internal/config"
	"github.com/soaringjerry/imagechat/internal/db"
	"github.com/soaringjerry/imagechat/internal/middleware"
	"github.com/soaringjerry/imagechat/internal/services"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Addr()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from PORT)")
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config, addr string) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	store, poolSize, err := openStore(ctx, cfg, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("open store")
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("store close error")
		}
	}()

	if cfg.Image.APIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY is not set; groups outside the mock range will fail")
	}
	images := services.NewOpenAIImageClient(services.OpenAIImageConfig{
		APIKey:     cfg.Image.APIKey,
		BaseURL:    cfg.Image.BaseURL,
		Model:      cfg.Image.Model,
		HTTPClient: &http.Client{},
		Logger:     log.Logger.With().Str("component", "images").Logger(),
	})
	chat := newChatService(cfg, store, images, poolSize, log.Logger)

	srv := &http.Server{
		Addr:              addr,
		Handler:           newHandler(chat, cfg.Server.StaticDir, log.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", addr).Str("base_url", cfg.Server.BaseURL).Msg("starting imagechat server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server listen error")
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.GetShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})
	return eg.Wait()
}

// newChatService draws mock ordinals from 1..cfg.Chat.MockPoolSize. A pool seeded with fewer images
// answers the missing ordinals with the exhausted-pool reply; extra images are never served.
func newChatService(cfg *config.Config, store *db.SQLiteStore, images services.ImageGenerator, seeded int, logger zerolog.Logger) *services.ChatService {
	if seeded != cfg.Chat.MockPoolSize {
		logger.Warn().Int("seeded", seeded).Int("mock_pool_size", cfg.Chat.MockPoolSize).
			Msg("mock pool image count differs from configured pool size")
	}
	return services.NewChatService(services.ChatOptions{
		Identities:       store,
		Transcripts:      store,
		MockPool:         store,
		Images:           images,
		TriggerWords:     cfg.Chat.TriggerWords,
		GroupsStartingID: cfg.Chat.GroupsStartingID,
		MockPoolSize:     cfg.Chat.MockPoolSize,
		MockDelay:        cfg.GetMockDelay(),
		ExternalTimeout:  cfg.GetImageTimeout(),
		Logger:           logger.With().Str("component", "chat").Logger(),
	})
}

// newHandler mounts the API, /health and, when staticDir exists, the chat page.
func newHandler(chat api.ChatBackend, staticDir string, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	api.NewRouter(chat).Register(mux)

	c, b := buildInfo()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "imagechat",
			"commit":     c,
			"build_time": b,
		})
	})

	if staticDir != "" {
		if fi, err := os.Stat(staticDir); err == nil && fi.IsDir() {
			mux.Handle("/", http.FileServer(http.Dir(staticDir)))
		} else {
			logger.Warn().Str("dir", staticDir).Msg("static dir not found; not serving the chat page")
		}
	}

	var h http.Handler = mux
	h = middleware.Recover(h)
	h = middleware.NoStore(h)
	h = middleware.SecureHeaders(h)
	h = middleware.CORS(h)
	h = middleware.RequestLogger(logger)(h)
	return h
}
