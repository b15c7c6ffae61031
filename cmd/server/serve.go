package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	router "github.com/dkeye/meetsfu/internal/adapters/http"
	"github.com/dkeye/meetsfu/internal/adapters/rtc"
	sig "github.com/dkeye/meetsfu/internal/adapters/signal"
	"github.com/dkeye/meetsfu/internal/app"
	"github.com/dkeye/meetsfu/internal/app/orch"
	"github.com/dkeye/meetsfu/internal/config"
	"github.com/dkeye/meetsfu/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling and media server",
	Example: `  meetsfu serve
  meetsfu serve --port 9000 --mode debug
  MEETSFU_MEDIA_ANNOUNCED_IP=203.0.113.7 meetsfu serve --media.udp_port 40000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cmd.Flags())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		setupLogging(cfg.Mode, cfg.LogLevel)
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.Int("port", 8080, "HTTP listen port")
	f.String("mode", "release", "release or debug")
	f.String("static_path", "./web", "directory served under /static")
	f.String("log_level", "info", "zerolog level")
	f.String("media.announced_ip", "", "public IP advertised in ICE candidates")
	f.Int("media.udp_port", 0, "single UDP port for all media (0 uses the port range)")
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, err := rtc.NewEngine(cfg.EngineConfig())
	if err != nil {
		return fmt.Errorf("start media engine: %w", err)
	}
	defer engine.Close()

	links := domain.MeetingLinks{TTL: cfg.LinkTTL}
	rooms := app.NewRoomManager(engine, rtc.DefaultCodecs(), links)
	defer rooms.Close()

	o := orch.New(app.NewRegistry(), rooms, links, cfg.Policy())
	ctl := sig.NewSignalWSController(o, cfg.SignalOptions())

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.SetupRouter(ctx, cfg, o, ctl),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("meetsfu server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
		}
		return nil
	})

	g.Go(func() error {
		rooms.RunJanitor(gctx, cfg.ReapInterval)
		return nil
	})

	g.Go(func() error {
		pruneLimiter(gctx, ctl.Limiter, cfg.CreateWindow)
		return nil
	})

	g.Go(func() error {
		select {
		case err := <-engine.Dead():
			// Rooms cannot recover without the engine; let the supervisor restart us.
			log.Fatal().Err(err).Str("module", "rtc").Msg("media engine died")
		case <-gctx.Done():
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("server exited")
	return err
}

func pruneLimiter(ctx context.Context, l *sig.RoomRateLimiter, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
