package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/codepair/matchmaker/internal/config"
	"github.com/codepair/matchmaker/internal/httpapi"
	"github.com/codepair/matchmaker/internal/logger"
	"github.com/codepair/matchmaker/internal/messaging"
	"github.com/codepair/matchmaker/internal/pairing"
	"github.com/codepair/matchmaker/internal/presence"
	"github.com/codepair/matchmaker/internal/ratelimit"
	"github.com/codepair/matchmaker/internal/schedule"
	"github.com/codepair/matchmaker/internal/session"
	"github.com/codepair/matchmaker/internal/user"
	"github.com/codepair/matchmaker/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("matchmaker stopped")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	// --- Users ---
	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	// --- NATS (optional) ---
	var nc *messaging.NATSClient
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "matchmaker-" + cfg.ServerName
	if nc, err = messaging.NewNATSClient(natsConfig, log); err != nil {
		log.Warn().Err(err).Msg("nats unavailable, proposals and rebuilds stay local")
		nc = nil
	} else {
		defer nc.Close()
	}

	// --- Redis (optional) ---
	var (
		store   *session.Store
		limiter *ratelimit.Limiter
	)
	if store, err = session.NewStore(cfg.RedisAddr, cfg.ServerName); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, rate limiting and connection directory disabled")
		store = nil
	} else {
		defer store.Close()
		if cfg.RateLimit.Enabled {
			limiter = ratelimit.NewLimiter(store.Client(), log)
		}
	}

	// --- Core ---
	cache := presence.NewCache(
		presence.WithTTL(cfg.Presence.TTL),
		presence.WithClearInterval(cfg.Presence.ClearInterval),
		presence.WithLogger(log),
	)
	matrix := schedule.NewMatrix()
	refresher := schedule.NewRefresher(matrix, repo, cfg.Schedule.RefreshInterval, log)
	go refresher.Run(ctx)

	var publisher pairing.Publisher
	if nc != nil {
		publisher = nc
	}
	svc := pairing.NewService(repo, matrix, cache, publisher, log)
	if store != nil {
		svc.SetLocator(store)
	}

	// --- WebSocket ---
	wsConfig := ws.DefaultServerConfig()
	wsConfig.MaxConnections = cfg.WS.MaxConnections
	wsConfig.CallTimeout = cfg.RequestTimeout
	wsConfig.Heartbeat = ws.HeartbeatConfig{
		Interval: cfg.WS.HeartbeatInterval,
		Timeout:  cfg.WS.HeartbeatTimeout,
	}
	var subscriber ws.ProposalSubscriber
	if nc != nil {
		subscriber = nc
	}
	wsServer := ws.NewServer(wsConfig, svc, subscriber, limiter, log)
	if store != nil {
		wsServer.SetDirectory(store)
	}
	go ws.RunHeartbeat(ctx, wsServer)

	// Rebuilds fan out over NATS so every replica refreshes; without NATS
	// only this process rebuilds. Both paths end in Trigger, which runs on
	// the refresher goroutine and coalesces bursts.
	rebuild := func(context.Context) error {
		refresher.Trigger()
		return nil
	}
	if nc != nil {
		if err := nc.SubscribeScheduleRebuild(refresher.Trigger); err != nil {
			log.Warn().Err(err).Msg("schedule rebuild subscription failed")
		}
		rebuild = func(context.Context) error {
			return nc.PublishScheduleRebuild()
		}
	}

	// --- HTTP ---
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Service:        svc,
			Schedules:      matrix,
			Limiter:        limiter,
			WS:             wsServer,
			Rebuild:        rebuild,
			ServerName:     cfg.ServerName,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			RequestTimeout: cfg.RequestTimeout,
			Logger:         log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("env", cfg.AppEnv).
		Str("server", cfg.ServerName).
		Bool("nats", nc != nil).
		Bool("redis", store != nil).
		Bool("rate_limit", limiter != nil).
		Dur("presence_ttl", cfg.Presence.TTL).
		Dur("schedule_refresh", cfg.Schedule.RefreshInterval).
		Msg("matchmaker starting")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	wsServer.Shutdown()
	log.Info().Msg("matchmaker stopped")
	return nil
}

// openRepository selects Postgres when PG_DSN is set and the in-memory
// repository otherwise.
func openRepository(ctx context.Context, cfg config.Config, log zerolog.Logger) (user.Repository, func(), error) {
	if cfg.PGDSN == "" {
		repo := user.NewMemoryRepository()
		if cfg.SeedFile != "" {
			users, err := user.LoadSeedFile(cfg.SeedFile)
			if err != nil {
				return nil, nil, err
			}
			for _, u := range users {
				repo.Put(u)
			}
			log.Info().Int("users", len(users)).Str("file", cfg.SeedFile).Msg("seeded in-memory repository")
		}
		log.Warn().Msg("PG_DSN not set, using in-memory user repository")
		return repo, func() {}, nil
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := user.Open(openCtx, cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	return user.NewPostgresRepository(db), func() { db.Close() }, nil
}
