// server runs the Kaldor backend: MQTT ingestion, the REST API and the
// WebSocket distribution hub.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/audit"
	auditrepo "kaldor-iiot/backend/internal/audit/repository"
	"kaldor-iiot/backend/internal/config"
	"kaldor-iiot/backend/internal/db"
	entityhandler "kaldor-iiot/backend/internal/entity/handler"
	healthhandler "kaldor-iiot/backend/internal/health/handler"
	"kaldor-iiot/backend/internal/hub"
	identityhandler "kaldor-iiot/backend/internal/identity/handler"
	"kaldor-iiot/backend/internal/identity/service"
	"kaldor-iiot/backend/internal/platform/logging"
	"kaldor-iiot/backend/internal/policy/engine"
	"kaldor-iiot/backend/internal/ratelimit"
	"kaldor-iiot/backend/internal/security"
	"kaldor-iiot/backend/internal/server"
	"kaldor-iiot/backend/internal/server/interceptors"
	sessionrepo "kaldor-iiot/backend/internal/session/repository"
	"kaldor-iiot/backend/internal/telemetry"
	"kaldor-iiot/backend/internal/telemetry/cache"
	"kaldor-iiot/backend/internal/telemetry/ingest"
	telemetryotel "kaldor-iiot/backend/internal/telemetry/otel"
	telemetryrepo "kaldor-iiot/backend/internal/telemetry/repository"
	userrepo "kaldor-iiot/backend/internal/user/repository"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

// stores are the persistence backends chosen from config.
type stores struct {
	sql      *sql.DB
	redis    *redis.Client
	users    userrepo.Repository
	sessions sessionrepo.Repository
	audit    auditrepo.Repository
	events   telemetryrepo.Repository
	latest   cache.LatestStore
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	s := &stores{}
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.sql = conn
		s.users = userrepo.NewPostgresRepository(conn)
		s.audit = auditrepo.NewPostgresRepository(conn)
		s.events = telemetryrepo.NewPostgresRepository(conn)
	} else {
		log.Warn("DATABASE_URL not set; users, audit and telemetry are kept in memory")
		s.users = userrepo.NewMemoryRepository()
		s.audit = auditrepo.NewMemoryRepository()
		s.events = telemetryrepo.NewMemoryRepository()
	}

	if cfg.RedisURL != "" {
		client, err := db.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.redis = client
		s.sessions = sessionrepo.NewRedisRepository(client)
		s.latest = cache.NewRedisStore(client, cache.DefaultTTL)
	} else {
		log.Warn("REDIS_URL not set; sessions and latest values are kept in memory")
		s.sessions = sessionrepo.NewMemoryRepository()
		s.latest = cache.NewMemoryStore(cache.DefaultTTL)
	}
	return s, nil
}

func (s *stores) close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.sql != nil {
		_ = s.sql.Close()
	}
}

func loadPolicy(ctx context.Context, path string, log *zap.Logger) (*engine.OPAEvaluator, error) {
	if path == "" {
		return engine.NewOPAEvaluator(ctx, nil, log)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	log.Info("loaded device-control policy", zap.String("path", path))
	return engine.NewOPAEvaluator(ctx, map[string]string{filepath.Base(path): string(src)}, log)
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.OTELServiceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	}, log)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	key, err := security.LoadSigningKey(cfg.JWTSecret, cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	tokens := security.NewTokenService(key, cfg.JWTIssuer, cfg.JWTTTL)
	hasher := security.NewHasher(cfg.BcryptCost)

	policy, err := loadPolicy(ctx, cfg.PolicyPath, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h, err := hub.New(log, reg)
	if err != nil {
		return err
	}
	store := telemetry.NewStore(st.events, st.latest, log)
	async := telemetry.NewAsync(log)

	dialer, err := ingest.NewPahoDialer(ingest.PahoConfig{
		BrokerURL:      cfg.MQTTBrokerURL,
		ClientID:       cfg.MQTTClientID,
		Username:       cfg.MQTTUsername,
		Password:       cfg.MQTTPassword,
		ConnectTimeout: cfg.MQTTConnectTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	ingestor, err := ingest.New(ingest.Config{
		TopicRoot:            cfg.MQTTTopicRoot,
		ReconnectPeriod:      cfg.MQTTReconnectPeriod,
		MaxReconnectAttempts: cfg.MQTTMaxReconnectAttempts,
	}, dialer, ingest.Deps{
		Persister:   store,
		Broadcaster: h,
		Emitter:     telemetryotel.NewEventEmitter(providers.LoggerProvider),
		Async:       async,
		Registerer:  reg,
	}, log)
	if err != nil {
		return err
	}

	proxies, err := interceptors.ParseTrustedProxies(cfg.TrustedProxyList())
	if err != nil {
		return err
	}
	limiters := make(map[string]*ratelimit.Limiter)
	for scope, limit := range map[string]int{
		"api":     cfg.RateLimitMax,
		"login":   cfg.LoginRateLimitMax,
		"ws":      cfg.WSRateLimitMax,
		"control": cfg.ControlRateLimitMax,
	} {
		l, err := ratelimit.New(ratelimit.Config{Scope: scope, Window: cfg.RateLimitWindow, Max: limit}, reg)
		if err != nil {
			return fmt.Errorf("ratelimit %s: %w", scope, err)
		}
		limiters[scope] = l
		go l.Run(ctx, ratelimit.DefaultSweepPeriod)
	}

	auditLogger := audit.NewLogger(st.audit, interceptors.ClientIPFromContext, log)
	authSvc := service.NewAuthService(st.users, st.sessions, hasher, tokens, cfg.SessionTTL, log)

	health := healthhandler.Deps{MQTT: ingestor, Policy: policy.HealthCheck}
	if st.sql != nil {
		health.Database = st.sql.PingContext
	}
	if st.redis != nil {
		health.Redis = func(ctx context.Context) error { return st.redis.Ping(ctx).Err() }
	}

	router := server.NewRouter(server.RouterOptions{
		Logger:    log,
		Tokens:    tokens,
		Auth:      identityhandler.NewHandler(authSvc, auditLogger, log),
		Entities:  entityhandler.NewHandler(store, ingestor, policy, st.audit, log),
		Health:    healthhandler.NewHandler(health, log),
		WebSocket: hub.NewHandler(h, tokens, hub.Config{SendBuffer: cfg.WSSendBuffer, MessagesPerSecond: cfg.WSMessagesPerSecond, AllowedOrigins: cfg.AllowedOrigins()}, log),
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),

		APILimiter:     limiters["api"],
		LoginLimiter:   limiters["login"],
		WSLimiter:      limiters["ws"],
		ControlLimiter: limiters["control"],
		AuditLogger:    auditLogger,
		TrustedProxies: proxies,
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		// A failed ingestor has logged why; /health reports it.
		_ = ingestor.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			stop()
			return fmt.Errorf("http: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	h.Close()
	<-ingestDone

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), telemetry.ShutdownDrainDuration)
	defer cancelDrain()
	if err := async.Wait(drainCtx); err != nil {
		log.Warn("telemetry writes still in flight at shutdown", zap.Error(err))
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Warn("otel shutdown", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}
