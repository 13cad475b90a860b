// Command mcp-gateway runs the multi-tenant MCP tool-invocation gateway.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"github.com/cgk-platform/mcp-gateway/auth"
	"github.com/cgk-platform/mcp-gateway/internal/engine"
	"github.com/cgk-platform/mcp-gateway/mcp"
	"github.com/cgk-platform/mcp-gateway/oauth"
	"github.com/cgk-platform/mcp-gateway/ratelimit"
	"github.com/cgk-platform/mcp-gateway/registry"
	"github.com/cgk-platform/mcp-gateway/sessions/redisstore"
	"github.com/cgk-platform/mcp-gateway/streaminghttp"
)

const version = "0.3.0"

func main() {
	if err := run(); err != nil {
		slog.Error("gateway.exit", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	reg := registry.New()
	if err := buildCatalog(reg); err != nil {
		return err
	}

	tenants := registry.NewRedisConfigSource(rdb, "")
	if cfg.DemoTenant != "" {
		demo := registry.TenantToolConfig{
			TenantID: cfg.DemoTenant,
			EnabledCategories: []registry.Category{
				registry.CategoryCommerce, registry.CategoryAnalytics,
				registry.CategoryCreator, registry.CategorySupport,
				registry.CategoryAdmin,
			},
		}
		if err := registry.StoreTenantConfig(ctx, rdb, "", demo); err != nil {
			return err
		}
		log.Info("tenant.demo.seeded", slog.String("tenant_id", cfg.DemoTenant))
	}

	store := redisstore.New(rdb, "")
	limiter := ratelimit.NewRedisLimiter(rdb, "")

	eng := engine.New(reg, tenants, store, limiter,
		engine.WithLogger(log),
		engine.WithServerInfo(mcp.ImplementationInfo{Name: "mcp-gateway", Version: version}),
	)

	signingKey := []byte(cfg.JWTSigningKey)
	bearer, err := auth.NewBearerStrategy(auth.BearerConfig{
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		SigningKey: signingKey,
	})
	if err != nil {
		return err
	}
	resolver := auth.NewResolver(log,
		bearer,
		auth.NewAPIKeyStrategy(rdb, ""),
		auth.NewCookieStrategy(rdb, "", ""),
	)

	authSrv := oauth.New(oauth.Config{
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		SigningKey: signingKey,
		Clients:    demoOAuthClients(cfg),
	}, rdb, log)

	handler, err := streaminghttp.New(resolver, eng, store, reg,
		streaminghttp.WithLogger(log),
		streaminghttp.WithOAuthServer(authSrv),
		streaminghttp.WithAllowedOrigins(cfg.AllowedOrigins...),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway.listen", slog.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("gateway.shutdown.start")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("gateway.shutdown.ok")
	return nil
}

func newLogger(cfg config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen}))
}

// demoOAuthClients returns the connector allow-list. A real deployment loads
// this from the platform's client registration surface.
func demoOAuthClients(cfg config) []oauth.Client {
	if cfg.DemoTenant == "" {
		return nil
	}
	return []oauth.Client{{
		ID:           "demo-connector",
		TenantID:     cfg.DemoTenant,
		RedirectURIs: []string{"http://localhost:9090/callback"},
		Roles:        []string{"member"},
	}}
}
