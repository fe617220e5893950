package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/api"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/reporting"
	"rollcall/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reporter := reporting.New(cfg.RollbarToken, cfg.Env, version)
	defer reporter.Close()

	backend, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()
	if err := backend.Migrate(ctx); err != nil {
		return err
	}
	log.Printf("store backend: %s", backend.Name)

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(256)
		msgs, err := mem.Consume(ctx)
		if err != nil {
			return err
		}
		// no separate worker process in this mode
		go queue.RunAuditSink(ctx, msgs, backend.Store)
		q = mem
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	svc := attendance.NewService(backend.Store, attendance.Options{
		CodeTTL:      cfg.CodeTTL,
		CodeLength:   cfg.CodeLength,
		Location:     loc,
		MatchByEmail: cfg.MatchByEmail(),
		Notifier:     queue.NewPublisher(q),
	})

	markLimit := httpmiddleware.NewRedisWindow(redisClient.Client, "rollcall:mark", cfg.MarkLimitPerMin, time.Minute).
		GinMiddleware(func(c *gin.Context) string {
			claims, _ := auth.ClaimsFrom(c)
			return claims.UserID()
		})
	h := api.NewHandler(svc, api.Options{
		SigningKey: cfg.JWTSigningKey,
		Issuer:     cfg.JWTIssuer,
		MarkLimit:  markLimit,
		Reporter:   reporter,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(metrics.GinMiddleware())
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		storeHealthy := backend.Healthy(c.Request.Context())
		redisHealthy := redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !storeHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "store": storeHealthy, "redis": redisHealthy})
	})

	h.Register(r)
	r.NoRoute(api.NoRoute)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}
