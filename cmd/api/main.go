package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"dormitory/internal/api"
	"dormitory/internal/auth"
	"dormitory/internal/config"
	"dormitory/internal/httpmiddleware"
	"dormitory/internal/queue"
	"dormitory/internal/rfid"
	"dormitory/internal/store"
	"dormitory/internal/users"
	"dormitory/internal/worker"
)

func main() {
	cfg := config.Load()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.IsProduction() && cfg.JWTSigningKey == config.Defaults().JWTSigningKey {
		return errors.New("JWT_SIGNING_KEY must be set in production")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	switch {
	case db == nil:
		return err
	case err != nil:
		log.Printf("warning: db not reachable: %v", err)
	default:
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	checks := map[string]api.HealthCheck{"db": db.Healthy}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
		checks["redis"] = redisClient.Healthy
	}

	var limiter httpmiddleware.Limiter
	if cfg.RateLimitPerMin > 0 {
		if cfg.RateLimitBackend == "redis" {
			limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
			checks["redis"] = redisClient.Healthy
		} else {
			limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
		}
	}

	rfidSvc := rfid.NewService(rfid.NewRepository(db.Client), q, cfg.ScanDebounce, cfg.Location())
	userRepo := users.NewRepository(db.Client)
	userSvc := users.NewService(userRepo)
	if err := userSvc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		log.Printf("warning: admin seed failed: %v", err)
	}
	issuer := auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)

	// nothing else can drain an in-process queue
	if cfg.QueueBackend == "memory" {
		go func() {
			if err := worker.Run(ctx, q, rfidSvc); err != nil {
				log.Printf("in-process worker failed: %v", err)
			}
		}()
	}

	r := api.NewRouter(api.Deps{
		RFID:        rfidSvc,
		Users:       userSvc,
		Sessions:    auth.NewSessions(issuer, userRepo),
		Issuer:      issuer,
		Limiter:     limiter,
		CORSOrigins: cfg.CORSOrigins,
		Checks:      checks,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	// outstanding requests get 10 seconds
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}
