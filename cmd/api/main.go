package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"bucketd/internal/admin"
	"bucketd/internal/auth"
	"bucketd/internal/blob"
	"bucketd/internal/bucket"
	"bucketd/internal/config"
	"bucketd/internal/file"
	"bucketd/internal/logger"
	"bucketd/internal/quota"
	"bucketd/internal/reconcile"
	"bucketd/internal/server"
	"bucketd/internal/storage"
)

func main() {
	_ = godotenv.Load()

	zapLogger, err := logger.Init()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zapLogger.Sync()

	cfg, err := config.Load()
	if err != nil {
		zapLogger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		zapLogger.Fatal("connect postgres", zap.Error(err))
	}
	defer dbPool.Close()

	blobFS, err := storage.NewBlobFilesystem(cfg.Storage)
	if err != nil {
		zapLogger.Fatal("open blob filesystem", zap.Error(err))
	}
	blobStore := blob.NewStore(blobFS)

	authRepo := auth.NewRepository(dbPool)
	authService := auth.NewService(authRepo, cfg.Auth, cfg.Quota.DefaultLimitBytes)
	if err := authService.EnsureAdmin(ctx); err != nil {
		zapLogger.Fatal("ensure admin account", zap.Error(err))
	}

	ledger := quota.NewLedger(authRepo, cfg.Quota.ReservationTTL)

	bucketRepo := bucket.NewRepository(dbPool)
	fileRepo := file.NewRepository(dbPool)

	fileService := file.NewService(fileRepo, bucketRepo, blobStore, ledger, zapLogger)
	bucketService := bucket.NewService(bucketRepo, fileService, blobStore, zapLogger)
	adminRepo := admin.NewRepository(dbPool)

	coordinator := reconcile.NewCoordinator(
		ledger, bucketService, fileRepo, blobStore,
		cfg.Sweep.Interval, cfg.Sweep.OrphanGrace, zapLogger,
	)
	go coordinator.Run(ctx)

	router := server.NewRouter(server.Dependencies{
		Config:        cfg,
		DB:            dbPool,
		BlobStore:     blobStore,
		Logger:        zapLogger,
		AuthService:   authService,
		BucketService: bucketService,
		FileService:   fileService,
		AdminRepo:     adminRepo,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zapLogger.Info("bucketd API listening", zap.String("address", cfg.Server.Address()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	zapLogger.Info("shutting down gracefully")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("shutdown error", zap.Error(err))
	}
}
