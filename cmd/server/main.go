package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rtsp-studio/internal/overlay"
	"rtsp-studio/internal/platform/config"
	"rtsp-studio/internal/platform/logger"
	"rtsp-studio/internal/platform/metrics"
	"rtsp-studio/internal/stream"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

const (
	shutdownTimeout  = 10 * time.Second
	redisPingTimeout = 5 * time.Second
)

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	hlsRoot := config.GetEnv("HLS_ROOT", "hls_streams")
	ffmpegPath := config.GetEnv("FFMPEG_PATH", "ffmpeg")
	baseURL := config.GetEnv("PUBLIC_BASE_URL", "http://localhost:"+port)
	redisAddr := config.GetEnv("REDIS_ADDR", "")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	if err := os.MkdirAll(hlsRoot, 0o755); err != nil {
		log.Error("cannot create HLS root directory", "path", hlsRoot, "error", err)
		os.Exit(1)
	}

	registry := stream.NewRegistry()
	svc := stream.NewService(registry, log, stream.Config{
		HLSRoot:       hlsRoot,
		FFmpegPath:    ffmpegPath,
		PublicBaseURL: baseURL,
	})
	met := metrics.New()
	streamHandler := stream.NewHandler(svc, log, met)

	overlayStore := newOverlayStore(redisAddr, log)
	overlayHandler := overlay.NewHandler(overlayStore, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetActiveStreams(registry.Count()) }).ServeHTTP(w, req)
	})
	streamHandler.Routes(r)
	overlayHandler.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"hls_root", hlsRoot,
		"ffmpeg_path", ffmpegPath,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// newOverlayStore selects the overlay persistence backend once at startup:
// Redis when configured and reachable, otherwise the in-memory fallback.
func newOverlayStore(redisAddr string, log *slog.Logger) overlay.Store {
	if redisAddr == "" {
		log.Info("no REDIS_ADDR configured, overlays use in-memory storage")
		return overlay.NewMemoryStore()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: config.GetEnv("REDIS_PASSWORD", ""),
	})
	store := overlay.NewRedisStore(client)

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		log.Warn("redis unreachable, overlays fall back to in-memory storage",
			"addr", redisAddr, "error", err)
		return overlay.NewMemoryStore()
	}

	log.Info("overlays use redis storage", "addr", redisAddr)
	return store
}
