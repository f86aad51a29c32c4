package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"classcheckin/internal/attendance"
	"classcheckin/internal/auth"
	"classcheckin/internal/cloudinary"
	"classcheckin/internal/config"
	"classcheckin/internal/faceclient"
	"classcheckin/internal/handler"
	"classcheckin/internal/httpmiddleware"
	"classcheckin/internal/metrics"
	"classcheckin/internal/notify"
	"classcheckin/internal/queue"
	"classcheckin/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runHTTP(ctx, cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(ctx context.Context, cfg config.App) error {
	var opts []handler.Option

	var backend attendance.Store
	switch cfg.StoreBackend {
	case "memory":
		log.Println("WARNING: using in-memory store, state is lost on restart")
		backend = attendance.NewMemoryStore()
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				return err
			}
		}
		backend = attendance.NewRepository(db.Client)
		opts = append(opts, handler.WithHealthCheck("db", db.Healthy))
	}

	var redisClient *store.Redis
	if cfg.QueueBackend == "redis" || cfg.RateLimitBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer redisClient.Close()
		opts = append(opts, handler.WithHealthCheck("redis", redisClient.Healthy))
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	svc := attendance.NewService(backend, attendance.StaticSettings(cfg.Engine()),
		attendance.WithPublisher(attendance.NewQueuePublisher(q)),
		attendance.WithObserver(metrics.New(prometheus.DefaultRegisterer)),
		attendance.WithRetries(cfg.AdmissionRetries),
	)

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	face.Threshold = cfg.MinFaceConfidence
	opts = append(opts, handler.WithRecognizer(face, cfg.FaceLiveness))
	if !cfg.FaceSkip {
		opts = append(opts, handler.WithHealthCheck("face", func(ctx context.Context) bool { return face.Health(ctx) == nil }))
	}

	cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	if cdn.Configured() {
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
		opts = append(opts, handler.WithUploader(cdn))
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	var limiter httpmiddleware.Limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.RateLimit(limiter))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.New(svc, opts...).Register(r, auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	// A memory store or queue is invisible to the worker process, so its
	// duties run here instead.
	if cfg.StoreBackend == "memory" && cfg.AutoCloseSweep > 0 {
		g.Go(func() error { return svc.RunSweeper(gctx, cfg.AutoCloseSweep) })
	}
	if cfg.QueueBackend == "memory" {
		g.Go(func() error { return notify.Relay(gctx, q, notify.Log{}) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Println("Server exited")
	return nil
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
