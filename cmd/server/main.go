package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"moodline/internal/analytics"
	"moodline/internal/cache"
	"moodline/internal/config"
	"moodline/internal/db"
	"moodline/internal/escalation"
	"moodline/internal/handlers"
	"moodline/internal/live"
	"moodline/internal/logger"
	mw "moodline/internal/middleware"
	"moodline/internal/models"
	"moodline/internal/notify"
	"moodline/internal/risk"
	"moodline/internal/services"
	"moodline/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Service)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer log.Sync()

	ctx := context.Background()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable; analytics cache and shared live feed disabled", zap.Error(err))
			redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var feed live.Feed = live.NewLocalFeed()
	var analyticsCache analytics.Cache
	var invalidator services.Invalidator
	if redisClient != nil {
		feed = live.NewRedisFeed(redisClient, log)
		c := cache.NewAnalyticsCache(redisClient, cfg.AnalyticsCacheTTL, log)
		analyticsCache, invalidator = c, c
	}

	var st store.Store
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; using in-memory store, data is lost on restart")
		st = store.NewMemoryStore(feed, log)
	} else {
		dbConn, err := sqlx.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to open db", zap.Error(err))
		}
		dbConn.SetMaxOpenConns(10)
		dbConn.SetConnMaxLifetime(2 * time.Hour)
		if err := dbConn.PingContext(ctx); err != nil {
			log.Fatal("failed to ping db", zap.Error(err))
		}
		defer dbConn.Close()
		if err := db.RunMigrations(ctx, dbConn); err != nil {
			log.Fatal("failed migrations", zap.Error(err))
		}

		var sealer store.SampleSealer
		if cfg.EncryptionKey != "" {
			enc, err := services.NewEncryptionService(cfg.EncryptionKey)
			if err != nil {
				log.Fatal("invalid ENCRYPTION_KEY", zap.Error(err))
			}
			sealer = enc
		} else {
			log.Warn("ENCRYPTION_KEY not set; notes are stored in plaintext")
		}
		st = store.NewPostgresStore(dbConn, feed, sealer, log)
	}

	var classifier risk.Classifier
	if cfg.Classifier.URL != "" {
		classifier = risk.NewHTTPClassifier(cfg.Classifier.URL, "", cfg.Classifier.APIKey, log)
	}
	extractor := risk.NewExtractor(classifier, cfg.Classifier.Timeout, log)

	var channels notify.Fanout
	if cfg.Notify.WebhookURL != "" {
		channels = append(channels, notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.WebhookToken, log))
	}
	if cfg.Notify.MQTT.Broker != "" {
		client, err := notify.NewMQTTClient(notify.MQTTConfig{
			Broker:   cfg.Notify.MQTT.Broker,
			ClientID: cfg.Notify.MQTT.ClientID,
			Username: cfg.Notify.MQTT.Username,
			Password: cfg.Notify.MQTT.Password,
			Topic:    cfg.Notify.MQTT.Topic,
		})
		if err != nil {
			log.Warn("mqtt notifier disabled", zap.Error(err))
		} else {
			defer client.Disconnect(250)
			channels = append(channels, notify.NewMQTTNotifier(client, cfg.Notify.MQTT.Topic, log))
		}
	}
	var notifier escalation.Notifier
	if len(channels) > 0 {
		notifier = channels
	} else {
		log.Warn("no notification channel configured; alerts are recorded as skipped")
	}

	coordinator := escalation.NewCoordinator(st, st, notifier, escalation.Options{
		Threshold:     models.RiskLevel(cfg.Escalation.Threshold),
		NotifyTimeout: cfg.Escalation.NotifyTimeout,
		Events:        feed,
	}, log)
	checkin := services.NewCheckinService(st, extractor, coordinator, invalidator, cfg.HistoryDays, log)
	analyticsSvc := analytics.NewService(st, st, analyticsCache, log)

	authHandler := handlers.NewAuthHandler(st, []byte(cfg.JWTSecret), log)
	userHandler := handlers.NewUserHandler(st, log)
	sampleHandler := handlers.NewSampleHandler(checkin, st, analyticsSvc, log)
	analyticsHandler := handlers.NewAnalyticsHandler(analyticsSvc, st, log)
	crisisHandler := handlers.NewCrisisHandler(st, coordinator, log)
	adminHandler := handlers.NewAdminHandler(st, log)
	authMW := mw.NewAuthMiddleware([]byte(cfg.JWTSecret))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.ZapRequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/signup", authHandler.Signup)
		api.Post("/auth/login", authHandler.Login)
		api.Group(func(pr chi.Router) {
			pr.Use(authMW.RequireAuth)
			pr.Get("/me", userHandler.GetMe)
			pr.Put("/me", userHandler.UpdateMe)

			pr.Post("/samples", sampleHandler.Create)
			pr.Get("/samples", sampleHandler.List)
			pr.Get("/samples/export", sampleHandler.Export)
			pr.Get("/samples/{id}", sampleHandler.Get)
			pr.Put("/samples/{id}", sampleHandler.Update)

			pr.Get("/analytics", analyticsHandler.Get)
			pr.Get("/analytics/stream", analyticsHandler.Stream)

			pr.Get("/crisis/assessments", crisisHandler.Assessments)
			pr.Get("/crisis/alerts", crisisHandler.Alerts)
			pr.Get("/crisis/state", crisisHandler.State)
			pr.Post("/crisis/alerts/{id}/resolve", crisisHandler.Resolve)

			pr.Get("/admin/overview", adminHandler.Overview)
		})
	})

	// Open event streams never finish on their own; cancelling the base
	// context lets Shutdown drain them.
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelStreams)

	go func() {
		log.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("escalation_threshold", string(coordinator.Threshold())),
			zap.Bool("classifier", classifier != nil),
			zap.Int("notify_channels", len(channels)),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown did not complete cleanly", zap.Error(err))
	}
	log.Info("server stopped")
}
