package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"deathmatter/internal/metrics"
	"deathmatter/internal/usertoken"
	"deathmatter/internal/util"
	"deathmatter/pkg/ai"
	"deathmatter/pkg/cache"
	"deathmatter/pkg/notify"
	"deathmatter/pkg/placid"
	"deathmatter/pkg/queue"
	"deathmatter/pkg/quotes"
	"deathmatter/pkg/scripture"
	"deathmatter/pkg/storage"
	"deathmatter/pkg/store"
	"deathmatter/services/tools/internal/app"
	"deathmatter/services/tools/internal/config"
	"deathmatter/services/tools/internal/server"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Overload()

	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	cacheTTL, err := config.ParseCacheTTL(cfg.SearchCacheTTL)
	if err != nil {
		log.Fatalf("failed to parse cache ttl: %v", err)
	}

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to reach redis: %v", err)
	}

	verifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:           cfg.AuthJWKSURL,
		Issuer:            cfg.JWTIssuer,
		Audience:          cfg.JWTAudience,
		AuthorizedParties: cfg.AuthorizedParties,
		Leeway:            leeway,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	chatModel, err := ai.NewOpenAIClient(ai.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.ChatModel,
	})
	if err != nil {
		log.Fatalf("failed to init model client: %v", err)
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		objects, err = storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
	} else {
		logger.Warn("minio not configured, keeping uploads in memory")
		objects = storage.NewMemoryStore("http://localhost:" + cfg.Port + "/objects")
	}

	var renderer app.Renderer
	if cfg.PlacidAPIToken != "" {
		renderer = placid.NewClient(cfg.PlacidBaseURL, cfg.PlacidAPIToken, nil)
	}
	renders, err := queue.NewRedisJobQueue(rdb, queue.RedisQueueConfig{
		Stream: "deathmatter:renders",
		Group:  "render-pollers",
	})
	if err != nil {
		log.Fatalf("failed to init render queue: %v", err)
	}

	var quoteSearch app.QuoteSearcher
	if cfg.Stands4UID != "" {
		qc, err := quotes.NewClient(quotes.Config{UID: cfg.Stands4UID, TokenID: cfg.Stands4TokenID})
		if err != nil {
			log.Fatalf("failed to init quotes client: %v", err)
		}
		quoteSearch = qc
	}

	var contact notify.Publisher = notify.LogPublisher{Logger: logger}
	if cfg.AMQPURL != "" {
		pub, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.ContactQueue)
		if err != nil {
			log.Fatalf("failed to connect to amqp: %v", err)
		}
		defer pub.Close()
		contact = pub
	}

	m := metrics.New()
	appCore, err := app.New(app.Config{
		Store:                db,
		ChatModel:            chatModel,
		GenerationModel:      chatModel.WithModel(cfg.GenerationModel),
		Titles:               chatModel.WithModel(cfg.TitleModel),
		Objects:              objects,
		Renderer:             renderer,
		Renders:              renders,
		Quotes:               quoteSearch,
		Scripture:            scripture.NewClient(scripture.Config{BibleAPIKey: cfg.BibleAPIKey}),
		Cache:                cache.NewJSONCache(rdb, "deathmatter:search", cacheTTL),
		Contact:              contact,
		Metrics:              m,
		MaxMessagesPerDay:    cfg.MaxMessagesPerDay,
		MaxDocumentsPerEntry: cfg.MaxDocumentsPerEntry,
		MaxToolSteps:         cfg.MaxToolSteps,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	if renderer != nil {
		renders.Start(ctx, cfg.RenderPollerSize, appCore.PollRender)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		TokenVerifier:              verifier,
		Redis:                      rdb,
		Metrics:                    m,
		AllowedOrigins:             cfg.AllowedOrigins,
		TrustedProxies:             trusted,
		MaxUploadBytes:             cfg.MaxUploadBytes,
		GenerateRateLimitPerMinute: cfg.GenerateRateLimitPerMinute,
		ImageRateLimitPerMinute:    cfg.ImageRateLimitPerMinute,
		SearchRateLimitPerMinute:   cfg.SearchRateLimitPerMinute,
		ContactRateLimitPerMinute:  cfg.ContactRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Chat and generation responses stream for as long as the model talks.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
