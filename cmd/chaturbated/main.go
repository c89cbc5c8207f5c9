package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/TechSanzo/chaturbate/internal/config"
	"github.com/TechSanzo/chaturbate/internal/domain"
	"github.com/TechSanzo/chaturbate/internal/handler"
	"github.com/TechSanzo/chaturbate/internal/hub"
	"github.com/TechSanzo/chaturbate/internal/ledger"
	"github.com/TechSanzo/chaturbate/internal/presence"
	"github.com/TechSanzo/chaturbate/internal/repository"
	"github.com/TechSanzo/chaturbate/internal/service"
	"github.com/TechSanzo/chaturbate/internal/session"
	"github.com/TechSanzo/chaturbate/internal/subscriber"
	"github.com/TechSanzo/chaturbate/pkg/bus"
	"github.com/TechSanzo/chaturbate/pkg/database"
	pkglog "github.com/TechSanzo/chaturbate/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		pkglog.L().Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "chaturbated",
	})
	logger := pkglog.L()

	// Connect to database using GORM
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Auto-migrate
	err = database.AutoMigrate(db,
		&session.CredentialModel{},
		&domain.UserModel{},
		&domain.StreamModel{},
		&domain.MessageModel{},
		&domain.TipModel{},
		&domain.PrivateShowModel{},
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Msg("database migration completed")

	// Event bus
	eventBus, err := bus.New(cfg.Bus)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to event bus")
	}
	defer eventBus.Close()
	logger.Info().Str("driver", cfg.Bus.Driver).Msg("event bus connected")

	// Redis client for presence; reuse the bus connection when the bus
	// runs on Redis.
	var redisClient *redis.Client
	if rb, ok := eventBus.(*bus.RedisBus); ok {
		redisClient = rb.Client()
	} else {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Bus.Redis.Address,
			Password: cfg.Bus.Redis.Password,
			DB:       cfg.Bus.Redis.DB,
		})
		defer redisClient.Close()
	}

	// Repositories
	userRepo := repository.NewGormUserRepository(db)
	streamRepo := repository.NewGormStreamRepository(db)
	messageRepo := repository.NewGormMessageRepository(db)
	showRepo := repository.NewGormShowRepository(db)

	// Auth
	tokens, err := session.NewTokenManager(cfg.Auth.TokenDuration, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token manager")
	}
	creds := session.NewJWTCredentials(db, tokens, session.NewMemoryTokenStore())

	// Core services
	creditLedger := ledger.New(db, eventBus)
	chatSvc := service.NewChatService(messageRepo, streamRepo, eventBus)
	streamSvc := service.NewStreamService(streamRepo, userRepo, eventBus)
	showSvc := service.NewShowService(showRepo, streamRepo, userRepo, creditLedger, eventBus, cfg.Show.AccrualInterval)
	tracker := presence.NewTracker(redisClient, streamRepo, cfg.Presence.TTL)

	// Fan-out
	wsCfg := hub.DefaultConfig()
	h := hub.NewHub(wsCfg)
	bridge := hub.NewBridge(eventBus, h, subscriber.Config{
		MaxEventsPerSecond: cfg.Subscriber.MaxEventsPerSecond,
		MaxReconnects:      cfg.Subscriber.MaxReconnects,
		ReconnectBackoff:   cfg.Subscriber.ReconnectBackoff,
	})

	// HTTP surface
	authMiddleware := handler.NewAuthMiddleware(tokens, userRepo)
	credits := session.Config{
		InitialViewerCredits:      cfg.Credits.InitialViewer,
		InitialBroadcasterCredits: cfg.Credits.InitialBroadcaster,
	}
	httpHandler := handler.NewHandler(creds, tokens, userRepo, streamSvc, chatSvc, showSvc, creditLedger, tracker, authMiddleware, credits)
	wsHandler := handler.NewWSHandler(h, bridge, chatSvc, tracker, authMiddleware, wsCfg)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	httpHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		h.Run()
		return nil
	})

	g.Go(func() error {
		err := showSvc.RunAccrual(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return runPresenceSweep(gctx, tracker, streamRepo, cfg.Presence.SweepInterval)
	})

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Str("driver", cfg.Database.Driver).Msg("chaturbated starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		bridge.Close(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("chaturbated exited with error")
	}
	logger.Info().Msg("chaturbated stopped")
}

// runPresenceSweep reconciles viewer counts for live streams, dropping
// members whose heartbeat lapsed.
func runPresenceSweep(ctx context.Context, tracker *presence.Tracker, streams repository.StreamRepository, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			live := true
			streamList, _, err := streams.List(ctx, &domain.ListStreamsRequest{Live: &live, Page: 1, PageSize: 500})
			if err != nil {
				pkglog.L().Error().Err(err).Msg("failed to list live streams for presence sweep")
				continue
			}
			for i := range streamList {
				if _, err := tracker.Sweep(ctx, streamList[i].ID); err != nil {
					pkglog.L().Warn().Err(err).Str(pkglog.FieldStreamID, streamList[i].ID).Msg("presence sweep failed")
				}
			}
		}
	}
}
