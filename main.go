package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ann82/havenline/cache"
	"github.com/ann82/havenline/gateway"
	"github.com/ann82/havenline/memory"
	"github.com/ann82/havenline/router"
	"github.com/ann82/havenline/services"
	"github.com/ann82/havenline/session"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: cannot load .env file, using environment variables")
	}
	cfg := LoadConfig()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	gw := gateway.New(gateway.Config{
		MaxAttempts: cfg.GatewayAttempts,
		RetryDelay:  cfg.GatewayDelay,
		RateLimit:   rate.Limit(cfg.GatewayRate),
		Burst:       5,
	}, logger)

	answerCache := cache.New(cfg.CacheTTL, cfg.CacheMaxEntries)
	answerCache.StartSweeper(cfg.CacheSweep)
	defer answerCache.Stop()

	contexts := memory.NewStore(cfg.ContextTTL, 20)

	searchBackend := services.NewSearchClient(cfg.SearchURL, cfg.SearchAPIKey)
	llmBackend := services.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIModel)

	rt, err := router.New(searchBackend, llmBackend, gw, answerCache, contexts, router.Config{}, logger)
	if err != nil {
		logger.Fatal("building router", zap.Error(err))
	}

	var messenger session.Messenger
	if cfg.TwilioAccountSID != "" && cfg.TwilioFromNumber != "" {
		messenger = services.NewTwilioMessenger(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	} else {
		logger.Warn("Twilio messaging not configured, follow-up texts disabled")
	}

	var archiver session.Archiver
	if cfg.EnableFirestore {
		fc, err := services.NewFirestoreClient(context.Background())
		if err != nil {
			logger.Warn("Firestore unavailable, call archiving disabled", zap.Error(err))
		} else {
			defer fc.Close()
			archiver = fc
		}
	}

	hub := services.NewHub(logger)
	go hub.Run()

	mgr := session.NewManager(session.Deps{
		Router:     rt,
		Memory:     contexts,
		Messenger:  messenger,
		Summarizer: llmBackend,
		Archiver:   archiver,
		Hub:        hub,
		Logger:     logger,
	}, session.Config{})

	app := &App{cfg: cfg, mgr: mgr, router: rt, hub: hub, log: logger}

	engine := gin.Default()
	engine.POST("/twilio-webhook/:agent_id", app.TwilioWebhook)
	engine.POST("/call-status/:call_id", app.CallStatus)
	engine.GET("/llm-websocket/:call_id", app.CallSocket)
	engine.GET("/dashboard-ws", app.DashboardSocket)
	engine.GET("/stats", app.Stats)

	logger.Info("support line listening", zap.String("port", cfg.Port))
	if err := engine.Run(":" + cfg.Port); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
