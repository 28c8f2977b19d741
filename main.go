package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/officekit/addin-auth/handlers"
	"github.com/officekit/addin-auth/internal/config"
	"github.com/officekit/addin-auth/internal/database"
	"github.com/officekit/addin-auth/internal/entra"
	"github.com/officekit/addin-auth/internal/oidc"
	"github.com/officekit/addin-auth/internal/sessions"
	"github.com/officekit/addin-auth/internal/users"
	"github.com/officekit/addin-auth/pkg/logger"
	"github.com/officekit/addin-auth/pkg/metrics"
	"github.com/officekit/addin-auth/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// initialize logging (can be controlled with LOG_LEVEL env: debug|info|warn|error|fatal)
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: entra=%v mongo=%v redis=%v", cfg.Entra.TenantID != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "")

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	ctx := context.Background()

	// Connect to Redis early so sessions and the rate limiter can use it when configured
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			redisClient = nil
		} else {
			logger.Infof("Connected to Redis: %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	// Optional global rate limiter (per-user when authenticated, otherwise per-IP)
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	// Entra client for every token-endpoint interaction
	entraClient := entra.NewClient(cfg.Entra)

	// ID-token signature verification when the issuer is reachable; handlers
	// fall back to decode-only otherwise.
	var verifier handlers.IDTokenVerifier
	if cfg.Entra.TenantID != "" && cfg.Entra.AppID != "" {
		ver, err := oidc.NewVerifier(ctx, entraClient.Issuer(), cfg.Entra.AppID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier, ID tokens will be decoded unverified: %v", err)
		} else {
			verifier = ver
		}
	}

	// MongoDB with retry/backoff to tolerate startup races
	var mongoClient *mongo.Client
	if cfg.MongoDB.URI != "" {
		const maxAttempts = 5
		backoff := time.Second
		var errConn error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			mongoClient, errConn = database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
			if errConn == nil {
				break
			}
			logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, errConn)
			if attempt < maxAttempts {
				time.Sleep(backoff)
				backoff *= 2
			}
		}
		if errConn != nil {
			logger.Warnf("could not connect to MongoDB after %d attempts: %v", maxAttempts, errConn)
			mongoClient = nil
		}
	}
	if mongoClient != nil {
		defer func() { _ = mongoClient.Disconnect(ctx) }()
	}

	// Users live in Mongo; sessions prefer Redis when available, Mongo otherwise.
	var usersSvc *users.Service
	var sessionsSvc *sessions.Service
	if mongoClient != nil {
		db := mongoClient.Database(cfg.MongoDB.Database)
		usersSvc = users.NewService(users.NewMongoRepository(db.Collection("users")))

		var sessionRepo sessions.Repository
		if redisClient != nil {
			sessionRepo = sessions.NewRedisRepository(redisClient, "session:")
			logger.Infof("Using Redis for session storage")
		} else {
			sessionRepo = sessions.NewMongoRepository(db.Collection("sessions"))
		}
		sessionsSvc = sessions.NewService(sessionRepo, usersSvc, entraClient, cfg.Session.Lifetime, cfg.Session.RefreshThreshold)
	}

	// Basic health endpoint
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness endpoint — return 200 only when critical dependencies are available
	r.GET("/ready", func(c *gin.Context) {
		ready := true
		deps := map[string]bool{}

		deps["storage"] = sessionsSvc != nil
		if sessionsSvc == nil {
			ready = false
		}
		deps["entra"] = cfg.Entra.TenantID != "" && cfg.Entra.AppID != ""
		if !deps["entra"] {
			ready = false
		}
		deps["redis"] = cfg.Redis.Host == "" || redisClient != nil

		status := http.StatusOK
		body := gin.H{"status": "ready", "deps": deps, "uptime": fmt.Sprintf("%s", time.Since(startTime))}
		if !ready {
			status = http.StatusServiceUnavailable
			body["status"] = "not_ready"
		}
		c.JSON(status, body)
	})

	// Gate everything registered below: every non-static route outside the
	// allow-list requires a valid session cookie.
	if sessionsSvc != nil {
		r.Use(middleware.AuthGate(middleware.DefaultGateConfig(cfg.IsProduction()), sessionsSvc))
	} else {
		logger.Warnf("auth gate not installed because the session service is unavailable")
	}

	// Register auth handlers if services are available
	if sessionsSvc != nil && usersSvc != nil {
		h := handlers.NewAuthHandler(cfg, entraClient, sessionsSvc, usersSvc, verifier)
		h.Register(r.Group("/"))
	} else {
		logger.Warnf("auth handlers not registered because session/user services are unavailable")
	}

	// Expose Prometheus metrics
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("Starting auth service on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
