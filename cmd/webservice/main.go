package main

import (
	"context"
	"fmt"
	stlog "log"
	"os/signal"
	"syscall"
	"time"

	"go-referral/config"
	"go-referral/logging"
	"go-referral/referral"
	"go-referral/referral/gormstore"
	"go-referral/scheduler"
	"go-referral/service"
	"go-referral/utils"
	"go-referral/web/controllers"
	"go-referral/web/db"
	"go-referral/web/email"
	"go-referral/web/middleware"
	"go-referral/web/session"

	"github.com/cenkalti/backoff/v5"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	utils.LoadEnv()
	cfg := config.Load()

	if err := logging.InitLogger(cfg.Production); err != nil {
		stlog.Fatalln("Error initializing logger:", err)
	}
	logger := logging.Logger
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Secret == "" {
		logger.Fatal("SECRET is not set")
	}
	if err := db.Connect(cfg.DSN); err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	if err := db.Sync(); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	sessions, err := newSessionStore(ctx, cfg)
	if err != nil {
		logger.Fatal("session store", zap.Error(err))
	}

	sides, err := referral.SidePolicyByName(cfg.SidePolicy)
	if err != nil {
		logger.Fatal("referral side policy", zap.Error(err))
	}

	store := gormstore.New(db.DB)
	engine := referral.NewEngine(store, referral.EngineConfig{
		ShareAmount: cfg.ShareAmount,
		Thresholds:  cfg.Thresholds,
	},
		referral.WithLogger(logger.Named("engine")),
		referral.WithNotifier(email.NewPromotionNotifier(controllers.LookupEmail, logger.Named("email"))),
	)
	bridge := referral.NewBridge(store, engine,
		referral.WithBridgeLogger(logger.Named("bridge")),
		referral.WithMaxTries(cfg.DispatchTries),
		referral.WithBackOff(func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		}),
	)
	placer := referral.NewPlacer(store, controllers.NewCodeResolver(db.DB),
		referral.WithSidePolicy(sides),
		referral.WithMaxDepth(cfg.MaxDepth),
		referral.WithPlacerLogger(logger.Named("placer")),
	)

	auth := &middleware.Auth{
		Secret:   []byte(cfg.Secret),
		AdminKey: cfg.AdminKey,
		Sessions: sessions,
		LoadUser: controllers.LoadUser,
	}

	controllers.Setup(controllers.Deps{
		Config:  cfg,
		Logger:  logger,
		Auth:    auth,
		Store:   store,
		Placer:  placer,
		Bridge:  bridge,
		Queries: referral.NewQueries(store, cfg.Thresholds),
		TxStore: func(tx *gorm.DB) referral.Store { return gormstore.New(tx) },
	})

	_, err = scheduler.Start(ctx, logger.Named("jobs"),
		scheduler.Job{
			Name: "retry-activations",
			Spec: cfg.RetrySchedule,
			Run: func(ctx context.Context) error {
				_, err := bridge.RetryPending(ctx, cfg.RetryBatch)
				return err
			},
		},
		scheduler.Job{
			Name: "plan-monitor",
			Spec: cfg.MonitorSchedule,
			Run: func(ctx context.Context) error {
				_, err := controllers.PlanMonitor(ctx)
				return err
			},
		},
	)
	if err != nil {
		logger.Fatal("start jobs", zap.Error(err))
	}

	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Observe(logger.Named("http")), middleware.CORS(cfg.AllowedOrigins))

	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, 10*time.Minute)
	limiter.StartCleanup(ctx, 10*time.Minute)
	limit := limiter.Middleware()

	r.POST("/signup", limit, controllers.Signup)
	r.GET("/verify", limit, controllers.VerifyEmail)
	r.POST("/login", limit, controllers.Login)
	r.POST("/logout", limit, auth.RequireAuth, controllers.Logout)
	r.GET("/user", limit, auth.RequireAuth, controllers.User)
	r.POST("/subscribe", limit, auth.RequireAuth, controllers.Subscribe)
	r.POST("/redeem", limit, auth.RequireAuth, controllers.Redeem)

	r.POST("/payment", limit, auth.RequireAuth, controllers.Payment)
	r.GET("/payment/status/:order_id", limit, auth.RequireAuth, controllers.GetPaymentStatus)
	r.GET("/payment/list", limit, auth.RequireAuth, controllers.ListPayments)
	r.POST("/payment/callback", auth.AdminAuth, controllers.Callback)

	ref := r.Group("/referral", limit, auth.RequireAuth)
	ref.GET("/descendants", controllers.Descendants)
	ref.GET("/ledger", controllers.Ledger)
	ref.GET("/status", controllers.Status)
	ref.GET("/qrcode", controllers.QRCode)

	admin := r.Group("/admin", auth.AdminAuth)
	admin.POST("/setplan", controllers.SetPlan)
	admin.POST("/generatevoucher", controllers.GenerateVoucher)
	admin.POST("/events/retry", controllers.RetryEvents)
	admin.GET("/health", controllers.Health)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	done, err := service.Start(ctx, "webservice", fmt.Sprintf(":%s", cfg.Port), r, logger)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
	<-done.Done()
}

func newSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	if cfg.RedisAddr == "" {
		mem := session.NewMemoryStore()
		mem.StartCleanup(ctx, 10*time.Minute)
		return mem, nil
	}
	client, err := session.Connect(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return session.NewRedisStore(client), nil
}
