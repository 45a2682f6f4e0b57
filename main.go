package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"societyapp/config"
	"societyapp/controllers"
	"societyapp/database"
	"societyapp/middleware"
	"societyapp/models"
	"societyapp/repository"
	"societyapp/services"
	"societyapp/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	serviceName     = "society-app"
	authRateLimit   = 20
	authRateWindow  = 15 * time.Minute
	sweepInterval   = time.Minute
	shutdownTimeout = 15 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "societyapp",
		Short: "Society App backend: residents, payments and receipts",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API and ops servers",
		RunE:  runServe,
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
			}
			if args[0] == "down" {
				return database.RollbackMigration(cfg)
			}
			return database.RunMigrations(cfg)
		},
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Инициализируем конфигурацию
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	logger, err := utils.NewLogger(serviceName, cfg.Server.Env, cfg.Server.LogFile)
	if err != nil {
		return fmt.Errorf("ошибка инициализации логгера: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Подключение к базе данных и миграции
	db, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(cfg); err != nil {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	supervisor := database.NewSupervisor(db, cfg.DB.HealthInterval, logger.Named("db"))
	supervisor.Start(ctx)

	metrics := utils.NewMetrics()
	paymentRepo := repository.NewPaymentRepository(db.DB)
	userRepo := repository.NewUserRepository(db.DB)

	redisClient := services.NewRedisClient(cfg)
	defer redisClient.Close()

	storage, err := services.NewS3Storage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ошибка инициализации хранилища: %w", err)
	}

	var events services.EventPublisher = services.NopEventPublisher{}
	if cfg.Kafka.Enabled {
		kafka, err := services.NewKafkaEventPublisher(cfg)
		if err != nil {
			return err
		}
		events = kafka
	}
	defer events.Close()

	ledger := services.NewLedgerService(paymentRepo, supervisor)
	users := services.NewUserService(userRepo, supervisor)
	tokens := services.NewTokenService(cfg.JWT.SecretKey, cfg.JWT.ExpiresIn)
	payments := services.NewPaymentService(services.PaymentServiceDeps{
		Ledger:            ledger,
		Users:             userRepo,
		Gateway:           services.NewRazorpayGateway(cfg, metrics),
		Receipts:          services.NewReceiptService(storage),
		Notifier:          services.NewEmailService(cfg),
		Events:            events,
		Idempotency:       services.NewRedisIdempotencyStore(redisClient, cfg.Redis.IdempotencyTTL),
		Metrics:           metrics,
		Logger:            logger.Named("payments"),
		SideEffectTimeout: cfg.SideEffectTimeout,
	})

	limiter := utils.NewRateLimiter(authRateLimit, authRateWindow)
	go limiter.RunSweeper(ctx, sweepInterval)

	router := newRouter(routes{
		auth:       controllers.NewAuthController(users, tokens),
		payments:   controllers.NewPaymentController(payments, ledger),
		tokens:     tokens,
		users:      users,
		limiter:    limiter,
		trustProxy: cfg.Server.TrustProxy,
		metrics:    metrics,
		logger:     logger,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	ops := controllers.NewOpsController(supervisor, metrics)

	api := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	opsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.OpsPort),
		Handler:           ops.Router(logger.Named("ops")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	for _, srv := range []*http.Server{api, opsServer} {
		go func(srv *http.Server) {
			logger.Info("http server started", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("ошибка запуска сервера %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err = <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range []*http.Server{api, opsServer} {
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("http server shutdown failed", zap.String("addr", srv.Addr), zap.Error(shutdownErr))
		}
	}
	// Дожидаемся фоновых задач: квитанций, писем, событий
	if shutdownErr := payments.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("side effects still running at shutdown", zap.Error(shutdownErr))
	}
	logger.Info("server stopped")
	return err
}

// routes собирает зависимости публичного API
type routes struct {
	auth       *controllers.AuthController
	payments   *controllers.PaymentController
	tokens     *services.TokenService
	users      middleware.UserLookup
	limiter    *utils.RateLimiter
	trustProxy bool
	metrics    *utils.Metrics
	logger     *zap.Logger
}

func newRouter(rt routes) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.CORSMiddleware, middleware.RecoveryMiddleware, middleware.LoggingMiddleware(rt.logger, rt.metrics))

	router.HandleFunc("/api/test", statusHandler).Methods(http.MethodGet)

	// Публичные маршруты для аутентификации
	limited := middleware.RateLimit(rt.limiter, rt.trustProxy)
	router.Handle("/api/auth/register", limited(http.HandlerFunc(rt.auth.Register))).Methods(http.MethodPost)
	router.Handle("/api/auth/login", limited(http.HandlerFunc(rt.auth.Login))).Methods(http.MethodPost)

	// Защищенные маршруты
	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(middleware.AuthMiddleware(rt.tokens, rt.users))
	protected.HandleFunc("/auth/logout", rt.auth.Logout).Methods(http.MethodPost)

	protected.HandleFunc("/payments/create-order", rt.payments.CreateOrder).Methods(http.MethodPost)
	protected.HandleFunc("/payments/verify", rt.payments.Verify).Methods(http.MethodPost)
	protected.HandleFunc("/payments", rt.payments.List).Methods(http.MethodGet)

	// /report регистрируется раньше /{id}
	committeeOnly := middleware.RequireRoles(models.RoleCommittee, models.RoleAdmin)
	protected.Handle("/payments/report", committeeOnly(http.HandlerFunc(rt.payments.Report))).Methods(http.MethodGet)

	protected.HandleFunc("/payments/{id}", rt.payments.Get).Methods(http.MethodGet)
	protected.HandleFunc("/payments/{id}/receipt", rt.payments.Receipt).Methods(http.MethodGet)

	return router
}

// statusHandler отвечает, что сервис запущен
func statusHandler(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"message":   "Society App Backend is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
