package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/applyflow/applyflow/api"
	"github.com/applyflow/applyflow/config"
	"github.com/applyflow/applyflow/db"
	"github.com/applyflow/applyflow/logging"
	"github.com/applyflow/applyflow/middleware"
	"github.com/applyflow/applyflow/services"
	"github.com/applyflow/applyflow/signature"
	"github.com/applyflow/applyflow/stores"
	"github.com/gorilla/mux"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func printBanner() {
	fmt.Printf("%s%s", colorCyan, colorBold)
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                                                              ║")
	fmt.Println("║  Applyflow Webhook Engine                                    ║")
	fmt.Println("║                                                              ║")
	fmt.Println("║  Signed, idempotent event delivery for the platform          ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Printf("%s", colorReset)
}

func printStep(step, message string) {
	fmt.Printf("%s[%s]%s %s%s%s\n", colorBlue, step, colorReset, colorBold, message, colorReset)
}

func printSuccess(message string) {
	fmt.Printf("%s✓%s %s\n", colorGreen, colorReset, message)
}

func printWarning(message string) {
	fmt.Printf("%s⚠%s %s\n", colorYellow, colorReset, message)
}

func printError(message string) {
	fmt.Printf("%s✗%s %s\n", colorRed, colorReset, message)
}

func main() {
	printBanner()
	fmt.Println()

	printStep("1/8", "Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		printError(fmt.Sprintf("Failed to load configuration: %v", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		printError(fmt.Sprintf("Configuration validation failed: %v", err))
		os.Exit(1)
	}
	printSuccess("Configuration loaded")

	printStep("2/8", "Initializing logger...")
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	printSuccess(fmt.Sprintf("Logger ready (level=%s)", cfg.Logging.Level))

	printStep("3/8", "Connecting to database...")
	gormCfg := &gorm.Config{}
	if cfg.IsProduction() {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Silent)
	}
	database, err := gorm.Open(postgres.Open(cfg.GetDatabaseURL()), gormCfg)
	if err != nil {
		printError(fmt.Sprintf("Failed to connect to database: %v", err))
		os.Exit(1)
	}

	sqlDB, err := database.DB()
	if err != nil {
		printError(fmt.Sprintf("Failed to get database instance: %v", err))
		os.Exit(1)
	}
	defer sqlDB.Close()
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	printSuccess(fmt.Sprintf("Connected to PostgreSQL at %s:%d", cfg.Database.Host, cfg.Database.Port))

	printStep("4/8", "Running migrations...")
	if err := db.RunMigrations(database); err != nil {
		printError(fmt.Sprintf("Migrations failed: %v", err))
		os.Exit(1)
	}
	printSuccess("Schema is up to date")

	printStep("5/8", "Initializing stores and services...")
	subscriptionStore := stores.CreateSubscriptionStore(database)
	deliveryStore := stores.CreateDeliveryStore(database)

	executor := services.CreateDeliveryExecutor(deliveryStore, subscriptionStore,
		log.With().Str("component", "executor").Logger())
	dispatcher := services.CreateEventDispatcher(subscriptionStore, executor,
		log.With().Str("component", "dispatcher").Logger())
	subscriptionService := services.CreateSubscriptionService(subscriptionStore, deliveryStore, executor,
		log.With().Str("component", "subscriptions").Logger())
	printSuccess("Stores and services initialized")

	printStep("6/8", "Starting retry scheduler...")
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	scheduler := services.CreateRetryScheduler(deliveryStore, subscriptionStore, executor,
		cfg.SweepInterval(), log.With().Str("component", "scheduler").Logger())
	scheduler.Start(schedulerCtx)
	printSuccess(fmt.Sprintf("Retry scheduler sweeping every %s", cfg.SweepInterval()))

	printStep("7/8", "Initializing inbound signature guard...")
	guard := signature.NewGuard(signature.GuardConfig{
		GreenhouseSecret: cfg.Providers.Greenhouse.WebhookSecret,
		LeverSecret:      cfg.Providers.Lever.WebhookSecret,
		CalendlySecret:   cfg.Providers.Calendly.WebhookSecret,
		TwilioAuthToken:  cfg.Providers.Twilio.AuthToken,
		PublicBaseURL:    cfg.Server.PublicBaseURL,
		Tolerance:        cfg.Tolerance(),
	})
	printSuccess("Inbound providers guarded: greenhouse, lever, calendly, twilio")

	printStep("8/8", "Setting up HTTP server...")
	router := mux.NewRouter()

	tenantMiddleware := middleware.CreateTenantMiddleware(cfg.TenantKeyMap())
	router.Use(tenantMiddleware.TenantContextMiddleware)

	healthHandler := api.CreateHealthHandler(database)
	router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")

	subscriptionHandler := api.CreateSubscriptionHandler(subscriptionService)
	eventHandler := api.CreateEventHandler(dispatcher)
	apiRouter := router.PathPrefix("/api/v1/webhooks").Subrouter()
	subscriptionHandler.RegisterRoutes(apiRouter)
	eventHandler.RegisterRoutes(apiRouter)

	inboundHandler := api.CreateInboundWebhookHandler(guard, nil,
		log.With().Str("component", "inbound").Logger())
	inboundRouter := router.PathPrefix("/webhooks").Subrouter()
	inboundHandler.RegisterRoutes(inboundRouter)

	server := &http.Server{
		Addr:           ":" + cfg.Server.Port,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	printSuccess("HTTP server configured")

	fmt.Println()
	fmt.Printf("%s%sApplyflow webhook engine is ready on port %s%s\n", colorGreen, colorBold, cfg.Server.Port, colorReset)
	fmt.Println()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			printError(fmt.Sprintf("Server failed to start: %v", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println()
	printWarning("Shutting down...")
	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		printError(fmt.Sprintf("Server forced to shutdown: %v", err))
		os.Exit(1)
	}
	printSuccess("Shutdown complete")
}
