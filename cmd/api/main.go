package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/consentgrid/backend/internal/config"
	"github.com/consentgrid/backend/internal/handlers"
	"github.com/consentgrid/backend/internal/ledger"
	"github.com/consentgrid/backend/internal/logger"
	"github.com/consentgrid/backend/internal/middleware"
	"github.com/consentgrid/backend/internal/notify"
	"github.com/consentgrid/backend/internal/services"
	"github.com/consentgrid/backend/internal/storage"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "consentgrid",
		Short: "ConsentGrid backend - handle registry and consent orchestration",
		Long:  `Backend for the ConsentGrid mobile identity application: wallet-bound handles, ownership verification, consent requests and transaction reconciliation.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.toml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfig(log zerolog.Logger) *config.Config {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.toml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to load config, using defaults")
		cfg = config.DefaultConfig()
	}
	return cfg
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New("info", "console")
			cfg := loadConfig(log)

			path, _ := cmd.Flags().GetString("migrations")
			if err := storage.Migrate(cfg.Database.DatabaseURL(), path); err != nil {
				return err
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}
	cmd.Flags().String("migrations", "./migrations", "migrations directory")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	bootLog := logger.New("info", "console")
	cfg := loadConfig(bootLog)
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret (or JWT_SECRET) must be set")
	}

	db, err := storage.New(cfg.Database.DatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// Stores
	handleStore := storage.NewHandleStore(db)
	consentStore := storage.NewConsentStore(db)
	transactionStore := storage.NewTransactionStore(db)
	deviceStore := storage.NewDeviceStore(db)

	// External collaborators
	oracle := ledger.NewClient(cfg.Ledger.RPCEndpoints, time.Duration(cfg.Ledger.TimeoutSeconds)*time.Second)
	defer oracle.Close()

	var gateway notify.PushGateway = notify.NopGateway{}
	if cfg.Notify.GatewayURL != "" {
		gateway = notify.NewHTTPGateway(cfg.Notify.GatewayURL, cfg.Notify.APIKey)
	}
	dispatcher := notify.NewDispatcher(gateway, deviceStore, log, cfg.Notify.QueueSize, cfg.Notify.Workers)
	defer dispatcher.Close()

	// Services
	handleService := services.NewHandleService(handleStore, log)
	ownershipService := services.NewOwnershipService(handleStore)
	consentService := services.NewConsentService(consentStore, handleStore, dispatcher, log)
	transactionService := services.NewTransactionService(transactionStore, oracle, log)
	deviceService := services.NewDeviceService(deviceStore)

	// HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	tokenTTL := time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
	handleHandler := handlers.NewHandleHandler(handleService, ownershipService, cfg.Auth.JWTSecret, tokenTTL)
	consentHandler := handlers.NewConsentHandler(consentService)
	transactionHandler := handlers.NewTransactionHandler(transactionService)
	deviceHandler := handlers.NewDeviceHandler(deviceService)

	api := router.Group("/api/v1")
	{
		handlesGroup := api.Group("/handles")
		{
			handlesGroup.POST("/claim", handleHandler.Claim)
			handlesGroup.POST("/challenge", handleHandler.Challenge)
			handlesGroup.POST("/verify", handleHandler.Verify)
			handlesGroup.GET("/:handle", handleHandler.Resolve)
		}

		consentGroup := api.Group("/consent-requests")
		{
			consentGroup.POST("", consentHandler.Create)
			consentGroup.GET("", consentHandler.ListPending)
			consentGroup.POST("/:id/accept", consentHandler.Accept)
			consentGroup.POST("/:id/reject", consentHandler.Reject)
		}

		api.POST("/transactions/monitor", transactionHandler.Monitor)

		api.POST("/devices/register",
			middleware.JWTMiddleware(cfg.Auth.JWTSecret), deviceHandler.Register)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("API server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Info().Msg("server exited")
	return nil
}
