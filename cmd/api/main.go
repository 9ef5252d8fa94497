package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"socialcrm/internal/config"
	"socialcrm/internal/handler"
	"socialcrm/internal/metrics"
	"socialcrm/internal/middleware"
	"socialcrm/internal/queue"
	"socialcrm/internal/repository"
	"socialcrm/internal/service"
)

const dispatchQueueName = "campaign_dispatch"

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}

	if cfg.Env == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logrus.WithError(err).Fatal("Failed to ping database")
	}
	logrus.Info("Connected to database")

	queueConn, err := queue.NewConnection(cfg.GetRabbitMQURL())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to RabbitMQ")
	}
	defer queueConn.Close()
	logrus.Info("Connected to RabbitMQ")

	publisher, err := queue.NewPublisher(queueConn, dispatchQueueName)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create publisher")
	}

	metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Port:    cfg.Metrics.Port,
		Path:    cfg.Metrics.Path,
	})

	// Repositories and services
	campaignRepo := repository.NewCampaignRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	contactRepo := repository.NewContactRepository(db)

	templateSvc := service.NewTemplateService()
	campaignSvc := service.NewCampaignService(campaignRepo, contactRepo, messageRepo, templateSvc, publisher)
	engagementSvc := service.NewEngagementService(campaignRepo, messageRepo)
	watchdog := service.NewWatchdog(campaignRepo, messageRepo, cfg.Watchdog.StaleThreshold)

	// Handlers
	campaignHandler := handler.NewCampaignHandler(campaignSvc, watchdog)
	webhookHandler := handler.NewWebhookHandler(engagementSvc, cfg.Channel.WebhookVerifyToken)
	healthHandler := handler.NewHealthHandler(db, queueConn)

	router := mux.NewRouter()
	router.Use(middleware.Recovery)
	router.Use(middleware.RequestID)

	router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")

	router.HandleFunc("/campaigns", campaignHandler.Create).Methods("POST")
	router.HandleFunc("/campaigns", campaignHandler.List).Methods("GET")
	router.HandleFunc("/campaigns/{id}", campaignHandler.GetByID).Methods("GET")
	router.HandleFunc("/campaigns/{id}", campaignHandler.Delete).Methods("DELETE")
	router.HandleFunc("/campaigns/{id}/start", campaignHandler.Start).Methods("POST")
	router.HandleFunc("/campaigns/{id}/send-now", campaignHandler.SendNow).Methods("POST")
	router.HandleFunc("/campaigns/{id}/schedule", campaignHandler.Schedule).Methods("POST")
	router.HandleFunc("/campaigns/{id}/complete", campaignHandler.Complete).Methods("POST")
	router.HandleFunc("/campaigns/{id}/pause", campaignHandler.Pause).Methods("POST")
	router.HandleFunc("/campaigns/{id}/cancel", campaignHandler.Cancel).Methods("POST")
	router.HandleFunc("/campaigns/{id}/resend-failed", campaignHandler.ResendFailed).Methods("POST")
	router.HandleFunc("/campaigns/{id}/resend-all", campaignHandler.ResendAll).Methods("POST")
	router.HandleFunc("/campaigns/{id}/preview", campaignHandler.Preview).Methods("POST")

	router.HandleFunc("/webhooks/messenger", webhookHandler.Verify).Methods("GET")
	router.HandleFunc("/webhooks/messenger", webhookHandler.Receive).Methods("POST")

	router.HandleFunc("/admin/reconcile", campaignHandler.Reconcile).Methods("POST")

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("API server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logrus.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server shutdown failed")
	}

	logrus.Info("API server stopped")
}
