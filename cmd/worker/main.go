package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"socialcrm/internal/channel"
	"socialcrm/internal/config"
	"socialcrm/internal/lock"
	"socialcrm/internal/metrics"
	"socialcrm/internal/queue"
	"socialcrm/internal/repository"
	"socialcrm/internal/service"
)

const (
	dispatchQueueName = "campaign_dispatch"
	schedulerInterval = time.Minute
)

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

	locker, err := lock.NewRedisLocker(cfg.Redis.URL)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to Redis")
	}
	logrus.Info("Connected to Redis")

	metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Port:    cfg.Metrics.Port + 1, // keep the worker off the API's metrics port
		Path:    cfg.Metrics.Path,
	})

	campaignRepo := repository.NewCampaignRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	contactRepo := repository.NewContactRepository(db)

	var sender channel.Sender
	if cfg.Channel.Simulate {
		sender = channel.NewSimulator(cfg.Channel.SimSuccessRate)
		logrus.WithField("success_rate", cfg.Channel.SimSuccessRate).Warn("Using simulated channel sender")
	} else {
		sender = channel.NewGraphClient(cfg.Channel.GraphAPIBaseURL, cfg.Channel.PageAccessToken, cfg.Channel.SendTimeout)
	}

	templateSvc := service.NewTemplateService()
	resolver := service.NewRecipientResolver(contactRepo, messageRepo, campaignRepo, templateSvc)
	dispatcher := service.NewDispatcher(
		campaignRepo, messageRepo, contactRepo,
		resolver, sender, locker,
		cfg.Dispatch.MessageDelay, cfg.Dispatch.LockTTL,
	)
	campaignSvc := service.NewCampaignService(campaignRepo, contactRepo, messageRepo, templateSvc, publisher)
	watchdog := service.NewWatchdog(campaignRepo, messageRepo, cfg.Watchdog.StaleThreshold)

	consumer, err := queue.NewConsumer(queueConn, dispatchQueueName, dispatchHandler(dispatcher))
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create consumer")
	}

	if err := consumer.Start(); err != nil {
		logrus.WithError(err).Fatal("Failed to start consumer")
	}
	logrus.WithField("queue", dispatchQueueName).Info("Worker consuming dispatch jobs")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runWatchdog(ctx, watchdog, cfg.Watchdog.Interval)
	go runScheduler(ctx, campaignSvc)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logrus.Info("Shutting down gracefully")
	cancel()

	if err := consumer.Stop(); err != nil {
		logrus.WithError(err).Error("Error stopping consumer")
	}

	logrus.Info("Worker stopped")
}

// dispatchHandler runs one dispatch job. A nil return acks the job; an error
// rejects it without requeue, because the campaign status already records
// the outcome and a blind redelivery would just lose the start race again.
func dispatchHandler(dispatcher *service.Dispatcher) queue.DispatchHandler {
	return func(job *queue.DispatchJob) error {
		ctx := context.Background()

		log := logrus.WithFields(logrus.Fields{
			"job_id":      job.JobID,
			"campaign_id": job.CampaignID,
			"mode":        job.Mode,
		})
		log.Info("Processing dispatch job")

		var result *service.DispatchResult
		var err error

		switch job.Mode {
		case queue.DispatchModeStart:
			result, err = dispatcher.Dispatch(ctx, job.CampaignID)
		case queue.DispatchModeResendFailed:
			result, err = dispatcher.ResendFailed(ctx, job.CampaignID)
		default:
			return fmt.Errorf("unknown dispatch mode: %s", job.Mode)
		}

		if err != nil {
			if _, ok := err.(*service.InvalidStateError); ok {
				// Stale or duplicate job; the campaign moved on. Ack it.
				log.WithError(err).Info("Dispatch job skipped")
				return nil
			}
			log.WithError(err).Error("Dispatch job failed")
			return err
		}

		log.WithFields(logrus.Fields{
			"sent":   result.Sent,
			"failed": result.Failed,
			"status": result.FinalStatus,
		}).Info("Dispatch job finished")
		return nil
	}
}

func runWatchdog(ctx context.Context, watchdog *service.Watchdog, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := watchdog.Reconcile(ctx); err != nil {
				logrus.WithError(err).Error("Watchdog pass failed")
			}
		}
	}
}

func runScheduler(ctx context.Context, campaignSvc *service.CampaignService) {
	ticker := time.NewTicker(schedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			queued, err := campaignSvc.StartDueCampaigns(ctx, time.Now())
			if err != nil {
				logrus.WithError(err).Error("Scheduler pass failed")
				continue
			}
			if queued > 0 {
				logrus.WithField("queued", queued).Info("Scheduler queued due campaigns")
			}
		}
	}
}
