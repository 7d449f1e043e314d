package app

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"benefit-worker/internal/common/logging"
	"benefit-worker/internal/config"
	"benefit-worker/internal/server"
)

const shutdownTimeout = 30 * time.Second

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	var historySubject string
	flag.StringVar(&historySubject, "history", "", "Print the decision feed of a subject and exit")
	flag.Parse()

	cfg := config.Load()

	if err := logging.InitGlobalLogger(logging.Options{
		Level:         cfg.LogLevel,
		Format:        cfg.LogFormat,
		SecureLogFile: cfg.SecureLogFile,
	}); err != nil {
		return err
	}
	defer logging.MustSync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if historySubject != "" {
		if err := cfg.ValidateUpstream(); err != nil {
			logging.Error("Configuration validation failed", err)
			return err
		}
		return RunHistory(ctx, cfg, historySubject, os.Stdout)
	}

	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	logging.Info("Starting benefit worker",
		logging.String("topic", cfg.Kafka.Topic),
		logging.String("need_type", cfg.NeedType),
		logging.Int("workers", cfg.WorkerCount),
	)

	app, err := New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	srv := server.New(server.NewRouter(app.Ready, app.Registry, logging.GetGlobalLogger()), cfg.HTTPPort)
	serverErrs := srv.Start()

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- app.Pipeline.Run(ctx, app.Broker, cfg.Kafka.Topic)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info("Shutdown signal received")
	case err, ok := <-serverErrs:
		if ok && err != nil {
			logging.Error("Server failed", err)
			runErr = err
		}
	case err := <-consumerDone:
		consumerDone = nil
		if err != nil {
			logging.Error("Consumer stopped", err)
			runErr = err
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// In-flight records finish before the producer is closed
	if consumerDone != nil {
		select {
		case err := <-consumerDone:
			if err != nil && runErr == nil {
				logging.Warn("Consumer exited with error", logging.Err(err))
			}
		case <-shutdownCtx.Done():
			logging.Warn("Timed out waiting for in-flight records")
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
		if runErr == nil {
			runErr = err
		}
	}

	logging.Info("Benefit worker stopped")
	return runErr
}
