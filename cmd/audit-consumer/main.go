// Command audit-consumer appends authentication events from the broker to
// a log file.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dimonss/AccountingForRepairsBackend/internal/config"
	"github.com/dimonss/AccountingForRepairsBackend/internal/logger"
	"github.com/dimonss/AccountingForRepairsBackend/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, !cfg.IsProduction())
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.AMQPURL == "" {
		log.Fatal("RABBITMQ_URL is required")
	}
	path := os.Getenv("AUDIT_LOG_PATH")
	if path == "" {
		path = "logs/audit.log"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &queue.Consumer{URL: cfg.AMQPURL, Queue: cfg.AuditQueue, LogPath: path, Log: log}
	log.Info("consuming audit events", zap.String("queue", cfg.AuditQueue), zap.String("file", path))
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("consumer stopped", zap.Error(err))
	}
}
