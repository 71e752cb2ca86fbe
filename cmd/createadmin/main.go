// Command createadmin makes sure an admin account exists.  Running it
// again resets the password and re-activates the account.
package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/dimonss/AccountingForRepairsBackend/internal/config"
	"github.com/dimonss/AccountingForRepairsBackend/internal/database"
	"github.com/dimonss/AccountingForRepairsBackend/internal/logger"
	"github.com/dimonss/AccountingForRepairsBackend/internal/repository"
	"github.com/dimonss/AccountingForRepairsBackend/internal/service"
	"github.com/dimonss/AccountingForRepairsBackend/internal/utils"
)

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, true)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	db, dialect, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("connect database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.EnsureSchema(ctx, db, dialect); err != nil {
		log.Fatal("ensure schema", zap.Error(err))
	}

	users := repository.NewUserRepo(db)
	svc := service.NewUserService(users, repository.NewTokenRepo(db),
		utils.NewPasswordHasher(cfg.BcryptCost, 1), service.SessionOptions{Log: log})

	u, created, err := svc.BootstrapAdmin(ctx, service.NewUser{
		Username: env("ADMIN_USERNAME", "admin"),
		Email:    env("ADMIN_EMAIL", "admin@example.com"),
		Password: env("ADMIN_PASSWORD", "admin123"),
		FullName: env("ADMIN_FULL_NAME", "System Administrator"),
	})
	if err != nil {
		log.Fatal("bootstrap admin", zap.Error(err))
	}
	if created {
		log.Info("admin user created", zap.Uint64("id", u.ID), zap.String("username", u.Username))
	} else {
		log.Info("admin user updated", zap.Uint64("id", u.ID), zap.String("username", u.Username))
	}
	if os.Getenv("ADMIN_PASSWORD") == "" {
		log.Warn("default admin password in use, change it after first login")
	}
}
