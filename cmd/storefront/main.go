package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	envLogFormat = "STOREFRONT_LOG_FORMAT"
	envLogLevel  = "STOREFRONT_LOG_LEVEL"
)

// setupLogger настраивает формат и уровень логирования. Неизвестный уровень возвращается предупреждением.
func setupLogger(lookup app.EnvLookup) string {
	format, _ := lookup(envLogFormat)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	log.SetLevel(log.InfoLevel)
	raw, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(raw) == "" {
		return ""
	}
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return envLogLevel + ": " + err.Error()
	}
	log.SetLevel(level)
	return ""
}

func main() {
	// .env опционален, переменные окружения имеют приоритет
	_ = godotenv.Load()

	if warning := setupLogger(os.LookupEnv); warning != "" {
		log.Warn(warning)
	}

	cfg, warnings := app.ConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":      version.GetVersion(),
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
	}).Info("запускаем storefront")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("storefront остановлен")
}
