package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/attendly/presence-engine/internal/app"
	"github.com/attendly/presence-engine/internal/config"
	"github.com/attendly/presence-engine/pkg/engine"
	"github.com/attendly/presence-engine/pkg/evidence"
	"github.com/attendly/presence-engine/pkg/server"
	"github.com/attendly/presence-engine/pkg/watchdog"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := server.DefaultLogger("presence-api")

	// Local development keeps the secret in a .env file; absence is fine.
	_ = godotenv.Load()

	settingsFile := flag.String("settings", "settings.yaml", "settings file")
	flag.Parse()
	settings, err := config.Load(*settingsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Couldn't load settings.")
	}
	server.SetLevel(logger, settings.LogLevel)

	var store evidence.Store
	if settings.RedisURL != "" {
		store, err = evidence.NewRedisStore(settings.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Couldn't connect to redis.")
		}
		logger.Info().Msg("Using redis evidence store")
	} else {
		store = evidence.NewMemoryStore()
		logger.Warn().Msg("Using in-memory evidence store; history will not survive restarts")
	}

	eng, err := engine.New(settings.EngineConfig(), store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Couldn't build engine.")
	}

	apiApp := app.CreateWebServer(logger, eng)
	monApp := CreateMonitoringServer(logger)

	dog, err := watchdog.New(watchdog.NewStandardSettings(), store)
	if err != nil {
		logger.Fatal().Err(err).Msg("Couldn't build store watchdog.")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = logger.WithContext(ctx)

	group, groupCtx := errgroup.WithContext(ctx)

	logger.Info().Str("port", strconv.Itoa(settings.MonPort)).Msg("Starting monitoring server")
	server.RunFiber(groupCtx, monApp, ":"+strconv.Itoa(settings.MonPort), group)
	logger.Info().Str("port", strconv.Itoa(settings.Port)).Msg("Starting API server")
	server.RunFiber(groupCtx, apiApp, ":"+strconv.Itoa(settings.Port), group)
	group.Go(func() error {
		return dog.Start(groupCtx)
	})

	err = group.Wait()

	eng.Close()
	if closeErr := store.Close(); closeErr != nil {
		logger.Warn().Err(closeErr).Msg("Failed to close evidence store")
	}

	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to run servers.")
	}
}

// CreateMonitoringServer serves prometheus metrics on its own port.
func CreateMonitoringServer(logger *zerolog.Logger) *fiber.App {
	monApp := fiber.New(fiber.Config{DisableStartupMessage: true})
	monApp.Get("/", func(c *fiber.Ctx) error { return nil })
	monApp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return monApp
}
