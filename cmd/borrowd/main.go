package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/borrowd/internal/app"
	"github.com/dokzlo13/borrowd/internal/config"
)

func main() {
	var (
		configPath   string
		checkSession bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	flag.BoolVar(&checkSession, "check-session", false, "Resolve the configured portal session, print its user and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg.Log)

	if checkSession {
		os.Exit(runCheckSession(cfg))
	}
	os.Exit(runDaemon(cfg, configPath))
}

// runCheckSession exits 0 when the session belongs to a known user.
func runCheckSession(cfg *config.Config) int {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Portal.Timeout.Duration()+time.Second)
	defer cancel()

	user, err := app.CheckSession(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Str("portal", cfg.Portal.URL).Msg("Session check failed")
		return 1
	}
	fmt.Printf("%d\t%s\t%s\t%s\n", user.ID, user.Name, user.Email, user.Role)
	return 0
}

func runDaemon(cfg *config.Config, configPath string) int {
	log.Info().Str("config", configPath).Str("portal", cfg.Portal.URL).Msg("Starting borrowd")

	application, err := app.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create application")
		return 1
	}

	if err := application.Start(app.SignalContext()); err != nil {
		application.Stop()
		log.Error().Err(err).Msg("Failed to start application")
		return 1
	}

	application.Wait()

	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		return 1
	}
	return 0
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.UseJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !cfg.Colors,
		})
	}

	level, err := zerolog.ParseLevel(cfg.GetLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
