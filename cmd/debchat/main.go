// Package main is the entry point for the debchat server and its admin CLI.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/debchat/internal/config"
	"github.com/MikeSquared-Agency/debchat/internal/store"
	"github.com/MikeSquared-Agency/debchat/internal/store/memory"
	"github.com/MikeSquared-Agency/debchat/internal/store/mongo"
	"github.com/MikeSquared-Agency/debchat/internal/store/postgres"
)

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "debchat",
		Short: "Chat backend relaying prompts to remote models",
		Long: `debchat serves the chat client API: it keeps per-session conversation
state, relays prompts to the configured model endpoints and stores chat
history for signed-in users.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnvFile(envFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	rootCmd.AddCommand(
		serveCmd(),
		migrateCmd(),
		adminCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration and installs the logger.
func loadConfig() (config.Config, error) {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "postgres":
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return s, nil
	case "mongo":
		s, err := mongo.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to mongo: %w", err)
		}
		return s, nil
	default:
		slog.Warn("using in-memory store, history is lost on restart")
		return memory.New(), nil
	}
}

// sessionSecret returns the configured cookie secret, or a random one that
// invalidates every session on restart.
func sessionSecret(cfg config.Config) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	slog.Warn("SESSION_SECRET not set, sessions will not survive a restart")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating session secret: %w", err)
	}
	return secret, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
