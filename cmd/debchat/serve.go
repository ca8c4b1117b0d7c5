package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/debchat/internal/api"
	"github.com/MikeSquared-Agency/debchat/internal/auth"
	"github.com/MikeSquared-Agency/debchat/internal/config"
	"github.com/MikeSquared-Agency/debchat/internal/events"
	"github.com/MikeSquared-Agency/debchat/internal/gateway"
	"github.com/MikeSquared-Agency/debchat/internal/session"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("debchat starting", "port", cfg.Port, "store", cfg.StoreBackend)

	// Store
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close(context.Background())
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating store: %w", err)
	}
	slog.Info("store ready", "backend", cfg.StoreBackend)

	// NATS (optional, debchat runs without a change feed)
	var publisher events.Publisher = events.Nop{}
	var feed *events.Client
	if cfg.NatsURL != "" {
		feed, err = events.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer feed.Close()
		publisher = feed
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured, chat events are not published")
	}

	// Gateway
	router, builtin := buildGateway(cfg)
	catalog := gateway.NewCatalog(builtin, db, slog.Default())

	// Sessions
	sessions := session.NewManager(router, db, catalog, publisher, cfg.SessionIdleTTL, slog.Default())
	go sessions.Run(ctx)
	if feed != nil {
		// Deletions made in other sessions or instances drop out of open lists.
		if err := feed.OnChatEvent(events.SubjectChatDeleted, sessions.HandleChatDeleted); err != nil {
			return fmt.Errorf("subscribing to chat deletions: %w", err)
		}
	}

	secret, err := sessionSecret(cfg)
	if err != nil {
		return err
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, api.Deps{
		Store:         db,
		Sessions:      sessions,
		Gateway:       router,
		Catalog:       catalog,
		Auth:          auth.NewAuthenticator(secret, cfg.SecureCookies),
		Events:        publisher,
		LoginAPIToken: cfg.LoginAPIToken,
		SendPerMinute: cfg.SendRatePerMinute,
		SendTimeout:   cfg.GatewayTimeout,
		Logger:        slog.Default(),
	})
	go srv.Run(ctx)
	if cfg.LoginAPIToken == "" {
		slog.Warn("LOGIN_API_TOKEN not set, identity provider sign-in is disabled")
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Announce registration
	if err := publisher.Publish(events.SubjectRegistered, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
		"store":     cfg.StoreBackend,
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("debchat ready", "port", cfg.Port)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	slog.Info("debchat stopped")
	return nil
}

// buildGateway registers a provider per configured model kind and returns
// the built-in catalog entries that route to them.
func buildGateway(cfg config.Config) (*gateway.Router, []gateway.Model) {
	router := gateway.NewRouter()
	router.Register(gateway.KindEndpoint, gateway.NewEndpointProvider(cfg.GatewayTimeout))
	builtin := gateway.Builtin()

	if cfg.OpenAIAPIKey != "" {
		router.Register(gateway.KindOpenAI, gateway.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.GatewayTimeout))
		builtin = append(builtin, gateway.Model{
			Name:          cfg.OpenAIModel,
			Description:   "OpenAI-compatible chat model",
			Kind:          gateway.KindOpenAI,
			ProviderModel: cfg.OpenAIModel,
		})
		slog.Info("openai provider ready", "model", cfg.OpenAIModel)
	}
	if cfg.AnthropicAPIKey != "" {
		router.Register(gateway.KindAnthropic, gateway.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.GatewayTimeout))
		builtin = append(builtin, gateway.Model{
			Name:          "Claude",
			Description:   "Anthropic Messages API",
			Kind:          gateway.KindAnthropic,
			ProviderModel: cfg.AnthropicModel,
		})
		slog.Info("anthropic provider ready", "model", cfg.AnthropicModel)
	}
	return router, builtin
}
