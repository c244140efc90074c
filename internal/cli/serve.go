package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/storefront/internal/app"
	"github.com/vasiliy-maslov/storefront/internal/auth"
	"github.com/vasiliy-maslov/storefront/internal/config"
	"github.com/vasiliy-maslov/storefront/internal/db"
	"github.com/vasiliy-maslov/storefront/internal/kafka"
	"github.com/vasiliy-maslov/storefront/internal/outbox"
	"github.com/vasiliy-maslov/storefront/internal/payment"
	"github.com/vasiliy-maslov/storefront/internal/store/memory"
)

func newServeCommand(opts *options) *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the outbox relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply migrations on startup")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, skipMigrations bool) error {
	log.Info().Str("env", cfg.App.Env).Str("storage", cfg.App.Storage).Msg("Storefront starting...")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, closeStorage, err := openStorage(ctx, cfg, skipMigrations)
	if err != nil {
		return err
	}
	defer closeStorage()

	a := app.New(storage, app.Options{
		Logger:   log.Logger,
		Tokens:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Provider: paymentProvider(cfg.Payment),
		Verifier: webhookVerifier(cfg.Payment),
		Currency: cfg.Payment.Currency,
		Topic:    cfg.Kafka.Topic,
		Version:  Version,
	})

	var publisher outbox.Publisher = outbox.LogPublisher{}
	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		kp := kafka.NewPublisher(brokers)
		defer func() {
			if err := kp.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close kafka publisher")
			}
		}()
		publisher = kp
		log.Info().Strs("brokers", brokers).Str("topic", cfg.Kafka.Topic).Msg("Publishing outbox events to kafka")
	} else {
		log.Warn().Msg("KAFKA_BROKERS not set, outbox events are only logged")
	}

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := a.Relay(publisher, cfg.Kafka.PollInterval).Run(ctx); err != nil {
			log.Error().Err(err).Msg("Outbox relay stopped with error")
		}
	}()

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      a.Router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server...")
	case err := <-serverErr:
		stop()
		<-relayDone
		return fmt.Errorf("could not listen on %s: %w", cfg.App.Port, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	<-relayDone

	log.Info().Msg("Storefront stopped gracefully")
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config, skipMigrations bool) (app.Storage, func(), error) {
	if cfg.App.Storage == config.StorageDriverMemory {
		s := memory.New()
		if err := app.SeedDemo(ctx, s); err != nil {
			return app.Storage{}, nil, fmt.Errorf("failed to seed memory store: %w", err)
		}
		log.Warn().Msg("Using in-memory storage, data is lost on exit")
		return app.MemoryStorage(s), func() {}, nil
	}

	if !skipMigrations {
		if err := db.MigrateUp(cfg.Postgres); err != nil {
			return app.Storage{}, nil, err
		}
	}

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return app.Storage{}, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return app.PostgresStorage(pg), pg.Close, nil
}

func paymentProvider(cfg config.PaymentConfig) payment.Provider {
	if cfg.Provider == config.PaymentProviderFake {
		log.Warn().Msg("Using the fake payment provider")
		return payment.NewFakeProvider()
	}
	return payment.NewStripeProvider(cfg.APIKey)
}

func webhookVerifier(cfg config.PaymentConfig) payment.WebhookVerifier {
	if cfg.WebhookSecret == "" {
		log.Warn().Msg("STRIPE_WEBHOOK_SECRET not set, webhook signatures are NOT verified")
		return payment.UnverifiedParser{}
	}
	return payment.NewStripeVerifier(cfg.WebhookSecret)
}
