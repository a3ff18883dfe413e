package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"io.eduverse/notifysync/internal/application"
	"io.eduverse/notifysync/internal/domain"
	"io.eduverse/notifysync/internal/infrastructure/push"
	"io.eduverse/notifysync/internal/infrastructure/restapi"
	"io.eduverse/notifysync/internal/kafka"
	"io.eduverse/notifysync/internal/session"
	transporthttp "io.eduverse/notifysync/internal/transport/http"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync agent",
	Long: `Run the sync agent in the foreground. It syncs while a user is signed in
and idles otherwise; "notifysync login" and "notifysync logout" take effect
immediately while it runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Info().
			Str("env", cfg.Server.Env).
			Str("api", cfg.API.BaseURL).
			Msg("starting notifysync")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// ── Session ──────────────────────────────────────────────────────────
		sessions, err := openSession()
		if err != nil {
			return err
		}
		defer sessions.Close()
		if p := sessions.Principal(); p != nil {
			log.Info().Str("user", p.UserID).Msg("session restored")
		} else {
			log.Warn().Msg("not signed in, waiting for notifysync login")
		}

		// ── Push sinks ───────────────────────────────────────────────────────
		hub := transporthttp.NewHub()
		defer hub.Close()

		sinks := push.Multi{}
		for _, name := range cfg.Push.Sinks {
			switch name {
			case "log":
				sinks = append(sinks, push.Sink{Name: name, Pusher: push.Log{}})
			case "bridge":
				sinks = append(sinks, push.Sink{Name: name, Pusher: hub})
			case "kafka":
				producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
				if err != nil {
					return fmt.Errorf("failed to create kafka producer: %w", err)
				}
				defer producer.Close()
				sinks = append(sinks, push.Sink{Name: name, Pusher: producer})
				log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka push sink enabled")
			default:
				log.Warn().Str("sink", name).Msg("unknown push sink, ignoring")
			}
		}

		log.Info().Strs("sinks", sinks.Names()).Msg("push sinks ready")

		// ── Sync client ──────────────────────────────────────────────────────
		api := restapi.New(cfg.API.BaseURL, sessions, cfg.API.Timeout)
		client := application.NewSyncClient(api, sinks, application.Options{
			PageSize:         cfg.API.PageSize,
			PollInterval:     cfg.Sync.PollInterval,
			PushDismissAfter: cfg.Sync.PushDismissAfter,
			Permission:       domain.ParsePermission(cfg.Push.Permission),
		})
		client.Subscribe(hub.Observe)
		agent := application.NewAgent(client, sessions)

		// ── Local bridge ─────────────────────────────────────────────────────
		var router *echo.Echo
		if cfg.Bridge.Enabled {
			router = transporthttp.NewRouter(transporthttp.NewHandler(client, hub, sessions, transporthttp.Options{
				AllowedOrigins: cfg.Bridge.AllowedOrigins,
				Secret:         bridgeSecretForRun(),
			}))
			go func() {
				log.Info().
					Str("addr", cfg.Bridge.Addr()).
					Strs("origins", cfg.Bridge.AllowedOrigins).
					Msg("bridge listening")
				if err := router.Start(cfg.Bridge.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("bridge stopped")
					stop()
				}
			}()
		}

		// ── Agent ────────────────────────────────────────────────────────────
		if err := agent.Run(ctx); err != nil {
			log.Error().Err(err).Msg("agent stopped")
		}

		// ── Graceful Shutdown ────────────────────────────────────────────────
		log.Info().Msg("shutting down gracefully...")
		hub.Close()
		if router != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := router.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("bridge shutdown error")
			}
		}

		log.Info().Msg("notifysync stopped")
		return nil
	},
}

// openSession restores the signed-in user. A token in the config wins over
// the keyring and is kept in memory only.
func openSession() (*session.Manager, error) {
	if cfg.Session.Token != "" {
		m := session.NewManager(&session.MemoryStore{})
		if _, err := m.Login(cfg.Session.Token); err != nil {
			return nil, fmt.Errorf("configured token: %w", err)
		}
		return m, nil
	}

	store, err := session.OpenKeyring(cfg.Session.KeyringService, cfg.Session.KeyringDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	m := session.NewManager(store)
	if _, err := m.Restore(); err != nil && !errors.Is(err, session.ErrNoToken) {
		m.Close()
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	return m, nil
}

// bridgeSecretForRun returns the configured bridge secret, or generates one
// for this run and stores it where the CLI can find it.
func bridgeSecretForRun() string {
	if cfg.Bridge.Secret != "" {
		return cfg.Bridge.Secret
	}
	secret := uuid.NewString()
	store, err := session.OpenKeyring(cfg.Session.KeyringService, cfg.Session.KeyringDir)
	if err == nil {
		err = store.SaveBridgeSecret(secret)
	}
	if err != nil {
		log.Warn().Err(err).Msg("bridge secret not stored, CLI session changes need a restart of the agent")
	}
	return secret
}
