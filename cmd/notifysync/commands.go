package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"io.eduverse/notifysync/internal/infrastructure/restapi"
	"io.eduverse/notifysync/internal/session"
)

// Session commands
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with an eduVerse access token",
	Long: `Sign in with an eduVerse access token. The token is read from --token,
from standard input when it is piped, or prompted for interactively. It is
kept in the system keyring, and a running agent starts syncing at once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("token")
		if raw == "" {
			var err error
			if raw, err = readToken(cmd.InOrStdin()); err != nil {
				return err
			}
		}

		store, err := session.OpenKeyring(cfg.Session.KeyringService, cfg.Session.KeyringDir)
		if err != nil {
			return fmt.Errorf("failed to open keyring: %w", err)
		}
		m := session.NewManager(store)
		defer m.Close()

		p, err := m.Login(raw)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Signed in as %s\n", p.UserID)
		if !p.ExpiresAt.IsZero() {
			fmt.Printf("  Token expires %s\n", humanize.Time(p.ExpiresAt))
		}
		body, _ := json.Marshal(map[string]string{"token": raw})
		if notifyAgent(cmd.Context(), http.MethodPost, "/session", body) {
			fmt.Println("✓ Running agent signed in")
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.OpenKeyring(cfg.Session.KeyringService, cfg.Session.KeyringDir)
		if err != nil {
			return fmt.Errorf("failed to open keyring: %w", err)
		}
		if err := store.Clear(); err != nil {
			return err
		}

		fmt.Println("✓ Signed out")
		if notifyAgent(cmd.Context(), http.MethodDelete, "/session", nil) {
			fmt.Println("✓ Running agent signed out")
		}
		return nil
	},
}

// Notification commands
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		cursor, _ := cmd.Flags().GetString("cursor")
		if limit <= 0 {
			limit = cfg.API.PageSize
		}

		api, err := apiClient()
		if err != nil {
			return err
		}
		page, err := api.List(cmd.Context(), cursor, limit)
		if err != nil {
			return err
		}

		renderList(cmd.OutOrStdout(), page.Items, time.Now())
		if page.UnreadCount != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d unread\n", *page.UnreadCount)
		}
		if page.HasMore && page.LastID != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "More: notifysync list --cursor %s\n", page.LastID)
		}
		return nil
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Print the unread notification count",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient()
		if err != nil {
			return err
		}
		n, err := api.UnreadCount(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read [ids...]",
	Short: "Mark notifications as read (all of them without ids)",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient()
		if err != nil {
			return err
		}
		if err := api.MarkRead(cmd.Context(), args); err != nil {
			return err
		}
		if len(args) == 0 {
			fmt.Println("✓ All notifications marked as read")
		} else {
			fmt.Printf("✓ %d notification(s) marked as read\n", len(args))
		}
		return nil
	},
}

var readAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient()
		if err != nil {
			return err
		}
		if err := api.MarkAllRead(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("✓ All notifications marked as read")
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient()
		if err != nil {
			return err
		}
		if err := api.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Notification %s deleted\n", args[0])
		return nil
	},
}

func init() {
	loginCmd.Flags().String("token", "", "access token (default: stdin or prompt)")

	listCmd.Flags().Int("limit", 0, "page size (default: api.page_size)")
	listCmd.Flags().String("cursor", "", "id of the last notification of the previous page")
}

// apiClient returns a REST client for the signed-in user.
func apiClient() (*restapi.Client, error) {
	sessions, err := openSession()
	if err != nil {
		return nil, err
	}
	if !sessions.Authenticated() {
		sessions.Close()
		return nil, errors.New("not signed in: run notifysync login")
	}
	// one-shot commands exit long before the token could expire
	return restapi.New(cfg.API.BaseURL, sessions, cfg.API.Timeout), nil
}

// readToken takes the token from piped input, or prompts on a terminal.
func readToken(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && isTerminal(f) {
		var raw string
		err := huh.NewInput().
			Title("eduVerse access token").
			EchoMode(huh.EchoModePassword).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("token required")
				}
				return nil
			}).
			Value(&raw).
			Run()
		return strings.TrimSpace(raw), err
	}

	b, err := io.ReadAll(io.LimitReader(in, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return "", errors.New("no token given: use --token or pipe it on stdin")
	}
	return raw, nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// notifyAgent forwards a session change to a running agent's bridge.
// It reports whether an agent answered.
func notifyAgent(ctx context.Context, method, path string, body []byte) bool {
	if !cfg.Bridge.Enabled {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, "http://"+cfg.Bridge.Addr()+path, bytes.NewReader(body))
	if err != nil {
		return false
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if secret := bridgeSecret(); secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("no running agent")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Msg("running agent rejected the session change")
		return false
	}
	return true
}

// bridgeSecret returns the secret a running agent accepts on its bridge.
func bridgeSecret() string {
	if cfg.Bridge.Secret != "" {
		return cfg.Bridge.Secret
	}
	store, err := session.OpenKeyring(cfg.Session.KeyringService, cfg.Session.KeyringDir)
	if err != nil {
		return ""
	}
	secret, err := store.BridgeSecret()
	if err != nil {
		log.Debug().Err(err).Msg("no bridge secret")
		return ""
	}
	return secret
}
