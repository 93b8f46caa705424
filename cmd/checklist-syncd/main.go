// Package main provides the checklist-syncd daemon: it wires the
// local snapshot store, the PostgreSQL backend, the session manager
// and the sync engine together and keeps them running for one
// configured user.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/checklist-sync/engine"
	"github.com/c0deZ3R0/checklist-sync/localstore"
	"github.com/c0deZ3R0/checklist-sync/logging"
	"github.com/c0deZ3R0/checklist-sync/remote/postgres"
	"github.com/c0deZ3R0/checklist-sync/session"
	"github.com/c0deZ3R0/checklist-sync/status"
	"github.com/c0deZ3R0/checklist-sync/telemetry"
)

var (
	// Flags, resolved against the config file and environment by
	// loadDaemonConfig.
	configFile string
	userID     string
	userEmail  string
	remoteDSN  string
	localDSN   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "checklist-syncd",
	Short: "Headless sync daemon for the checklist app",
	Long: `checklist-syncd keeps a local SQLite snapshot of one user's
checklist data synchronized with the PostgreSQL backend. It performs
the initial pull-merge on startup, pushes local changes periodically
and applies cross-device updates as they arrive.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML or JSON)")
	rootCmd.Flags().StringVar(&userID, "user", "", "user ID to sync for (or CHECKLIST_USER_ID)")
	rootCmd.Flags().StringVar(&userEmail, "email", "", "user email (or CHECKLIST_USER_EMAIL)")
	rootCmd.Flags().StringVar(&remoteDSN, "remote-dsn", "", "PostgreSQL connection string (or CHECKLIST_REMOTE_DSN)")
	rootCmd.Flags().StringVar(&localDSN, "local-dsn", "", "SQLite database path (or CHECKLIST_LOCAL_DSN)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("checklist-syncd v0.1.0")
	},
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadDaemonConfig()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		AddSource:   cfg.Logging.AddSource,
		Environment: cfg.Logging.Environment,
	})
	logger := logging.WithComponent(logging.Component("daemon"))

	if userID == "" {
		return fmt.Errorf("a user is required: pass --user or set CHECKLIST_USER_ID")
	}
	if cfg.Remote.DSN == "" {
		return fmt.Errorf("a backend is required: pass --remote-dsn, set CHECKLIST_REMOTE_DSN or remote.dsn in the config file")
	}

	local, err := localstore.New(localstore.DefaultConfig(cfg.Local.DSN))
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer local.Close()

	remoteStore, err := postgres.New(postgres.DefaultConfig(cfg.Remote.DSN))
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	defer remoteStore.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auth := &staticAuth{user: &session.User{ID: userID, Email: userEmail}}

	var manager *session.Manager
	tracker := telemetry.NewTracker(remoteStore, telemetry.Options{
		BufferSize: cfg.Telemetry.BufferSize,
		UserID: func() string {
			if sess := manager.Current(); sess != nil {
				return sess.UserID
			}
			return ""
		},
	})
	defer tracker.Close()

	eng := engine.New(local, remoteStore, func() *session.Session { return manager.Current() }, engine.Options{
		GuardWindow:  cfg.GuardWindow(),
		SyncInterval: cfg.SyncInterval(),
	})

	publisher := status.NewPublisher(func() status.Surface {
		return logSurface{logger: logger}
	}, cfg.StatusRetry())
	publisher.Bind(eng)
	defer publisher.Stop()

	manager = session.NewManager(auth, remoteStore, remoteStore, local, eng, func() {
		logger.Debug("snapshot refresh requested")
	}, session.Options{ReloadGrace: cfg.ReloadGrace()})

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if *cfg.Telemetry.Enabled {
		tracker.Track("daemon_started", map[string]any{"version": "0.1.0"})
	}

	logger.Info("daemon running",
		slog.String("user_id", userID),
		slog.String("local_dsn", cfg.Local.DSN))

	<-ctx.Done()
	logger.Info("shutting down")
	eng.Stop()
	return nil
}

// logSurface renders the sync indicator into the daemon log.
type logSurface struct {
	logger *logging.Logger
}

func (s logSurface) SetStatus(label string, lastSyncAt time.Time) {
	attrs := []any{slog.String("status", label)}
	if !lastSyncAt.IsZero() {
		attrs = append(attrs, slog.Time("last_sync_at", lastSyncAt))
	}
	s.logger.Info("sync status", attrs...)
}
