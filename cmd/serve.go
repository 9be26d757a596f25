package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unilearn/faceid/internal/config"
	"github.com/unilearn/faceid/internal/store"
	"github.com/unilearn/faceid/internal/store/postgres"
	"github.com/unilearn/faceid/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Face ID server",
	Long: `Start the Face ID server.
The server exposes the login, enrollment and verification endpoints and
enforces the face verification gate on authenticated sessions.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("dev", false, "Use human-readable development logging")
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openStore connects to PostgreSQL when DATABASE_URL is set and falls back to
// the in-memory store otherwise. The returned closer is nil in memory mode.
func openStore(cfg *config.Config, logger *zap.Logger) (*store.Store, func() error, error) {
	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store; data will not survive a restart")
		return store.NewMemoryStore(), nil, nil
	}

	st, pool, err := postgres.Open(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	logger.Info("connected to PostgreSQL")
	return st, pool.Close, nil
}

// buildFaceIndex loads every stored enrollment into the HNSW index used by
// face login.
func buildFaceIndex(ctx context.Context, st *store.Store, logger *zap.Logger) (*store.FaceIndex, error) {
	idx := store.NewFaceIndex()
	samples, err := st.Enrollments.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading enrollments: %w", err)
	}
	if err := idx.Rebuild(samples); err != nil {
		return nil, fmt.Errorf("building face index: %w", err)
	}
	logger.Info("face index ready", zap.Int("samples", idx.Count()))
	return idx, nil
}

// cleanupSessions purges expired persisted sessions hourly.
func cleanupSessions(st store.SessionStore, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		n, err := st.DeleteExpired(context.Background())
		if err != nil {
			logger.Warn("session cleanup failed", zap.Error(err))
			continue
		}
		if n > 0 {
			logger.Info("expired sessions removed", zap.Int64("count", n))
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(mustGetBool(cmd, "dev"))
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg := config.Load()

	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore() //nolint:errcheck
	}

	idx, err := buildFaceIndex(context.Background(), st, logger)
	if err != nil {
		return err
	}

	server := web.NewServer(cfg, st, idx, logger)

	if st.Sessions != nil {
		server.SessionManager().AttachStore(st.Sessions, func(err error) {
			logger.Warn("session persistence failed", zap.Error(err))
		})
		go cleanupSessions(st.Sessions, logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
