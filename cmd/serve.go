package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"llmbridge/internal/chat"
	"llmbridge/internal/config"
	"llmbridge/internal/models"
	"llmbridge/internal/registry"
	"llmbridge/internal/server"
	"llmbridge/internal/store"
)

const serveUsage = `Usage:
  llmbridge serve --config <path> [--port <port>]

Flags:
  --config string   Path to YAML configuration file (required)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("serve command requires --config <path>")
	}

	// A missing .env is not an error; credentials may come from the
	// real environment or the YAML file.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	conversations, usage, cleanup, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	reg := registry.New(cfg)
	defer reg.CloseAll()

	defaultProvider, err := models.ParseProvider(cfg.Chat.DefaultProvider)
	if err != nil {
		return err
	}

	svc := chat.NewService(reg, conversations, usage, chat.Options{
		DefaultProvider:         defaultProvider,
		SystemPrompt:            cfg.Chat.SystemPrompt,
		SavePartialOnDisconnect: cfg.Chat.SavePartialOnDisconnect,
	})

	srv, err := server.New(cfg, svc, reg, conversations)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

// openStores selects PostgreSQL when a DSN is configured and falls back
// to the in-memory store otherwise.
func openStores(ctx context.Context, cfg config.Config) (store.ConversationStore, store.UsageStore, func(), error) {
	if cfg.Database.URL == "" {
		slog.Warn("no database configured, conversations will not survive restarts")
		mem := store.NewMemStore()
		return mem, mem, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	pg := store.NewPgStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("ensure database schema: %w", err)
	}

	slog.Info("connected to database")
	return pg, pg, pool.Close, nil
}
