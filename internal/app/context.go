package app

import (
	"context"
	"fmt"

	"fieldwork/internal/config"
	"fieldwork/internal/db"
	"fieldwork/internal/logger"
	"fieldwork/internal/migrate"
	"fieldwork/internal/repo"
)

// OpenWorkspace loads fieldwork.yml (defaults when absent), opens and
// migrates the workspace database and returns a ready Service.
func OpenWorkspace(ctx context.Context, workspace string, log logger.Logger) (*Service, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return OpenWithConfig(ctx, workspace, cfg, log)
}

// OpenWithConfig is OpenWorkspace with an explicit config.
func OpenWithConfig(ctx context.Context, workspace string, cfg *config.Config, log logger.Logger) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r, err := repo.New(conn, cfg.Cache.Templates)
	if err != nil {
		conn.Close()
		return nil, err
	}
	svc, err := New(ctx, r, cfg, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return svc, nil
}
