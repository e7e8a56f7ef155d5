package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Ahmdfdhilah/dashgate/internal/adapter/outbound/memory"
	"github.com/Ahmdfdhilah/dashgate/internal/adapter/outbound/sqlite"
	"github.com/Ahmdfdhilah/dashgate/internal/adapter/outbound/state"
	"github.com/Ahmdfdhilah/dashgate/internal/config"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/token"
)

// openTokenStorage opens the storage backend named by cfg.Storage.Driver.
// The returned close function is never nil.
func openTokenStorage(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (token.Storage, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.StorageMemory:
		return memory.NewTokenStorage(), noop, nil
	case config.StorageSQLite:
		s, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite token storage: %w", err)
		}
		return s, s.Close, nil
	case config.StorageFile, "":
		return state.NewFileTokenStorage(cfg.Path, logger), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
