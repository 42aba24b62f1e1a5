package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/imthegoodboy/Paylink/internal/application"
	"github.com/imthegoodboy/Paylink/internal/config"
	"github.com/imthegoodboy/Paylink/internal/infrastructure/mysql"
	"github.com/imthegoodboy/Paylink/internal/infrastructure/sqlite"
)

// Store is the full persistence surface the binaries need: the payment
// ledger, the slug resolver, and the watcher cursor.
type Store interface {
	application.LedgerStore
	application.AccountResolver
	application.CursorStore
	Ping(ctx context.Context) error
}

// Open selects the backend from config. MySQL gets the Redis list cache
// layered on when an address is configured; cache init failure degrades
// to direct reads rather than failing startup.
func Open(cfg config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMySQL:
		base, err := mysql.NewRepository(cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("mysql store: %w", err)
		}
		cached, err := mysql.NewCachedRepository(base, mysql.CacheConfig{
			Addr: cfg.RedisAddr,
			TTL:  cfg.CacheTTL,
		})
		if err != nil {
			slog.Warn("redis cache disabled", "err", err)
			return base, nil
		}
		return cached, nil
	case config.StoreDriverSQLite:
		repo, err := sqlite.NewRepository(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
