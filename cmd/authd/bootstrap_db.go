package main

import (
	"context"
	"fmt"

	config "github.com/NordCoder/authd/internal/config/authd"
	"github.com/NordCoder/authd/internal/domain/account"
	"github.com/NordCoder/authd/internal/repository/memory"
	pg "github.com/NordCoder/authd/internal/repository/postgres"
	"go.uber.org/zap"
)

// storeHandle is the selected account store plus what the rest of main
// needs from its backend.
type storeHandle struct {
	accounts account.Store
	outbox   *pg.OutboxRepo
	ping     func(context.Context) error
	close    func()
}

func initStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storeHandle, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory account store; accounts are lost on restart")
		repo := memory.NewAccountRepo()
		return &storeHandle{accounts: repo, ping: repo.Ping, close: func() {}}, nil

	case config.DriverPostgres:
		if cfg.DB.MigrateOnStart {
			if err := pg.Migrate(ctx, cfg.DB.DSN); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied")
		}

		db, err := pg.NewDB(ctx, cfg.DB)
		if err != nil {
			return nil, err
		}

		h := &storeHandle{ping: db.Ping, close: db.Close}
		repo := pg.NewAccountRepo(db)
		if cfg.Events.Enable {
			h.outbox = pg.NewOutboxRepo(db)
			h.accounts = repo.WithOutbox(pg.NewTransactor(db, logger), h.outbox)
		} else {
			h.accounts = repo
		}
		return h, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
