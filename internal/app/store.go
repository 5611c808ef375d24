package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hitoshi/chirp/internal/config"
	"github.com/hitoshi/chirp/internal/database"
	"github.com/hitoshi/chirp/internal/handler"
	"github.com/hitoshi/chirp/internal/tokenstore"
)

// tokenBackend はTOKEN_STOREで選んだ認証情報ストアと、その接続の管理をまとめる。
type tokenBackend struct {
	Store  tokenstore.Store
	Health handler.HealthChecker
	closer func() error
}

// Close はストアの接続を閉じる。
func (b *tokenBackend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// openTokenStore はTOKEN_STOREの設定に従って認証情報ストアを開く。
func openTokenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*tokenBackend, error) {
	switch cfg.TokenStore {
	case "redis":
		client, err := tokenstore.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		logger.Info("Redisトークンストアに接続しました", slog.String("addr", cfg.RedisAddr))
		return &tokenBackend{
			Store:  tokenstore.NewRedisStore(client, cfg.DeviceID, logger.With(slog.String("component", "tokenstore"))),
			Health: handler.HealthCheckFunc(client.Ping),
			closer: client.Close,
		}, nil

	case "postgres":
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.Ping(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("PostgreSQLトークンストアに接続しました",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		return &tokenBackend{
			Store:  tokenstore.NewPostgresStore(db, cfg.DeviceID),
			Health: dbHealth(db),
			closer: db.Close,
		}, nil

	case "file", "":
		fs := tokenstore.NewFileStore(cfg.StateDir, logger.With(slog.String("component", "tokenstore")))
		logger.Info("ファイルトークンストアを使用します", slog.String("path", fs.Path()))
		return &tokenBackend{
			Store:  fs,
			Health: handler.HealthCheckFunc(func(context.Context) error { return nil }),
		}, nil

	default:
		return nil, fmt.Errorf("unknown token store: %s", cfg.TokenStore)
	}
}

func dbHealth(db *sql.DB) handler.HealthChecker {
	return handler.HealthCheckFunc(func(ctx context.Context) error {
		return database.Ping(ctx, db)
	})
}
