package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hitoshi/chirp/internal/config"
	"github.com/hitoshi/chirp/internal/database"
	"github.com/hitoshi/chirp/internal/logger"
	"github.com/hitoshi/chirp/internal/tokenstore"
)

// shutdownTimeout はグレースフルシャットダウンで処理中のリクエストを待つ時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込んでログレベルを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to set log level: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("アプリケーションを起動します",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("backend_url", cfg.BackendURL),
		slog.String("token_store", cfg.TokenStore),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandStatus:
		return runStatus(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はシェルAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、ブートストラップなどのバックグラウンド処理とHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := buildServer(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer srv.Close()

	bgCtx, cancelBg := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	srv.Start(bgCtx, &wg)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("シェルAPIサーバーを起動します", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("シャットダウンを開始します")
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("server listen error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("server shutdown failed: %w", err)
	}

	// ブートストラップ、WebSocketハブ、キャッシュを止めてから戻る
	cancelBg()
	wg.Wait()

	if serveErr != nil {
		return serveErr
	}
	slog.Info("シェルAPIサーバーを停止しました")
	return nil
}

// runMigrate はトークンストア用のデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}

	slog.Info("データベースマイグレーションを実行します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("データベースマイグレーションが完了しました", slog.Uint64("version", uint64(version)))
	return nil
}

// runStatus は保存済み認証情報の状態をログに出力する。トークンそのものは出力しない。
func runStatus(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ts, err := openTokenStore(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer ts.Close()

	creds, err := ts.Store.Load(ctx)
	if errors.Is(err, tokenstore.ErrNotFound) {
		slog.Info("認証情報の状態",
			slog.String("token_store", cfg.TokenStore),
			slog.Bool("stored", false),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	attrs := []any{
		slog.String("token_store", cfg.TokenStore),
		slog.Bool("stored", true),
		slog.Bool("access_token", creds.HasAccessToken(time.Now())),
		slog.Bool("refresh_token_id", creds.RefreshTokenID != ""),
	}
	if !creds.Expiry.IsZero() {
		attrs = append(attrs, slog.Time("expiry", creds.Expiry))
	}
	slog.Info("認証情報の状態", attrs...)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	if u.User == nil {
		return u.String()
	}
	u.User = nil
	return strings.Replace(u.String(), "://", "://***@", 1)
}
