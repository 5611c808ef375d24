package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthChecker はトークンストアなど外部依存の疎通を確認する。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc は関数をHealthCheckerとして使うためのアダプター。
type HealthCheckFunc func(ctx context.Context) error

// Ping はf(ctx)を呼ぶ。
func (f HealthCheckFunc) Ping(ctx context.Context) error { return f(ctx) }

// NewHealthHandler は /health のハンドラーを返す。checkerがnilなら常に200を返す。
func NewHealthHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.Ping(ctx); err != nil {
				logger.Warn("ヘルスチェックに失敗しました", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
