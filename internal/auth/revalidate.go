package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/chirp/internal/backend"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/session"
	"github.com/hitoshi/chirp/internal/tokenstore"
)

// Revalidator はログイン中（サインアップフロー中を除く）にトークンを定期的に再検証する。
//
// 有効になった時点で前回の成功から再検証間隔が経過していれば即座に実行し、
// 以後は同じ間隔のティッカーで実行する。失敗しても再試行はしない。
type Revalidator struct {
	b        *Bootstrapper
	interval time.Duration
}

// NewRevalidator はRevalidatorを生成する。
func NewRevalidator(b *Bootstrapper) *Revalidator {
	return &Revalidator{b: b, interval: b.config.RevalidateInterval}
}

// Run はctxがキャンセルされるまで再検証を続ける。
func (r *Revalidator) Run(ctx context.Context) {
	updates, cancel := r.b.session.Subscribe()
	defer cancel()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.b.logger.Info("トークン再検証を開始しました",
		slog.Duration("interval", r.interval),
	)

	enabled := false
	for {
		select {
		case <-ctx.Done():
			r.b.logger.Info("トークン再検証を停止しました")
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			wasEnabled := enabled
			enabled = revalidationEnabled(s)
			if enabled && !wasEnabled && r.stale() {
				r.runLogged(ctx)
			}
		case <-ticker.C:
			if enabled {
				r.runLogged(ctx)
			}
		}
	}
}

// RunOnce は1回だけ再検証する。成功するとセッションを更新して "/" へ遷移させる。
func (r *Revalidator) RunOnce(ctx context.Context) error {
	if !revalidationEnabled(r.b.session.Snapshot()) {
		return nil
	}

	creds, err := r.b.tokens.Load(ctx)
	if errors.Is(err, tokenstore.ErrNotFound) {
		r.b.logger.Debug("再検証する認証情報がありません")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	ctx, epoch, release := r.b.bind(ctx)
	defer release()
	issuedAt := r.b.now()

	res, err := r.b.validator.ValidateToken(ctx, *creds)
	if err != nil {
		if errors.Is(err, backend.ErrNotAuthenticated) {
			r.b.metrics.RecordValidation("rejected")
		} else {
			r.b.metrics.RecordValidation("failed")
		}
		return fmt.Errorf("revalidation failed: %w", err)
	}

	r.b.metrics.RecordValidation("verified")
	// 検証中にサインアップフローへ入った場合はトークンだけ保存する
	var action session.Action
	enabled := revalidationEnabled(r.b.session.Snapshot())
	if enabled {
		action = session.Revalidated{User: res.User, At: issuedAt}
	}
	if !r.b.commit(ctx, epoch, res, action) || !enabled {
		return nil
	}
	r.b.nav.Navigate("/")
	return nil
}

func (r *Revalidator) runLogged(ctx context.Context) {
	if err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.b.logger.Warn("トークンの再検証に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// stale は前回の検証成功から再検証間隔以上経過しているかを返す。
func (r *Revalidator) stale() bool {
	last := r.b.lastValidatedAt()
	return last.IsZero() || r.b.now().Sub(last) >= r.interval
}

func revalidationEnabled(s model.Session) bool {
	return s.LoggedIn && !s.Signing
}
