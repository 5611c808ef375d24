package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/chirp/internal/backend"
	"github.com/hitoshi/chirp/internal/metrics"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/session"
	"github.com/hitoshi/chirp/internal/tokenstore"
)

// TokenValidator は保存済み資格情報をサーバーで検証する。
type TokenValidator interface {
	ValidateToken(ctx context.Context, creds model.Credentials) (*backend.ValidateResult, error)
}

// IdentitySource はIdPのauth-stateストリーム。
type IdentitySource interface {
	Subscribe() (<-chan *model.ProviderIdentity, func())
	SignOut()
}

// Navigator はUIに画面遷移を要求する。
type Navigator interface {
	Navigate(to string)
}

// NavigatorFunc は関数をNavigatorとして使うためのアダプター。
type NavigatorFunc func(to string)

// Navigate はf(to)を呼ぶ。
func (f NavigatorFunc) Navigate(to string) { f(to) }

// BootstrapConfig はBootstrapperの設定。
type BootstrapConfig struct {
	AccessTokenTTL     time.Duration
	RevalidateInterval time.Duration
	MaxAttempts        int
	InitialBackoff     time.Duration
	DefaultFollowID    string
}

// Bootstrapper は起動時のセッション確定とその後の認証状態の維持を担う。
//
// 保存済みトークンの検証とIdPの通知を並行して待ち、先に結果が出た方で
// セッションをchecked にする。サインアウトすると認証エポックを進め、
// 実行中の検証リクエストをキャンセルして結果を破棄する。
type Bootstrapper struct {
	tokens    tokenstore.Store
	validator TokenValidator
	social    IdentitySource
	session   *session.Store
	nav       Navigator
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	config    BootstrapConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// commitMu はエポック確認後の書き込みとSignOutの削除を直列化する。
	commitMu sync.Mutex

	mu            sync.Mutex
	epoch         uint64
	epochCtx      context.Context
	cancelEpoch   context.CancelFunc
	lastValidated time.Time
}

// NewBootstrapper はBootstrapperを生成する。
func NewBootstrapper(
	tokens tokenstore.Store,
	validator TokenValidator,
	social IdentitySource,
	store *session.Store,
	nav Navigator,
	m metrics.MetricsCollector,
	logger *slog.Logger,
	config BootstrapConfig,
) *Bootstrapper {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = 30 * time.Minute
	}
	if config.RevalidateInterval <= 0 {
		config.RevalidateInterval = 30 * time.Minute
	}
	if nav == nil {
		nav = NavigatorFunc(func(string) {})
	}
	if m == nil {
		m = metrics.Nop{}
	}

	epochCtx, cancel := context.WithCancel(context.Background())
	return &Bootstrapper{
		tokens:      tokens,
		validator:   validator,
		social:      social,
		session:     store,
		nav:         nav,
		metrics:     m,
		logger:      logger,
		config:      config,
		now:         time.Now,
		sleep:       sleepContext,
		epochCtx:    epochCtx,
		cancelEpoch: cancel,
	}
}

// Run は保存済みトークンの検証、IdPの購読、バックグラウンド再検証を起動し、
// ctxがキャンセルされるまでブロックする。
func (b *Bootstrapper) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := b.HydrateFromCookie(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("保存済みトークンの検証に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}()
	go func() {
		defer wg.Done()
		b.ListenSocialAuth(ctx)
	}()
	go func() {
		defer wg.Done()
		NewRevalidator(b).Run(ctx)
	}()

	wg.Wait()

	b.mu.Lock()
	b.cancelEpoch()
	b.mu.Unlock()
}

// hydrateOutcome は保存済みトークン検証の結末。
type hydrateOutcome int

const (
	hydrateSkipped hydrateOutcome = iota
	hydrateVerified
	hydrateRejected
	hydrateDiscarded
	hydrateFailed
)

// HydrateFromCookie は有効なアクセストークンが保存されていればサーバーで検証する。
//
// 検証に成功すればローテーションされたトークンを保存してログイン状態にする。
// トークンが拒否されればcheckedのみ立てる。通信エラーや5xxは指数バックオフで
// 再試行し、尽きた場合はLastErrorを設定してcheckedにする。
// アクセストークンが無い場合はリクエストもdispatchも行わない。
func (b *Bootstrapper) HydrateFromCookie(ctx context.Context) error {
	_, err := b.hydrate(ctx)
	return err
}

func (b *Bootstrapper) hydrate(ctx context.Context) (hydrateOutcome, error) {
	creds, err := b.tokens.Load(ctx)
	if errors.Is(err, tokenstore.ErrNotFound) {
		b.logger.Debug("保存済みの認証情報がありません")
		return hydrateSkipped, nil
	}
	if err != nil {
		return hydrateFailed, fmt.Errorf("failed to load credentials: %w", err)
	}
	if !creds.HasAccessToken(b.now()) {
		b.logger.Debug("有効なアクセストークンがありません")
		return hydrateSkipped, nil
	}

	ctx, epoch, release := b.bind(ctx)
	defer release()
	issuedAt := b.now()

	var lastErr error
	for attempt := 0; attempt < b.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backend.CalculateBackoff(b.config.InitialBackoff, attempt-1)
			b.logger.Warn("トークン検証を再試行します",
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			if err := b.sleep(ctx, delay); err != nil {
				return hydrateFailed, err
			}
		}

		res, err := b.validator.ValidateToken(ctx, *creds)
		if err == nil {
			b.metrics.RecordValidation("verified")
			if !b.commit(ctx, epoch, res, session.CookieVerified{User: res.User, At: issuedAt}) {
				return hydrateDiscarded, nil
			}
			return hydrateVerified, nil
		}

		if errors.Is(err, backend.ErrNotAuthenticated) {
			b.metrics.RecordValidation("rejected")
			b.logger.Info("保存済みトークンは有効ではありません",
				slog.String("error", err.Error()),
			)
			b.commitMu.Lock()
			current := b.current(epoch)
			if current {
				b.session.Dispatch(session.CookieRejected{})
			}
			b.commitMu.Unlock()
			if !current {
				return hydrateDiscarded, nil
			}
			return hydrateRejected, nil
		}
		if ctx.Err() != nil {
			return hydrateFailed, ctx.Err()
		}

		lastErr = err
		if !backend.IsTransient(err) {
			break
		}
	}

	b.metrics.RecordValidation("failed")
	b.commitMu.Lock()
	if b.current(epoch) {
		b.session.Dispatch(session.BootstrapFailed{Err: model.NewBackendUnavailableError().Message})
	}
	b.commitMu.Unlock()
	return hydrateFailed, fmt.Errorf("token validation did not complete: %w", lastErr)
}

// ListenSocialAuth はIdPのauth-stateストリームを購読し、通知をセッションに反映する。
// ctxがキャンセルされるまでブロックする。
func (b *Bootstrapper) ListenSocialAuth(ctx context.Context) {
	ch, cancel := b.social.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ident, ok := <-ch:
			if !ok {
				return
			}
			if ident == nil {
				b.session.Dispatch(session.SocialEmpty{})
				continue
			}
			now := b.now()
			user := model.UserFromIdentity(*ident, b.config.DefaultFollowID, now)
			b.session.Dispatch(session.SocialSignedIn{User: user, At: now})
		}
	}
}

// SignOut は保存済みトークンを削除し、IdPからもサインアウトする。
// 実行中の検証はキャンセルされ、その結果は反映されない。
func (b *Bootstrapper) SignOut(ctx context.Context) error {
	b.commitMu.Lock()
	b.rotateEpoch()
	clearErr := b.tokens.Clear(ctx)
	b.social.SignOut()
	b.session.Dispatch(session.SignedOut{At: b.now()})
	b.commitMu.Unlock()

	if clearErr != nil {
		b.logger.Error("認証情報の削除に失敗しました",
			slog.String("error", clearErr.Error()),
		)
	}

	b.mu.Lock()
	b.lastValidated = time.Time{}
	b.mu.Unlock()

	b.logger.Info("サインアウトしました")
	if clearErr != nil {
		return fmt.Errorf("failed to clear credentials: %w", clearErr)
	}
	return nil
}

// ErrCredentialsRejected はAcceptCredentialsに渡された資格情報をサーバーが拒否したことを示す。
var ErrCredentialsRejected = errors.New("credentials rejected by server")

// AcceptCredentials はログイン画面が受け取ったトークンの組を保存し、検証し直す。
// サーバーが拒否した場合や期限切れの場合は保存した組を削除し、ErrCredentialsRejectedを返す。
func (b *Bootstrapper) AcceptCredentials(ctx context.Context, creds model.Credentials) (model.Session, error) {
	if creds.AccessToken == "" {
		return b.session.Snapshot(), fmt.Errorf("access token is required")
	}
	if creds.Expiry.IsZero() {
		creds.Expiry = b.now().Add(b.config.AccessTokenTTL)
	}
	if err := b.tokens.SaveCredentials(ctx, creds); err != nil {
		return b.session.Snapshot(), fmt.Errorf("failed to save credentials: %w", err)
	}

	outcome, err := b.hydrate(ctx)
	switch outcome {
	case hydrateRejected, hydrateSkipped:
		if clearErr := b.tokens.Clear(ctx); clearErr != nil {
			b.logger.Error("拒否された認証情報の削除に失敗しました",
				slog.String("error", clearErr.Error()),
			)
		}
		return b.session.Snapshot(), ErrCredentialsRejected
	case hydrateDiscarded:
		return b.session.Snapshot(), fmt.Errorf("credentials discarded by sign-out: %w", context.Canceled)
	}
	return b.session.Snapshot(), err
}

// SetSigning はサインアップフロー中フラグを切り替える。
func (b *Bootstrapper) SetSigning(signing bool) model.Session {
	return b.session.Dispatch(session.SigningChanged{Signing: signing})
}

// SetLoading はローディングオーバーレイ表示フラグを切り替える。
func (b *Bootstrapper) SetLoading(loading bool) model.Session {
	return b.session.Dispatch(session.LoadingChanged{Loading: loading})
}

// commit は検証成功の結果を反映する。エポックが変わっていれば何も書き込まない。
// actionがnilならトークンの保存だけ行う。反映した場合はtrueを返す。
func (b *Bootstrapper) commit(ctx context.Context, epoch uint64, res *backend.ValidateResult, action session.Action) bool {
	b.commitMu.Lock()
	defer b.commitMu.Unlock()

	if !b.current(epoch) {
		b.logger.Info("サインアウト後に届いた検証結果を破棄しました")
		return false
	}
	b.persistRotated(ctx, res)
	b.markValidated(res.ReceivedAt)
	if action != nil {
		b.session.Dispatch(action)
	}
	return true
}

// persistRotated はサーバーがローテーションしたアクセストークンを保存する。
// 有効期限はレスポンス受信時刻からAccessTokenTTL後。保存失敗はログのみ。
func (b *Bootstrapper) persistRotated(ctx context.Context, res *backend.ValidateResult) {
	if res.AccessToken == "" {
		return
	}
	expiry := res.ReceivedAt.Add(b.config.AccessTokenTTL)
	if err := b.tokens.SaveAccessToken(ctx, res.AccessToken, expiry); err != nil {
		b.logger.Error("ローテーションされたアクセストークンの保存に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// bind はparentと現在の認証エポックの両方でキャンセルされるコンテキストを返す。
func (b *Bootstrapper) bind(parent context.Context) (context.Context, uint64, func()) {
	b.mu.Lock()
	epochCtx, epoch := b.epochCtx, b.epoch
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(epochCtx, cancel)
	return ctx, epoch, func() {
		stop()
		cancel()
	}
}

func (b *Bootstrapper) rotateEpoch() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelEpoch()
	b.epochCtx, b.cancelEpoch = context.WithCancel(context.Background())
	b.epoch++
}

func (b *Bootstrapper) current(epoch uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.epoch == epoch
}

func (b *Bootstrapper) markValidated(at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastValidated = at
}

func (b *Bootstrapper) lastValidatedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastValidated
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
