package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/chirp/internal/auth"
	"github.com/hitoshi/chirp/internal/backend"
	"github.com/hitoshi/chirp/internal/config"
	"github.com/hitoshi/chirp/internal/gate"
	"github.com/hitoshi/chirp/internal/handler"
	applog "github.com/hitoshi/chirp/internal/logger"
	"github.com/hitoshi/chirp/internal/metrics"
	"github.com/hitoshi/chirp/internal/middleware"
	"github.com/hitoshi/chirp/internal/profile"
	"github.com/hitoshi/chirp/internal/querycache"
	"github.com/hitoshi/chirp/internal/security"
	"github.com/hitoshi/chirp/internal/session"
	"github.com/hitoshi/chirp/internal/tweets"
)

// server はワイヤリング済みのシェルと、その上で動くバックグラウンド処理を保持する。
type server struct {
	Handler http.Handler
	Session *session.Store

	runners []func(ctx context.Context)
	closers []func() error
	logger  *slog.Logger
}

// buildServer は設定から全依存関係を組み立てる。
// バックグラウンド処理はStartを呼ぶまで起動しない。
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server, error) {
	s := &server{logger: logger}

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 2. 認証情報ストア
	tokens, err := openTokenStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}
	s.closers = append(s.closers, tokens.Close)

	// 3. バックエンドクライアント
	client := backend.NewClient(
		cfg.BackendURL,
		&http.Client{Timeout: cfg.BackendTimeout},
		rate.NewLimiter(rate.Limit(cfg.BackendRateLimit), cfg.BackendBurst),
		collector,
		applog.Component(logger, "backend"),
	)

	// 4. セッションとブートストラップ
	store := session.NewStore(applog.Component(logger, "session"))
	s.Session = store
	social := auth.NewSocialHub()
	hub := handler.NewHub(store, cfg.CORSAllowedOrigin, applog.Component(logger, "hub"))
	bootstrapper := auth.NewBootstrapper(tokens.Store, client, social, store, hub, collector, applog.Component(logger, "auth"), auth.BootstrapConfig{
		AccessTokenTTL:     cfg.AccessTokenTTL,
		RevalidateInterval: cfg.RevalidateInterval,
		MaxAttempts:        cfg.BootstrapMaxAttempts,
		InitialBackoff:     cfg.BootstrapBackoff,
		DefaultFollowID:    cfg.DefaultFollowID,
	})

	// 5. ツイート一覧とプロフィール更新
	cache := querycache.New[tweets.Key, *tweets.Pager](querycache.Options{
		CacheTime: cfg.TweetsCacheTime,
		StaleTime: cfg.TweetsStaleTime,
		Logger:    applog.Component(logger, "querycache"),
	})
	tweetsService := tweets.NewService(client, cache, applog.Component(logger, "tweets"))

	guard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()
	fetcher := security.NewAttachmentFetcher(guard, cfg.AttachmentTimeout, cfg.AttachmentMaxSize, applog.Component(logger, "attachment"))
	profileService := profile.NewService(client, fetcher, sanitizer, tweetsService, collector, applog.Component(logger, "profile"))

	// 6. ソーシャルログイン（設定が無ければ無効）
	var authService handler.AuthServiceInterface
	if cfg.SocialLoginEnabled() {
		provider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
		authService = auth.NewService(provider, social, applog.Component(logger, "auth"))
	} else {
		logger.Info("Googleの認証情報が未設定のため、ソーシャルログインを無効にします")
	}

	// 7. ルーター
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitGeneral), applog.Component(logger, "ratelimit"))
	s.closers = append(s.closers, func() error {
		rateLimiter.Stop()
		return nil
	})

	s.Handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            logger,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CookieSecure:      cfg.CookieSecure,
		RateLimiter:       rateLimiter,
		HealthChecker:     tokens.Health,
		MetricsHandler:    metrics.Handler(reg),

		Sessions: store,
		Control:  bootstrapper,
		Gate:     gate.New(),
		Hub:      hub,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieSecure:  cfg.CookieSecure,
			GenerateState: auth.GenerateState,
		},

		TweetsService:  tweetsService,
		Sanitizer:      sanitizer,
		ProfileService: profileService,
		MaxAttachment:  cfg.AttachmentMaxSize,
	})

	s.runners = append(s.runners,
		bootstrapper.Run,
		hub.Run,
		cache.Run,
		func(ctx context.Context) { watchGateState(ctx, store, collector) },
	)

	return s, nil
}

// Start はバックグラウンド処理を起動する。ctxがキャンセルされると各処理は戻り、wgが完了する。
func (s *server) Start(ctx context.Context, wg *sync.WaitGroup) {
	for _, run := range s.runners {
		wg.Add(1)
		go func(run func(ctx context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}
}

// Close は開いた接続を逆順に閉じる。
func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("リソースのクローズに失敗しました", slog.String("error", err.Error()))
		}
	}
}

// watchGateState はセッションの変化に合わせてゲート状態のメトリクスを更新する。
func watchGateState(ctx context.Context, store *session.Store, m metrics.MetricsCollector) {
	ch, cancel := store.Subscribe()
	defer cancel()

	var last gate.State
	for {
		select {
		case <-ctx.Done():
			return
		case sess, ok := <-ch:
			if !ok {
				return
			}
			if st := gate.StateOf(sess); st != last {
				m.RecordGateState(string(st))
				last = st
			}
		}
	}
}
