package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/chirp/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	CookieSecure      bool
	RateLimiter       *middleware.RateLimiter
	HealthChecker     HealthChecker
	MetricsHandler    http.Handler

	Sessions SessionReader
	Control  SessionController
	Gate     ViewResolver
	Hub      *Hub

	// AuthServiceがnilの場合、Googleログインは無効
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	TweetsService  TweetsServiceInterface
	Sanitizer      ContentSanitizer
	ProfileService ProfileServiceInterface
	MaxAttachment  int64
}

// NewRouter はシェルAPIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS → RateLimit(General) → CSRF
//
// /api/* はさらにRequireAuthenticatedを通す。/health と /metrics はチェーンの外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))

	r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.Logger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	csrfConfig := middleware.CSRFConfig{CookieSecure: deps.CookieSecure, Logger: deps.Logger}
	shell := NewShellHandler(deps.Sessions, deps.Control, deps.Gate, deps.Logger)
	authHandler := NewAuthHandler(deps.AuthService, deps.Control, deps.AuthConfig, deps.Logger)
	tweetsHandler := NewTweetsHandler(deps.TweetsService, deps.Sanitizer, deps.Logger)
	profileHandler := NewProfileHandler(deps.ProfileService, deps.MaxAttachment, deps.Logger)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// OAuthフローはIdPからのリダイレクトで戻ってくるためCSRFチェーンの外に置く
		r.Get("/auth/google/login", authHandler.Login)
		r.Get("/auth/google/callback", authHandler.Callback)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewCSRFMiddleware(csrfConfig))

			r.Route("/shell", func(r chi.Router) {
				r.Get("/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig).ServeHTTP)
				r.Get("/session", shell.Session)
				r.Get("/view", shell.View)
				r.Get("/ws", deps.Hub.ServeWS)
				r.Post("/signing", shell.Signing)
				r.Post("/loading", shell.Loading)
			})

			r.Route("/auth", func(r chi.Router) {
				r.Post("/credentials", authHandler.Credentials)
				r.Post("/logout", authHandler.Logout)
			})

			r.Route("/api", func(r chi.Router) {
				r.Use(middleware.NewRequireAuthenticated(deps.Sessions))

				r.Get("/tweets/mine", tweetsHandler.Mine)
				r.With(deps.RateLimiter.MutationMiddleware()).Post("/profile", profileHandler.Update)
			})
		})
	})

	return r
}
