package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/chirp/internal/auth"
	"github.com/hitoshi/chirp/internal/middleware"
	"github.com/hitoshi/chirp/internal/model"
)

const oauthStateCookie = "chirp_oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするIdPサービス。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.ProviderIdentity, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieSecure bool
	// GenerateState はOAuthのstate値を生成する。nilなら32バイトの乱数を使う。
	GenerateState func() (string, error)
}

// AuthHandler はログイン・ログアウト関連のHTTPハンドラー。
// serviceがnilの場合、Googleログインのルートは503を返す。
type AuthHandler struct {
	service AuthServiceInterface
	control SessionController
	config  AuthHandlerConfig
	logger  *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, control SessionController, config AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	if config.GenerateState == nil {
		config.GenerateState = randomState
	}
	return &AuthHandler{
		service: service,
		control: control,
		config:  config,
		logger:  logger,
	}
}

type credentialsRequest struct {
	AccessToken    string `json:"accessToken"`
	RefreshTokenID string `json:"refreshTokenId"`
}

// Credentials はログイン画面が受け取ったトークンの組を保存して検証する。
// POST /auth/credentials {"accessToken":"...","refreshTokenId":"..."}
func (h *AuthHandler) Credentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(err.Error()))
		return
	}
	if req.AccessToken == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("accessToken is required"))
		return
	}

	s, err := h.control.AcceptCredentials(r.Context(), model.Credentials{
		AccessToken:    req.AccessToken,
		RefreshTokenID: req.RefreshTokenID,
	})
	if errors.Is(err, auth.ErrCredentialsRejected) {
		h.logger.Info("受け取ったトークンはサーバーに拒否されました")
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	if err != nil {
		h.logger.Warn("受け取ったトークンの検証が完了しませんでした", slog.String("error", err.Error()))
		if s.LastError != "" {
			middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewBackendUnavailableError())
			return
		}
		middleware.WriteInternalServerError(w)
		return
	}
	if !s.LoggedIn {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(s))
}

// Logout はトークンを削除し、IdPからもサインアウトする。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.control.SignOut(r.Context()); err != nil {
		// セッションはサインアウト済みなので結果は返す
		h.logger.Error("サインアウト時の後処理に失敗しました", slog.String("error", err.Error()))
	}
	w.WriteHeader(http.StatusNoContent)
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, socialLoginDisabled())
		return
	}

	state, err := h.config.GenerateState()
	if err != nil {
		h.logger.Error("OAuthのstate生成に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理し、取得した本人情報をIdPストリームに流す。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, socialLoginDisabled())
		return
	}

	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		h.logger.Warn("OAuthのstateが一致しません")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("invalid state parameter"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/google",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("missing authorization code"))
		return
	}

	if _, err := h.service.HandleCallback(r.Context(), code); err != nil {
		h.logger.Error("OAuthコールバックの処理に失敗しました", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadGateway, &model.APIError{
			Code:     "SOCIAL_LOGIN_FAILED",
			Message:  "ソーシャルログインに失敗しました。",
			Category: "auth",
			Action:   "もう一度ログインしてください。",
		})
		return
	}

	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

func socialLoginDisabled() *model.APIError {
	return &model.APIError{
		Code:     "SOCIAL_LOGIN_DISABLED",
		Message:  "ソーシャルログインは設定されていません。",
		Category: "auth",
		Action:   "トークンでログインしてください。",
	}
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
