// Package middleware はシェルAPIのHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/chirp/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストにログイン中のユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// SessionSource は現在のセッションスナップショットを返す。
// session.Storeの部分集合として定義する。
type SessionSource interface {
	Snapshot() model.Session
}

// NewRequireAuthenticated はセッションが認証済みの場合のみ後続ハンドラーを呼ぶミドルウェアを返す。
// 確認前、未ログイン、サインアップ処理中は401を返す。
// 認証済みユーザーはリクエストコンテキストに注入する。
func NewRequireAuthenticated(src SessionSource) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := src.Snapshot()
			if !s.Checked || !s.LoggedIn || s.Signing || s.User == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			u := *s.User
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), &u)))
		})
	}
}

// UserFromContext はリクエストコンテキストからユーザーを取得する。
// NewRequireAuthenticatedを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, error) {
	u, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || u == nil {
		return nil, fmt.Errorf("user not found in context")
	}
	return u, nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
func ContextWithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}
