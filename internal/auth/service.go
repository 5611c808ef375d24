// Package auth はセッションの起動時検証、IdP連携、バックグラウンド再検証を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/hitoshi/chirp/internal/model"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 将来的に複数IdP（Google, GitHub等）に対応するための抽象化。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、本人情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*model.ProviderIdentity, error)
}

// IdentityPublisher はIdPの本人情報をauth-stateストリームへ流す先。
type IdentityPublisher interface {
	Publish(ident *model.ProviderIdentity)
}

// Service はIdPのログインフローを扱う。
// コールバックで得た本人情報はauth-stateストリームに通知する。
type Service struct {
	oauth     OAuthProvider
	publisher IdentityPublisher
	logger    *slog.Logger
}

// NewService はServiceを生成する。
func NewService(oauth OAuthProvider, publisher IdentityPublisher, logger *slog.Logger) *Service {
	return &Service{
		oauth:     oauth,
		publisher: publisher,
		logger:    logger,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、取得した本人情報を通知する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.ProviderIdentity, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}

	ident, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	s.publisher.Publish(ident)
	s.logger.Info("ソーシャルログインが完了しました",
		slog.String("uid", ident.UID),
	)
	return ident, nil
}

// GenerateState はOAuthのstateパラメータ用の乱数文字列を生成する。
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
