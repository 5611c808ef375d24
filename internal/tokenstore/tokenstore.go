// Package tokenstore はアクセストークンとリフレッシュトークンIDの永続化を提供する。
//
// ファイル、Redis、PostgreSQLの3種類のバックエンドを持ち、いずれも
// 有効期限を過ぎたアクセストークンは存在しないものとして読み出す。
package tokenstore

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/chirp/internal/model"
)

// ErrNotFound は保存済みの認証情報が1つも存在しないことを示す。
var ErrNotFound = errors.New("credentials not found")

// Store は認証情報ストアのインターフェース。
type Store interface {
	// Load は保存済みの認証情報を返す。
	// アクセストークンが期限切れの場合はAccessTokenを空にして返す。
	// 何も保存されていない場合はErrNotFoundを返す。
	Load(ctx context.Context) (*model.Credentials, error)
	// SaveAccessToken はアクセストークンを有効期限付きで保存する。
	// リフレッシュトークンIDは変更しない。
	SaveAccessToken(ctx context.Context, token string, expiry time.Time) error
	// SaveCredentials はアクセストークンとリフレッシュトークンIDをまとめて保存する。
	SaveCredentials(ctx context.Context, creds model.Credentials) error
	// Clear は保存済みの認証情報をすべて削除する。
	Clear(ctx context.Context) error
}

// Clock は現在時刻を返す関数。テストで差し替える。
type Clock func() time.Time

// redact はログ出力用にトークンの先頭数文字のみを残す。
func redact(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return token[:6] + "***"
}
