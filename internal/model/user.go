// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultBackgroundImage はソーシャルログインで合成したユーザーに設定する背景画像。
const DefaultBackgroundImage = "https://placehold.co/600x400/1DA1F2/1DA1F2.png"

// User はサービス利用ユーザーを表す。
// トークン検証レスポンス（サーバー形状）とIdP通知からの合成（クライアント形状）の
// 2経路で生成され、両者のフィールド充足度は一致しない。
type User struct {
	ID              string    `json:"id"`
	UID             string    `json:"uid"`
	DisplayName     string    `json:"displayName"`
	PhotoURL        string    `json:"photoURL"`
	BackgroundImage string    `json:"backgroundImage,omitempty"`
	SignupAt        time.Time `json:"signupAt"`
	Following       []string  `json:"following"`
	Follower        []string  `json:"follower"`
}

// ProviderIdentity はIdPのauth-stateストリームが通知するユーザー情報。
type ProviderIdentity struct {
	DisplayName string `json:"displayName"`
	UID         string `json:"uid"`
	PhotoURL    string `json:"photoURL"`
}

// UserFromIdentity はIdP通知からローカルのUserを合成する。
// followingには既定のフォロー先アカウントのみを設定し、followerは空とする。
func UserFromIdentity(ident ProviderIdentity, defaultFollowID string, now time.Time) *User {
	return &User{
		ID:              ident.DisplayName,
		UID:             ident.UID,
		DisplayName:     ident.DisplayName,
		PhotoURL:        ident.PhotoURL,
		BackgroundImage: DefaultBackgroundImage,
		SignupAt:        now,
		Following:       []string{defaultFollowID},
		Follower:        []string{},
	}
}

// Credentials はクライアント側に永続化する認証情報。
// AccessTokenはExpiryを過ぎると存在しないものとして扱う。
type Credentials struct {
	AccessToken    string
	RefreshTokenID string
	Expiry         time.Time
}

// HasAccessToken はnowの時点で有効なアクセストークンを保持しているかを返す。
func (c *Credentials) HasAccessToken(now time.Time) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	return c.Expiry.IsZero() || now.Before(c.Expiry)
}
