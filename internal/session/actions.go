package session

import (
	"time"

	"github.com/hitoshi/chirp/internal/model"
)

// Action はセッション状態への変更要求。Store.Dispatchに渡して適用する。
type Action interface {
	// Name はログ出力用のアクション名を返す。
	Name() string
	apply(s *model.Session)
}

// CookieVerified は保存済みトークンの検証成功。
type CookieVerified struct {
	User *model.User
	At   time.Time
}

func (CookieVerified) Name() string { return "cookie_verified" }

func (a CookieVerified) apply(s *model.Session) {
	setIdentity(s, a.User, true, false, model.SourceCookie, a.At)
}

// CookieRejected はバックエンドが保存済みトークンを拒否したことを示す。
type CookieRejected struct{}

func (CookieRejected) Name() string { return "cookie_rejected" }

func (CookieRejected) apply(s *model.Session) {
	s.Checked = true
}

// BootstrapFailed は再試行を尽くしてもトークン検証が完了しなかったことを示す。
type BootstrapFailed struct {
	Err string
}

func (BootstrapFailed) Name() string { return "bootstrap_failed" }

func (a BootstrapFailed) apply(s *model.Session) {
	s.Checked = true
	s.LastError = a.Err
}

// SocialSignedIn はIdPが本人情報を通知したことを示す。
type SocialSignedIn struct {
	User *model.User
	At   time.Time
}

func (SocialSignedIn) Name() string { return "social_signed_in" }

func (a SocialSignedIn) apply(s *model.Session) {
	setIdentity(s, a.User, true, true, model.SourceSocial, a.At)
}

// SocialEmpty はIdPが本人情報なしを通知したことを示す。
type SocialEmpty struct{}

func (SocialEmpty) Name() string { return "social_empty" }

func (SocialEmpty) apply(s *model.Session) {
	s.Checked = true
}

// Revalidated はバックグラウンド再検証の成功。
type Revalidated struct {
	User *model.User
	At   time.Time
}

func (Revalidated) Name() string { return "revalidated" }

func (a Revalidated) apply(s *model.Session) {
	setIdentity(s, a.User, true, false, model.SourceRevalidate, a.At)
}

// SigningChanged はサインアップフロー中フラグの変更。
type SigningChanged struct {
	Signing bool
}

func (SigningChanged) Name() string { return "signing_changed" }

func (a SigningChanged) apply(s *model.Session) {
	s.Signing = a.Signing
}

// LoadingChanged はローディングオーバーレイ表示フラグの変更。
type LoadingChanged struct {
	Loading bool
}

func (LoadingChanged) Name() string { return "loading_changed" }

func (a LoadingChanged) apply(s *model.Session) {
	s.Loading = a.Loading
}

// SignedOut はサインアウト。Atより前に発行された検証結果は以後無視される。
type SignedOut struct {
	At time.Time
}

func (SignedOut) Name() string { return "signed_out" }

func (a SignedOut) apply(s *model.Session) {
	if a.At.Before(s.IdentityAt) {
		return
	}
	s.LoggedIn = false
	s.Social = false
	s.User = nil
	s.Source = model.SourceNone
	s.IdentityAt = a.At
	s.LastError = ""
}

// setIdentity は本人情報を書き込む。atが現在のIdentityAtより古い書き込みは
// Checkedのみ反映し、本人情報は保持する。
func setIdentity(s *model.Session, user *model.User, loggedIn, social bool, src model.Source, at time.Time) {
	s.Checked = true
	if at.Before(s.IdentityAt) {
		return
	}
	s.User = user
	s.LoggedIn = loggedIn
	s.Social = social
	s.Source = src
	s.IdentityAt = at
	s.LastError = ""
}
