// Package gate はセッション状態から、UIがマウントすべきルートセットと画面を決める。
package gate

import (
	"github.com/hitoshi/chirp/internal/model"
)

// State はルートゲートの状態。
type State string

const (
	// StateBooting は起動時検証がまだ終わっていない状態。
	StateBooting State = "booting"
	// StateUnauthenticated は検証済みで未ログインの状態。
	StateUnauthenticated State = "unauthenticated"
	// StateAuthenticated はログイン済みの状態。
	StateAuthenticated State = "authenticated"
	// StateSigning はサインアップフロー中の状態。ログイン有無を問わない。
	StateSigning State = "signing"
)

// StateOf はセッションのゲート状態を返す。
func StateOf(s model.Session) State {
	switch {
	case s.Signing:
		return StateSigning
	case !s.Checked:
		return StateBooting
	case s.LoggedIn:
		return StateAuthenticated
	default:
		return StateUnauthenticated
	}
}

// ShowLoading はローディングオーバーレイを表示すべきかを返す。
// 起動時検証の完了前と、明示的にLoadingが立っている間だけ表示する。
// checkedかつ未ログインの状態はオーバーレイの条件に含めない。
func ShowLoading(s model.Session) bool {
	return !s.Checked || s.Loading
}

// Rendering はゲートの解決結果。
type Rendering struct {
	State    State  `json:"state"`
	Loading  bool   `json:"loading"`
	RouteSet string `json:"routeSet"`
	// Main は背景（モーダル表示時）または現在地に対する画面。マッチしなければnil。
	Main *View `json:"main"`
	// Overlay は背景が指定された場合のみ、現在地に対するモーダル画面。
	Overlay    *View  `json:"overlay,omitempty"`
	Background string `json:"background,omitempty"`
}

// Gate は認証済み・未認証のルートセットを保持する。
type Gate struct {
	authMain      *RouteSet
	authOverlay   *RouteSet
	unauthMain    *RouteSet
	unauthOverlay *RouteSet
}

// New はGateを生成する。
func New() *Gate {
	return &Gate{
		authMain:      authenticatedMain(),
		authOverlay:   authenticatedOverlay(),
		unauthMain:    unauthenticatedMain(),
		unauthOverlay: unauthenticatedOverlay(),
	}
}

// Resolve はセッションと現在地から描画内容を決める。
// backgroundが空でなければモーダル表示として扱い、メインのルートセットは
// backgroundで、オーバーレイのルートセットは現在地で解決する。
func (g *Gate) Resolve(s model.Session, current, background string) Rendering {
	main, overlay := g.unauthMain, g.unauthOverlay
	if s.LoggedIn && !s.Signing {
		main, overlay = g.authMain, g.authOverlay
	}

	r := Rendering{
		State:    StateOf(s),
		Loading:  ShowLoading(s),
		RouteSet: main.Name(),
	}

	if background == "" {
		r.Main = main.Match(current)
		return r
	}

	r.Background = normalizePath(background)
	r.Main = main.Match(background)
	r.Overlay = overlay.Match(current)
	return r
}
