package model

import "time"

// Source はセッションの本人情報を最後に書き込んだ経路を表す。
type Source string

const (
	// SourceNone は本人情報が未設定であることを示す。
	SourceNone Source = ""
	// SourceCookie は保存済みトークンの検証による書き込み。
	SourceCookie Source = "cookie"
	// SourceSocial はIdPのauth-state通知による書き込み。
	SourceSocial Source = "social"
	// SourceRevalidate はバックグラウンド再検証による書き込み。
	SourceRevalidate Source = "revalidate"
)

// Session はクライアントが保持する認証状態と本人情報。
// Checkedは一度trueになると同一ライフタイム内でfalseに戻らない。
type Session struct {
	LoggedIn bool  `json:"loggedIn"`
	Social   bool  `json:"social"`
	Checked  bool  `json:"checked"`
	Loading  bool  `json:"loading"`
	Signing  bool  `json:"signing"`
	User     *User `json:"user,omitempty"`

	Source     Source    `json:"source,omitempty"`
	IdentityAt time.Time `json:"identityAt,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
}
