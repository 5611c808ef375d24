package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, backend, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInvalidProfile      = "INVALID_PROFILE"
	ErrCodeAttachmentBlocked   = "ATTACHMENT_BLOCKED"
	ErrCodeAttachmentFailed    = "ATTACHMENT_FAILED"
	ErrCodeProfileUpdateFailed = "PROFILE_UPDATE_FAILED"
	ErrCodeTweetsFetchFailed   = "TWEETS_FETCH_FAILED"
	ErrCodeBackendUnavailable  = "BACKEND_UNAVAILABLE"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidRequestError はリクエスト形式の誤りを表すエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidProfileError はプロフィール入力の検証エラーを生成する。
func NewInvalidProfileError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProfile,
		Message:  fmt.Sprintf("プロフィールの入力が不正です: %s", reason),
		Category: "validation",
		Action:   "名前は1〜50文字で入力し、画像はファイルまたはhttps URLで指定してください。",
	}
}

// NewAttachmentBlockedError は添付URLがセキュリティポリシーで拒否された場合のエラーを生成する。
func NewAttachmentBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeAttachmentBlocked,
		Message:  "セキュリティポリシーにより、指定された画像URLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されている画像のURLを指定するか、ファイルを直接アップロードしてください。",
	}
}

// NewAttachmentFailedError は添付画像の取得失敗エラーを生成する。
func NewAttachmentFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeAttachmentFailed,
		Message:  fmt.Sprintf("画像の取得に失敗しました: %s", reason),
		Category: "validation",
		Action:   "画像URLが正しいか確認してください。",
	}
}

// NewProfileUpdateFailedError はプロフィール更新失敗エラーを生成する。
func NewProfileUpdateFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProfileUpdateFailed,
		Message:  fmt.Sprintf("プロフィールの更新に失敗しました: %s", reason),
		Category: "backend",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewTweetsFetchFailedError はツイート一覧取得失敗エラーを生成する。
func NewTweetsFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeTweetsFetchFailed,
		Message:  fmt.Sprintf("ツイートの取得に失敗しました: %s", reason),
		Category: "backend",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewBackendUnavailableError はバックエンドに到達できない場合のエラーを生成する。
func NewBackendUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeBackendUnavailable,
		Message:  "サーバーに接続できませんでした。",
		Category: "backend",
		Action:   "ネットワーク接続を確認し、再読み込みしてください。",
	}
}
