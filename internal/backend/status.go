package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// StatusClass はHTTPステータスコードに基づくレスポンスの分類。
type StatusClass int

const (
	// ClassOK は成功（2xx）。
	ClassOK StatusClass = iota
	// ClassNotAuthenticated は資格情報が受け入れられなかったことを示す（408/429を除く4xx）。
	ClassNotAuthenticated
	// ClassTransient は再試行で回復しうる失敗（408/429/5xx）。
	ClassTransient
	// ClassUnknown は想定外のステータスコード（1xx/3xxなど）。
	ClassUnknown
)

func (c StatusClass) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassNotAuthenticated:
		return "not_authenticated"
	case ClassTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// ClassifyHTTPStatus はHTTPステータスコードを分類する。
func ClassifyHTTPStatus(statusCode int) StatusClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return ClassOK
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusTooManyRequests:
		return ClassTransient
	case statusCode >= 400 && statusCode < 500:
		return ClassNotAuthenticated
	case statusCode >= 500:
		return ClassTransient
	default:
		return ClassUnknown
	}
}

// ErrNotAuthenticated はバックエンドが資格情報を拒否したことを示す。
var ErrNotAuthenticated = errors.New("not authenticated")

// StatusError はバックエンドが非2xxを返したことを表す。
// 408/429を除く4xxはerrors.Is(err, ErrNotAuthenticated)がtrueになる。
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Class はステータスコードの分類を返す。
func (e *StatusError) Class() StatusClass {
	return ClassifyHTTPStatus(e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	if e.Class() == ClassNotAuthenticated {
		return ErrNotAuthenticated
	}
	return nil
}

// IsTransient はerrが再試行で回復しうる失敗かを返す。
// 資格情報の拒否とコンテキストのキャンセルは再試行しない。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrNotAuthenticated) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Class() == ClassTransient
	}
	// 通信エラーやタイムアウト
	return true
}

const (
	// defaultInitialBackoff は指数バックオフの初回遅延。
	defaultInitialBackoff = time.Second
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 30 * time.Second
)

// CalculateBackoff は試行回数に基づいて指数バックオフ遅延を計算する。
// initialから2倍ずつ増加し、最大30秒。initialが0以下なら1秒とする。
func CalculateBackoff(initial time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
