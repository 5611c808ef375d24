// Package backend はリモートREST APIのクライアントを提供する。
// トークン検証、ツイート一覧取得、プロフィール更新の3エンドポイントを扱う。
package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hitoshi/chirp/internal/metrics"
)

const (
	endpointValidateToken = "validateToken"
	endpointGetMyTweets   = "getMyTweets"
	endpointUpdateProfile = "updateProfile"

	// maxErrorBodySize はエラーメッセージに含めるレスポンスボディの最大長。
	maxErrorBodySize = 512
	// maxResponseSize は成功レスポンスとして読み込む最大サイズ。
	maxResponseSize = 4 << 20
)

// Client はバックエンドAPIのクライアント。
// 全リクエストはrate.Limiterで流量制御し、X-Request-IDを付与する。
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient はClientの新しいインスタンスを生成する。
// limiterがnilの場合は流量制御を行わない。
func NewClient(
	baseURL string,
	httpClient *http.Client,
	limiter *rate.Limiter,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    limiter,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// do はリクエストを送信し、2xxのレスポンスを返す。
// 非2xxの場合はボディを読み捨てて*StatusErrorを返す。
func (c *Client) do(ctx context.Context, endpoint string, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait for %s: %w", endpoint, err)
	}

	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("User-Agent", "chirp/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.metrics.RecordBackendError(endpoint)
		c.logger.Error("バックエンドAPIの呼び出しに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	c.metrics.RecordBackendRequest(endpoint, resp.StatusCode, duration)

	c.logger.Debug("バックエンドAPIを呼び出しました",
		slog.String("endpoint", endpoint),
		slog.String("request_id", requestID),
		slog.Int("http_status", resp.StatusCode),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	if ClassifyHTTPStatus(resp.StatusCode) != ClassOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		c.logger.Warn("バックエンドAPIがエラーステータスを返しました",
			slog.String("endpoint", endpoint),
			slog.String("request_id", requestID),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &StatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	return resp, nil
}

// readBody は成功レスポンスのボディを上限付きで読み込む。
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}
