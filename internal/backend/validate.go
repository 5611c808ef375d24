package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/chirp/internal/model"
)

// ValidateResult はトークン検証の成功結果。
type ValidateResult struct {
	User *model.User
	// AccessToken はサーバーがローテーションした新しいアクセストークン。
	// ローテーションされなかった場合は空。
	AccessToken string
	// ReceivedAt はレスポンスを受信した時刻。新しいトークンの有効期限の起点になる。
	ReceivedAt time.Time
}

type validateResponse struct {
	User        *model.User `json:"user"`
	AccessToken string      `json:"accessToken"`
}

// ValidateToken は保存済みの資格情報をサーバーで検証する。
// 資格情報が拒否された場合はerrors.Is(err, ErrNotAuthenticated)がtrueのエラーを返す。
func (c *Client) ValidateToken(ctx context.Context, creds model.Credentials) (*ValidateResult, error) {
	reqURL, err := url.Parse(c.baseURL + "/validateToken")
	if err != nil {
		return nil, fmt.Errorf("failed to parse backend URL: %w", err)
	}
	q := reqURL.Query()
	q.Set("accessToken", creds.AccessToken)
	q.Set("refreshTokenId", creds.RefreshTokenID)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create validateToken request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, endpointValidateToken, req)
	if err != nil {
		return nil, err
	}
	receivedAt := c.now()

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var vr validateResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return nil, fmt.Errorf("failed to parse validateToken response: %w", err)
	}
	if vr.User == nil {
		return nil, fmt.Errorf("validateToken response has no user")
	}

	return &ValidateResult{
		User:        vr.User,
		AccessToken: vr.AccessToken,
		ReceivedAt:  receivedAt,
	}, nil
}
