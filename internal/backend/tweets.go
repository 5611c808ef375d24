package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hitoshi/chirp/internal/model"
)

// GetMyTweets はユーザーのツイート一覧の1ページを取得する。
func (c *Client) GetMyTweets(ctx context.Context, pr model.TweetPageRequest) (*model.TweetPage, error) {
	payload, err := json.Marshal(pr)
	if err != nil {
		return nil, fmt.Errorf("failed to encode getMyTweets request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/getMyTweets", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create getMyTweets request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, endpointGetMyTweets, req)
	if err != nil {
		return nil, err
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var page model.TweetPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to parse getMyTweets response: %w", err)
	}
	if page.Items == nil {
		page.Items = []model.Tweet{}
	}

	c.metrics.RecordPageFetched(pr.PageName)
	return &page, nil
}
