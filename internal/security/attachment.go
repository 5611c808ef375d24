package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

var (
	// ErrAttachmentBlocked はURLがSSRF防止ポリシーで拒否されたことを表す。
	ErrAttachmentBlocked = errors.New("attachment url blocked")
	// ErrAttachmentTooLarge は画像がサイズ上限を超えたことを表す。
	ErrAttachmentTooLarge = errors.New("attachment too large")
	// ErrAttachmentNotImage はレスポンスが画像ではなかったことを表す。
	ErrAttachmentNotImage = errors.New("attachment is not an image")
)

// FetchedAttachment は取得済みの画像データ。
type FetchedAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// AttachmentFetcher はURL指定のプロフィール画像をSSRF防止クライアントで取得する。
type AttachmentFetcher struct {
	guard   SSRFGuardService
	client  *http.Client
	maxSize int64
	logger  *slog.Logger
}

// NewAttachmentFetcher はAttachmentFetcherを生成する。
func NewAttachmentFetcher(guard SSRFGuardService, timeout time.Duration, maxSize int64, logger *slog.Logger) *AttachmentFetcher {
	return &AttachmentFetcher{
		guard:   guard,
		client:  guard.NewSafeClient(timeout),
		maxSize: maxSize,
		logger:  logger,
	}
}

// Fetch は画像URLを検証してから取得する。
// 静的検証で拒否された場合はErrAttachmentBlockedを返す。
func (f *AttachmentFetcher) Fetch(ctx context.Context, rawURL string) (*FetchedAttachment, error) {
	if err := f.guard.ValidateURL(rawURL); err != nil {
		f.logger.Warn("添付画像URLが拒否されました",
			slog.String("url", rawURL),
			slog.String("reason", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrAttachmentBlocked, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment fetch returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("%w: %q", ErrAttachmentNotImage, contentType)
	}

	if resp.ContentLength > f.maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrAttachmentTooLarge, resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("%w: over %d bytes", ErrAttachmentTooLarge, f.maxSize)
	}

	f.logger.Debug("添付画像を取得しました",
		slog.String("url", rawURL),
		slog.String("content_type", mediaType),
		slog.Int("size", len(data)),
	)

	return &FetchedAttachment{
		Filename:    filenameFromURL(rawURL),
		ContentType: mediaType,
		Data:        data,
	}, nil
}

func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "attachment"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "attachment"
	}
	return name
}
