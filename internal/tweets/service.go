package tweets

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/querycache"
)

// Key はPagerのキャッシュキー。
type Key struct {
	UID      string
	PageName string
	Size     int
}

// Service はユーザーごとのPagerをキャッシュ付きで提供する。
type Service struct {
	fetcher PageFetcher
	cache   *querycache.Cache[Key, *Pager]
	logger  *slog.Logger
}

// NewService はServiceを生成する。
func NewService(fetcher PageFetcher, cache *querycache.Cache[Key, *Pager], logger *slog.Logger) *Service {
	return &Service{
		fetcher: fetcher,
		cache:   cache,
		logger:  logger,
	}
}

// MyTweets はuserのツイート一覧のPagerを返す。
// 初回は最初のページを取得してから返す。キャッシュ済みのPagerは
// そのまま返し、古くなっていれば取得済みのページをバックグラウンドで取り直す。
func (s *Service) MyTweets(ctx context.Context, user *model.User, pageName string, size int) (*Pager, error) {
	if user == nil || user.UID == "" {
		return nil, fmt.Errorf("user uid is required")
	}
	if size <= 0 {
		return nil, fmt.Errorf("page size must be positive: %d", size)
	}

	key := Key{UID: user.UID, PageName: pageName, Size: size}
	return s.cache.Fetch(ctx, key, func(ctx context.Context, prev *Pager, hasPrev bool) (*Pager, error) {
		if hasPrev {
			if err := prev.Refresh(ctx); err != nil {
				return nil, err
			}
			s.logger.Debug("ツイート一覧を再取得しました",
				slog.String("uid", key.UID),
				slog.String("page_name", key.PageName),
			)
			return prev, nil
		}

		p := NewPager(s.fetcher, user.UID, pageName, size)
		if _, err := p.Next(ctx); err != nil {
			return nil, fmt.Errorf("failed to fetch first page: %w", err)
		}
		return p, nil
	})
}

// Invalidate はuidのキャッシュ済みPagerをすべて破棄する。
func (s *Service) Invalidate(uid string) int {
	return s.cache.InvalidateFunc(func(k Key) bool { return k.UID == uid })
}
