// Package tweets はログインユーザー自身のツイート一覧のページ取得を提供する。
package tweets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hitoshi/chirp/internal/model"
)

// ErrNoMorePages は最終ページ取得後にNextを呼んだことを示す。
var ErrNoMorePages = errors.New("no more pages")

// ErrUnexpectedPage はサーバーが要求と異なるページ番号を返したことを示す。
// 巻き戻りも飛ばしも受け付けず、ページ番号は欠番なく増加する。
var ErrUnexpectedPage = errors.New("unexpected page number")

// PageFetcher はツイート一覧の1ページを取得する。
type PageFetcher interface {
	GetMyTweets(ctx context.Context, req model.TweetPageRequest) (*model.TweetPage, error)
}

// Pager はページ列を遅延取得する。
// 次に要求するページ番号は直前のレスポンスのpageNumber+1で、
// isLastPageを受け取った時点で列は終わる。
type Pager struct {
	fetcher  PageFetcher
	userID   string
	pageName string
	size     int

	// fetchMu はNextとRefreshの取得処理を直列化する。
	fetchMu sync.Mutex

	mu    sync.Mutex
	pages []*model.TweetPage
	next  int
	done  bool
}

// NewPager はページ0から始まるPagerを生成する。
func NewPager(fetcher PageFetcher, userID, pageName string, size int) *Pager {
	return &Pager{
		fetcher:  fetcher,
		userID:   userID,
		pageName: pageName,
		size:     size,
	}
}

// Next は次のページを取得して返す。
func (p *Pager) Next(ctx context.Context) (*model.TweetPage, error) {
	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	p.mu.Lock()
	done, page := p.done, p.next
	p.mu.Unlock()
	if done {
		return nil, ErrNoMorePages
	}

	tp, err := p.fetch(ctx, page)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.pages = append(p.pages, tp)
	p.next = tp.PageNumber + 1
	p.done = tp.IsLastPage
	p.mu.Unlock()
	return tp, nil
}

// LoadUntil は取得済みページがn以上になるか列が終わるまで取得する。
func (p *Pager) LoadUntil(ctx context.Context, n int) error {
	for {
		p.mu.Lock()
		enough := len(p.pages) >= n || p.done
		p.mu.Unlock()
		if enough {
			return nil
		}
		if _, err := p.Next(ctx); err != nil {
			if errors.Is(err, ErrNoMorePages) {
				return nil
			}
			return err
		}
	}
}

// Refresh は取得済みのページ数だけ先頭から取得し直す。
// 途中で失敗した場合は取得済みの内容を変更しない。
func (p *Pager) Refresh(ctx context.Context) error {
	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	p.mu.Lock()
	count := len(p.pages)
	p.mu.Unlock()
	if count == 0 {
		count = 1
	}

	var (
		pages = make([]*model.TweetPage, 0, count)
		next  int
		done  bool
	)
	for len(pages) < count && !done {
		tp, err := p.fetch(ctx, next)
		if err != nil {
			return fmt.Errorf("refresh page %d: %w", next, err)
		}
		pages = append(pages, tp)
		next = tp.PageNumber + 1
		done = tp.IsLastPage
	}

	p.mu.Lock()
	p.pages, p.next, p.done = pages, next, done
	p.mu.Unlock()
	return nil
}

// Pages は取得済みのページを取得順に返す。
func (p *Pager) Pages() []*model.TweetPage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*model.TweetPage(nil), p.pages...)
}

// HasNextPage はまだ取得できるページがあるかを返す。
func (p *Pager) HasNextPage() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.done
}

func (p *Pager) fetch(ctx context.Context, page int) (*model.TweetPage, error) {
	tp, err := p.fetcher.GetMyTweets(ctx, model.TweetPageRequest{
		UserID:   p.userID,
		PageName: p.pageName,
		Page:     page,
		Size:     p.size,
	})
	if err != nil {
		return nil, err
	}
	if tp.PageNumber != page {
		return nil, fmt.Errorf("%w: server returned page %d for requested page %d", ErrUnexpectedPage, tp.PageNumber, page)
	}
	return tp, nil
}
