package tweets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hitoshi/chirp/internal/model"
)

// mockFetcher はPageFetcherのモック。
type mockFetcher struct {
	mu       sync.Mutex
	requests []model.TweetPageRequest
	fetchFn  func(req model.TweetPageRequest) (*model.TweetPage, error)
}

func (m *mockFetcher) GetMyTweets(ctx context.Context, req model.TweetPageRequest) (*model.TweetPage, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.fetchFn(req)
}

func (m *mockFetcher) requested() []model.TweetPageRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TweetPageRequest(nil), m.requests...)
}

// pagesOf は総ページ数totalのサーバーを模したfetchFnを返す。
func pagesOf(total int) func(req model.TweetPageRequest) (*model.TweetPage, error) {
	return func(req model.TweetPageRequest) (*model.TweetPage, error) {
		return &model.TweetPage{
			Items:      []model.Tweet{{ID: fmt.Sprintf("t%d", req.Page)}},
			PageNumber: req.Page,
			IsLastPage: req.Page == total-1,
		}, nil
	}
}

func TestPager_Next_WalksUntilLastPage(t *testing.T) {
	f := &mockFetcher{fetchFn: pagesOf(3)}
	p := NewPager(f, "uid-1", "profile", 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tp, err := p.Next(ctx)
		if err != nil {
			t.Fatalf("Next() #%d error = %v", i, err)
		}
		if tp.PageNumber != i {
			t.Errorf("PageNumber = %d, want %d", tp.PageNumber, i)
		}
	}

	if p.HasNextPage() {
		t.Error("HasNextPage() = true after last page")
	}
	if _, err := p.Next(ctx); !errors.Is(err, ErrNoMorePages) {
		t.Errorf("Next() after last = %v, want ErrNoMorePages", err)
	}

	reqs := f.requested()
	if len(reqs) != 3 {
		t.Fatalf("requests = %d, want 3", len(reqs))
	}
	for i, r := range reqs {
		if r.UserID != "uid-1" || r.PageName != "profile" || r.Size != 10 || r.Page != i {
			t.Errorf("request[%d] = %+v", i, r)
		}
	}
}

func TestPager_RejectsUnexpectedPageNumber(t *testing.T) {
	tests := []struct {
		name     string
		returned int
	}{
		{"飛ばし", 3},
		{"巻き戻り", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &mockFetcher{fetchFn: func(req model.TweetPageRequest) (*model.TweetPage, error) {
				if req.Page == 0 {
					return &model.TweetPage{PageNumber: 0}, nil
				}
				return &model.TweetPage{PageNumber: tt.returned}, nil
			}}
			p := NewPager(f, "u", "home", 5)
			ctx := context.Background()

			if _, err := p.Next(ctx); err != nil {
				t.Fatalf("first Next() error = %v", err)
			}
			if _, err := p.Next(ctx); !errors.Is(err, ErrUnexpectedPage) {
				t.Fatalf("error = %v, want ErrUnexpectedPage", err)
			}
			if got := len(p.Pages()); got != 1 {
				t.Errorf("pages = %d, want 1", got)
			}
			if !p.HasNextPage() {
				t.Error("rejected page must not end the sequence")
			}
		})
	}
}

func TestPager_FirstPageMustBeZero(t *testing.T) {
	f := &mockFetcher{fetchFn: func(req model.TweetPageRequest) (*model.TweetPage, error) {
		return &model.TweetPage{PageNumber: 2, IsLastPage: true}, nil
	}}
	p := NewPager(f, "u", "home", 5)

	if err := p.LoadUntil(context.Background(), 10); !errors.Is(err, ErrUnexpectedPage) {
		t.Fatalf("LoadUntil() error = %v, want ErrUnexpectedPage", err)
	}
	if len(p.Pages()) != 0 {
		t.Errorf("pages = %+v, want none", p.Pages())
	}
}

func TestPager_FetchError_KeepsState(t *testing.T) {
	fail := false
	f := &mockFetcher{}
	f.fetchFn = func(req model.TweetPageRequest) (*model.TweetPage, error) {
		if fail {
			return nil, errors.New("backend down")
		}
		return pagesOf(5)(req)
	}
	p := NewPager(f, "u", "home", 5)
	ctx := context.Background()

	p.Next(ctx)
	fail = true
	if _, err := p.Next(ctx); err == nil {
		t.Fatal("expected error")
	}
	fail = false
	tp, err := p.Next(ctx)
	if err != nil {
		t.Fatalf("Next() after recovery error = %v", err)
	}
	if tp.PageNumber != 1 {
		t.Errorf("PageNumber = %d, want 1 (retry of the failed page)", tp.PageNumber)
	}
}

func TestPager_LoadUntil_StopsAtLastPage(t *testing.T) {
	f := &mockFetcher{fetchFn: pagesOf(2)}
	p := NewPager(f, "u", "home", 5)

	if err := p.LoadUntil(context.Background(), 5); err != nil {
		t.Fatalf("LoadUntil() error = %v", err)
	}
	if got := len(p.Pages()); got != 2 {
		t.Errorf("pages = %d, want 2", got)
	}
}

func TestPager_Refresh_RefetchesLoadedPages(t *testing.T) {
	version := 0
	f := &mockFetcher{}
	f.fetchFn = func(req model.TweetPageRequest) (*model.TweetPage, error) {
		return &model.TweetPage{
			Items:      []model.Tweet{{ID: fmt.Sprintf("v%d-p%d", version, req.Page)}},
			PageNumber: req.Page,
		}, nil
	}
	p := NewPager(f, "u", "home", 5)
	ctx := context.Background()
	p.LoadUntil(ctx, 2)

	version = 1
	if err := p.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	pages := p.Pages()
	if len(pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(pages))
	}
	if pages[0].Items[0].ID != "v1-p0" || pages[1].Items[0].ID != "v1-p1" {
		t.Errorf("pages after refresh = %s, %s", pages[0].Items[0].ID, pages[1].Items[0].ID)
	}
	if !p.HasNextPage() {
		t.Error("HasNextPage() should stay true")
	}
}

func TestPager_Refresh_FailureKeepsPages(t *testing.T) {
	fail := false
	f := &mockFetcher{}
	f.fetchFn = func(req model.TweetPageRequest) (*model.TweetPage, error) {
		if fail && req.Page == 1 {
			return nil, errors.New("backend down")
		}
		return pagesOf(5)(req)
	}
	p := NewPager(f, "u", "home", 5)
	ctx := context.Background()
	p.LoadUntil(ctx, 2)
	before := p.Pages()

	fail = true
	if err := p.Refresh(ctx); err == nil {
		t.Fatal("expected error")
	}
	after := p.Pages()
	if len(after) != 2 || after[0] != before[0] || after[1] != before[1] {
		t.Error("pages should be unchanged after a failed refresh")
	}
}
