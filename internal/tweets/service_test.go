package tweets

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/querycache"
)

func newTestService(f PageFetcher, staleTime time.Duration) (*Service, *querycache.Cache[Key, *Pager]) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	cache := querycache.New[Key, *Pager](querycache.Options{
		CacheTime: 5 * time.Minute,
		StaleTime: staleTime,
		Logger:    logger,
	})
	return NewService(f, cache, logger), cache
}

func TestService_MyTweets_FetchesFirstPage(t *testing.T) {
	f := &mockFetcher{fetchFn: pagesOf(3)}
	svc, _ := newTestService(f, time.Hour)

	p, err := svc.MyTweets(context.Background(), &model.User{UID: "uid-1"}, "profile", 10)
	if err != nil {
		t.Fatalf("MyTweets() error = %v", err)
	}
	if got := len(p.Pages()); got != 1 {
		t.Errorf("pages = %d, want 1", got)
	}
	reqs := f.requested()
	if len(reqs) != 1 || reqs[0].UserID != "uid-1" || reqs[0].Page != 0 {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestService_MyTweets_CachedPerKey(t *testing.T) {
	f := &mockFetcher{fetchFn: pagesOf(3)}
	svc, _ := newTestService(f, time.Hour)
	ctx := context.Background()
	user := &model.User{UID: "uid-1"}

	p1, _ := svc.MyTweets(ctx, user, "profile", 10)
	p2, _ := svc.MyTweets(ctx, user, "profile", 10)
	p3, _ := svc.MyTweets(ctx, user, "home", 10)

	if p1 != p2 {
		t.Error("same key should return the cached pager")
	}
	if p1 == p3 {
		t.Error("different pageName should use a different pager")
	}
	if got := len(f.requested()); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

func TestService_MyTweets_StaleHitRefreshesInBackground(t *testing.T) {
	f := &mockFetcher{fetchFn: pagesOf(3)}
	svc, cache := newTestService(f, 0)
	ctx := context.Background()
	user := &model.User{UID: "uid-1"}

	p1, _ := svc.MyTweets(ctx, user, "profile", 10)
	p2, err := svc.MyTweets(ctx, user, "profile", 10)
	if err != nil {
		t.Fatalf("MyTweets() error = %v", err)
	}
	cache.Wait()

	if p1 != p2 {
		t.Error("stale hit should return the cached pager")
	}
	if got := len(f.requested()); got != 2 {
		t.Errorf("requests = %d, want 2 (initial + background refresh)", got)
	}
}

func TestService_MyTweets_Validation(t *testing.T) {
	svc, _ := newTestService(&mockFetcher{}, time.Hour)
	ctx := context.Background()

	if _, err := svc.MyTweets(ctx, nil, "home", 10); err == nil {
		t.Error("nil user should be rejected")
	}
	if _, err := svc.MyTweets(ctx, &model.User{}, "home", 10); err == nil {
		t.Error("empty uid should be rejected")
	}
	if _, err := svc.MyTweets(ctx, &model.User{UID: "u"}, "home", 0); err == nil {
		t.Error("zero size should be rejected")
	}
}

func TestService_MyTweets_FirstPageError(t *testing.T) {
	f := &mockFetcher{fetchFn: func(req model.TweetPageRequest) (*model.TweetPage, error) {
		return nil, errors.New("backend down")
	}}
	svc, cache := newTestService(f, time.Hour)

	if _, err := svc.MyTweets(context.Background(), &model.User{UID: "u"}, "home", 10); err == nil {
		t.Fatal("expected error")
	}
	if cache.Len() != 0 {
		t.Error("failed pager must not be cached")
	}
}

func TestService_Invalidate(t *testing.T) {
	f := &mockFetcher{fetchFn: pagesOf(3)}
	svc, cache := newTestService(f, time.Hour)
	ctx := context.Background()

	svc.MyTweets(ctx, &model.User{UID: "a"}, "home", 10)
	svc.MyTweets(ctx, &model.User{UID: "a"}, "profile", 10)
	svc.MyTweets(ctx, &model.User{UID: "b"}, "home", 10)

	if n := svc.Invalidate("a"); n != 2 {
		t.Errorf("Invalidate() = %d, want 2", n)
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
}
