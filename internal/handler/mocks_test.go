package handler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/profile"
	"github.com/hitoshi/chirp/internal/session"
	"github.com/hitoshi/chirp/internal/tweets"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// loggedInStore はログイン済みのsession.Storeを返す。
func loggedInStore(uid string) *session.Store {
	store := session.NewStore(newTestLogger())
	store.Dispatch(session.CookieVerified{
		User: &model.User{ID: "alice", UID: uid, DisplayName: "alice"},
		At:   time.Now(),
	})
	return store
}

// mockController はSessionControllerのモック。セッションは実際のsession.Storeで持つ。
type mockController struct {
	store *session.Store

	mu          sync.Mutex
	acceptFn    func(ctx context.Context, creds model.Credentials) (model.Session, error)
	accepted    []model.Credentials
	signOutErr  error
	signOutCall int
}

func (m *mockController) SetSigning(signing bool) model.Session {
	return m.store.Dispatch(session.SigningChanged{Signing: signing})
}

func (m *mockController) SetLoading(loading bool) model.Session {
	return m.store.Dispatch(session.LoadingChanged{Loading: loading})
}

func (m *mockController) AcceptCredentials(ctx context.Context, creds model.Credentials) (model.Session, error) {
	m.mu.Lock()
	m.accepted = append(m.accepted, creds)
	m.mu.Unlock()
	if m.acceptFn != nil {
		return m.acceptFn(ctx, creds)
	}
	return m.store.Snapshot(), nil
}

func (m *mockController) SignOut(ctx context.Context) error {
	m.mu.Lock()
	m.signOutCall++
	m.mu.Unlock()
	m.store.Dispatch(session.SignedOut{At: time.Now()})
	return m.signOutErr
}

type mockAuthService struct {
	loginURLFn func(state string) string
	callbackFn func(ctx context.Context, code string) (*model.ProviderIdentity, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.loginURLFn != nil {
		return m.loginURLFn(state)
	}
	return "https://accounts.example.com/auth?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.ProviderIdentity, error) {
	if m.callbackFn != nil {
		return m.callbackFn(ctx, code)
	}
	return &model.ProviderIdentity{UID: "g-1", DisplayName: "alice"}, nil
}

// mockPageFetcher はpages[i]をページiとして返す。
type mockPageFetcher struct {
	mu    sync.Mutex
	pages []*model.TweetPage
	err   error
	reqs  []model.TweetPageRequest
}

func (m *mockPageFetcher) GetMyTweets(ctx context.Context, req model.TweetPageRequest) (*model.TweetPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.pages[req.Page], nil
}

type mockTweetsService struct {
	fetcher *mockPageFetcher
	err     error
	calls   []string
}

func (m *mockTweetsService) MyTweets(ctx context.Context, user *model.User, pageName string, size int) (*tweets.Pager, error) {
	m.calls = append(m.calls, user.UID+"/"+pageName)
	if m.err != nil {
		return nil, m.err
	}
	p := tweets.NewPager(m.fetcher, user.UID, pageName, size)
	if _, err := p.Next(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

type mockProfileService struct {
	updateFn func(ctx context.Context, in profile.ProfileUpdate) (*profile.UpdateResult, error)
	inputs   []profile.ProfileUpdate
}

func (m *mockProfileService) Update(ctx context.Context, in profile.ProfileUpdate) (*profile.UpdateResult, error) {
	m.inputs = append(m.inputs, in)
	if m.updateFn != nil {
		return m.updateFn(ctx, in)
	}
	return &profile.UpdateResult{Name: in.Name, AttachmentSource: profile.SourceNone}, nil
}

// unauthStore は確認済みで未ログインのsession.Storeを返す。
func unauthStore() *session.Store {
	store := session.NewStore(newTestLogger())
	store.Dispatch(session.CookieRejected{})
	return store
}
