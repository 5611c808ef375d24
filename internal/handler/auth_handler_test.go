package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/chirp/internal/auth"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/session"
)

func newTestAuthHandler(svc AuthServiceInterface, ctrl *mockController) *AuthHandler {
	return NewAuthHandler(svc, ctrl, AuthHandlerConfig{
		BaseURL:       "http://localhost:3000",
		GenerateState: func() (string, error) { return "state-123", nil },
	}, newTestLogger())
}

func postCredentials(h *AuthHandler, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.Credentials(w, httptest.NewRequest(http.MethodPost, "/auth/credentials", strings.NewReader(body)))
	return w
}

func TestAuthHandler_Credentials_LoggedIn(t *testing.T) {
	store := session.NewStore(newTestLogger())
	ctrl := &mockController{store: store}
	ctrl.acceptFn = func(ctx context.Context, creds model.Credentials) (model.Session, error) {
		return loggedInStore("uid-1").Snapshot(), nil
	}
	h := newTestAuthHandler(nil, ctrl)

	w := postCredentials(h, `{"accessToken":"tok","refreshTokenId":"rid"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", w.Code, w.Body.String())
	}
	if len(ctrl.accepted) != 1 || ctrl.accepted[0].AccessToken != "tok" || ctrl.accepted[0].RefreshTokenID != "rid" {
		t.Errorf("accepted = %+v", ctrl.accepted)
	}
	if v := decodeSessionView(t, w); !v.Session.LoggedIn {
		t.Error("LoggedIn = false")
	}
}

func TestAuthHandler_Credentials_Rejected(t *testing.T) {
	ctrl := &mockController{store: unauthStore()}
	h := newTestAuthHandler(nil, ctrl)

	w := postCredentials(h, `{"accessToken":"bad"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuthHandler_Credentials_RejectedWhileSocialLoggedIn(t *testing.T) {
	ctrl := &mockController{store: loggedInStore("g-1")}
	ctrl.acceptFn = func(ctx context.Context, creds model.Credentials) (model.Session, error) {
		return ctrl.store.Snapshot(), auth.ErrCredentialsRejected
	}
	h := newTestAuthHandler(nil, ctrl)

	w := postCredentials(h, `{"accessToken":"dead"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 (ログイン済みでも拒否されたトークンは成功にしない)", w.Code)
	}
}

func TestAuthHandler_Credentials_BackendUnavailable(t *testing.T) {
	store := session.NewStore(newTestLogger())
	ctrl := &mockController{store: store}
	ctrl.acceptFn = func(ctx context.Context, creds model.Credentials) (model.Session, error) {
		s := store.Dispatch(session.BootstrapFailed{Err: model.NewBackendUnavailableError().Message})
		return s, errors.New("token validation did not complete")
	}
	h := newTestAuthHandler(nil, ctrl)

	w := postCredentials(h, `{"accessToken":"tok"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestAuthHandler_Credentials_StoreFailure(t *testing.T) {
	ctrl := &mockController{store: session.NewStore(newTestLogger())}
	ctrl.acceptFn = func(ctx context.Context, creds model.Credentials) (model.Session, error) {
		return ctrl.store.Snapshot(), errors.New("failed to save credentials: disk full")
	}
	h := newTestAuthHandler(nil, ctrl)

	if w := postCredentials(h, `{"accessToken":"tok"}`); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestAuthHandler_Credentials_BadRequest(t *testing.T) {
	ctrl := &mockController{store: session.NewStore(newTestLogger())}
	h := newTestAuthHandler(nil, ctrl)

	for _, body := range []string{``, `{"accessToken":""}`, `not json`} {
		if w := postCredentials(h, body); w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
	if len(ctrl.accepted) != 0 {
		t.Error("不正なリクエストでAcceptCredentialsが呼ばれた")
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	ctrl := &mockController{store: loggedInStore("uid-1"), signOutErr: errors.New("clear failed")}
	h := newTestAuthHandler(nil, ctrl)

	w := httptest.NewRecorder()
	h.Logout(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if ctrl.signOutCall != 1 {
		t.Errorf("SignOut calls = %d, want 1", ctrl.signOutCall)
	}
	if ctrl.store.Snapshot().LoggedIn {
		t.Error("サインアウト後もLoggedIn")
	}
}

func TestAuthHandler_Login_SetsStateAndRedirects(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{}, &mockController{store: unauthStore()})

	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))

	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://accounts.example.com/auth?state=state-123" {
		t.Errorf("Location = %q", loc)
	}
	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == oauthStateCookie && c.Value == "state-123" && c.HttpOnly {
			found = true
		}
	}
	if !found {
		t.Error("stateクッキーが設定されていない")
	}
}

func TestAuthHandler_Callback(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		cookie     string
		callbackOK bool
		wantStatus int
	}{
		{"成功", "?code=abc&state=s1", "s1", true, http.StatusTemporaryRedirect},
		{"state不一致", "?code=abc&state=s1", "s2", true, http.StatusBadRequest},
		{"stateクッキーなし", "?code=abc&state=s1", "", true, http.StatusBadRequest},
		{"codeなし", "?state=s1", "s1", true, http.StatusBadRequest},
		{"交換失敗", "?code=abc&state=s1", "s1", false, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotCode string
			svc := &mockAuthService{callbackFn: func(ctx context.Context, code string) (*model.ProviderIdentity, error) {
				gotCode = code
				if !tt.callbackOK {
					return nil, errors.New("exchange failed")
				}
				return &model.ProviderIdentity{UID: "g-1"}, nil
			}}
			h := newTestAuthHandler(svc, &mockController{store: unauthStore()})

			req := httptest.NewRequest(http.MethodGet, "/auth/google/callback"+tt.query, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			h.Callback(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusTemporaryRedirect {
				if gotCode != "abc" {
					t.Errorf("code = %q, want abc", gotCode)
				}
				if loc := w.Header().Get("Location"); loc != "http://localhost:3000" {
					t.Errorf("Location = %q", loc)
				}
			}
		})
	}
}

func TestAuthHandler_SocialLoginDisabled(t *testing.T) {
	h := newTestAuthHandler(nil, &mockController{store: unauthStore()})

	for _, path := range []string{"/auth/google/login", "/auth/google/callback"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if strings.HasSuffix(path, "login") {
			h.Login(w, req)
		} else {
			h.Callback(w, req)
		}
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", path, w.Code)
		}
	}
}
