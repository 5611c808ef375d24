package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/chirp/internal/backend"
	"github.com/hitoshi/chirp/internal/middleware"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/tweets"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxPagesPerCall = 20
)

// TweetsServiceInterface はツイート一覧ハンドラーが必要とするサービス。
type TweetsServiceInterface interface {
	MyTweets(ctx context.Context, user *model.User, pageName string, size int) (*tweets.Pager, error)
}

// ContentSanitizer はレスポンスに載せる本文と表示名を無害化する。
type ContentSanitizer interface {
	Sanitize(rawHTML string) string
	SanitizeText(raw string) string
}

// TweetsHandler はログイン中ユーザーのツイート一覧を返す。
type TweetsHandler struct {
	service   TweetsServiceInterface
	sanitizer ContentSanitizer
	logger    *slog.Logger
}

// NewTweetsHandler はTweetsHandlerを生成する。
func NewTweetsHandler(service TweetsServiceInterface, sanitizer ContentSanitizer, logger *slog.Logger) *TweetsHandler {
	return &TweetsHandler{service: service, sanitizer: sanitizer, logger: logger}
}

type myTweetsResponse struct {
	Pages       []model.TweetPage `json:"pages"`
	HasNextPage bool              `json:"hasNextPage"`
}

// Mine はページ単位のツイート一覧を先頭からpages件分返す。
// GET /api/tweets/mine?pageName=&size=&pages=
func (h *TweetsHandler) Mine(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	q := r.URL.Query()
	pageName := q.Get("pageName")
	if pageName == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("pageName is required"))
		return
	}
	size, err := intParam(q.Get("size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("size: "+err.Error()))
		return
	}
	pages, err := intParam(q.Get("pages"), 1, 1, maxPagesPerCall)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("pages: "+err.Error()))
		return
	}

	pager, err := h.service.MyTweets(r.Context(), user, pageName, size)
	if err == nil {
		err = pager.LoadUntil(r.Context(), pages)
	}
	if err != nil {
		h.logger.Warn("ツイート一覧の取得に失敗しました",
			slog.String("uid", user.UID),
			slog.String("page_name", pageName),
			slog.String("error", err.Error()),
		)
		handleServiceError(w, h.logger, tweetsError(err))
		return
	}

	loaded := pager.Pages()
	n := min(pages, len(loaded))
	resp := myTweetsResponse{
		Pages:       make([]model.TweetPage, 0, n),
		HasNextPage: len(loaded) > n || pager.HasNextPage(),
	}
	for _, p := range loaded[:n] {
		resp.Pages = append(resp.Pages, h.sanitizePage(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// sanitizePage はキャッシュ中のページを変更せずに、無害化したコピーを返す。
func (h *TweetsHandler) sanitizePage(p *model.TweetPage) model.TweetPage {
	out := model.TweetPage{
		PageNumber: p.PageNumber,
		IsLastPage: p.IsLastPage,
		Items:      make([]model.Tweet, len(p.Items)),
	}
	for i, t := range p.Items {
		t.Text = h.sanitizer.Sanitize(t.Text)
		t.DisplayName = h.sanitizer.SanitizeText(t.DisplayName)
		out.Items[i] = t
	}
	return out
}

func tweetsError(err error) error {
	switch {
	case errors.Is(err, tweets.ErrUnexpectedPage):
		return model.NewTweetsFetchFailedError(err.Error())
	case errors.Is(err, backend.ErrNotAuthenticated):
		return model.NewUnauthorizedError()
	case backend.IsTransient(err):
		return model.NewBackendUnavailableError()
	default:
		return model.NewTweetsFetchFailedError(err.Error())
	}
}

// intParam は整数クエリパラメータを読む。空ならdefを返す。
func intParam(raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	if v < lo || v > hi {
		return 0, errors.New("out of range " + strconv.Itoa(lo) + "-" + strconv.Itoa(hi))
	}
	return v, nil
}
