package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/chirp/internal/gate"
	"github.com/hitoshi/chirp/internal/middleware"
	"github.com/hitoshi/chirp/internal/model"
)

// SessionReader は現在のセッションを返す。
type SessionReader interface {
	Snapshot() model.Session
}

// SessionController はUIからのセッション操作を受け付ける。
type SessionController interface {
	SetSigning(signing bool) model.Session
	SetLoading(loading bool) model.Session
	AcceptCredentials(ctx context.Context, creds model.Credentials) (model.Session, error)
	SignOut(ctx context.Context) error
}

// ViewResolver はセッションと現在地から描画内容を決める。
type ViewResolver interface {
	Resolve(s model.Session, current, background string) gate.Rendering
}

// sessionView はセッションとゲート状態をまとめたレスポンス。
type sessionView struct {
	Session model.Session `json:"session"`
	State   gate.State    `json:"state"`
	Loading bool          `json:"loading"`
}

func newSessionView(s model.Session) sessionView {
	return sessionView{
		Session: s,
		State:   gate.StateOf(s),
		Loading: gate.ShowLoading(s),
	}
}

// ShellHandler はセッション状態と画面解決のハンドラー。
type ShellHandler struct {
	sessions SessionReader
	control  SessionController
	gate     ViewResolver
	logger   *slog.Logger
}

// NewShellHandler はShellHandlerを生成する。
func NewShellHandler(sessions SessionReader, control SessionController, resolver ViewResolver, logger *slog.Logger) *ShellHandler {
	return &ShellHandler{
		sessions: sessions,
		control:  control,
		gate:     resolver,
		logger:   logger,
	}
}

// Session は現在のセッションを返す。
// GET /shell/session
func (h *ShellHandler) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSessionView(h.sessions.Snapshot()))
}

// View は現在地に対して描画すべき画面を返す。リダイレクトは結果に含めるだけで追従しない。
// GET /shell/view?path=&background=
func (h *ShellHandler) View(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	current := q.Get("path")
	if current == "" {
		current = "/"
	}
	writeJSON(w, http.StatusOK, h.gate.Resolve(h.sessions.Snapshot(), current, q.Get("background")))
}

type signingRequest struct {
	Signing *bool `json:"signing"`
}

// Signing はサインアップフロー中フラグを設定する。
// POST /shell/signing {"signing":bool}
func (h *ShellHandler) Signing(w http.ResponseWriter, r *http.Request) {
	var req signingRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Signing == nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(`"signing" must be a boolean`))
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(h.control.SetSigning(*req.Signing)))
}

type loadingRequest struct {
	Loading *bool `json:"loading"`
}

// Loading はローディングオーバーレイ表示フラグを設定する。
// POST /shell/loading {"loading":bool}
func (h *ShellHandler) Loading(w http.ResponseWriter, r *http.Request) {
	var req loadingRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Loading == nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(`"loading" must be a boolean`))
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(h.control.SetLoading(*req.Loading)))
}
