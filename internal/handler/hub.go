package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/chirp/internal/model"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 16
)

// 送信メッセージの種類
const (
	MessageSession  = "session"
	MessageNavigate = "navigate"
)

// pushMessage はWebSocketでUIに送るメッセージ。
type pushMessage struct {
	Type    string       `json:"type"`
	Session *sessionView `json:"session,omitempty"`
	To      string       `json:"to,omitempty"`
}

// SessionSubscriber はセッションの変更通知を購読できる。
type SessionSubscriber interface {
	SessionReader
	Subscribe() (<-chan model.Session, func())
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub は接続中のUIにセッション変更と画面遷移要求を配信する。
// auth.Navigatorとしてブートストラップに渡す。
type Hub struct {
	sessions SessionSubscriber
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewHub はHubを生成する。allowedOriginが空でなければ、それ以外のOriginからの接続を拒否する。
func NewHub(sessions SessionSubscriber, allowedOrigin string, logger *slog.Logger) *Hub {
	h := &Hub{
		sessions: sessions,
		logger:   logger,
		clients:  make(map[*wsClient]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return checkOrigin(r, allowedOrigin)
		},
	}
	return h
}

// Run はセッションの変更を購読して全クライアントに配信する。
// ctxがキャンセルされると全接続を閉じて戻る。
func (h *Hub) Run(ctx context.Context) {
	ch, cancel := h.sessions.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case _, ok := <-ch:
			if !ok {
				h.closeAll()
				return
			}
			h.mu.Lock()
			h.pushSessionLocked()
			h.mu.Unlock()
		}
	}
}

// Navigate はUIに画面遷移を要求する。
// 遷移要求の直前に現在のセッションを送る。
func (h *Hub) Navigate(to string) {
	h.logger.Debug("画面遷移を要求します", slog.String("to", to))

	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushSessionLocked()
	h.sendLocked(pushMessage{Type: MessageNavigate, To: to})
}

// ClientCount は接続中のクライアント数を返す。
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS はWebSocket接続を受け付け、現在のセッションを送ってから配信対象に加える。
// GET /shell/ws
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocketへのアップグレードに失敗しました", slog.String("error", err.Error()))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.Info("WebSocketクライアントが接続しました", slog.String("remote", r.RemoteAddr))

	go h.writeLoop(c)
	h.readLoop(c)
}

// register は現在のセッションを最初のメッセージとして積んでから配信対象に加える。
// 配信と同じロックの下で行うため、登録前後の更新を取りこぼさない。
func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	v := newSessionView(h.sessions.Snapshot())
	initial, err := json.Marshal(pushMessage{Type: MessageSession, Session: &v})
	if err != nil {
		h.logger.Error("配信メッセージのエンコードに失敗しました", slog.String("error", err.Error()))
		return false
	}
	c.send <- initial
	h.clients[c] = struct{}{}
	return true
}

// unregister はクライアントを外して送信チャネルを閉じる。二重に呼んでもよい。
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// pushSessionLocked は通知時点ではなく送信時点のセッションを配信する。
// h.muを保持して呼ぶこと。
func (h *Hub) pushSessionLocked() {
	v := newSessionView(h.sessions.Snapshot())
	h.sendLocked(pushMessage{Type: MessageSession, Session: &v})
}

// sendLocked は全クライアントにmsgを送る。h.muを保持して呼ぶこと。
func (h *Hub) sendLocked(msg pushMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("配信メッセージのエンコードに失敗しました", slog.String("error", err.Error()))
		return
	}

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// 受信が追いつかないクライアントは切断する
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("送信バッファが溢れたためWebSocketクライアントを切断しました")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// readLoop はクライアントからの切断とpongを待つ。UIからのメッセージは使わない。
func (h *Hub) readLoop(c *wsClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.logger.Info("WebSocketクライアントが切断しました")
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// checkOrigin はOriginヘッダーが無いか、許可オリジンか、同一ホストであれば許可する。
func checkOrigin(r *http.Request, allowedOrigin string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == allowedOrigin {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
