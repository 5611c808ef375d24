// Package session はクライアントのセッション状態ストアを提供する。
//
// 状態はDispatchに渡したActionでのみ変更され、変更後のスナップショットは
// 購読者へバッファ付きチャネルで配信される。購読者が遅い場合は最新の
// スナップショットだけが残り、Dispatchはブロックしない。
package session

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/chirp/internal/model"
)

// Store はセッション状態を保持する。ゼロ値ではなくNewStoreで生成する。
type Store struct {
	mu     sync.Mutex
	state  model.Session
	subs   map[int]chan model.Session
	nextID int
	logger *slog.Logger
}

// NewStore は初期状態（全フラグfalse、ユーザーなし）のStoreを生成する。
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		subs:   make(map[int]chan model.Session),
		logger: logger,
	}
}

// Snapshot は現在の状態のコピーを返す。
func (s *Store) Snapshot() model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch はアクションを適用し、適用後の状態を返す。
// 状態が変化した場合のみ購読者へ通知する。
func (s *Store) Dispatch(a Action) model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	a.apply(&s.state)
	// Checkedは一度trueになったら戻さない
	if prev.Checked {
		s.state.Checked = true
	}

	next := s.state
	if !changed(prev, next) {
		return next
	}

	s.logger.Debug("セッション状態を更新しました",
		slog.String("action", a.Name()),
		slog.Bool("logged_in", next.LoggedIn),
		slog.Bool("social", next.Social),
		slog.Bool("checked", next.Checked),
		slog.Bool("signing", next.Signing),
		slog.String("source", string(next.Source)),
	)

	for _, ch := range s.subs {
		publish(ch, next)
	}
	return next
}

// Subscribe は状態変更の通知チャネルと購読解除関数を返す。
// チャネルには購読時点のスナップショットが最初に入る。
func (s *Store) Subscribe() (<-chan model.Session, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan model.Session, 1)
	ch <- s.state
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// publish はバッファに残った古いスナップショットを捨ててから送信する。
// 呼び出し側でs.muを保持していること。
func publish(ch chan model.Session, v model.Session) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

func changed(a, b model.Session) bool {
	return a.LoggedIn != b.LoggedIn ||
		a.Social != b.Social ||
		a.Checked != b.Checked ||
		a.Loading != b.Loading ||
		a.Signing != b.Signing ||
		a.User != b.User ||
		a.Source != b.Source ||
		!a.IdentityAt.Equal(b.IdentityAt) ||
		a.LastError != b.LastError
}
