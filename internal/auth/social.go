package auth

import (
	"sync"

	"github.com/hitoshi/chirp/internal/model"
)

// SocialHub はIdPのauth-stateストリーム。
// 購読直後に現在の本人情報（未ログインならnil）を1回通知し、以後は変化のたびに通知する。
type SocialHub struct {
	mu      sync.Mutex
	current *model.ProviderIdentity
	subs    map[int]chan *model.ProviderIdentity
	nextID  int
}

// NewSocialHub は本人情報なしの状態でSocialHubを生成する。
func NewSocialHub() *SocialHub {
	return &SocialHub{subs: make(map[int]chan *model.ProviderIdentity)}
}

// Publish は本人情報を更新して購読者に通知する。nilはサインアウトを表す。
func (h *SocialHub) Publish(ident *model.ProviderIdentity) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ident != nil {
		cp := *ident
		ident = &cp
	}
	h.current = ident
	for _, ch := range h.subs {
		sendLatest(ch, ident)
	}
}

// SignOut はIdPからサインアウトする。
func (h *SocialHub) SignOut() {
	h.Publish(nil)
}

// Subscribe はauth-stateストリームを購読する。
// 遅い購読者には最新の通知だけが残る。
func (h *SocialHub) Subscribe() (<-chan *model.ProviderIdentity, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan *model.ProviderIdentity, 1)
	ch <- h.current
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func sendLatest(ch chan *model.ProviderIdentity, v *model.ProviderIdentity) {
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
