package gate

import (
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
)

// View はルートセットの中で現在地にマッチした画面。
type View struct {
	Name    string            `json:"name"`
	Pattern string            `json:"pattern"`
	Path    string            `json:"path"`
	Params  map[string]string `json:"params,omitempty"`
	// RedirectTo が空でない場合、UIはこのパスへ置き換え遷移する。
	RedirectTo string `json:"redirectTo,omitempty"`
}

type route struct {
	pattern  string
	name     string
	redirect string
}

// RouteSet はchiのルーティングツリーで現在地を画面に解決する。
type RouteSet struct {
	name   string
	mux    *chi.Mux
	routes map[string]route
}

func newRouteSet(name string, routes ...route) *RouteSet {
	rs := &RouteSet{
		name:   name,
		mux:    chi.NewRouter(),
		routes: make(map[string]route, len(routes)),
	}
	noop := func(http.ResponseWriter, *http.Request) {}
	for _, r := range routes {
		rs.mux.Get(r.pattern, noop)
		rs.routes[r.pattern] = r
	}
	return rs
}

// Name はルートセット名を返す。
func (rs *RouteSet) Name() string {
	return rs.name
}

// Match はpを画面に解決する。どのルートにもマッチしなければnilを返す。
func (rs *RouteSet) Match(p string) *View {
	p = normalizePath(p)

	rctx := chi.NewRouteContext()
	if !rs.mux.Match(rctx, http.MethodGet, p) {
		return nil
	}
	r, ok := rs.routes[rctx.RoutePattern()]
	if !ok {
		return nil
	}

	v := &View{
		Name:       r.name,
		Pattern:    r.pattern,
		Path:       p,
		RedirectTo: r.redirect,
	}
	if n := len(rctx.URLParams.Keys); n > 0 {
		v.Params = make(map[string]string, n)
		for i, k := range rctx.URLParams.Keys {
			v.Params[k] = rctx.URLParams.Values[i]
		}
	}
	return v
}

// normalizePath はクエリとフラグメントを除き、先頭の/を補って正規化する。
func normalizePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// 画面名
const (
	ViewHome        = "home"
	ViewTweetDetail = "tweet_detail"
	ViewProfile     = "profile"
	ViewFollow      = "follow"
	ViewTweet       = "compose_tweet"
	ViewMention     = "compose_mention"
	ViewAuth        = "auth"
	ViewSignup      = "signup"
	ViewLogin       = "login"
	ViewRedirect    = "redirect"
)

func authenticatedMain() *RouteSet {
	return newRouteSet("authenticated",
		route{pattern: "/", name: ViewHome},
		route{pattern: "/{profile}/{tweetPath}", name: ViewTweetDetail},
		route{pattern: "/profile/{profile}", name: ViewProfile},
		route{pattern: "/profile/{profile}/follow", name: ViewFollow},
	)
}

func authenticatedOverlay() *RouteSet {
	return newRouteSet("authenticated_overlay",
		route{pattern: "/compose/tweet", name: ViewTweet},
		route{pattern: "/compose/mention", name: ViewMention},
	)
}

func unauthenticatedMain() *RouteSet {
	return newRouteSet("unauthenticated",
		route{pattern: "/", name: ViewAuth},
		route{pattern: "/signup", name: ViewSignup},
		route{pattern: "/login", name: ViewLogin},
		route{pattern: "/*", name: ViewRedirect, redirect: "/"},
	)
}

func unauthenticatedOverlay() *RouteSet {
	return newRouteSet("unauthenticated_overlay",
		route{pattern: "/signup", name: ViewSignup},
		route{pattern: "/login", name: ViewLogin},
		route{pattern: "/*", name: ViewRedirect, redirect: "/"},
	)
}
