package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はユーザー入力とバックエンドから受け取った本文のサニタイズを行う。
type ContentSanitizerService interface {
	// Sanitize はツイート本文のHTMLを許可リストに沿ってサニタイズする。
	// 許可タグはp, br, a, ul, ol, li, blockquote, pre, code, strong, em, img。
	// imgのsrcはhttpsのみ。aにはtarget="_blank"とrel="noopener noreferrer"を付与する。
	Sanitize(rawHTML string) string
	// SanitizeText は表示名などのプレーンテキストからマークアップを全て取り除き、
	// 前後の空白を削る。
	SanitizeText(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使う。
type contentSanitizer struct {
	html *bluemonday.Policy
	text *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceを生成する。
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src").OnElements("img")
	p.AllowAttrs("alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return true
	})

	return &contentSanitizer{
		html: p,
		text: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.html.Sanitize(rawHTML)
}

// SanitizeText はタグを除去したテキストを返す。
// StrictPolicyはエスケープ済みのエンティティを返すため、表示名用に元の文字へ戻す。
func (s *contentSanitizer) SanitizeText(raw string) string {
	cleaned := s.text.Sanitize(raw)
	return strings.TrimSpace(unescaper.Replace(cleaned))
}

var unescaper = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&#34;", `"`,
	"&#39;", "'",
)
