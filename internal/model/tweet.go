package model

import "time"

// Tweet は一覧APIが返すツイート1件を表す。
// サーバーが返すフィールドのうち、シェルが参照するものだけを保持する。
type Tweet struct {
	ID            string    `json:"id"`
	UID           string    `json:"uid"`
	DisplayName   string    `json:"displayName"`
	PhotoURL      string    `json:"photoURL"`
	Text          string    `json:"text"`
	AttachmentURL string    `json:"attachmentUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	Likes         []string  `json:"likes,omitempty"`
}

// TweetPage は1回のページ取得結果。生成後に変更されることはない。
type TweetPage struct {
	Items      []Tweet `json:"items"`
	PageNumber int     `json:"pageNumber"`
	IsLastPage bool    `json:"isLastPage"`
}

// TweetPageRequest は /getMyTweets のリクエストボディ。
type TweetPageRequest struct {
	UserID   string `json:"userId"`
	PageName string `json:"pageName"`
	Page     int    `json:"page"`
	Size     int    `json:"size"`
}
