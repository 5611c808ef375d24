// Package profile はプロフィール更新（表示名と画像）を扱う。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/chirp/internal/backend"
	"github.com/hitoshi/chirp/internal/metrics"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/security"
)

// 添付画像の指定方法
const (
	SourceFile = "file"
	SourceURL  = "url"
	SourceNone = "none"
)

// ProfileUpdater はバックエンドの /updateProfile 呼び出しを抽象化する。
type ProfileUpdater interface {
	UpdateProfile(ctx context.Context, form backend.ProfileForm) error
}

// AttachmentFetcher はURL指定の画像を取得する。
type AttachmentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*security.FetchedAttachment, error)
}

// TextSanitizer は表示名からマークアップを取り除く。
type TextSanitizer interface {
	SanitizeText(raw string) string
}

// TweetsInvalidator は更新後に古くなったツイート一覧のキャッシュを破棄する。
type TweetsInvalidator interface {
	Invalidate(uid string) int
}

// ProfileUpdate はプロフィール更新の入力。
// 画像はAttachment（アップロードされたファイル）とAttachmentURLのどちらか一方のみ指定できる。
// 両方とも空の場合はattachmentUrlを空文字で送る。
type ProfileUpdate struct {
	UID           string              `validate:"required"`
	Name          string              `validate:"required,max=50"`
	AttachmentURL string              `validate:"omitempty,url,excluded_with=Attachment"`
	Attachment    *backend.Attachment
}

// UpdateResult はプロフィール更新の結果。
type UpdateResult struct {
	Name               string `json:"name"`
	AttachmentSource   string `json:"attachmentSource"`
	InvalidatedQueries int    `json:"invalidatedQueries"`
}

// Service はプロフィール更新のユースケースを実装する。
type Service struct {
	backend     ProfileUpdater
	fetcher     AttachmentFetcher
	sanitizer   TextSanitizer
	invalidator TweetsInvalidator
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	validate    *validator.Validate
}

// NewService はServiceを生成する。invalidatorとmはnilでもよい。
func NewService(
	updater ProfileUpdater,
	fetcher AttachmentFetcher,
	sanitizer TextSanitizer,
	invalidator TweetsInvalidator,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		backend:     updater,
		fetcher:     fetcher,
		sanitizer:   sanitizer,
		invalidator: invalidator,
		metrics:     m,
		logger:      logger,
		validate:    validator.New(),
	}
}

// Update は入力を検証し、必要ならURLの画像を取得してからバックエンドへ送信する。
// 失敗時は*model.APIErrorを返す。
func (s *Service) Update(ctx context.Context, in ProfileUpdate) (*UpdateResult, error) {
	in.Name = s.sanitizer.SanitizeText(in.Name)
	in.AttachmentURL = strings.TrimSpace(in.AttachmentURL)

	if err := s.validate.Struct(in); err != nil {
		s.metrics.RecordProfileUpdate("invalid")
		return nil, model.NewInvalidProfileError(describeValidation(err))
	}
	if in.Attachment != nil && len(in.Attachment.Data) == 0 {
		s.metrics.RecordProfileUpdate("invalid")
		return nil, model.NewInvalidProfileError("attachment is empty")
	}

	form := backend.ProfileForm{
		UID:        in.UID,
		Name:       in.Name,
		Attachment: in.Attachment,
	}
	source := SourceNone
	switch {
	case in.Attachment != nil:
		source = SourceFile
	case in.AttachmentURL != "":
		source = SourceURL
		att, err := s.fetcher.Fetch(ctx, in.AttachmentURL)
		if err != nil {
			s.metrics.RecordProfileUpdate("invalid")
			if errors.Is(err, security.ErrAttachmentBlocked) {
				return nil, model.NewAttachmentBlockedError()
			}
			s.logger.Warn("添付画像の取得に失敗しました",
				slog.String("uid", in.UID),
				slog.String("url", in.AttachmentURL),
				slog.String("error", err.Error()),
			)
			return nil, model.NewAttachmentFailedError(err.Error())
		}
		form.Attachment = &backend.Attachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Data:        att.Data,
		}
	}

	if err := s.backend.UpdateProfile(ctx, form); err != nil {
		s.metrics.RecordProfileUpdate("failed")
		s.logger.Error("プロフィールの更新に失敗しました",
			slog.String("uid", in.UID),
			slog.String("error", err.Error()),
		)
		var se *backend.StatusError
		if errors.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden) {
			return nil, model.NewUnauthorizedError()
		}
		if backend.IsTransient(err) {
			return nil, model.NewBackendUnavailableError()
		}
		return nil, model.NewProfileUpdateFailedError(err.Error())
	}

	result := &UpdateResult{Name: in.Name, AttachmentSource: source}
	if s.invalidator != nil {
		result.InvalidatedQueries = s.invalidator.Invalidate(in.UID)
	}
	s.metrics.RecordProfileUpdate("ok")
	s.logger.Info("プロフィールを更新しました",
		slog.String("uid", in.UID),
		slog.String("attachment", source),
	)
	return result, nil
}

// describeValidation は検証エラーを利用者向けの短い理由に変換する。
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	reasons := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.StructField() + "." + fe.Tag() {
		case "Name.required":
			reasons = append(reasons, "name is required")
		case "Name.max":
			reasons = append(reasons, "name must be at most 50 characters")
		case "AttachmentURL.url":
			reasons = append(reasons, "attachmentUrl must be a valid URL")
		case "AttachmentURL.excluded_with":
			reasons = append(reasons, "specify either a file or attachmentUrl, not both")
		case "UID.required":
			reasons = append(reasons, "uid is required")
		default:
			reasons = append(reasons, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(reasons, ", ")
}
