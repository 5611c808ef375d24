package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/chirp/internal/backend"
	"github.com/hitoshi/chirp/internal/middleware"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/profile"
)

// ProfileServiceInterface はプロフィール更新ハンドラーが必要とするサービス。
type ProfileServiceInterface interface {
	Update(ctx context.Context, in profile.ProfileUpdate) (*profile.UpdateResult, error)
}

// ProfileHandler はプロフィール更新のハンドラー。
type ProfileHandler struct {
	service       ProfileServiceInterface
	maxAttachment int64
	logger        *slog.Logger
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface, maxAttachment int64, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{service: service, maxAttachment: maxAttachment, logger: logger}
}

// Update はmultipartフォームでプロフィールを更新する。uidはセッションのユーザーから取る。
// POST /api/profile  name, attachment(ファイル) または attachmentUrl
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxAttachment+maxJSONBodySize)
	if err := r.ParseMultipartForm(h.maxAttachment); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewInvalidProfileError("attachment is too large"))
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("multipart form expected"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	in := profile.ProfileUpdate{
		UID:           user.UID,
		Name:          r.FormValue("name"),
		AttachmentURL: r.FormValue("attachmentUrl"),
	}

	file, header, err := r.FormFile("attachment")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, h.maxAttachment+1))
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("failed to read attachment"))
			return
		}
		if int64(len(data)) > h.maxAttachment {
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewInvalidProfileError("attachment is too large"))
			return
		}
		in.Attachment = &backend.Attachment{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}
	case errors.Is(err, http.ErrMissingFile):
	default:
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("invalid attachment"))
		return
	}

	res, err := h.service.Update(r.Context(), in)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
