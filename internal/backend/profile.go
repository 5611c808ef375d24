package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
)

// Attachment はmultipartで送信する画像ファイル。
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ProfileForm は /updateProfile に送るフォーム。
// Attachmentが設定されている場合はattachmentUrlフィールドにファイルとして載せ、
// そうでなければAttachmentURLを文字列として載せる。
type ProfileForm struct {
	UID           string
	Name          string
	AttachmentURL string
	Attachment    *Attachment
}

// UpdateProfile はプロフィール更新をmultipart/form-dataで送信する。
// 2xx以外は*StatusErrorを返す。
func (c *Client) UpdateProfile(ctx context.Context, form ProfileForm) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("uid", form.UID); err != nil {
		return fmt.Errorf("failed to write uid field: %w", err)
	}
	if err := mw.WriteField("name", form.Name); err != nil {
		return fmt.Errorf("failed to write name field: %w", err)
	}
	if err := writeAttachment(mw, form); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/updateProfile", &buf)
	if err != nil {
		return fmt.Errorf("failed to create updateProfile request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(ctx, endpointUpdateProfile, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func writeAttachment(mw *multipart.Writer, form ProfileForm) error {
	if form.Attachment == nil {
		if err := mw.WriteField("attachmentUrl", form.AttachmentURL); err != nil {
			return fmt.Errorf("failed to write attachmentUrl field: %w", err)
		}
		return nil
	}

	filename := form.Attachment.Filename
	if filename == "" {
		filename = "attachment"
	}
	contentType := form.Attachment.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachmentUrl"; filename=%q`, filename))
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create attachment part: %w", err)
	}
	if _, err := part.Write(form.Attachment.Data); err != nil {
		return fmt.Errorf("failed to write attachment part: %w", err)
	}
	return nil
}
