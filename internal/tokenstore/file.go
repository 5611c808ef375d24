package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hitoshi/chirp/internal/model"
)

const credentialsFileName = "credentials.json"

// credentialsFile はファイルに保存するJSONの形式。
type credentialsFile struct {
	AccessToken    string    `json:"accessToken,omitempty"`
	ExpiresAt      time.Time `json:"expiresAt,omitempty"`
	RefreshTokenID string    `json:"refreshTokenId,omitempty"`
}

// FileStore は状態ディレクトリ配下のJSONファイルに認証情報を保存する。
// ファイルは0600、ディレクトリは0700で作成する。
type FileStore struct {
	path   string
	logger *slog.Logger
	now    Clock

	mu sync.Mutex
}

// NewFileStore はdir配下にcredentials.jsonを保存するFileStoreを生成する。
func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	return &FileStore{
		path:   filepath.Join(dir, credentialsFileName),
		logger: logger,
		now:    time.Now,
	}
}

// Path は保存先ファイルのパスを返す。
func (s *FileStore) Path() string {
	return s.path
}

// Load は保存済みの認証情報を読み出す。
func (s *FileStore) Load(ctx context.Context) (*model.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cf, err := s.read()
	if err != nil {
		return nil, err
	}
	if cf.AccessToken == "" && cf.RefreshTokenID == "" {
		return nil, ErrNotFound
	}

	creds := &model.Credentials{
		AccessToken:    cf.AccessToken,
		RefreshTokenID: cf.RefreshTokenID,
		Expiry:         cf.ExpiresAt,
	}
	if !creds.HasAccessToken(s.now()) {
		creds.AccessToken = ""
		creds.Expiry = time.Time{}
	}
	return creds, nil
}

// SaveAccessToken はアクセストークンを有効期限付きで保存する。
func (s *FileStore) SaveAccessToken(ctx context.Context, token string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cf, err := s.read()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	cf.AccessToken = token
	cf.ExpiresAt = expiry

	if err := s.write(cf); err != nil {
		return err
	}
	s.logger.Debug("アクセストークンを保存しました",
		slog.String("token", redact(token)),
		slog.Time("expires_at", expiry),
	)
	return nil
}

// SaveCredentials はアクセストークンとリフレッシュトークンIDを保存する。
func (s *FileStore) SaveCredentials(ctx context.Context, creds model.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.write(credentialsFile{
		AccessToken:    creds.AccessToken,
		ExpiresAt:      creds.Expiry,
		RefreshTokenID: creds.RefreshTokenID,
	})
}

// Clear は認証情報ファイルを削除する。ファイルが無い場合もエラーにしない。
func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credentials file: %w", err)
	}
	return nil
}

func (s *FileStore) read() (credentialsFile, error) {
	var cf credentialsFile

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return cf, ErrNotFound
	}
	if err != nil {
		return cf, fmt.Errorf("failed to read credentials file: %w", err)
	}
	if err := json.Unmarshal(b, &cf); err != nil {
		return cf, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return cf, nil
}

// write は一時ファイルに書いてからrenameし、途中状態のファイルを残さない。
func (s *FileStore) write(cf credentialsFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	b, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace credentials file: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
