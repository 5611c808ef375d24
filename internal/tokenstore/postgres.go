package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/chirp/internal/model"
)

// PostgresStore はPostgreSQLのcredentialsテーブルに認証情報を保存する。
// 1デバイスにつき1行を持つ。
type PostgresStore struct {
	db       *sql.DB
	deviceID string
	now      Clock
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB, deviceID string) *PostgresStore {
	return &PostgresStore{db: db, deviceID: deviceID, now: time.Now}
}

// Load は保存済みの認証情報を読み出す。
func (s *PostgresStore) Load(ctx context.Context) (*model.Credentials, error) {
	var (
		access    sql.NullString
		expiresAt sql.NullTime
		refresh   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, access_expires_at, refresh_token_id
		 FROM credentials
		 WHERE device_id = $1`,
		s.deviceID,
	).Scan(&access, &expiresAt, &refresh)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	creds := &model.Credentials{
		AccessToken:    access.String,
		RefreshTokenID: refresh.String,
	}
	if expiresAt.Valid {
		creds.Expiry = expiresAt.Time
	}
	if !creds.HasAccessToken(s.now()) {
		creds.AccessToken = ""
		creds.Expiry = time.Time{}
	}
	if creds.AccessToken == "" && creds.RefreshTokenID == "" {
		return nil, ErrNotFound
	}
	return creds, nil
}

// SaveAccessToken はアクセストークンを有効期限付きで保存する。
func (s *PostgresStore) SaveAccessToken(ctx context.Context, token string, expiry time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (device_id, access_token, access_expires_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (device_id) DO UPDATE
		 SET access_token = EXCLUDED.access_token,
		     access_expires_at = EXCLUDED.access_expires_at,
		     updated_at = EXCLUDED.updated_at`,
		s.deviceID, token, expiry, s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	return nil
}

// SaveCredentials はアクセストークンとリフレッシュトークンIDを保存する。
func (s *PostgresStore) SaveCredentials(ctx context.Context, creds model.Credentials) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (device_id, access_token, access_expires_at, refresh_token_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (device_id) DO UPDATE
		 SET access_token = EXCLUDED.access_token,
		     access_expires_at = EXCLUDED.access_expires_at,
		     refresh_token_id = EXCLUDED.refresh_token_id,
		     updated_at = EXCLUDED.updated_at`,
		s.deviceID, creds.AccessToken, creds.Expiry, creds.RefreshTokenID, s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// Clear はデバイスの行を削除する。
func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE device_id = $1`,
		s.deviceID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
