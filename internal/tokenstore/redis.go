package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hitoshi/chirp/internal/model"
)

// errKeyNotFound はRedisにキーが存在しないことを示す。
var errKeyNotFound = errors.New("key not found")

// RedisClient はRedisStoreが必要とするRedis操作の部分集合。
// テスト時にフェイクへ差し替える。
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// goRedisClient はgo-redisをRedisClientに適合させる。
type goRedisClient struct {
	client *redis.Client
}

// NewRedisClient はgo-redisクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, addr, password string, db int) (RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &goRedisClient{client: client}, nil
}

func (r *goRedisClient) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", errKeyNotFound
	}
	return v, err
}

func (r *goRedisClient) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

func (r *goRedisClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	return r.client.TTL(ctx, key).Result()
}

func (r *goRedisClient) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *goRedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *goRedisClient) Close() error {
	return r.client.Close()
}

// RedisStore はRedisに認証情報を保存する。
// アクセストークンの有効期限はキーのTTLで表現する。
type RedisStore struct {
	client   RedisClient
	deviceID string
	logger   *slog.Logger
	now      Clock
}

// NewRedisStore はRedisStoreを生成する。キーはdeviceIDで名前空間を分ける。
func NewRedisStore(client RedisClient, deviceID string, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client:   client,
		deviceID: deviceID,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *RedisStore) accessKey() string {
	return fmt.Sprintf("chirp:%s:accessToken", s.deviceID)
}

func (s *RedisStore) refreshKey() string {
	return fmt.Sprintf("chirp:%s:refreshTokenId", s.deviceID)
}

// Load は保存済みの認証情報を読み出す。
// 期限切れのアクセストークンはRedis側でTTLにより消えている。
func (s *RedisStore) Load(ctx context.Context) (*model.Credentials, error) {
	creds := &model.Credentials{}

	access, err := s.client.Get(ctx, s.accessKey())
	switch {
	case errors.Is(err, errKeyNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to get access token: %w", err)
	default:
		creds.AccessToken = access
		ttl, err := s.client.TTL(ctx, s.accessKey())
		if err != nil {
			return nil, fmt.Errorf("failed to get access token ttl: %w", err)
		}
		if ttl > 0 {
			creds.Expiry = s.now().Add(ttl)
		}
	}

	refresh, err := s.client.Get(ctx, s.refreshKey())
	switch {
	case errors.Is(err, errKeyNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to get refresh token id: %w", err)
	default:
		creds.RefreshTokenID = refresh
	}

	if creds.AccessToken == "" && creds.RefreshTokenID == "" {
		return nil, ErrNotFound
	}
	return creds, nil
}

// SaveAccessToken はアクセストークンをTTL付きで保存する。
// 既に期限を過ぎたexpiryが渡された場合はキーを削除する。
func (s *RedisStore) SaveAccessToken(ctx context.Context, token string, expiry time.Time) error {
	ttl := expiry.Sub(s.now())
	if ttl <= 0 {
		if err := s.client.Del(ctx, s.accessKey()); err != nil {
			return fmt.Errorf("failed to delete expired access token: %w", err)
		}
		return nil
	}

	if err := s.client.Set(ctx, s.accessKey(), token, ttl); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	s.logger.Debug("アクセストークンを保存しました",
		slog.String("token", redact(token)),
		slog.Duration("ttl", ttl),
	)
	return nil
}

// SaveCredentials はアクセストークンとリフレッシュトークンIDを保存する。
// リフレッシュトークンIDには有効期限を設けない。
func (s *RedisStore) SaveCredentials(ctx context.Context, creds model.Credentials) error {
	if err := s.client.Set(ctx, s.refreshKey(), creds.RefreshTokenID, 0); err != nil {
		return fmt.Errorf("failed to save refresh token id: %w", err)
	}
	return s.SaveAccessToken(ctx, creds.AccessToken, creds.Expiry)
}

// Clear は両方のキーを削除する。
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.accessKey(), s.refreshKey()); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
