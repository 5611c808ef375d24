package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/hitoshi/chirp/internal/database"
	"github.com/hitoshi/chirp/internal/model"
)

// PostgresStoreはStoreインターフェースを満たすことを検証
func TestPostgresStore_ImplementsInterface(t *testing.T) {
	var _ Store = (*PostgresStore)(nil)
}

func TestNewPostgresStore_Initializes(t *testing.T) {
	s := NewPostgresStore(nil, "device-1")
	if s == nil {
		t.Fatal("expected non-nil store")
	}
}

// setupPostgresStore はTEST_DATABASE_URLのDBにマイグレーションを適用してストアを返す。
// 接続できない場合はスキップする。
func setupPostgresStore(t *testing.T) (*PostgresStore, *sql.DB) {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := database.Ping(context.Background(), db); err != nil {
		db.Close()
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if _, err := database.RunMigrations(dbURL); err != nil {
		db.Close()
		t.Fatalf("RunMigrations: %v", err)
	}
	t.Cleanup(func() {
		db.Exec(`DELETE FROM credentials WHERE device_id LIKE 'test-%'`)
		db.Close()
	})

	return NewPostgresStore(db, "test-"+time.Now().Format("150405.000000")), db
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	s, _ := setupPostgresStore(t)
	ctx := context.Background()

	if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() on empty = %v, want ErrNotFound", err)
	}

	expiry := time.Now().Add(30 * time.Minute).Truncate(time.Microsecond)
	if err := s.SaveCredentials(ctx, model.Credentials{
		AccessToken:    "access-1",
		RefreshTokenID: "refresh-1",
		Expiry:         expiry,
	}); err != nil {
		t.Fatalf("SaveCredentials: %v", err)
	}
	if err := s.SaveAccessToken(ctx, "rotated", expiry); err != nil {
		t.Fatalf("SaveAccessToken: %v", err)
	}

	creds, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if creds.AccessToken != "rotated" || creds.RefreshTokenID != "refresh-1" {
		t.Errorf("Load() = %+v", creds)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after Clear = %v, want ErrNotFound", err)
	}
}
