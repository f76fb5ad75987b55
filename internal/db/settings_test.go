package db

import (
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/nebari-dev/labgate/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestGetOrCreateServerID_CreatesNewID(t *testing.T) {
	db := setupTestDB(t)

	serverID, err := GetOrCreateServerID(db)
	if err != nil {
		t.Fatalf("GetOrCreateServerID failed: %v", err)
	}
	if _, err := uuid.Parse(serverID); err != nil {
		t.Errorf("server ID is not a valid UUID: %v", err)
	}

	stored, err := GetSetting(db, models.ServerConfigKeyServerID)
	if err != nil {
		t.Fatalf("GetSetting failed: %v", err)
	}
	if stored != serverID {
		t.Errorf("stored server ID mismatch: got %s, want %s", stored, serverID)
	}
}

func TestGetOrCreateServerID_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	id1, err := GetOrCreateServerID(db)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	id2, err := GetOrCreateServerID(db)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("server ID changed between calls: %s, %s", id1, id2)
	}
}

func TestGetSetting_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := GetSetting(db, models.ServerConfigKeyLastAutocheck)
	if !errors.Is(err, ErrSettingNotFound) {
		t.Errorf("expected ErrSettingNotFound, got %v", err)
	}
}

func TestPutSetting_Overwrites(t *testing.T) {
	db := setupTestDB(t)

	if err := PutSetting(db, models.ServerConfigKeyLastAutocheck, "first"); err != nil {
		t.Fatalf("PutSetting failed: %v", err)
	}
	if err := PutSetting(db, models.ServerConfigKeyLastAutocheck, "second"); err != nil {
		t.Fatalf("PutSetting overwrite failed: %v", err)
	}

	got, err := GetSetting(db, models.ServerConfigKeyLastAutocheck)
	if err != nil {
		t.Fatalf("GetSetting failed: %v", err)
	}
	if got != "second" {
		t.Errorf("expected overwritten value, got %q", got)
	}

	var count int64
	db.Model(&models.ServerConfig{}).Count(&count)
	if count != 1 {
		t.Errorf("expected a single settings row, got %d", count)
	}
}

func TestCreateDefaultAdmin(t *testing.T) {
	db := setupTestDB(t)
	t.Setenv("ADMIN_EMAIL", "root@example.com")
	t.Setenv("ADMIN_PASSWORD", "s3cret!")

	if err := CreateDefaultAdmin(db); err != nil {
		t.Fatalf("CreateDefaultAdmin failed: %v", err)
	}
	// second call must not create another admin
	if err := CreateDefaultAdmin(db); err != nil {
		t.Fatalf("second CreateDefaultAdmin failed: %v", err)
	}

	var users []models.User
	db.Find(&users)
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Role != models.RoleAdmin {
		t.Errorf("expected admin role, got %q", users[0].Role)
	}
	if users[0].PasswordHash == "s3cret!" {
		t.Error("password stored in clear text")
	}
}

func TestCreateDefaultAdmin_SkipsWithoutCredentials(t *testing.T) {
	db := setupTestDB(t)
	t.Setenv("ADMIN_EMAIL", "")
	t.Setenv("ADMIN_PASSWORD", "")

	if err := CreateDefaultAdmin(db); err != nil {
		t.Fatalf("CreateDefaultAdmin failed: %v", err)
	}
	var count int64
	db.Model(&models.User{}).Count(&count)
	if count != 0 {
		t.Errorf("expected no users, got %d", count)
	}
}
