package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/bifrost_player/internal/models"
)

func setupAuthDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Listener{}, &models.APIKey{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

func seedListener(t *testing.T, db *gorm.DB, email string) models.Listener {
	t.Helper()
	listener := models.Listener{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: "Alex",
	}
	if err := db.Create(&listener).Error; err != nil {
		t.Fatalf("seed listener: %v", err)
	}
	return listener
}

func TestGenerateAndValidateAPIKey(t *testing.T) {
	db := setupAuthDB(t)
	listener := seedListener(t, db, "alex@example.com")

	plaintext, model, err := GenerateAPIKey(listener.ID, "announcer", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}

	if !strings.HasPrefix(plaintext, APIKeyPrefix) {
		t.Errorf("plaintext key %q missing %q prefix", plaintext, APIKeyPrefix)
	}
	if len(model.KeyPrefix) != 11 {
		t.Errorf("key prefix length = %d, want 11", len(model.KeyPrefix))
	}
	if model.KeyHash == plaintext || strings.Contains(model.KeyHash, plaintext) {
		t.Error("plaintext key stored instead of hash")
	}

	if err := db.Create(model).Error; err != nil {
		t.Fatalf("store key: %v", err)
	}

	claims, err := ValidateAPIKey(db, plaintext)
	if err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	if claims.ListenerID != listener.ID {
		t.Errorf("claims listener = %q, want %q", claims.ListenerID, listener.ID)
	}
	if claims.DisplayName != "Alex" {
		t.Errorf("claims display name = %q, want Alex", claims.DisplayName)
	}
}

func TestValidateAPIKeyUnknown(t *testing.T) {
	db := setupAuthDB(t)

	if _, err := ValidateAPIKey(db, "bf_deadbeef"); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Fatalf("error = %v, want ErrAPIKeyNotFound", err)
	}
}

func TestValidateAPIKeyRevoked(t *testing.T) {
	db := setupAuthDB(t)
	listener := seedListener(t, db, "alex@example.com")

	plaintext, model, err := GenerateAPIKey(listener.ID, "announcer", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if err := db.Create(model).Error; err != nil {
		t.Fatalf("store key: %v", err)
	}

	if err := RevokeAPIKey(db, model.ID, listener.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	if _, err := ValidateAPIKey(db, plaintext); !errors.Is(err, ErrAPIKeyRevoked) {
		t.Fatalf("error = %v, want ErrAPIKeyRevoked", err)
	}
}

func TestValidateAPIKeyExpired(t *testing.T) {
	db := setupAuthDB(t)
	listener := seedListener(t, db, "alex@example.com")

	plaintext, model, err := GenerateAPIKey(listener.ID, "announcer", -time.Hour)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if err := db.Create(model).Error; err != nil {
		t.Fatalf("store key: %v", err)
	}

	if _, err := ValidateAPIKey(db, plaintext); !errors.Is(err, ErrAPIKeyExpired) {
		t.Fatalf("error = %v, want ErrAPIKeyExpired", err)
	}
}

func TestRevokeAPIKeyRequiresOwnership(t *testing.T) {
	db := setupAuthDB(t)
	listener := seedListener(t, db, "alex@example.com")

	_, model, err := GenerateAPIKey(listener.ID, "announcer", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if err := db.Create(model).Error; err != nil {
		t.Fatalf("store key: %v", err)
	}

	if err := RevokeAPIKey(db, model.ID, uuid.NewString()); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Fatalf("revoke by non-owner: error = %v, want ErrAPIKeyNotFound", err)
	}
	if err := RevokeAPIKey(db, model.ID, listener.ID); err != nil {
		t.Fatalf("revoke by owner: %v", err)
	}
}
