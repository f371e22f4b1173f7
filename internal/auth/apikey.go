/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/bifrost_player/internal/models"
)

// APIKeyPrefix starts every plaintext key so a leaked key is easy to
// recognise in logs and secret scanners.
const APIKeyPrefix = "bf_"

// apiKeyRandomLen is the number of random bytes behind each key, hex
// encoded into the plaintext.
const apiKeyRandomLen = 24

// APIKeyExpirationOptions lists the key lifetimes the control API
// accepts, in days.
var APIKeyExpirationOptions = []int{30, 90, 180, 365}

var (
	ErrAPIKeyNotFound   = errors.New("api key not found")
	ErrAPIKeyExpired    = errors.New("api key expired")
	ErrAPIKeyRevoked    = errors.New("api key revoked")
	ErrListenerNotFound = errors.New("listener not found")
)

// ValidAPIKeyTTL reports whether days is one of APIKeyExpirationOptions.
func ValidAPIKeyTTL(days int) bool {
	return slices.Contains(APIKeyExpirationOptions, days)
}

// hashKey is the storage form of a plaintext key. Only the hash ever
// touches the database.
func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey mints a key for a listener and returns the plaintext
// alongside the unsaved row. Callers persist the row and show the
// plaintext exactly once.
func GenerateAPIKey(listenerID, name string, expiresIn time.Duration) (string, *models.APIKey, error) {
	raw := make([]byte, apiKeyRandomLen)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	plaintext := APIKeyPrefix + hex.EncodeToString(raw)

	key := &models.APIKey{
		ID:         uuid.NewString(),
		ListenerID: listenerID,
		Name:       name,
		KeyHash:    hashKey(plaintext),
		KeyPrefix:  plaintext[:len(APIKeyPrefix)+8],
		ExpiresAt:  time.Now().Add(expiresIn),
	}
	return plaintext, key, nil
}

// ValidateAPIKey resolves a plaintext key to claims for its owner and
// stamps the key's last use.
func ValidateAPIKey(db *gorm.DB, plaintext string) (*Claims, error) {
	var key models.APIKey
	err := db.Preload("Listener").Where("key_hash = ?", hashKey(plaintext)).First(&key).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrAPIKeyNotFound
	case err != nil:
		return nil, err
	case key.RevokedAt != nil:
		return nil, ErrAPIKeyRevoked
	case time.Now().After(key.ExpiresAt):
		return nil, ErrAPIKeyExpired
	case key.Listener.ID == "":
		return nil, ErrListenerNotFound
	}

	// Best effort, off the request path.
	go db.Model(&models.APIKey{}).Where("id = ?", key.ID).Update("last_used_at", time.Now())

	return &Claims{ListenerID: key.Listener.ID, DisplayName: key.Listener.DisplayName}, nil
}

// RevokeAPIKey soft deletes one of the listener's own keys. Unknown or
// foreign key IDs report ErrAPIKeyNotFound.
func RevokeAPIKey(db *gorm.DB, keyID, listenerID string) error {
	res := db.Model(&models.APIKey{}).
		Where("id = ? AND listener_id = ?", keyID, listenerID).
		Update("revoked_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// ListAPIKeys returns the listener's keys, newest first.
func ListAPIKeys(db *gorm.DB, listenerID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := db.Where("listener_id = ?", listenerID).Order("created_at DESC").Find(&keys).Error
	return keys, err
}
