/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/friendsincode/bifrost_player/internal/models"
)

// ErrInvalidCredentials is returned for both unknown emails and wrong
// passwords so login failures don't reveal which one it was.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Login verifies listener credentials and returns session claims.
func Login(db *gorm.DB, email, password string) (*Claims, error) {
	var listener models.Listener
	if err := db.First(&listener, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(listener.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &Claims{
		ListenerID:  listener.ID,
		DisplayName: listener.DisplayName,
	}, nil
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
