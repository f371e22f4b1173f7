/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"github.com/friendsincode/bifrost_player/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	return database.AutoMigrate(
		// Accounts and access
		&models.Listener{},
		&models.APIKey{},

		// Player state singletons
		&models.PlayerSettings{},
		&models.ResumeState{},

		// Library and history
		&models.LibraryTrack{},
		&models.PlayHistory{},

		// Audit trail and outbound webhooks
		&models.AuditLog{},
		&models.WebhookTarget{},
		&models.WebhookLog{},
	)
}
