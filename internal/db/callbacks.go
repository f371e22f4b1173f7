/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/bifrost_player/internal/telemetry"
)

const startTimeKey = "telemetry:start_time"

// RegisterCallbacks hooks query timing and error metrics into every
// gorm CRUD operation.
func RegisterCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	return errors.Join(
		cb.Query().Before("gorm:query").Register("telemetry:query_start", markStart),
		cb.Query().After("gorm:query").Register("telemetry:query_done", observe("query")),
		cb.Create().Before("gorm:create").Register("telemetry:create_start", markStart),
		cb.Create().After("gorm:create").Register("telemetry:create_done", observe("create")),
		cb.Update().Before("gorm:update").Register("telemetry:update_start", markStart),
		cb.Update().After("gorm:update").Register("telemetry:update_done", observe("update")),
		cb.Delete().Before("gorm:delete").Register("telemetry:delete_start", markStart),
		cb.Delete().After("gorm:delete").Register("telemetry:delete_done", observe("delete")),
	)
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

// observe builds the after hook for one operation kind. Record-not-found
// is a normal outcome and stays out of the error counter.
func observe(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(startTimeKey)
		if !ok {
			return
		}
		start, ok := v.(time.Time)
		if !ok {
			return
		}

		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}
		telemetry.DatabaseQueryDuration.WithLabelValues(op, table).Observe(time.Since(start).Seconds())

		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			telemetry.DatabaseErrorsTotal.WithLabelValues(op, "query_error").Inc()
		}
	}
}

// UpdateConnectionMetrics samples the connection pool gauge. The server
// calls this on a timer.
func UpdateConnectionMetrics(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
