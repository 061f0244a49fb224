package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var schemaTables = []string{
	`CREATE TABLE IF NOT EXISTS payments (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		order_ref VARCHAR(64) NOT NULL UNIQUE,
		user_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		method VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		gateway_token VARCHAR(200) NULL,
		fail_reason VARCHAR(512) NULL,
		cancel_reason VARCHAR(512) NULL,
		pending_key VARCHAR(64) NULL UNIQUE,
		approved_at {{ts}} NULL,
		canceled_at {{ts}} NULL,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_groups (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		order_ref VARCHAR(64) NOT NULL UNIQUE,
		user_id BIGINT NOT NULL,
		cart_ref VARCHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		group_id VARCHAR(36) NOT NULL,
		order_ref VARCHAR(64) NOT NULL,
		seller_id VARCHAR(64) NOT NULL,
		amount BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payment_status_history (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		order_ref VARCHAR(64) NOT NULL,
		from_status VARCHAR(16) NOT NULL,
		to_status VARCHAR(16) NOT NULL,
		reason VARCHAR(512) NOT NULL,
		source VARCHAR(16) NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_status_history (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		order_ref VARCHAR(64) NOT NULL,
		order_id VARCHAR(36) NOT NULL,
		from_status VARCHAR(16) NOT NULL,
		to_status VARCHAR(16) NOT NULL,
		reason VARCHAR(512) NOT NULL,
		source VARCHAR(16) NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		delivery_key VARCHAR(128) NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		order_ref VARCHAR(64) NULL,
		payload TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		error TEXT NULL,
		received_at {{ts}} NOT NULL,
		processed_at {{ts}} NULL
	)`,
}

var schemaIndexes = []string{
	`CREATE INDEX idx_payments_status_created ON payments (status, created_at)`,
	`CREATE INDEX idx_orders_order_ref ON orders (order_ref)`,
	`CREATE INDEX idx_payment_history_order_ref ON payment_status_history (order_ref)`,
	`CREATE INDEX idx_order_history_order_ref ON order_status_history (order_ref)`,
	`CREATE INDEX idx_webhook_events_status ON webhook_events (status, received_at)`,
}

// Migrate creates the tables and indexes. Running it again is harmless.
func (db *DB) Migrate(ctx context.Context) error {
	timestampType := "DATETIME(6)"
	if db.DriverName() == "postgres" {
		timestampType = "TIMESTAMPTZ"
	}

	for _, statement := range schemaTables {
		if _, err := db.ExecContext(ctx, strings.ReplaceAll(statement, "{{ts}}", timestampType)); err != nil {
			return errors.Wrap(err, "failed creating table")
		}
	}

	for _, statement := range schemaIndexes {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			if indexExists(err) {
				continue
			}
			return errors.Wrap(err, fmt.Sprintf("failed creating index: %s", statement))
		}
	}

	log.WithFields(log.Fields{
		"driver": db.DriverName(),
		"tables": len(schemaTables),
	}).Info("schema up to date")
	return nil
}

func indexExists(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateKeyName
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqDuplicateTable
	}
	return false
}
