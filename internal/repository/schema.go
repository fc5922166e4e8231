package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var remoteSchema = []string{
	`CREATE TABLE IF NOT EXISTS joy_moments (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL,
		content TEXT NOT NULL,
		date DATE NOT NULL,
		color TEXT NOT NULL CHECK (color IN ('yellow', 'mint', 'primary', 'blue')),
		image_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS joy_moments_user_created_idx ON joy_moments (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id UUID PRIMARY KEY,
		full_name TEXT,
		avatar_url TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

var localSchema = []string{
	`CREATE TABLE IF NOT EXISTS local_kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}

// EnsureRemoteSchema creates the record store tables if they do not exist
func EnsureRemoteSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range remoteSchema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply remote schema: %w", err)
		}
	}
	return nil
}

// EnsureLocalSchema creates the local key-value table if it does not exist
func EnsureLocalSchema(db *sql.DB) error {
	for _, stmt := range localSchema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply local schema: %w", err)
		}
	}
	return nil
}
