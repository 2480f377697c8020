package main

import (
	"database/sql"
	"log"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver
)

var db *sql.DB

func initDB() {
	// Get database URL from environment variable, fallback to default for development
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		connStr = "user=admin password=password dbname=sparkdb sslmode=disable"
		log.Default().Println("Warning: DATABASE_URL not set, using default connection string")
	}

	var err error
	db, err = sql.Open("postgres", connStr)
	if err != nil {
		log.Fatal("Error connecting to the database:", err)
	}
	err = db.Ping()
	if err != nil {
		log.Fatal("Cannot reach the database:", err)
	}
	log.Default().Println("Database connection established successfully")

	if err := ensureSchema(db); err != nil {
		log.Fatal("Error creating database schema:", err)
	}
}

// ensureSchema creates all tables on startup so a fresh database works without
// manual setup. Every statement is idempotent.
func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            SERIAL PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			tier          TEXT NOT NULL DEFAULT 'free',
			last_online   TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id       INT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			display_name  TEXT NOT NULL DEFAULT '',
			birth_date    DATE,
			gender        TEXT NOT NULL DEFAULT '',
			interested_in JSONB NOT NULL DEFAULT '[]',
			looking_for   JSONB NOT NULL DEFAULT '[]',
			interest_tags JSONB NOT NULL DEFAULT '[]',
			photos        JSONB NOT NULL DEFAULT '[]',
			location_lat  DOUBLE PRECISION,
			location_lon  DOUBLE PRECISION,
			rating        INT NOT NULL DEFAULT 0 CHECK (rating BETWEEN 0 AND 5),
			is_complete   BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS blocks (
			user_id         INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			blocked_user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, blocked_user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS interest_edges (
			actor_id   INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			target_id  INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			decision   TEXT NOT NULL CHECK (decision IN ('interested', 'passed')),
			decided_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (actor_id, target_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interest_edges_reciprocal
			ON interest_edges (target_id, actor_id) WHERE decision = 'interested'`,
		`CREATE TABLE IF NOT EXISTS matches (
			pair_key   TEXT PRIMARY KEY,
			user_lo    INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			user_hi    INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			name_lo    TEXT NOT NULL DEFAULT '',
			name_hi    TEXT NOT NULL DEFAULT '',
			photo_lo   TEXT NOT NULL DEFAULT '',
			photo_hi   TEXT NOT NULL DEFAULT '',
			unread_lo  INT NOT NULL DEFAULT 0,
			unread_hi  INT NOT NULL DEFAULT 0,
			CHECK (user_lo < user_hi)
		)`,
		`CREATE TABLE IF NOT EXISTS channels (
			pair_key   TEXT PRIMARY KEY REFERENCES matches(pair_key) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         BIGSERIAL PRIMARY KEY,
			pair_key   TEXT NOT NULL REFERENCES channels(pair_key) ON DELETE CASCADE,
			sender_id  INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			body       TEXT NOT NULL,
			is_read    BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair_created
			ON messages (pair_key, created_at)`,
		`CREATE TABLE IF NOT EXISTS swipe_quota (
			user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			day     DATE NOT NULL,
			count   INT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, day)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
