package store

import (
	"database/sql"
	"fmt"
	"sort"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the sqlite-backed persistence layer. Scheduling state lives in
// memory; the store exists so in-flight jobs survive a restart and so the
// dashboard can query history.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type migration struct {
	Version string
	SQL     string
}

var migrations = []migration{
	{
		Version: "001_render_jobs",
		SQL: `
			CREATE TABLE IF NOT EXISTS render_jobs (
				id TEXT PRIMARY KEY,
				batch_id TEXT NOT NULL,
				prompt TEXT NOT NULL,
				model TEXT NOT NULL DEFAULT '',
				duration_sec REAL NOT NULL DEFAULT 0,
				aspect_ratio TEXT NOT NULL DEFAULT '',
				loop_video INTEGER NOT NULL DEFAULT 0,
				provider_job_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'queued',
				error_message TEXT NOT NULL DEFAULT '',
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_render_jobs_status ON render_jobs(status);
			CREATE INDEX IF NOT EXISTS idx_render_jobs_batch ON render_jobs(batch_id);
		`,
	},
	{
		Version: "002_download_jobs",
		SQL: `
			CREATE TABLE IF NOT EXISTS download_jobs (
				job_id TEXT PRIMARY KEY,
				status TEXT NOT NULL DEFAULT 'pending',
				retry_count INTEGER NOT NULL DEFAULT 0,
				error_message TEXT NOT NULL DEFAULT '',
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
	{
		Version: "003_downloaded_assets",
		SQL: `
			CREATE TABLE IF NOT EXISTS downloaded_assets (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				job_id TEXT NOT NULL,
				batch_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				location TEXT NOT NULL,
				size_bytes INTEGER NOT NULL DEFAULT 0,
				version INTEGER NOT NULL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_downloaded_assets_job ON downloaded_assets(job_id);
		`,
	},
	{
		Version: "004_settings",
		SQL: `
			CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}

	pending := make([]migration, 0, len(migrations))
	for _, m := range migrations {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Version < pending[j].Version
	})

	for _, m := range pending {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}
	}

	return nil
}
