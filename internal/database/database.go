package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a sql.DB connection with funknet-specific setup.
type DB struct {
	*sql.DB
}

// Open creates or opens the SQLite database at the given data directory
// with WAL mode enabled and runs any pending migrations.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "funkd.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dbPath)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// SQLite performs best with a single writer connection.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB}

	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("database opened", "path", dbPath)
	return db, nil
}

// migrate runs all pending SQL migration files in order.
func (db *DB) migrate() error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}

// publicChannels and restrictedChannels define the fixed channel plan.
// 41 is the convention-defined emergency/common channel; every client
// keeps a parallel session on it.
var (
	publicChannels     = []int{41, 42, 43}
	restrictedChannels = func() []int {
		var chs []int
		for c := 51; c <= 69; c++ {
			chs = append(chs, c)
		}
		return chs
	}()
)

// AllChannels returns the full channel plan, public then restricted.
func AllChannels() []int {
	return append(append([]int{}, publicChannels...), restrictedChannels...)
}

// EnsureDefaults seeds the channel plan and, when no funk users exist,
// creates a bootstrap admin user with a generated funk key. The key is
// logged exactly once; there is no way to read it back later.
func (db *DB) EnsureDefaults(ctx context.Context) error {
	var chCount int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM channels").Scan(&chCount); err != nil {
		return fmt.Errorf("counting channels: %w", err)
	}
	if chCount == 0 {
		for _, c := range publicChannels {
			if _, err := db.ExecContext(ctx,
				`INSERT INTO channels (id, name, restricted) VALUES (?, ?, 0)`,
				c, fmt.Sprintf("Common %d", c-40)); err != nil {
				return fmt.Errorf("seeding channel %d: %w", c, err)
			}
		}
		for _, c := range restrictedChannels {
			if _, err := db.ExecContext(ctx,
				`INSERT INTO channels (id, name, restricted) VALUES (?, ?, 1)`,
				c, fmt.Sprintf("Channel %d", c)); err != nil {
				return fmt.Errorf("seeding channel %d: %w", c, err)
			}
		}
		slog.Info("seeded channel plan",
			"public", len(publicChannels),
			"restricted", len(restrictedChannels),
		)
	}

	var userCount int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&userCount); err != nil {
		return fmt.Errorf("counting users: %w", err)
	}
	if userCount == 0 {
		key, err := GenerateFunkKey()
		if err != nil {
			return err
		}
		all := AllChannels()
		parts := make([]string, len(all))
		for i, c := range all {
			parts[i] = fmt.Sprintf("%d", c)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO users (username, funk_key, allowed_channels, active, created_at)
			 VALUES ('admin', ?, ?, 1, datetime('now'))`,
			key, strings.Join(parts, ",")); err != nil {
			return fmt.Errorf("creating bootstrap user: %w", err)
		}
		// The full key appears in the log on purpose: this is the only
		// moment the operator can learn it.
		slog.Warn("created bootstrap funk user 'admin'", "funk_key", key)
	}

	return nil
}

// GenerateFunkKey returns a fresh 32-character hex credential.
func GenerateFunkKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating funk key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
