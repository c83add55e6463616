package gatewaystore

import (
	"context"
	"database/sql"
	"embed"
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

// DB wraps a sql.DB connection holding the gateway table.
type DB struct {
	*sql.DB
}

// Open creates or opens the SQLite database gwreg.db inside dataDir with WAL
// mode enabled and runs any pending migrations.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "gwreg.db")
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

	slog.Info("gateway store opened", "path", dbPath)
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

// SQLiteStore implements Store against the gateways table.
type SQLiteStore struct {
	db *DB
}

// NewSQLiteStore creates a Store backed by the given DB. The concrete type
// additionally exposes Seed, which is not part of the Store interface.
func NewSQLiteStore(db *DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetGateways returns all configured gateways. A query failure is reported
// as Status == StatusError with a nil error result list, per the data-store
// contract: the caller decides whether to skip the tick, not this layer.
func (s *SQLiteStore) GetGateways(ctx context.Context) (Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ref, name, username, password, host, transport, expires, registries
		 FROM gateways ORDER BY ref`)
	if err != nil {
		return Result{Status: StatusError}, fmt.Errorf("querying gateways: %w", err)
	}
	defer rows.Close()

	var out []Gateway
	for rows.Next() {
		var g Gateway
		var expires sql.NullInt64
		var registries string
		if err := rows.Scan(&g.Ref, &g.Name, &g.Username, &g.Password, &g.Host, &g.Transport, &expires, &registries); err != nil {
			return Result{Status: StatusError}, fmt.Errorf("scanning gateway row: %w", err)
		}
		if expires.Valid {
			g.Expires = int(expires.Int64)
		}
		g.Registries = splitRegistries(registries)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return Result{Status: StatusError}, fmt.Errorf("iterating gateway rows: %w", err)
	}

	return Result{Status: StatusOK, Result: out}, nil
}

// Seed inserts or replaces a gateway record. Part of the minimal CRUD
// surface needed to make cmd/gwregd runnable end to end; create/update/
// delete beyond this is out of scope.
func (s *SQLiteStore) Seed(ctx context.Context, g Gateway) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gateways (ref, name, username, password, host, transport, expires, registries, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		 ON CONFLICT(ref) DO UPDATE SET
		   name=excluded.name, username=excluded.username, password=excluded.password,
		   host=excluded.host, transport=excluded.transport, expires=excluded.expires,
		   registries=excluded.registries, updated_at=datetime('now')`,
		g.Ref, g.Name, g.Username, g.Password, g.Host, g.Transport, g.Expires, joinRegistries(g.Registries),
	)
	if err != nil {
		return fmt.Errorf("seeding gateway %s: %w", g.Ref, err)
	}
	return nil
}

func splitRegistries(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinRegistries(registries []string) string {
	return strings.Join(registries, ",")
}
