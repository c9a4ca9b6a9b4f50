package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	command TEXT NOT NULL,
	config TEXT,
	started_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS metrics (
	run_id TEXT NOT NULL,
	name TEXT NOT NULL,
	scope TEXT NOT NULL,
	epoch INTEGER NOT NULL,
	step INTEGER NOT NULL,
	value REAL NOT NULL,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_run_name ON metrics(run_id, name);
`

// Store persists runs and metric points in a libsql database, either a local
// file or a remote libsql server.
type Store struct {
	db *sql.DB
}

// OpenStore opens dsn. Plain paths become file: URLs; remote URLs get the
// auth token as a query parameter.
func OpenStore(ctx context.Context, dsn, authToken string) (*Store, error) {
	dbURL, err := resolveDSN(dsn, authToken)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("libsql", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open metric store: %w", err)
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialise metric store: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func resolveDSN(dsn, authToken string) (string, error) {
	switch {
	case dsn == "":
		return "", fmt.Errorf("metric store DSN is empty")
	case strings.HasPrefix(dsn, "libsql://"), strings.HasPrefix(dsn, "http://"), strings.HasPrefix(dsn, "https://"):
		if authToken == "" {
			return dsn, nil
		}
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid metric store URL: %w", err)
		}
		q := u.Query()
		q.Set("authToken", authToken)
		u.RawQuery = q.Encode()
		return u.String(), nil
	default:
		path := strings.TrimPrefix(dsn, "file:")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("failed to create metric store directory: %w", err)
		}
		return "file:" + path, nil
	}
}

// StartRun registers a run.
func (s *Store) StartRun(ctx context.Context, runID, command, config string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, config, started_at) VALUES (?, ?, ?, ?)`,
		runID, command, config, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", runID, err)
	}
	return nil
}

// Record implements Sink.
func (s *Store) Record(ctx context.Context, p Point) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metrics (run_id, name, scope, epoch, step, value, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.RunID, p.Name, string(p.Scope), p.Epoch, p.Step, p.Value, p.At.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record metric %s: %w", p.Name, err)
	}
	return nil
}

// Points returns the stored points of a run and metric in insertion order.
func (s *Store) Points(ctx context.Context, runID, name string, scope Scope) ([]Point, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT epoch, step, value, recorded_at FROM metrics WHERE run_id = ? AND name = ? AND scope = ? ORDER BY rowid`,
		runID, name, string(scope))
	if err != nil {
		return nil, fmt.Errorf("failed to query metric %s: %w", name, err)
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		p := Point{RunID: runID, Name: name, Scope: scope}
		var at string
		if err := rows.Scan(&p.Epoch, &p.Step, &p.Value, &at); err != nil {
			return nil, fmt.Errorf("failed to scan metric %s: %w", name, err)
		}
		p.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Runs returns the ids of every recorded run, oldest first.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY started_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }
