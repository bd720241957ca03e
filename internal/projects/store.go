package projects

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/kicad-prism/internal/analyzer"
	"github.com/MimeLyc/kicad-prism/internal/errs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const projectColumns = `id, name, import_type, repo_url, repo_path, sub_path, branch, path_config_json, created_at, updated_at, last_synced_at`

// Store is the sqlite backed project registry.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_projects.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// Create inserts p. A taken id or an already registered (repo_path, sub_path)
// pair is a Conflict.
func (s *Store) Create(ctx context.Context, p *Project) error {
	if p == nil {
		return fmt.Errorf("project is nil")
	}
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
		return errs.New(errs.KindValidation, "project id and name must not be empty")
	}
	cfg, err := json.Marshal(p.PathConfig)
	if err != nil {
		return err
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.SubPath == "" {
		p.SubPath = "."
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO projects (
			id, name, import_type, repo_url, repo_path, sub_path, branch, path_config_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Name,
		string(p.ImportType),
		p.RepoURL,
		p.RepoPath,
		p.SubPath,
		p.Branch,
		string(cfg),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Wrap(err, errs.KindConflict, "project %s already exists", p.ID).
				WithContext("sub_path", p.SubPath)
		}
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.KindNotFound, "project %s not found", id)
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) List(ctx context.Context) ([]*Project, error) {
	return s.query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name COLLATE NOCASE ASC, id ASC`)
}

// ListByRepoPath returns the projects registered from one persistent clone.
func (s *Store) ListByRepoPath(ctx context.Context, repoPath string) ([]*Project, error) {
	return s.query(ctx, `SELECT `+projectColumns+` FROM projects WHERE repo_path = ? ORDER BY sub_path ASC`, repoPath)
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSynced records a successful pull for every project of the clone.
func (s *Store) MarkSynced(ctx context.Context, repoPath string, at time.Time) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE projects SET last_synced_at = ?, updated_at = ? WHERE repo_path = ?`,
		at.UTC(),
		s.now(),
		repoPath,
	)
	return err
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*Project, error) {
	var p Project
	var importType, cfg string
	var synced sql.NullTime
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&importType,
		&p.RepoURL,
		&p.RepoPath,
		&p.SubPath,
		&p.Branch,
		&cfg,
		&p.CreatedAt,
		&p.UpdatedAt,
		&synced,
	); err != nil {
		return nil, err
	}
	p.ImportType = analyzer.ImportType(importType)
	if err := json.Unmarshal([]byte(cfg), &p.PathConfig); err != nil {
		return nil, fmt.Errorf("decode path config of %s: %w", p.ID, err)
	}
	if synced.Valid {
		t := synced.Time
		p.LastSyncedAt = &t
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
