package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"depot-go/internal/database/migrations"
	"depot-go/internal/depot"
)

// SQLite implements depot.MetaStore on a single SQLite database. Two
// connection pools share the file: update transactions go through a handle
// that begins IMMEDIATE, taking the write lock up front so concurrent
// create-if-absent flows serialize; plain reads keep deferred transactions.
type SQLite struct {
	db       *sql.DB
	updateDB *sql.DB
	path     string
	keep     *sql.Conn // pins a shared in-memory database alive
}

// NewSQLite opens (and migrates) a SQLite metadata store. path can be a
// file path or ":memory:" for a private in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	target := path
	if path == ":memory:" {
		// Both pools must see the same data, so a plain :memory: DSN
		// (one database per connection) cannot be used.
		target = fmt.Sprintf("file:depot-%s?mode=memory&cache=shared", uuid.New().String())
	}

	db, err := openConnection(target, "deferred")
	if err != nil {
		return nil, err
	}
	var keep *sql.Conn
	if path == ":memory:" {
		keep, err = db.Conn(context.Background())
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("pinning in-memory database: %w", err)
		}
	}
	updateDB, err := openConnection(target, "immediate")
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLite{db: db, updateDB: updateDB, path: path, keep: keep}
	if err := migrations.Up(db); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

// openConnection opens one pool with the store's PRAGMAs applied per
// connection through the DSN, so pooled connections stay configured.
func openConnection(target, txlock string) (*sql.DB, error) {
	sep := "?"
	if len(target) > 5 && target[:5] == "file:" {
		sep = "&"
	} else {
		target = "file:" + target
	}
	dsn := target + sep + "_foreign_keys=1&_busy_timeout=5000&_txlock=" + txlock
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLite) CheckMigrations() error {
	return migrations.Verify(s.db)
}

// Path returns the database file path (or ":memory:").
func (s *SQLite) Path() string { return s.path }

// BackupTo creates a complete copy of the database at destPath.
func (s *SQLite) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes both connection pools.
func (s *SQLite) Close() error {
	if s.keep != nil {
		s.keep.Close()
	}
	var errs []error
	if s.updateDB != nil {
		errs = append(errs, s.updateDB.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// WithTx runs fn inside a deferred read transaction.
func (s *SQLite) WithTx(ctx context.Context, fn func(depot.Tx) error) error {
	return runTx(ctx, s.db, fn)
}

// WithUpdateTx runs fn inside an immediate write transaction.
func (s *SQLite) WithUpdateTx(ctx context.Context, fn func(depot.Tx) error) error {
	return runTx(ctx, s.updateDB, fn)
}

func runTx(ctx context.Context, db *sql.DB, fn func(depot.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

var _ depot.MetaStore = (*SQLite)(nil)

// sqliteTx is one open transaction implementing depot.Tx.
type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

// encodeTime stores timestamps as integer nanoseconds; the zero time maps
// to 0 so range predicates stay simple.
func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func decodeTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// Node operations

func (t *sqliteTx) NodeCreate(parentID int64, path string) (int64, error) {
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO nodes (parent_id, path) VALUES (?, ?)`, parentID, path)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("node %q: %w", path, depot.ErrAlreadyExists)
		}
		return 0, fmt.Errorf("creating node %q: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("creating node %q: %w", path, err)
	}
	return id, nil
}

func (t *sqliteTx) NodeLookup(path string) (*depot.Node, error) {
	return t.scanNode(t.tx.QueryRowContext(t.ctx,
		`SELECT id, parent_id, path, latest_version_id FROM nodes WHERE path = ?`, path),
		fmt.Sprintf("path %q", path))
}

func (t *sqliteTx) NodeGet(id int64) (*depot.Node, error) {
	return t.scanNode(t.tx.QueryRowContext(t.ctx,
		`SELECT id, parent_id, path, latest_version_id FROM nodes WHERE id = ?`, id),
		fmt.Sprintf("node %d", id))
}

func (t *sqliteTx) scanNode(row *sql.Row, what string) (*depot.Node, error) {
	var n depot.Node
	err := row.Scan(&n.ID, &n.ParentID, &n.Path, &n.LatestVersionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, depot.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", what, err)
	}
	return &n, nil
}

func (t *sqliteTx) NodeChildCount(id int64) (int64, error) {
	var count int64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT COUNT(*) FROM nodes WHERE parent_id = ? AND id != parent_id`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting children of node %d: %w", id, err)
	}
	return count, nil
}

func (t *sqliteTx) NodeChildren(parentID int64, after string, limit int) ([]*depot.Node, error) {
	query := `SELECT id, parent_id, path, latest_version_id FROM nodes
		WHERE parent_id = ? AND id != parent_id AND path > ? ORDER BY path`
	args := []any{parentID, after}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing children of node %d: %w", parentID, err)
	}
	defer rows.Close()

	var nodes []*depot.Node
	for rows.Next() {
		var n depot.Node
		if err := rows.Scan(&n.ID, &n.ParentID, &n.Path, &n.LatestVersionID); err != nil {
			return nil, fmt.Errorf("scanning node row: %w", err)
		}
		nodes = append(nodes, &n)
	}
	return nodes, rows.Err()
}

func (t *sqliteTx) NodeRemove(id int64) (bool, error) {
	count, err := t.NodeChildCount(id)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	for _, q := range []string{
		`DELETE FROM versions WHERE node_id = ?`,
		`DELETE FROM statistics WHERE node_id = ?`,
		`DELETE FROM policy WHERE node_id = ?`,
		`DELETE FROM nodes WHERE id = ?`,
	} {
		if _, err := t.tx.ExecContext(t.ctx, q, id); err != nil {
			return false, fmt.Errorf("removing node %d: %w", id, err)
		}
	}
	return true, nil
}

func (t *sqliteTx) NodeSetLatestVersion(nodeID, serial int64) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE nodes SET latest_version_id = ? WHERE id = ?`, serial, nodeID)
	if err != nil {
		return fmt.Errorf("updating latest version of node %d: %w", nodeID, err)
	}
	return nil
}

var _ depot.Tx = (*sqliteTx)(nil)
