package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"depot-go/internal/depot"
)

func (t *sqliteTx) PermissionsGet(path string) (*depot.Permissions, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT access, principal FROM permissions WHERE path = ? ORDER BY access, principal`,
		path)
	if err != nil {
		return nil, fmt.Errorf("loading permissions of %q: %w", path, err)
	}
	defer rows.Close()

	var p depot.Permissions
	found := false
	for rows.Next() {
		var access, principal string
		if err := rows.Scan(&access, &principal); err != nil {
			return nil, fmt.Errorf("scanning permission row: %w", err)
		}
		found = true
		switch access {
		case depot.AccessRead:
			p.Read = append(p.Read, principal)
		case depot.AccessWrite:
			p.Write = append(p.Write, principal)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

func (t *sqliteTx) PermissionsSet(path string, p *depot.Permissions) error {
	if err := t.PermissionsClear(path); err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	insert := func(access string, principals []string) error {
		for _, principal := range principals {
			_, err := t.tx.ExecContext(t.ctx,
				`INSERT OR IGNORE INTO permissions (path, access, principal) VALUES (?, ?, ?)`,
				path, access, principal)
			if err != nil {
				return fmt.Errorf("granting %s on %q to %q: %w", access, path, principal, err)
			}
		}
		return nil
	}
	if err := insert(depot.AccessRead, p.Read); err != nil {
		return err
	}
	return insert(depot.AccessWrite, p.Write)
}

func (t *sqliteTx) PermissionsClear(path string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM permissions WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("clearing permissions of %q: %w", path, err)
	}
	return nil
}

func (t *sqliteTx) PermissionsNearest(paths []string) (string, *depot.Permissions, error) {
	if len(paths) == 0 {
		return "", nil, nil
	}
	placeholders := strings.Repeat("?,", len(paths))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	// Longest path wins; candidates arrive longest-first but the store
	// decides on length so ordering mistakes upstream cannot flip the result.
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT path FROM permissions WHERE path IN (`+placeholders+`)
		ORDER BY LENGTH(path) DESC LIMIT 1`, args...)
	var nearest string
	err := row.Scan(&nearest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("resolving nearest grant: %w", err)
	}
	p, err := t.PermissionsGet(nearest)
	if err != nil {
		return "", nil, err
	}
	return nearest, p, nil
}

func (t *sqliteTx) PermissionsGrantedUnder(prefix string) ([]string, error) {
	query := `SELECT DISTINCT path FROM permissions WHERE path >= ?`
	args := []any{prefix}
	if upper := prefixUpperBound(prefix); upper != "" {
		query += ` AND path < ?`
		args = append(args, upper)
	}
	query += ` ORDER BY path`
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing grants under %q: %w", prefix, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning grant row: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// prefixUpperBound returns the smallest string greater than every string
// with the given prefix, or "" when the range is unbounded.
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// Publication

func (t *sqliteTx) PublicSet(path, token string) error {
	// A published path keeps the token it already has.
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT OR IGNORE INTO public (path, token) VALUES (?, ?)`, path, token)
	if err != nil {
		return fmt.Errorf("publishing %q: %w", path, err)
	}
	return nil
}

func (t *sqliteTx) PublicUnset(path string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM public WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("withdrawing %q: %w", path, err)
	}
	return nil
}

func (t *sqliteTx) PublicGet(path string) (string, error) {
	var token string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT token FROM public WHERE path = ?`, path).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("public token of %q: %w", path, depot.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("loading public token of %q: %w", path, err)
	}
	return token, nil
}

func (t *sqliteTx) PublicLookup(token string) (string, error) {
	var path string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT path FROM public WHERE token = ?`, token).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("public token: %w", depot.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("resolving public token: %w", err)
	}
	return path, nil
}
