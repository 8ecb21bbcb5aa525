package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"depot-go/internal/depot"
)

const versionColumns = `serial, node_id, hash, size, content_type, source_serial,
	mtime, modified_by, uuid, checksum, cluster`

func scanVersion(scan func(...any) error) (*depot.Version, error) {
	var v depot.Version
	var mtime int64
	err := scan(&v.Serial, &v.NodeID, &v.Hash, &v.Size, &v.ContentType,
		&v.SourceSerial, &mtime, &v.ModifiedBy, &v.UUID, &v.Checksum, &v.Cluster)
	if err != nil {
		return nil, err
	}
	v.MTime = decodeTime(mtime)
	return &v, nil
}

func (t *sqliteTx) VersionCreate(v *depot.Version) (int64, error) {
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO versions (node_id, hash, size, content_type, source_serial,
			mtime, modified_by, uuid, checksum, cluster)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.NodeID, v.Hash, v.Size, v.ContentType, v.SourceSerial,
		encodeTime(v.MTime), v.ModifiedBy, v.UUID, v.Checksum, v.Cluster)
	if err != nil {
		return 0, fmt.Errorf("inserting version for node %d: %w", v.NodeID, err)
	}
	serial, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("inserting version for node %d: %w", v.NodeID, err)
	}
	return serial, nil
}

func (t *sqliteTx) VersionGet(serial int64) (*depot.Version, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+versionColumns+` FROM versions WHERE serial = ?`, serial)
	v, err := scanVersion(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %d: %w", serial, depot.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading version %d: %w", serial, err)
	}
	return v, nil
}

func (t *sqliteTx) VersionLookup(nodeID int64, before time.Time, exclude depot.Cluster) (*depot.Version, error) {
	var row *sql.Row
	if before.IsZero() {
		row = t.tx.QueryRowContext(t.ctx,
			`SELECT `+versionColumns+` FROM versions
			WHERE serial = (SELECT latest_version_id FROM nodes WHERE id = ?)`, nodeID)
	} else {
		row = t.tx.QueryRowContext(t.ctx,
			`SELECT `+versionColumns+` FROM versions
			WHERE node_id = ? AND mtime < ? ORDER BY serial DESC LIMIT 1`,
			nodeID, encodeTime(before))
	}
	v, err := scanVersion(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version of node %d: %w", nodeID, depot.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up version of node %d: %w", nodeID, err)
	}
	if v.Cluster == exclude {
		return nil, fmt.Errorf("version of node %d: %w", nodeID, depot.ErrNotFound)
	}
	return v, nil
}

func (t *sqliteTx) VersionList(nodeID int64) ([]*depot.Version, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT `+versionColumns+` FROM versions WHERE node_id = ? ORDER BY serial`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("listing versions of node %d: %w", nodeID, err)
	}
	defer rows.Close()

	var versions []*depot.Version
	for rows.Next() {
		v, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning version row: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (t *sqliteTx) VersionRecluster(serial int64, cluster depot.Cluster) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE versions SET cluster = ? WHERE serial = ?`, cluster, serial)
	if err != nil {
		return fmt.Errorf("reclustering version %d: %w", serial, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("version %d: %w", serial, depot.ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) VersionDelete(serial int64) error {
	// Attribute rows cascade.
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM versions WHERE serial = ?`, serial)
	if err != nil {
		return fmt.Errorf("deleting version %d: %w", serial, err)
	}
	return nil
}

func (t *sqliteTx) VersionsPurge(nodeID int64, before time.Time, cluster depot.Cluster) ([]string, int64, []int64, error) {
	query := `SELECT serial, hash, size FROM versions WHERE node_id = ? AND cluster = ?`
	args := []any{nodeID, cluster}
	if !before.IsZero() {
		query += ` AND mtime < ?`
		args = append(args, encodeTime(before))
	}
	return t.purgeMatching(query, args)
}

func (t *sqliteTx) VersionsPurgeSubtree(after, until string, before time.Time, cluster depot.Cluster) ([]string, int64, []int64, error) {
	query := `SELECT v.serial, v.hash, v.size FROM versions v
		JOIN nodes n ON n.id = v.node_id
		WHERE v.cluster = ? AND n.path > ?`
	args := []any{cluster, after}
	if until != "" {
		query += ` AND n.path < ?`
		args = append(args, until)
	}
	if !before.IsZero() {
		query += ` AND v.mtime < ?`
		args = append(args, encodeTime(before))
	}
	return t.purgeMatching(query, args)
}

// purgeMatching collects (serial, hash, size) of the selected versions,
// deletes them, and reports what was freed.
func (t *sqliteTx) purgeMatching(query string, args []any) ([]string, int64, []int64, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("selecting versions to purge: %w", err)
	}
	defer rows.Close()

	var hashes []string
	var serials []int64
	var total int64
	seen := map[string]bool{}
	for rows.Next() {
		var serial, size int64
		var hash string
		if err := rows.Scan(&serial, &hash, &size); err != nil {
			return nil, 0, nil, fmt.Errorf("scanning purge row: %w", err)
		}
		serials = append(serials, serial)
		total += size
		if hash != "" && !seen[hash] {
			seen[hash] = true
			hashes = append(hashes, hash)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, nil, err
	}

	for _, serial := range serials {
		if _, err := t.tx.ExecContext(t.ctx,
			`DELETE FROM versions WHERE serial = ?`, serial); err != nil {
			return nil, 0, nil, fmt.Errorf("purging version %d: %w", serial, err)
		}
	}
	return hashes, total, serials, nil
}

func (t *sqliteTx) VersionCountWithHash(hash string) (int64, error) {
	var count int64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT COUNT(*) FROM versions WHERE hash = ?`, hash).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting references to %s: %w", hash, err)
	}
	return count, nil
}

func (t *sqliteTx) VersionsInRange(q depot.RangeQuery) ([]depot.ListEntry, error) {
	lower := `n.path > ?`
	if q.Inclusive {
		lower = `n.path >= ?`
	}
	var query string
	args := []any{}
	if q.Before.IsZero() {
		query = `SELECT n.path, ` + prefixedVersionColumns("v") + `
			FROM nodes n JOIN versions v ON v.serial = n.latest_version_id
			WHERE ` + lower
		args = append(args, q.After)
	} else {
		query = `SELECT n.path, ` + prefixedVersionColumns("v") + `
			FROM nodes n JOIN versions v ON v.serial = (
				SELECT serial FROM versions
				WHERE node_id = n.id AND mtime < ?
				ORDER BY serial DESC LIMIT 1)
			WHERE ` + lower
		args = append(args, encodeTime(q.Before), q.After)
	}
	if q.Until != "" {
		query += ` AND n.path < ?`
		args = append(args, q.Until)
	}
	query += ` AND v.cluster != ? ORDER BY n.path`
	args = append(args, q.Exclude)
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning version range: %w", err)
	}
	defer rows.Close()

	var entries []depot.ListEntry
	for rows.Next() {
		var e depot.ListEntry
		var mtime int64
		err := rows.Scan(&e.Path, &e.Version.Serial, &e.Version.NodeID,
			&e.Version.Hash, &e.Version.Size, &e.Version.ContentType,
			&e.Version.SourceSerial, &mtime, &e.Version.ModifiedBy,
			&e.Version.UUID, &e.Version.Checksum, &e.Version.Cluster)
		if err != nil {
			return nil, fmt.Errorf("scanning range row: %w", err)
		}
		e.Version.MTime = decodeTime(mtime)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func prefixedVersionColumns(alias string) string {
	return alias + `.serial, ` + alias + `.node_id, ` + alias + `.hash, ` +
		alias + `.size, ` + alias + `.content_type, ` + alias + `.source_serial, ` +
		alias + `.mtime, ` + alias + `.modified_by, ` + alias + `.uuid, ` +
		alias + `.checksum, ` + alias + `.cluster`
}
