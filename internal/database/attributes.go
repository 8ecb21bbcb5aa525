package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"depot-go/internal/depot"
)

func (t *sqliteTx) AttributesGet(serial int64, domain string) (map[string]string, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT key, value FROM attributes WHERE serial = ? AND domain = ?`,
		serial, domain)
	if err != nil {
		return nil, fmt.Errorf("loading attributes of version %d: %w", serial, err)
	}
	defer rows.Close()

	attrs := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning attribute row: %w", err)
		}
		attrs[key] = value
	}
	return attrs, rows.Err()
}

func (t *sqliteTx) AttributesUpdate(serial, nodeID int64, domain string, set map[string]string, del []string) error {
	for key, value := range set {
		_, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO attributes (serial, domain, key, value, node_id)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (serial, domain, key) DO UPDATE SET value = excluded.value`,
			serial, domain, key, value, nodeID)
		if err != nil {
			return fmt.Errorf("setting attribute %s/%s: %w", domain, key, err)
		}
	}
	for _, key := range del {
		_, err := t.tx.ExecContext(t.ctx,
			`DELETE FROM attributes WHERE serial = ? AND domain = ? AND key = ?`,
			serial, domain, key)
		if err != nil {
			return fmt.Errorf("deleting attribute %s/%s: %w", domain, key, err)
		}
	}
	return nil
}

func (t *sqliteTx) AttributesDeleteDomain(serial int64, domain string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM attributes WHERE serial = ? AND domain = ?`, serial, domain)
	if err != nil {
		return fmt.Errorf("dropping attribute domain %s: %w", domain, err)
	}
	return nil
}

func (t *sqliteTx) AttributesCopy(srcSerial, dstSerial, dstNodeID int64) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT OR REPLACE INTO attributes (serial, domain, key, value, node_id, is_latest)
		SELECT ?, domain, key, value, ?, 1 FROM attributes WHERE serial = ?`,
		dstSerial, dstNodeID, srcSerial)
	if err != nil {
		return fmt.Errorf("copying attributes from version %d: %w", srcSerial, err)
	}
	return nil
}

func (t *sqliteTx) AttributesMarkLatest(nodeID, serial int64) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE attributes SET is_latest = (serial = ?) WHERE node_id = ?`,
		serial, nodeID)
	if err != nil {
		return fmt.Errorf("marking latest attributes of node %d: %w", nodeID, err)
	}
	return nil
}

// Statistics

func (t *sqliteTx) StatisticsGet(nodeID int64, cluster depot.Cluster) (*depot.Statistics, error) {
	stats := &depot.Statistics{NodeID: nodeID, Cluster: cluster}
	var mtime int64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT population, size, mtime FROM statistics WHERE node_id = ? AND cluster = ?`,
		nodeID, cluster).Scan(&stats.Population, &stats.Size, &mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading statistics of node %d: %w", nodeID, err)
	}
	stats.MTime = decodeTime(mtime)
	return stats, nil
}

func (t *sqliteTx) StatisticsApply(nodeID int64, dPopulation, dSize int64, mtime time.Time, cluster depot.Cluster) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO statistics (node_id, cluster, population, size, mtime)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (node_id, cluster) DO UPDATE SET
			population = population + excluded.population,
			size = size + excluded.size,
			mtime = MAX(mtime, excluded.mtime)`,
		nodeID, cluster, dPopulation, dSize, encodeTime(mtime))
	if err != nil {
		return fmt.Errorf("applying statistics to node %d: %w", nodeID, err)
	}
	return nil
}

func (t *sqliteTx) StatisticsAsOf(nodePath string, before time.Time, exclude depot.Cluster) (*depot.Statistics, error) {
	// The subtree of nodePath is the path itself plus everything in the
	// half-open range [path+'/', path+'0'): '0' is the successor of '/'.
	stats := &depot.Statistics{Cluster: depot.ClusterNormal}
	var population, size sql.NullInt64
	var mtime sql.NullInt64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT COUNT(v.serial), SUM(v.size), MAX(v.mtime)
		FROM nodes n
		JOIN versions v ON v.serial = (
			SELECT serial FROM versions
			WHERE node_id = n.id AND mtime < ?
			ORDER BY serial DESC LIMIT 1)
		WHERE (n.path = ? OR (n.path >= ?||'/' AND n.path < ?||'0'))
			AND v.cluster != ?`,
		encodeTime(before), nodePath, nodePath, nodePath, exclude).
		Scan(&population, &size, &mtime)
	if err != nil {
		return nil, fmt.Errorf("aggregating versions under %q: %w", nodePath, err)
	}
	stats.Population = population.Int64
	stats.Size = size.Int64
	stats.MTime = decodeTime(mtime.Int64)
	return stats, nil
}

// Policy

func (t *sqliteTx) PolicyGet(nodeID int64) (map[string]string, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT key, value FROM policy WHERE node_id = ?`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("loading policy of node %d: %w", nodeID, err)
	}
	defer rows.Close()

	policy := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning policy row: %w", err)
		}
		policy[key] = value
	}
	return policy, rows.Err()
}

func (t *sqliteTx) PolicySet(nodeID int64, policy map[string]string, replace bool) error {
	if replace {
		if _, err := t.tx.ExecContext(t.ctx,
			`DELETE FROM policy WHERE node_id = ?`, nodeID); err != nil {
			return fmt.Errorf("clearing policy of node %d: %w", nodeID, err)
		}
	}
	for key, value := range policy {
		_, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO policy (node_id, key, value) VALUES (?, ?, ?)
			ON CONFLICT (node_id, key) DO UPDATE SET value = excluded.value`,
			nodeID, key, value)
		if err != nil {
			return fmt.Errorf("setting policy %s of node %d: %w", key, nodeID, err)
		}
	}
	return nil
}
