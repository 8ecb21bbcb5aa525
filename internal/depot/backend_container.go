package depot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ObjectEntry is one object produced by ListObjects: its name relative to
// the container and the version visible at the requested point in time.
type ObjectEntry struct {
	Name    string
	Version Version
}

// PutContainer creates a container under the account. Fails with
// ErrAlreadyExists when the path is taken.
func (b *Backend) PutContainer(ctx context.Context, principal, account, container string, policy map[string]string) error {
	return b.meta.WithUpdateTx(ctx, func(tx Tx) error {
		if principal != account {
			return fmt.Errorf("create container %q/%q as %q: %w", account, container, principal, ErrNotAllowed)
		}
		if err := validatePolicy(policy); err != nil {
			return err
		}
		accountNode, err := b.lookupAccount(tx, account, true)
		if err != nil {
			return err
		}
		path := JoinPath(account, container)
		if _, err := tx.NodeLookup(path); err == nil {
			return fmt.Errorf("container %q: %w", path, ErrAlreadyExists)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		id, err := tx.NodeCreate(accountNode.ID, path)
		if err != nil {
			return err
		}
		node := &Node{ID: id, ParentID: accountNode.ID, Path: path}
		versioning, err := b.effectivePolicy(tx, accountNode.ID, PolicyVersioning, b.opts.DefaultVersioning)
		if err != nil {
			return err
		}
		if _, _, err := b.putVersion(tx, node, nil, versionParams{ModifiedBy: principal}, versioning); err != nil {
			return err
		}
		if len(policy) > 0 {
			return tx.PolicySet(id, policy, false)
		}
		return nil
	})
}

// GetContainerMeta returns the container's metadata and aggregate
// statistics, as of until when non-zero.
func (b *Backend) GetContainerMeta(ctx context.Context, principal, account, container, domain string, until time.Time) (map[string]string, *Statistics, error) {
	var meta map[string]string
	var stats *Statistics
	path := JoinPath(account, container)
	err := b.meta.WithTx(ctx, func(tx Tx) error {
		if err := b.canRead(tx, principal, path); err != nil {
			return err
		}
		node, err := tx.NodeLookup(path)
		if err != nil {
			return err
		}
		if !until.IsZero() {
			stats, err = statisticsUntil(tx, path, until)
		} else {
			stats, err = tx.StatisticsGet(node.ID, ClusterNormal)
		}
		if err != nil {
			return err
		}
		if node.LatestVersionID != 0 {
			meta, err = tx.AttributesGet(node.LatestVersionID, domain)
			if err != nil {
				return err
			}
		}
		if meta == nil {
			meta = map[string]string{}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return meta, stats, nil
}

// UpdateContainerMeta appends a metadata version to the container node.
func (b *Backend) UpdateContainerMeta(ctx context.Context, principal, account, container, domain string, meta map[string]string, replace bool) error {
	path := JoinPath(account, container)
	return b.meta.WithUpdateTx(ctx, func(tx Tx) error {
		if err := b.canWrite(tx, principal, path); err != nil {
			return err
		}
		node, err := tx.NodeLookup(path)
		if err != nil {
			return err
		}
		return b.putMetadata(tx, node, principal, domain, meta, replace)
	})
}

// GetContainerPolicy returns the container's explicit policy rows.
func (b *Backend) GetContainerPolicy(ctx context.Context, principal, account, container string) (map[string]string, error) {
	var policy map[string]string
	err := b.meta.WithTx(ctx, func(tx Tx) error {
		if principal != account {
			return fmt.Errorf("container policy as %q: %w", principal, ErrNotAllowed)
		}
		node, err := b.lookupContainer(tx, account, container)
		if err != nil {
			return err
		}
		policy, err = tx.PolicyGet(node.ID)
		return err
	})
	return policy, err
}

// UpdateContainerPolicy validates and stores container policy.
func (b *Backend) UpdateContainerPolicy(ctx context.Context, principal, account, container string, policy map[string]string, replace bool) error {
	return b.meta.WithUpdateTx(ctx, func(tx Tx) error {
		if principal != account {
			return fmt.Errorf("container policy as %q: %w", principal, ErrNotAllowed)
		}
		if err := validatePolicy(policy); err != nil {
			return err
		}
		node, err := b.lookupContainer(tx, account, container)
		if err != nil {
			return err
		}
		return tx.PolicySet(node.ID, policy, replace)
	})
}

// DeleteContainer removes an empty container. With a non-zero until it
// instead purges history and tombstone versions under the container older
// than the horizon, keeping the container itself.
func (b *Backend) DeleteContainer(ctx context.Context, principal, account, container string, until time.Time) error {
	path := JoinPath(account, container)
	return b.meta.WithUpdateTx(ctx, func(tx Tx) error {
		if principal != account {
			return fmt.Errorf("delete container %q as %q: %w", path, principal, ErrNotAllowed)
		}
		node, err := tx.NodeLookup(path)
		if err != nil {
			return err
		}

		if !until.IsZero() {
			freed, err := b.purgeSubtreeHistory(tx, node, until)
			if err != nil {
				return err
			}
			return b.reportUsage(account, -freed, "purge_container", path)
		}

		stats, err := tx.StatisticsGet(node.ID, ClusterNormal)
		if err != nil {
			return err
		}
		if stats.Population > 0 {
			return fmt.Errorf("container %q holds %d objects: %w", path, stats.Population, ErrNotEmpty)
		}

		// Drop every remaining version (the container's own meta versions
		// and any history or tombstones left on child nodes), then the
		// nodes themselves.
		var freed int64
		for _, cluster := range []Cluster{ClusterNormal, ClusterHistory, ClusterDeleted} {
			hashes, size, serials, err := tx.VersionsPurgeSubtree(prevling(path+"/"), nextling(path+"/"), time.Time{}, cluster)
			if err != nil {
				return err
			}
			if len(serials) > 0 {
				// The container's own statistics rows vanish with the
				// node; only the ancestors need the size rolled back.
				if err := propagateStatistics(tx, node.ID, 0, -size, b.clock.Now(), cluster); err != nil {
					return err
				}
			}
			if cluster != ClusterDeleted {
				freed += size
			}
			if err := b.releaseHashes(tx, hashes); err != nil {
				return err
			}
			if err := b.purgeNodeVersions(tx, node, time.Time{}, cluster); err != nil {
				return err
			}
		}
		children, err := tx.NodeChildren(node.ID, "", 0)
		if err != nil {
			return err
		}
		for _, child := range children {
			if _, err := tx.NodeRemove(child.ID); err != nil {
				return err
			}
			if err := tx.PermissionsClear(child.Path); err != nil {
				return err
			}
			if err := tx.PublicUnset(child.Path); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		removed, err := tx.NodeRemove(node.ID)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("container %q: %w", path, ErrNotEmpty)
		}
		if err := tx.PermissionsClear(path); err != nil {
			return err
		}
		return b.reportUsage(account, -freed, "delete_container", path)
	})
}

// purgeNodeVersions hard-removes one node's versions in cluster older than
// the horizon, keeping statistics in line.
func (b *Backend) purgeNodeVersions(tx Tx, node *Node, before time.Time, cluster Cluster) error {
	hashes, size, serials, err := tx.VersionsPurge(node.ID, before, cluster)
	if err != nil {
		return err
	}
	if len(serials) == 0 {
		return nil
	}
	if err := propagateStatistics(tx, node.ID, -int64(len(serials)), -size, b.clock.Now(), cluster); err != nil {
		return err
	}
	if node.LatestVersionID != 0 {
		for _, s := range serials {
			if s == node.LatestVersionID {
				if err := tx.NodeSetLatestVersion(node.ID, 0); err != nil {
					return err
				}
				node.LatestVersionID = 0
				break
			}
		}
	}
	return b.releaseHashes(tx, hashes)
}

// purgeSubtreeHistory drops history and tombstone versions under the
// container older than until. Statistics are corrected once at the
// container's parent chain with a bounded walk per cluster, instead of
// re-walking the chain for every purged version.
func (b *Backend) purgeSubtreeHistory(tx Tx, containerNode *Node, until time.Time) (int64, error) {
	var freed int64
	for _, cluster := range []Cluster{ClusterHistory, ClusterDeleted} {
		hashes, size, serials, err := tx.VersionsPurgeSubtree(
			prevling(containerNode.Path+"/"), nextling(containerNode.Path+"/"), until, cluster)
		if err != nil {
			return 0, err
		}
		if len(serials) == 0 {
			continue
		}
		if err := tx.StatisticsApply(containerNode.ID, -int64(len(serials)), -size, b.clock.Now(), cluster); err != nil {
			return 0, err
		}
		if err := propagateStatistics(tx, containerNode.ID, 0, -size, b.clock.Now(), cluster); err != nil {
			return 0, err
		}
		if err := b.releaseHashes(tx, hashes); err != nil {
			return 0, err
		}
		if cluster == ClusterHistory {
			freed += size
		}
	}
	return freed, nil
}

// ListObjects lists the container's objects at a point in time, with prefix
// and delimiter collapsing, markers, size and attribute filters. Principals
// other than the owner see only paths their grants cover.
func (b *Backend) ListObjects(ctx context.Context, principal, account, container string, opt ListOptions) ([]ObjectEntry, []string, error) {
	path := JoinPath(account, container)
	var entries []ObjectEntry
	var prefixes []string
	err := b.meta.WithTx(ctx, func(tx Tx) error {
		if err := b.canRead(tx, principal, path); err != nil {
			// No container-wide access: fall back to the grant-derived
			// allow-list. An empty list means nothing is visible.
			allowed, aerr := b.grantedRoots(tx, principal, path)
			if aerr != nil {
				return aerr
			}
			if len(allowed) == 0 {
				return err
			}
			if opt.Allowed == nil {
				opt.Allowed = allowed
			} else {
				opt.Allowed = intersect(opt.Allowed, allowed)
			}
		}
		if _, err := tx.NodeLookup(path); err != nil {
			return err
		}
		matches, cps, err := b.listRange(tx, path+"/", opt)
		if err != nil {
			return err
		}
		for _, m := range matches {
			entries = append(entries, ObjectEntry{
				Name:    strings.TrimPrefix(m.Path, path+"/"),
				Version: m.Version,
			})
		}
		prefixes = cps
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return entries, prefixes, nil
}

// GetContainerPermissions returns the nearest grant covering the container
// and the path it is attached to.
func (b *Backend) GetContainerPermissions(ctx context.Context, principal, account, container string) (string, *Permissions, error) {
	path := JoinPath(account, container)
	var grantPath string
	var perms *Permissions
	err := b.meta.WithTx(ctx, func(tx Tx) error {
		if err := b.canRead(tx, principal, path); err != nil {
			return err
		}
		if _, err := tx.NodeLookup(path); err != nil {
			return err
		}
		var err error
		grantPath, perms, err = accessInherit(tx, path)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return grantPath, perms, nil
}

// UpdateContainerPermissions replaces the container's explicit grant set.
// A grant here covers every object under the container that carries no
// nearer grant of its own. Owner only; an empty set clears the grants.
func (b *Backend) UpdateContainerPermissions(ctx context.Context, principal, account, container string, perms *Permissions) error {
	path := JoinPath(account, container)
	return b.meta.WithUpdateTx(ctx, func(tx Tx) error {
		if principal != account {
			return fmt.Errorf("permissions of %q as %q: %w", path, principal, ErrNotAllowed)
		}
		if err := validatePermissions(perms); err != nil {
			return err
		}
		if _, err := tx.NodeLookup(path); err != nil {
			return err
		}
		if perms.IsEmpty() {
			return tx.PermissionsClear(path)
		}
		return tx.PermissionsSet(path, perms)
	})
}

// grantedRoots returns object names under the container whose explicit
// grants cover the principal for reading.
func (b *Backend) grantedRoots(tx Tx, principal, containerPath string) ([]string, error) {
	paths, err := tx.PermissionsGrantedUnder(containerPath + "/")
	if err != nil {
		return nil, err
	}
	var roots []string
	for _, p := range paths {
		perms, err := tx.PermissionsGet(p)
		if err != nil {
			return nil, err
		}
		if perms == nil {
			continue
		}
		ok, err := b.principalInGrant(principal, perms.Read)
		if err != nil {
			return nil, err
		}
		if !ok {
			ok, err = b.principalInGrant(principal, perms.Write)
			if err != nil {
				return nil, err
			}
		}
		if ok {
			roots = append(roots, strings.TrimPrefix(p, containerPath+"/"))
		}
	}
	return roots, nil
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	out := []string{}
	for _, s := range a {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}
