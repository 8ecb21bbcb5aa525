package depot

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// GetObjectMeta returns the object's version at a point in time (live when
// version is 0) plus its domain-scoped metadata.
func (b *Backend) GetObjectMeta(ctx context.Context, principal, account, container, name, domain string, version int64) (*Version, map[string]string, error) {
	path := JoinPath(account, container, name)
	var v *Version
	var meta map[string]string
	err := b.meta.WithTx(ctx, func(tx Tx) error {
		if err := b.canRead(tx, principal, path); err != nil {
			return err
		}
		node, err := tx.NodeLookup(path)
		if err != nil {
			return err
		}
		if version != 0 {
			v, err = tx.VersionGet(version)
			if err == nil && v.NodeID != node.ID {
				return fmt.Errorf("version %d of %q: %w", version, path, ErrNotFound)
			}
		} else {
			v, err = liveVersion(tx, node)
			if err == nil && v == nil {
				return fmt.Errorf("object %q: %w", path, ErrNotFound)
			}
		}
		if err != nil {
			return err
		}
		meta, err = tx.AttributesGet(v.Serial, domain)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return v, meta, nil
}

// UpdateObjectMeta appends a metadata-only version duplicating the current
// content, and returns the new version.
func (b *Backend) UpdateObjectMeta(ctx context.Context, principal, account, container, name, domain string, meta map[string]string, replace bool) (*Version, error) {
	path := JoinPath(account, container, name)
	var out *Version
	err := b.meta.WithUpdateTx(ctx, func(tx Tx) error {
		if err := b.canWrite(tx, principal, path); err != nil {
			return err
		}
		node, err := tx.NodeLookup(path)
		if err != nil {
			return err
		}
		src, err := liveVersion(tx, node)
		if err != nil {
			return err
		}
		if src == nil {
			return fmt.Errorf("object %q: %w", path, ErrNotFound)
		}
		if err := b.putMetadata(tx, node, principal, domain, meta, replace); err != nil {
			return err
		}
		out, err = liveVersion(tx, node)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListObjectVersions returns the full version chain of an object, ordered
// by serial.
func (b *Backend) ListObjectVersions(ctx context.Context, principal, account, container, name string) ([]*Version, error) {
	path := JoinPath(account, container, name)
	var versions []*Version
	err := b.meta.WithTx(ctx, func(tx Tx) error {
		if err := b.canRead(tx, principal, path); err != nil {
			return err
		}
		node, err := tx.NodeLookup(path)
		if err != nil {
			return err
		}
		versions, err = tx.VersionList(node.ID)
		return err
	})
	return versions, err
}

// GetObjectHashmap returns the object's version and its ordered block
// hashes.
func (b *Backend) GetObjectHashmap(ctx context.Context, principal, account, container, name string, version int64) (*Version, []string, error) {
	v, _, err := b.GetObjectMeta(ctx, principal, account, container, name, "", version)
	if err != nil {
		return nil, nil, err
	}
	if v.Size == 0 {
		return v, nil, nil
	}
	hashes, err := b.blocks.MapGet(v.Hash)
	if err != nil {
		return nil, nil, fmt.Errorf("hashmap of %s: %w", v.Hash, err)
	}
	return v, hashes, nil
}

// UpdateObjectHashmap commits a caller-constructed hashmap as the object's
// new version. Hashes absent from the block store reject the write with a
// MissingBlocksError carrying exactly the missing subset, so a resumable
// client uploads those blocks and retries. Quota is validated against the
// size delta inside the same transaction as the version write.
func (b *Backend) UpdateObjectHashmap(ctx context.Context, principal, account, container, name string, size int64, blockHashes []string, contentType, checksum, domain string, meta map[string]string, replaceMeta bool, perms *Permissions) (*Version, error) {
	path := JoinPath(account, container, name)

	if want := BlockCount(size, b.opts.BlockSize); want != int64(len(blockHashes)) {
		return nil, fmt.Errorf("size %d needs %d blocks, hashmap has %d", size, want, len(blockHashes))
	}
	missing, err := b.blocks.MissingBlocks(blockHashes)
	if err != nil {
		return nil, fmt.Errorf("validating hashmap: %w", err)
	}
	if len(missing) > 0 {
		return nil, &MissingBlocksError{Hashes: missing}
	}
	objectHash, err := HashOfHashes(blockHashes)
	if err != nil {
		return nil, err
	}
	registered := false
	if size > 0 {
		if _, err := b.blocks.MapGet(objectHash); errors.Is(err, ErrNotFound) {
			if err := b.blocks.MapPut(objectHash, blockHashes); err != nil {
				return nil, fmt.Errorf("registering hashmap: %w", err)
			}
			registered = true
		} else if err != nil {
			return nil, fmt.Errorf("checking hashmap %s: %w", objectHash, err)
		}
	}

	var out *Version
	err = b.meta.WithUpdateTx(ctx, func(tx Tx) error {
		if err := b.canWrite(tx, principal, path); err != nil {
			return err
		}
		if err := validatePermissions(perms); err != nil {
			return err
		}
		accountNode, err := b.lookupAccount(tx, account, true)
		if err != nil {
			return err
		}
		containerNode, err := b.lookupContainer(tx, account, container)
		if err != nil {
			return err
		}
		node, err := b.lookupObject(tx, containerNode, path, true)
		if err != nil {
			return err
		}
		src, err := liveVersion(tx, node)
		if err != nil {
			return err
		}
		versioning, err := b.effectivePolicy(tx, containerNode.ID, PolicyVersioning, b.opts.DefaultVersioning)
		if err != nil {
			return err
		}

		params := versionParams{
			Hash:            objectHash,
			Size:            size,
			ContentType:     contentType,
			Checksum:        checksum,
			ModifiedBy:      principal,
			OverrideContent: true,
		}
		var prevSize int64
		if src != nil {
			// In-place mutation of the same logical object keeps its uuid.
			params.UUID = src.UUID
			prevSize = src.Size
		}
		v, _, err := b.putVersion(tx, node, src, params, versioning)
		if err != nil {
			return err
		}
		if len(meta) > 0 || replaceMeta {
			if replaceMeta {
				if err := tx.AttributesDeleteDomain(v.Serial, domain); err != nil {
					return err
				}
			}
			if err := tx.AttributesUpdate(v.Serial, node.ID, domain, meta, nil); err != nil {
				return err
			}
		}
		if perms != nil {
			if err := tx.PermissionsSet(path, perms); err != nil {
				return err
			}
		}

		if size > prevSize {
			if err := b.checkQuota(tx, accountNode, containerNode); err != nil {
				return err
			}
		}
		if err := b.reportUsage(account, size-prevSize, "update_object", path); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		// The rolled-back version never referenced the hashmap we
		// registered; release it unless another version claimed the same
		// content in the meantime.
		if registered {
			if rerr := b.meta.WithTx(ctx, func(tx Tx) error {
				return b.releaseHashes(tx, []string{objectHash})
			}); rerr != nil {
				b.logger.Warn("releasing hashmap after aborted write",
					"hash", objectHash, "error", rerr)
			}
		}
		return nil, err
	}
	return out, nil
}

// CopyObject copies an object (optionally a specific source version) to a
// destination path, duplicating its attributes and then applying overrides.
// The copy receives a fresh uuid.
func (b *Backend) CopyObject(ctx context.Context, principal string, srcAccount, srcContainer, srcName string, dstAccount, dstContainer, dstName string, srcVersion int64, contentType, domain string, meta map[string]string, replaceMeta bool, perms *Permissions) (*Version, error) {
	return b.copyOrMove(ctx, principal, srcAccount, srcContainer, srcName, dstAccount, dstContainer, dstName, srcVersion, contentType, domain, meta, replaceMeta, perms, false)
}

// MoveObject copies the live source version to the destination, preserving
// the object's uuid, then deletes the source in the same transaction.
func (b *Backend) MoveObject(ctx context.Context, principal string, srcAccount, srcContainer, srcName string, dstAccount, dstContainer, dstName string, contentType, domain string, meta map[string]string, replaceMeta bool, perms *Permissions) (*Version, error) {
	return b.copyOrMove(ctx, principal, srcAccount, srcContainer, srcName, dstAccount, dstContainer, dstName, 0, contentType, domain, meta, replaceMeta, perms, true)
}

func (b *Backend) copyOrMove(ctx context.Context, principal string, srcAccount, srcContainer, srcName string, dstAccount, dstContainer, dstName string, srcVersion int64, contentType, domain string, meta map[string]string, replaceMeta bool, perms *Permissions, move bool) (*Version, error) {
	srcPath := JoinPath(srcAccount, srcContainer, srcName)
	dstPath := JoinPath(dstAccount, dstContainer, dstName)
	var out *Version
	err := b.meta.WithUpdateTx(ctx, func(tx Tx) error {
		if err := b.canRead(tx, principal, srcPath); err != nil {
			return err
		}
		if err := b.canWrite(tx, principal, dstPath); err != nil {
			return err
		}
		if move {
			if err := b.canWrite(tx, principal, srcPath); err != nil {
				return err
			}
		}
		if err := validatePermissions(perms); err != nil {
			return err
		}

		srcNode, err := tx.NodeLookup(srcPath)
		if err != nil {
			return err
		}
		var src *Version
		if srcVersion != 0 {
			src, err = tx.VersionGet(srcVersion)
			if err == nil && src.NodeID != srcNode.ID {
				return fmt.Errorf("version %d of %q: %w", srcVersion, srcPath, ErrNotFound)
			}
		} else {
			src, err = liveVersion(tx, srcNode)
			if err == nil && src == nil {
				return fmt.Errorf("object %q: %w", srcPath, ErrNotFound)
			}
		}
		if err != nil {
			return err
		}

		dstAccountNode, err := b.lookupAccount(tx, dstAccount, true)
		if err != nil {
			return err
		}
		dstContainerNode, err := b.lookupContainer(tx, dstAccount, dstContainer)
		if err != nil {
			return err
		}
		dstNode, err := b.lookupObject(tx, dstContainerNode, dstPath, true)
		if err != nil {
			return err
		}
		prev, err := liveVersion(tx, dstNode)
		if err != nil {
			return err
		}
		var prevSize int64
		if prev != nil {
			prevSize = prev.Size
		}

		versioning, err := b.effectivePolicy(tx, dstContainerNode.ID, PolicyVersioning, b.opts.DefaultVersioning)
		if err != nil {
			return err
		}
		params := versionParams{ContentType: contentType, ModifiedBy: principal}
		if move {
			// Move keeps the logical object's identity.
			params.UUID = src.UUID
		}
		v, _, err := b.putVersion(tx, dstNode, src, params, versioning)
		if err != nil {
			return err
		}
		if replaceMeta {
			if err := tx.AttributesDeleteDomain(v.Serial, domain); err != nil {
				return err
			}
		}
		if len(meta) > 0 {
			if err := tx.AttributesUpdate(v.Serial, dstNode.ID, domain, meta, nil); err != nil {
				return err
			}
		}
		if perms != nil {
			if err := tx.PermissionsSet(dstPath, perms); err != nil {
				return err
			}
		}

		if v.Size > prevSize {
			if err := b.checkQuota(tx, dstAccountNode, dstContainerNode); err != nil {
				return err
			}
		}
		if err := b.reportUsage(dstAccount, v.Size-prevSize, "copy_object", dstPath); err != nil {
			return err
		}

		if move {
			freed, err := b.deleteObjectVersion(tx, srcNode, principal)
			if err != nil {
				return err
			}
			if err := b.reportUsage(srcAccount, -freed, "move_object", srcPath); err != nil {
				return err
			}
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteObject tombstones the object's live version. With a non-zero until
// it instead purges the object's history and tombstone versions older than
// the horizon, removing the node entirely once no versions remain.
func (b *Backend) DeleteObject(ctx context.Context, principal, account, container, name string, until time.Time) error {
	path := JoinPath(account, container, name)
	return b.meta.WithUpdateTx(ctx, func(tx Tx) error {
		if err := b.canWrite(tx, principal, path); err != nil {
			return err
		}
		node, err := tx.NodeLookup(path)
		if err != nil {
			return err
		}

		if !until.IsZero() {
			var freed int64
			for _, cluster := range []Cluster{ClusterHistory, ClusterDeleted} {
				hashes, size, serials, err := tx.VersionsPurge(node.ID, until, cluster)
				if err != nil {
					return err
				}
				if len(serials) == 0 {
					continue
				}
				if err := propagateStatistics(tx, node.ID, -int64(len(serials)), -size, b.clock.Now(), cluster); err != nil {
					return err
				}
				if err := b.releaseHashes(tx, hashes); err != nil {
					return err
				}
				if cluster == ClusterHistory {
					freed += size
				}
			}
			versions, err := tx.VersionList(node.ID)
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				if _, err := tx.NodeRemove(node.ID); err != nil {
					return err
				}
				if err := tx.PermissionsClear(path); err != nil {
					return err
				}
				if err := tx.PublicUnset(path); err != nil && !errors.Is(err, ErrNotFound) {
					return err
				}
			}
			return b.reportUsage(account, -freed, "purge_object", path)
		}

		freed, err := b.deleteObjectVersion(tx, node, principal)
		if err != nil {
			return err
		}
		return b.reportUsage(account, -freed, "delete_object", path)
	})
}

// deleteObjectVersion appends a zero-size tombstone in the deleted cluster,
// applies the versioning policy to the superseded version, withdraws the
// path's grants and public token, and returns the live size released.
func (b *Backend) deleteObjectVersion(tx Tx, node *Node, principal string) (int64, error) {
	prev, err := liveVersion(tx, node)
	if err != nil {
		return 0, err
	}
	if prev == nil {
		return 0, fmt.Errorf("object %q: %w", node.Path, ErrNotFound)
	}
	versioning, err := b.effectivePolicy(tx, node.ParentID, PolicyVersioning, b.opts.DefaultVersioning)
	if err != nil {
		return 0, err
	}

	tomb := &Version{
		NodeID:     node.ID,
		MTime:      b.clock.Now(),
		ModifiedBy: principal,
		UUID:       prev.UUID,
		Cluster:    ClusterDeleted,
	}
	serial, err := tx.VersionCreate(tomb)
	if err != nil {
		return 0, fmt.Errorf("creating tombstone: %w", err)
	}
	if err := tx.NodeSetLatestVersion(node.ID, serial); err != nil {
		return 0, err
	}
	node.LatestVersionID = serial
	if err := propagateStatistics(tx, node.ID, 1, 0, tomb.MTime, ClusterDeleted); err != nil {
		return 0, err
	}
	if _, err := b.applyVersioning(tx, node, prev, versioning); err != nil {
		return 0, err
	}

	if err := tx.PermissionsClear(node.Path); err != nil {
		return 0, err
	}
	if err := tx.PublicUnset(node.Path); err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	return prev.Size, nil
}

// GetObjectPermissions returns the nearest grant covering the object and
// the path it is attached to.
func (b *Backend) GetObjectPermissions(ctx context.Context, principal, account, container, name string) (string, *Permissions, error) {
	path := JoinPath(account, container, name)
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

// UpdateObjectPermissions replaces the object's explicit grant set. Only
// the owning account may change grants; an empty set clears them.
func (b *Backend) UpdateObjectPermissions(ctx context.Context, principal, account, container, name string, perms *Permissions) error {
	path := JoinPath(account, container, name)
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
