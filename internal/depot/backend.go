package depot

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Options tunes the backend. Zero quota values mean unlimited.
type Options struct {
	BlockSize             int64
	DefaultAccountQuota   int64
	DefaultContainerQuota int64
	DefaultVersioning     string
}

// DefaultOptions returns the stock backend tuning.
func DefaultOptions() Options {
	return Options{
		BlockSize:         DefaultBlockSize,
		DefaultVersioning: VersioningAuto,
	}
}

// Backend orchestrates the metadata store, the block store and the quota
// collaborator. Every public operation runs inside one transaction: begin on
// entry, commit on normal return, roll back on any error — a quota violation
// included, so no partial state ever becomes visible.
type Backend struct {
	meta         MetaStore
	blocks       BlockStore
	commissioner Commissioner
	groups       GroupProvider
	logger       Logger
	clock        Clock
	idgen        IDGenerator
	opts         Options
}

// NewBackend wires a Backend from its collaborators.
func NewBackend(meta MetaStore, blocks BlockStore, commissioner Commissioner, groups GroupProvider, logger Logger, clock Clock, idgen IDGenerator, opts Options) *Backend {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.DefaultVersioning == "" {
		opts.DefaultVersioning = VersioningAuto
	}
	return &Backend{
		meta:         meta,
		blocks:       blocks,
		commissioner: commissioner,
		groups:       groups,
		logger:       logger,
		clock:        clock,
		idgen:        idgen,
		opts:         opts,
	}
}

// BlockSize returns the configured block partition size.
func (b *Backend) BlockSize() int64 { return b.opts.BlockSize }

// lookupAccount resolves the account node, creating it under the root on
// first touch when create is set. Creation only happens inside update
// transactions, whose up-front write lock keeps two concurrent first writes
// from both inserting.
func (b *Backend) lookupAccount(tx Tx, account string, create bool) (*Node, error) {
	node, err := tx.NodeLookup(account)
	if errors.Is(err, ErrNotFound) && create {
		id, cerr := tx.NodeCreate(RootNodeID, account)
		if cerr != nil {
			return nil, fmt.Errorf("creating account node %q: %w", account, cerr)
		}
		return &Node{ID: id, ParentID: RootNodeID, Path: account}, nil
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

// lookupContainer resolves the container node; containers are never created
// implicitly.
func (b *Backend) lookupContainer(tx Tx, account, container string) (*Node, error) {
	return tx.NodeLookup(JoinPath(account, container))
}

// lookupObject resolves the object node, optionally creating it under its
// container.
func (b *Backend) lookupObject(tx Tx, containerNode *Node, path string, create bool) (*Node, error) {
	node, err := tx.NodeLookup(path)
	if errors.Is(err, ErrNotFound) && create {
		id, cerr := tx.NodeCreate(containerNode.ID, path)
		if cerr != nil {
			return nil, fmt.Errorf("creating object node %q: %w", path, cerr)
		}
		return &Node{ID: id, ParentID: containerNode.ID, Path: path}, nil
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

// liveVersion returns the node's current normal version, or nil when the
// node has none (fresh node, or latest is a tombstone).
func liveVersion(tx Tx, node *Node) (*Version, error) {
	if node.LatestVersionID == 0 {
		return nil, nil
	}
	v, err := tx.VersionGet(node.LatestVersionID)
	if err != nil {
		return nil, err
	}
	if v.Cluster != ClusterNormal {
		return nil, nil
	}
	return v, nil
}

// effectivePolicy resolves a node's policy value with its configured
// default.
func (b *Backend) effectivePolicy(tx Tx, nodeID int64, key, fallback string) (string, error) {
	policy, err := tx.PolicyGet(nodeID)
	if err != nil {
		return "", err
	}
	if v, ok := policy[key]; ok {
		return v, nil
	}
	return fallback, nil
}

func (b *Backend) effectiveQuota(tx Tx, nodeID int64, fallback int64) (int64, error) {
	raw, err := b.effectivePolicy(tx, nodeID, PolicyQuota, strconv.FormatInt(fallback, 10))
	if err != nil {
		return 0, err
	}
	quota, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("policy quota %q: %w", raw, ErrInvalidPolicy)
	}
	return quota, nil
}

// validatePolicy rejects malformed quota/versioning values before they are
// stored.
func validatePolicy(policy map[string]string) error {
	for key, value := range policy {
		switch key {
		case PolicyQuota:
			q, err := strconv.ParseInt(value, 10, 64)
			if err != nil || q < 0 {
				return fmt.Errorf("quota %q: %w", value, ErrInvalidPolicy)
			}
		case PolicyVersioning:
			if value != VersioningAuto && value != VersioningNone {
				return fmt.Errorf("versioning %q: %w", value, ErrInvalidPolicy)
			}
		default:
			return fmt.Errorf("policy key %q: %w", key, ErrInvalidPolicy)
		}
	}
	return nil
}

// checkQuota verifies projected usage after the in-transaction statistics
// update. Statistics already include the mutation's delta at this point, so
// the current totals are the projected totals; breaching either limit rolls
// the whole operation back.
func (b *Backend) checkQuota(tx Tx, accountNode, containerNode *Node) error {
	containerQuota, err := b.effectiveQuota(tx, containerNode.ID, b.opts.DefaultContainerQuota)
	if err != nil {
		return err
	}
	if containerQuota > 0 {
		stats, err := tx.StatisticsGet(containerNode.ID, ClusterNormal)
		if err != nil {
			return err
		}
		if stats.Size > containerQuota {
			return fmt.Errorf("container %q usage %d over limit %d: %w",
				containerNode.Path, stats.Size, containerQuota, ErrQuotaExceeded)
		}
	}

	accountQuota, err := b.effectiveQuota(tx, accountNode.ID, b.opts.DefaultAccountQuota)
	if err != nil {
		return err
	}
	if accountQuota > 0 {
		stats, err := tx.StatisticsGet(accountNode.ID, ClusterNormal)
		if err != nil {
			return err
		}
		if stats.Size > accountQuota {
			return fmt.Errorf("account %q usage %d over limit %d: %w",
				accountNode.Path, stats.Size, accountQuota, ErrQuotaExceeded)
		}
	}
	return nil
}

// versionParams carries the caller-specified fields of a new version.
// Unset fields are duplicated from the source version, so metadata-only
// edits and copy/move preserve everything they do not override.
type versionParams struct {
	Hash            string
	Size            int64
	ContentType     string
	Checksum        string
	ModifiedBy      string
	UUID            string
	OverrideContent bool // take Hash/Size from params even when zero
}

// putVersion appends a new version to node, duplicating unimproved fields
// from src (the previous latest, or another node's version for copy/move)
// and applying the versioning policy to the superseded normal version.
// Returns the created version and the size freed by eager supersession, if
// any.
func (b *Backend) putVersion(tx Tx, node *Node, src *Version, p versionParams, versioning string) (*Version, int64, error) {
	prev, err := liveVersion(tx, node)
	if err != nil {
		return nil, 0, err
	}

	v := Version{
		Hash:        p.Hash,
		Size:        p.Size,
		ContentType: p.ContentType,
		Checksum:    p.Checksum,
		ModifiedBy:  p.ModifiedBy,
		UUID:        p.UUID,
	}
	if src != nil {
		if !p.OverrideContent {
			v.Hash = src.Hash
			v.Size = src.Size
		}
		if v.ContentType == "" {
			v.ContentType = src.ContentType
		}
		if v.Checksum == "" {
			v.Checksum = src.Checksum
		}
		v.SourceSerial = src.Serial
	}
	if v.UUID == "" {
		v.UUID = b.idgen.New()
	}
	v.NodeID = node.ID
	v.MTime = b.clock.Now()
	v.Cluster = ClusterNormal

	serial, err := tx.VersionCreate(&v)
	if err != nil {
		return nil, 0, fmt.Errorf("creating version: %w", err)
	}
	v.Serial = serial

	if err := tx.NodeSetLatestVersion(node.ID, serial); err != nil {
		return nil, 0, err
	}
	node.LatestVersionID = serial
	if err := tx.AttributesMarkLatest(node.ID, serial); err != nil {
		return nil, 0, err
	}
	if err := propagateStatistics(tx, node.ID, 1, v.Size, v.MTime, ClusterNormal); err != nil {
		return nil, 0, err
	}

	if src != nil {
		if err := tx.AttributesCopy(src.Serial, serial, node.ID); err != nil {
			return nil, 0, fmt.Errorf("duplicating attributes: %w", err)
		}
	}

	freed, err := b.applyVersioning(tx, node, prev, versioning)
	if err != nil {
		return nil, 0, err
	}
	return &v, freed, nil
}

// applyVersioning reclassifies or discards the superseded normal version.
// With versioning "auto" it moves to the history cluster; with "none" it is
// purged immediately and its size reported back so quota accounting sees
// the release.
func (b *Backend) applyVersioning(tx Tx, node *Node, prev *Version, versioning string) (int64, error) {
	if prev == nil {
		return 0, nil
	}
	if err := propagateStatistics(tx, node.ID, -1, -prev.Size, b.clock.Now(), ClusterNormal); err != nil {
		return 0, err
	}
	if versioning == VersioningNone {
		if err := tx.VersionDelete(prev.Serial); err != nil {
			return 0, fmt.Errorf("discarding superseded version %d: %w", prev.Serial, err)
		}
		if err := b.releaseHashes(tx, []string{prev.Hash}); err != nil {
			return 0, err
		}
		return prev.Size, nil
	}
	if err := tx.VersionRecluster(prev.Serial, ClusterHistory); err != nil {
		return 0, fmt.Errorf("reclassifying superseded version %d: %w", prev.Serial, err)
	}
	if err := propagateStatistics(tx, node.ID, 1, prev.Size, b.clock.Now(), ClusterHistory); err != nil {
		return 0, err
	}
	return 0, nil
}

// releaseHashes drops the hashmap association of content hashes no version
// references anymore. Physical block deletion stays with the block store.
func (b *Backend) releaseHashes(tx Tx, hashes []string) error {
	for _, h := range hashes {
		if h == "" {
			continue
		}
		n, err := tx.VersionCountWithHash(h)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if err := b.blocks.MapDelete(h); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("releasing hashmap %s: %w", h, err)
		}
	}
	return nil
}

// reportUsage notifies the commissioning collaborator about a size delta.
// Rejection aborts the surrounding transaction like a local quota failure.
func (b *Backend) reportUsage(account string, delta int64, op, path string) error {
	if delta == 0 {
		return nil
	}
	if err := b.commissioner.Commission(account, delta, "storage", op+" "+path); err != nil {
		return fmt.Errorf("usage commission rejected: %w: %v", ErrQuotaExceeded, err)
	}
	return nil
}

// statisticsUntil aggregates version rows under a path as of the horizon,
// answering point-in-time ("attic") size queries independently of the live
// counters. Tombstoned objects are excluded.
func statisticsUntil(tx Tx, path string, until time.Time) (*Statistics, error) {
	return tx.StatisticsAsOf(path, until, ClusterDeleted)
}
