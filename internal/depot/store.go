package depot

import (
	"context"
	"time"
)

// MetaStore is the durable, transactional store behind the backend: nodes,
// versions, attributes, statistics, policy, permissions and public tokens.
// There is exactly one implementation of the algorithmic layer above it;
// engines only provide these primitives.
type MetaStore interface {
	// WithTx runs fn inside a read transaction. The transaction commits on
	// nil return and rolls back on error.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// WithUpdateTx runs fn inside a write transaction that takes the store's
	// write lock up front, so concurrent create-if-absent races serialize
	// instead of both succeeding.
	WithUpdateTx(ctx context.Context, fn func(Tx) error) error

	Close() error
}

// RangeQuery selects per-node versions-at-a-point-in-time over a half-open
// path range, in path order.
type RangeQuery struct {
	After     string    // lower path bound, exclusive unless Inclusive is set
	Inclusive bool      // include a node whose path equals After
	Until     string    // exclusive upper path bound; empty = unbounded
	Before    time.Time // zero = live (registered latest version per node)
	Exclude   Cluster   // versions in this cluster are omitted
	Limit     int
}

// Tx is one open transaction against the MetaStore. All reads and writes of
// a public backend call go through a single Tx.
type Tx interface {
	// Nodes

	// NodeCreate inserts a node under parentID. Fails with ErrAlreadyExists
	// if the path is taken.
	NodeCreate(parentID int64, path string) (int64, error)
	// NodeLookup resolves a path to its node, or ErrNotFound.
	NodeLookup(path string) (*Node, error)
	// NodeGet loads a node by id, or ErrNotFound.
	NodeGet(id int64) (*Node, error)
	// NodeChildCount returns the number of direct children of a node.
	NodeChildCount(id int64) (int64, error)
	// NodeChildren returns direct children with path greater than after, in
	// path order, at most limit (0 = all).
	NodeChildren(parentID int64, after string, limit int) ([]*Node, error)
	// NodeRemove deletes a node along with its statistics, policy and
	// remaining version rows. Returns false if the node has children.
	NodeRemove(id int64) (bool, error)
	// NodeSetLatestVersion points the node at its current normal version
	// (0 clears it).
	NodeSetLatestVersion(nodeID, serial int64) error

	// Versions

	// VersionCreate inserts v and returns its serial. Serials are assigned
	// by the store and strictly increase.
	VersionCreate(v *Version) (int64, error)
	// VersionGet loads a version by serial, or ErrNotFound.
	VersionGet(serial int64) (*Version, error)
	// VersionLookup returns the node's version at a point in time: the
	// registered latest when before is zero, otherwise the version with the
	// greatest serial whose mtime is strictly earlier than before.
	// ErrNotFound if there is none or it sits in the excluded cluster.
	VersionLookup(nodeID int64, before time.Time, exclude Cluster) (*Version, error)
	// VersionList returns all versions of a node ordered by serial.
	VersionList(nodeID int64) ([]*Version, error)
	// VersionRecluster moves a version between clusters in place.
	VersionRecluster(serial int64, cluster Cluster) error
	// VersionDelete hard-removes one version row and its attributes.
	VersionDelete(serial int64) error
	// VersionsPurge hard-removes all versions of the node in cluster with
	// mtime strictly before the horizon (zero horizon removes them all),
	// returning their content hashes, total size and serials. Content
	// release is decided separately against the block store.
	VersionsPurge(nodeID int64, before time.Time, cluster Cluster) (hashes []string, size int64, serials []int64, err error)
	// VersionsPurgeSubtree is VersionsPurge over every node whose path sits
	// inside the half-open range (after, until).
	VersionsPurgeSubtree(after, until string, before time.Time, cluster Cluster) (hashes []string, size int64, serials []int64, err error)
	// VersionCountWithHash counts versions in any cluster referencing the
	// content hash. Zero means the hash is releasable.
	VersionCountWithHash(hash string) (int64, error)
	// VersionsInRange streams per-node versions for the listing algorithm.
	VersionsInRange(q RangeQuery) ([]ListEntry, error)

	// Attributes

	// AttributesGet returns the domain-scoped metadata of a version.
	AttributesGet(serial int64, domain string) (map[string]string, error)
	// AttributesUpdate sets and deletes keys on a version's domain.
	AttributesUpdate(serial, nodeID int64, domain string, set map[string]string, del []string) error
	// AttributesDeleteDomain drops every key of a version's domain.
	AttributesDeleteDomain(serial int64, domain string) error
	// AttributesCopy duplicates all domains from one serial to another.
	AttributesCopy(srcSerial, dstSerial, dstNodeID int64) error
	// AttributesMarkLatest flags serial as the node's latest attribute
	// carrier and clears the flag on every other version of the node.
	AttributesMarkLatest(nodeID, serial int64) error

	// Statistics

	// StatisticsGet returns the aggregate for (node, cluster); a zero-value
	// row when none has been recorded yet.
	StatisticsGet(nodeID int64, cluster Cluster) (*Statistics, error)
	// StatisticsApply folds a delta into the (node, cluster) row.
	StatisticsApply(nodeID int64, dPopulation, dSize int64, mtime time.Time, cluster Cluster) error
	// StatisticsAsOf aggregates version rows directly, independent of the
	// incremental counters: per-node latest versions with mtime strictly
	// before the horizon, summed over the subtree rooted at nodePath,
	// omitting versions in the excluded cluster.
	StatisticsAsOf(nodePath string, before time.Time, exclude Cluster) (*Statistics, error)

	// Policy

	// PolicyGet returns the explicit policy rows of a node.
	PolicyGet(nodeID int64) (map[string]string, error)
	// PolicySet upserts policy rows; replace drops keys not present.
	PolicySet(nodeID int64, policy map[string]string, replace bool) error

	// Permissions

	// PermissionsGet returns the explicit grant set of a path, or nil.
	PermissionsGet(path string) (*Permissions, error)
	// PermissionsSet replaces the grant set of a path; an empty set clears.
	PermissionsSet(path string, p *Permissions) error
	// PermissionsClear removes every grant attached to the path.
	PermissionsClear(path string) error
	// PermissionsNearest returns the longest of the candidate paths that
	// carries an explicit grant set, or "" when none does. Candidates are
	// expected longest-first.
	PermissionsNearest(paths []string) (string, *Permissions, error)
	// PermissionsGrantedUnder lists every path at or under prefix that
	// carries an explicit grant set, in path order. Principal matching and
	// group expansion happen in the caller.
	PermissionsGrantedUnder(prefix string) ([]string, error)

	// Publication

	// PublicSet registers a token for the path. Idempotent: a published
	// path keeps its existing token.
	PublicSet(path, token string) error
	// PublicUnset withdraws the path's token.
	PublicUnset(path string) error
	// PublicGet returns the token of a published path, or ErrNotFound.
	PublicGet(path string) (string, error)
	// PublicLookup resolves a token back to its path, or ErrNotFound.
	PublicLookup(token string) (string, error)
}
