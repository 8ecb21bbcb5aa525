package depot

import "time"

// Cluster is the lifecycle state of a version.
type Cluster int

const (
	// ClusterNormal holds the current version of each node. Only normal
	// versions count toward usage and quota.
	ClusterNormal Cluster = 0
	// ClusterHistory holds superseded versions retained by the versioning
	// policy.
	ClusterHistory Cluster = 1
	// ClusterDeleted holds tombstones left behind by object deletion.
	ClusterDeleted Cluster = 2
)

func (c Cluster) String() string {
	switch c {
	case ClusterNormal:
		return "normal"
	case ClusterHistory:
		return "history"
	case ClusterDeleted:
		return "deleted"
	}
	return "unknown"
}

// RootNodeID is the sentinel node at the top of the hierarchy. It is the only
// node that is its own parent.
const RootNodeID int64 = 0

// Node is one entry in the account/container/object tree, addressed by its
// full path. Hierarchy is implied by path prefixing; the parent pointer must
// agree with it.
type Node struct {
	ID              int64
	ParentID        int64
	Path            string
	LatestVersionID int64 // 0 when the node has no current version
}

// Version is one immutable snapshot of a node's content and metadata.
// Serials are unique and strictly increasing across the whole store.
type Version struct {
	Serial       int64
	NodeID       int64
	Hash         string // object hash; empty iff Size == 0
	Size         int64
	ContentType  string
	SourceSerial int64 // serial this version was duplicated from, 0 if none
	MTime        time.Time
	ModifiedBy   string
	UUID         string // stable across in-place mutations of the same object
	Checksum     string
	Cluster      Cluster
}

// Statistics is the incremental aggregate kept per (node, cluster).
// Population counts direct version ownership under the node; size and mtime
// aggregate recursively because every descendant write walks the ancestor
// chain.
type Statistics struct {
	NodeID     int64
	Cluster    Cluster
	Population int64
	Size       int64
	MTime      time.Time
}

// Policy keys understood by the backend.
const (
	PolicyQuota      = "quota"      // bytes, 0 = unlimited
	PolicyVersioning = "versioning" // "auto" or "none"
)

const (
	VersioningAuto = "auto"
	VersioningNone = "none"
)

// Access capabilities for permission grants.
const (
	AccessRead  = "read"
	AccessWrite = "write"
)

// Permissions is the explicit grant set attached to one path. Principals are
// user identifiers or "account:group" pairs expanded at check time.
type Permissions struct {
	Read  []string
	Write []string
}

// IsEmpty reports whether the grant set carries no principals at all.
func (p *Permissions) IsEmpty() bool {
	return p == nil || (len(p.Read) == 0 && len(p.Write) == 0)
}

// ListEntry is one non-collapsed match produced by a listing.
type ListEntry struct {
	Path    string // full node path
	Version Version
}
