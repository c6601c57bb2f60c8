// Package vfs implements the namespace dispatcher: path lookup across
// mount boundaries, the per-client open-file table, and
// read/write/stat/sync/rename forwarding to whichever FileSystem
// server owns the target object.
package vfs

// Kind is a VFS node's object type. It is monotonic once known: the
// implementation never downgrades a node from File/Directory back to
// Unknown, only the reverse.
type Kind int

const (
	KindUnknown Kind = iota
	KindFile
	KindDirectory
)

// Triplet uniquely identifies any filesystem object in the system:
// which registered filesystem instance owns it, which device backs that
// instance, and the FS-assigned stable index within it.
type Triplet struct {
	FSHandle  string
	ServiceID string
	Index     uint64
}

// NodeInfo is what a FileSystem reports back about one of its objects:
// enough for the VFS node cache to populate a fresh Node without a
// second round trip.
type NodeInfo struct {
	Kind Kind
	Size uint64
}

// FSStat is the aggregate volume-level information statfs reports.
type FSStat struct {
	BlockSize  uint32
	Blocks     uint64
	FreeBlocks uint64
}
