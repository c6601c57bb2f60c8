package logger

import "log/slog"

// Standard field keys for structured logging across the VFS dispatcher,
// the FAT driver, the block cache, and the VBD partition layer. Use
// these keys consistently so log lines from different layers line up
// under the same field names.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // correlation ID assigned per top-level VFS call
	KeySpanID  = "span_id"  // sub-operation ID (e.g. one cache Get inside a Read)

	// ========================================================================
	// Dispatch
	// ========================================================================
	KeyOperation = "operation" // VFS/FAT/cache operation name: LOOKUP, READ, ALLOC, GET, PUT, etc.
	KeyFSHandle  = "fs_handle" // registered filesystem driver name (fat, tmpfs)
	KeyService   = "service"   // service ID a mount was given at Mount time

	// ========================================================================
	// Namespace & File Identity
	// ========================================================================
	KeyPath       = "path"        // full file/directory path
	KeyParentPath = "parent_path" // parent directory path
	KeyOldPath    = "old_path"    // source path for rename operations
	KeyNewPath    = "new_path"    // destination path for rename operations
	KeyIndex      = "index"       // triplet index: the filesystem-local node identifier
	KeySize       = "size"        // file size in bytes

	// ========================================================================
	// I/O Operations
	// ========================================================================
	KeyOffset       = "offset"        // file offset for read/write operations
	KeyCount        = "count"         // byte count requested
	KeyBytesRead    = "bytes_read"    // actual bytes read
	KeyBytesWritten = "bytes_written" // actual bytes written

	// ========================================================================
	// FAT / Cluster Allocation
	// ========================================================================
	KeyVariant      = "variant"       // FAT12, FAT16, FAT32
	KeyCluster      = "cluster"       // cluster number
	KeyClusterCount = "cluster_count" // number of clusters requested or allocated
	KeyLockLevel    = "lock_level"    // ordered mutex level, for lock-order diagnostics

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyErrorCode  = "error_code"  // numeric error code
	KeySource     = "source"      // originating subsystem: cache, fatfs, tmpfs, vbd

	// ========================================================================
	// Block Cache
	// ========================================================================
	KeyCacheHit      = "cache_hit"      // cache hit indicator
	KeyCacheSize     = "cache_size"     // current cache occupancy in blocks
	KeyCacheCapacity = "cache_capacity" // high watermark in blocks
	KeyEvicted       = "evicted"        // block evicted rather than returned to the free list

	// ========================================================================
	// Directory Operations
	// ========================================================================
	KeyEntries = "entries" // number of directory entries

	// ========================================================================
	// Link Operations
	// ========================================================================
	KeyLinkTarget = "link_target" // symbolic link target path
	KeyLinkCount  = "link_count"  // hard link count

	// ========================================================================
	// Devices & Partitions
	// ========================================================================
	KeyDevice    = "device"    // block device path or image file
	KeyPartition = "partition" // VBD partition name
)

// ============================================================================
// Field constructors for type safety
// These functions provide type-safe construction of slog.Attr values.
// ============================================================================

// TraceID returns a slog.Attr for the correlation ID.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for the sub-operation ID.
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Operation returns a slog.Attr for the dispatched operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// FSHandle returns a slog.Attr for the filesystem driver name.
func FSHandle(handle string) slog.Attr {
	return slog.String(KeyFSHandle, handle)
}

// Service returns a slog.Attr for a mount's service ID.
func Service(id string) slog.Attr {
	return slog.String(KeyService, id)
}

// Path returns a slog.Attr for a file/directory path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// ParentPath returns a slog.Attr for a parent directory path.
func ParentPath(p string) slog.Attr {
	return slog.String(KeyParentPath, p)
}

// OldPath returns a slog.Attr for the source path in a rename.
func OldPath(p string) slog.Attr {
	return slog.String(KeyOldPath, p)
}

// NewPath returns a slog.Attr for the destination path in a rename.
func NewPath(p string) slog.Attr {
	return slog.String(KeyNewPath, p)
}

// Index returns a slog.Attr for a triplet index.
func Index(idx uint64) slog.Attr {
	return slog.Uint64(KeyIndex, idx)
}

// Size returns a slog.Attr for a file size.
func Size(s uint64) slog.Attr {
	return slog.Uint64(KeySize, s)
}

// Offset returns a slog.Attr for a file offset.
func Offset(off uint64) slog.Attr {
	return slog.Uint64(KeyOffset, off)
}

// Count returns a slog.Attr for a requested byte count.
func Count(c uint32) slog.Attr {
	return slog.Uint64(KeyCount, uint64(c))
}

// BytesRead returns a slog.Attr for actual bytes read.
func BytesRead(n int) slog.Attr {
	return slog.Int(KeyBytesRead, n)
}

// BytesWritten returns a slog.Attr for actual bytes written.
func BytesWritten(n int) slog.Attr {
	return slog.Int(KeyBytesWritten, n)
}

// Variant returns a slog.Attr for a FAT variant.
func Variant(v string) slog.Attr {
	return slog.String(KeyVariant, v)
}

// Cluster returns a slog.Attr for a cluster number.
func Cluster(c uint32) slog.Attr {
	return slog.Uint64(KeyCluster, uint64(c))
}

// ClusterCount returns a slog.Attr for a cluster count.
func ClusterCount(n int) slog.Attr {
	return slog.Int(KeyClusterCount, n)
}

// LockLevel returns a slog.Attr for an ordered mutex level.
func LockLevel(level int) slog.Attr {
	return slog.Int(KeyLockLevel, level)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric error code.
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Source returns a slog.Attr for the originating subsystem.
func Source(src string) slog.Attr {
	return slog.String(KeySource, src)
}

// CacheHit returns a slog.Attr for a cache hit indicator.
func CacheHit(hit bool) slog.Attr {
	return slog.Bool(KeyCacheHit, hit)
}

// CacheSize returns a slog.Attr for the current cache occupancy.
func CacheSize(size int) slog.Attr {
	return slog.Int(KeyCacheSize, size)
}

// CacheCapacity returns a slog.Attr for the cache's high watermark.
func CacheCapacity(capacity int) slog.Attr {
	return slog.Int(KeyCacheCapacity, capacity)
}

// Evicted returns a slog.Attr marking a block as evicted.
func Evicted(evicted bool) slog.Attr {
	return slog.Bool(KeyEvicted, evicted)
}

// Entries returns a slog.Attr for a directory entry count.
func Entries(n int) slog.Attr {
	return slog.Int(KeyEntries, n)
}

// LinkTarget returns a slog.Attr for a symbolic link target path.
func LinkTarget(target string) slog.Attr {
	return slog.String(KeyLinkTarget, target)
}

// LinkCount returns a slog.Attr for a hard link count.
func LinkCount(count uint32) slog.Attr {
	return slog.Uint64(KeyLinkCount, uint64(count))
}

// Device returns a slog.Attr for a block device path or image file.
func Device(path string) slog.Attr {
	return slog.String(KeyDevice, path)
}

// Partition returns a slog.Attr for a VBD partition name.
func Partition(name string) slog.Attr {
	return slog.String(KeyPartition, name)
}
