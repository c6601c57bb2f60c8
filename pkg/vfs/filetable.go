package vfs

import "sync"

// OpenFile pairs a Node with per-open state. Multiple open files may
// reference the same node; the current read/write position is not
// tracked here (clients pass explicit offsets on every operation).
type OpenFile struct {
	Node                         *Node
	CanRead, CanWrite, AppendMode bool
}

// FileTable is one client's dense array of open-file handles, guarded
// by the VFS file-table mutex (lock level 2).
type FileTable struct {
	mu    sync.Mutex
	slots []*OpenFile
}

// NewFileTable returns an empty per-client file table.
func NewFileTable() *FileTable {
	return &FileTable{}
}

// AllocLow installs f at the smallest free handle, growing the table if
// every existing slot is occupied.
func (t *FileTable) AllocLow(f *OpenFile) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.slots {
		if s == nil {
			t.slots[i] = f
			return i
		}
	}
	t.slots = append(t.slots, f)
	return len(t.slots) - 1
}

// AllocHigh installs f at the largest free handle below the table's
// current high-water mark, falling back to growing the table (same as
// AllocLow) when every slot up to the end is occupied.
func (t *FileTable) AllocHigh(f *OpenFile) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.slots) - 1; i >= 0; i-- {
		if t.slots[i] == nil {
			t.slots[i] = f
			return i
		}
	}
	t.slots = append(t.slots, f)
	return len(t.slots) - 1
}

// Get returns the open file at handle, or nil if it isn't open.
func (t *FileTable) Get(handle int) *OpenFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	if handle < 0 || handle >= len(t.slots) {
		return nil
	}
	return t.slots[handle]
}

// Close frees handle, returning the OpenFile that occupied it (nil if
// it wasn't open) so the caller can release its node reference.
func (t *FileTable) Close(handle int) *OpenFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	if handle < 0 || handle >= len(t.slots) {
		return nil
	}
	f := t.slots[handle]
	t.slots[handle] = nil
	return f
}
