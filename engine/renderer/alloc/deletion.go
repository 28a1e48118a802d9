package alloc

import (
	"github.com/charmbracelet/log"
	"github.com/spaghettifunk/lumen/engine/core"
)

// Key identifies one release action. Generation disambiguates handles that a
// device recycles.
type Key struct {
	Handle     uint64
	Generation uint32
}

type release struct {
	key  Key
	kind string
	fn   func()
}

// DeletionQueue is an arena of release actions drained in reverse push order,
// so resources go away before the resources they were built from.
type DeletionQueue struct {
	entries    []release
	index      map[Key]int
	generation uint32
	flushed    bool
	log        *log.Logger
}

func NewDeletionQueue() *DeletionQueue {
	return &DeletionQueue{
		index: make(map[Key]int),
		log:   core.NewComponentLogger("deletion"),
	}
}

// Push registers fn to release the resource identified by handle.
func (q *DeletionQueue) Push(kind string, handle uint64, fn func()) Key {
	core.Assert(!q.flushed, "deletion queue: push of %s %d after flush", kind, handle)
	q.generation++
	key := Key{Handle: handle, Generation: q.generation}
	q.index[key] = len(q.entries)
	q.entries = append(q.entries, release{key: key, kind: kind, fn: fn})
	return key
}

// Cancel drops a pending release, for resources released early by their owner.
func (q *DeletionQueue) Cancel(key Key) bool {
	i, ok := q.index[key]
	if !ok {
		return false
	}
	q.entries[i].fn = nil
	delete(q.index, key)
	return true
}

// Len returns the number of pending releases.
func (q *DeletionQueue) Len() int {
	return len(q.index)
}

// Flush runs every pending release once, newest first. Later calls do nothing.
// The caller must have confirmed the device is idle.
func (q *DeletionQueue) Flush() int {
	if q.flushed {
		return 0
	}
	q.flushed = true

	n := 0
	for i := len(q.entries) - 1; i >= 0; i-- {
		e := q.entries[i]
		if e.fn == nil {
			continue
		}
		e.fn()
		n++
	}
	q.entries = nil
	q.index = make(map[Key]int)
	q.log.Debug("flushed", "released", n)
	return n
}
