package vulkan

import (
	"sync"

	"golang.org/x/exp/slices"
)

// handleTable maps the opaque gpu handles handed to the renderer onto the
// native objects behind them. Handle 0 is never issued.
type handleTable[T any] struct {
	mu   sync.Mutex
	next uint64
	m    map[uint64]T
}

func (t *handleTable[T]) add(v T) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m == nil {
		t.m = make(map[uint64]T)
	}
	t.next++
	t.m[t.next] = v
	return t.next
}

func (t *handleTable[T]) get(h uint64) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.m[h]
	return v, ok
}

func (t *handleTable[T]) remove(h uint64) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.m[h]
	if ok {
		delete(t.m, h)
	}
	return v, ok
}

func (t *handleTable[T]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}

// drain empties the table and returns the remaining objects newest first,
// the order they have to be released in.
func (t *handleTable[T]) drain() []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]uint64, 0, len(t.m))
	for k := range t.m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]T, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		out = append(out, t.m[keys[i]])
	}
	t.m = nil
	return out
}
