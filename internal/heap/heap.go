// Package heap implements the indexed max-heap (C2): an array-backed
// binary heap where every inserted value returns a stable external
// handle, permitting O(log n) remove and update. It is grounded
// directly on the slot-pool heap in
// original_source/src/libcix/heap.rs — parent/left/right/size metadata
// per node, an i32 sentinel for "no child/parent", and the
// pull_up/insert_node rebalancing recursion — translated into a
// generic Go type instead of a Rust trait object.
package heap

import (
	"errors"
	stdheap "container/heap"
)

// ErrHeapFull is returned by Insert when the heap's fixed capacity is
// exhausted.
var ErrHeapFull = errors.New("heap: capacity exhausted")

// none is the sentinel slot index meaning "no node here", matching the
// original's HeapPtr = -1 convention.
const none int32 = -1

// Handle is a stable, opaque reference to a heap slot. It remains valid
// across sifts and refers to the same logical value until that value is
// removed.
type Handle int32

// NoHandle is the zero-value-safe invalid handle.
const NoHandle Handle = -1

// Comparer orders two values for heap priority. Compare(a, b) should
// return a positive number if a has higher priority than b (pops
// first), negative if b has higher priority, and zero if they are tied
// for priority purposes (the heap still makes forward progress on
// ties — see the matcher, which never needs strict ordering between
// equal-priority resting orders beyond FIFO pop-one-at-a-time).
type Comparer[T any] interface {
	Compare(a, b T) int
}

type slot[T any] struct {
	value  T
	parent int32
	left   int32
	right  int32
	size   uint32
}

// Heap is an indexed max-heap over values of type T.
type Heap[T any] struct {
	cmp  Comparer[T]
	pool []slot[T]
	free []int32
	root int32
}

// New constructs a heap with a fixed capacity.
func New[T any](capacity int, cmp Comparer[T]) *Heap[T] {
	h := &Heap[T]{
		cmp:  cmp,
		pool: make([]slot[T], capacity),
		free: make([]int32, capacity),
		root: none,
	}
	for i := 0; i < capacity; i++ {
		h.free[i] = int32(capacity - 1 - i)
	}
	return h
}

// Len returns the number of values currently held.
func (h *Heap[T]) Len() int {
	return len(h.pool) - len(h.free)
}

// IsEmpty reports whether the heap holds no values.
func (h *Heap[T]) IsEmpty() bool {
	return h.root < 0
}

// Peek returns the handle of the highest-priority value, if any.
func (h *Heap[T]) Peek() (Handle, bool) {
	if h.root < 0 {
		return NoHandle, false
	}
	return Handle(h.root), true
}

// Get returns the value referenced by handle.
func (h *Heap[T]) Get(handle Handle) T {
	return h.pool[handle].value
}

// Pop removes and returns the highest-priority value.
func (h *Heap[T]) Pop() (T, bool) {
	handle, ok := h.Peek()
	if !ok {
		var zero T
		return zero, false
	}
	v := h.Get(handle)
	h.Remove(handle)
	return v, true
}

func (h *Heap[T]) resetSlot(i int32, value T) {
	h.pool[i] = slot[T]{value: value, parent: none, left: none, right: none, size: 1}
}

func (h *Heap[T]) updateSize(i int32) {
	s := &h.pool[i]
	size := uint32(1)
	if s.left >= 0 {
		size += h.pool[s.left].size
	}
	if s.right >= 0 {
		size += h.pool[s.right].size
	}
	s.size = size
}

func (h *Heap[T]) decrementSize(i int32) {
	for i >= 0 {
		h.pool[i].size--
		i = h.pool[i].parent
	}
}

// merge combines two independent subtrees (either may be absent, i.e.
// none) into one, returning the new subtree root. Both insert (merging
// a fresh singleton leaf into the root) and remove's pull-up (merging
// a removed node's two children back together) are expressed as this
// same operation, per spec.md §4.1's balancing rule: "on insert,
// descend into the smaller subtree; on remove, the larger child
// replaces the removed node and recursion continues." The returned
// root's parent field is left as none; callers reparent it themselves.
func (h *Heap[T]) merge(a, b int32) int32 {
	if a < 0 {
		return b
	}
	if b < 0 {
		return a
	}

	if h.cmp.Compare(h.pool[b].value, h.pool[a].value) > 0 {
		a, b = b, a
	}

	left := h.pool[a].left
	right := h.pool[a].right
	var leftSize, rightSize uint32
	if left >= 0 {
		leftSize = h.pool[left].size
	}
	if right >= 0 {
		rightSize = h.pool[right].size
	}

	if leftSize <= rightSize {
		merged := h.merge(left, b)
		h.pool[a].left = merged
		if merged >= 0 {
			h.pool[merged].parent = a
		}
	} else {
		merged := h.merge(right, b)
		h.pool[a].right = merged
		if merged >= 0 {
			h.pool[merged].parent = a
		}
	}

	h.updateSize(a)
	return a
}

// Insert adds value to the heap, returning a handle stable until that
// value is removed.
func (h *Heap[T]) Insert(value T) (Handle, error) {
	n := len(h.free)
	if n == 0 {
		return NoHandle, ErrHeapFull
	}
	idx := h.free[n-1]
	h.free = h.free[:n-1]
	h.resetSlot(idx, value)

	h.root = h.merge(h.root, idx)
	h.pool[h.root].parent = none

	return Handle(idx), nil
}

// Remove evicts the value at handle, returning its slot to the free
// list.
func (h *Heap[T]) Remove(handle Handle) {
	idx := int32(handle)
	node := h.pool[idx]
	replacement := h.merge(node.left, node.right)

	if node.parent < 0 {
		h.root = replacement
		if replacement >= 0 {
			h.pool[replacement].parent = none
		}
	} else {
		parent := &h.pool[node.parent]
		if parent.left == idx {
			parent.left = replacement
		} else {
			parent.right = replacement
		}
		if replacement >= 0 {
			h.pool[replacement].parent = node.parent
		}
		h.decrementSize(node.parent)
	}

	h.free = append(h.free, idx)
}

// Update applies mutator to the value at handle and restores the heap
// invariant. Implemented as remove-then-reinsert, the general-case
// contract from spec — callers whose mutation cannot change relative
// priority (e.g. decrementing a resting order's quantity) pay an
// avoidable O(log n), but correctness never depends on the caller
// knowing that.
func (h *Heap[T]) Update(handle Handle, mutator func(*T)) Handle {
	value := h.Get(handle)
	mutator(&value)
	h.Remove(handle)
	newHandle, err := h.Insert(value)
	if err != nil {
		// Removing first guarantees a free slot exists for the reinsert.
		panic("heap: update lost capacity invariant")
	}
	return newHandle
}

// auxItem/auxHeap implement container/heap.Interface to provide the
// transient, non-mutating priority walk Iter() needs: this heap's own
// pool is never touched, only a small scratch structure seeded from the
// subtree roots visited so far.
type auxItem[T any] struct {
	index int32
	value T
}

type auxHeap[T any] struct {
	cmp   Comparer[T]
	items []auxItem[T]
}

func (a *auxHeap[T]) Len() int { return len(a.items) }
func (a *auxHeap[T]) Less(i, j int) bool {
	return a.cmp.Compare(a.items[i].value, a.items[j].value) > 0
}
func (a *auxHeap[T]) Swap(i, j int) { a.items[i], a.items[j] = a.items[j], a.items[i] }
func (a *auxHeap[T]) Push(x interface{}) {
	a.items = append(a.items, x.(auxItem[T]))
}
func (a *auxHeap[T]) Pop() interface{} {
	old := a.items
	n := len(old)
	item := old[n-1]
	a.items = old[:n-1]
	return item
}

// Iter yields every value in priority order without modifying the
// heap, per spec.md §4.1's sole iteration contract: a transient
// auxiliary heap seeded from the root.
func (h *Heap[T]) Iter() []T {
	if h.root < 0 {
		return nil
	}

	aux := &auxHeap[T]{cmp: h.cmp}
	stdheap.Init(aux)
	stdheap.Push(aux, auxItem[T]{index: h.root, value: h.pool[h.root].value})

	out := make([]T, 0, h.Len())
	for aux.Len() > 0 {
		item := stdheap.Pop(aux).(auxItem[T])
		out = append(out, item.value)

		node := h.pool[item.index]
		if node.left >= 0 {
			stdheap.Push(aux, auxItem[T]{index: node.left, value: h.pool[node.left].value})
		}
		if node.right >= 0 {
			stdheap.Push(aux, auxItem[T]{index: node.right, value: h.pool[node.right].value})
		}
	}

	return out
}
