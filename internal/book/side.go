package book

import (
	"errors"

	"github.com/bscheinman/cixrs/internal/heap"
	"github.com/bscheinman/cixrs/internal/ids"
)

// ErrDuplicateOrder is returned by Add when an order with the same id
// already rests on this side.
var ErrDuplicateOrder = errors.New("book: duplicate order id")

// buyComparer orders resting buy orders: higher price first; among
// equal prices, earlier update time first.
type buyComparer struct{}

func (buyComparer) Compare(a, b Order) int {
	if a.Price != b.Price {
		if a.Price > b.Price {
			return 1
		}
		return -1
	}
	return timePriority(a, b)
}

// sellComparer orders resting sell orders: lower price first; among
// equal prices, earlier update time first.
type sellComparer struct{}

func (sellComparer) Compare(a, b Order) int {
	if a.Price != b.Price {
		if a.Price < b.Price {
			return 1
		}
		return -1
	}
	return timePriority(a, b)
}

// timePriority breaks a price tie: the earlier UpdateTime wins (pops
// first). Equal times are a tie — the matcher still makes progress one
// order at a time regardless.
func timePriority(a, b Order) int {
	switch {
	case a.UpdateTime.Before(b.UpdateTime):
		return 1
	case b.UpdateTime.Before(a.UpdateTime):
		return -1
	default:
		return 0
	}
}

// Side is one side (bids or asks) of a symbol's order book: an indexed
// max-heap under a side-specific price-time comparator, plus an
// id-to-handle index so orders can be found, updated and removed in
// O(log n).
type Side struct {
	side  ids.Side
	heap  *heap.Heap[Order]
	index map[ids.ID]heap.Handle
}

// NewSide constructs an empty book side with a fixed order capacity.
func NewSide(side ids.Side, capacity int) *Side {
	var cmp heap.Comparer[Order]
	if side == ids.SideBuy {
		cmp = buyComparer{}
	} else {
		cmp = sellComparer{}
	}

	return &Side{
		side:  side,
		heap:  heap.New[Order](capacity, cmp),
		index: make(map[ids.ID]heap.Handle, capacity),
	}
}

// Has reports whether id rests on this side.
func (s *Side) Has(id ids.ID) bool {
	_, ok := s.index[id]
	return ok
}

// Get returns the resting order for id, if present.
func (s *Side) Get(id ids.ID) (Order, bool) {
	h, ok := s.index[id]
	if !ok {
		return Order{}, false
	}
	return s.heap.Get(h), true
}

// Add rests order on this side.
func (s *Side) Add(order Order) error {
	if s.Has(order.ID) {
		return ErrDuplicateOrder
	}
	h, err := s.heap.Insert(order)
	if err != nil {
		return err
	}
	s.index[order.ID] = h
	return nil
}

// Remove evicts id from this side. Reports whether it was present.
func (s *Side) Remove(id ids.ID) bool {
	h, ok := s.index[id]
	if !ok {
		return false
	}
	s.heap.Remove(h)
	delete(s.index, id)
	return true
}

// UpdateQuantity sets the resting order's quantity in place. If the new
// quantity is zero, the order is removed from the side instead.
func (s *Side) UpdateQuantity(id ids.ID, newQuantity uint32) {
	if newQuantity == 0 {
		s.Remove(id)
		return
	}

	h, ok := s.index[id]
	if !ok {
		return
	}
	s.index[id] = s.heap.Update(h, func(o *Order) {
		o.Quantity = newQuantity
	})
}

// PeekOrder returns the best (highest-priority) resting order, if any.
func (s *Side) PeekOrder() (Order, bool) {
	h, ok := s.heap.Peek()
	if !ok {
		return Order{}, false
	}
	return s.heap.Get(h), true
}

// Top returns the best resting order's price/quantity, or the zero
// entry if the side is empty.
func (s *Side) Top() MdEntry {
	h, ok := s.heap.Peek()
	if !ok {
		return MdEntry{}
	}
	top := s.heap.Get(h)
	return MdEntry{Price: top.Price, Quantity: top.Quantity}
}

// Depth walks the side in priority order, coalescing equal prices, and
// returns up to k aggregated levels.
func (s *Side) Depth(k int) []MdEntry {
	ordered := s.heap.Iter()
	levels := make([]MdEntry, 0, k)

	for _, o := range ordered {
		if n := len(levels); n > 0 && levels[n-1].Price == o.Price {
			levels[n-1].Quantity += o.Quantity
			continue
		}
		if len(levels) == k {
			break
		}
		levels = append(levels, MdEntry{Price: o.Price, Quantity: o.Quantity})
	}

	return levels
}

// Len returns the number of resting orders on this side.
func (s *Side) Len() int {
	return s.heap.Len()
}
