package book

import (
	"github.com/bscheinman/cixrs/internal/ids"
)

// Book pairs a symbol's bid and ask sides with its own execution-id
// generator. A book is owned exclusively by one engine; nothing else
// ever touches it directly (spec.md §3, "Ownership").
type Book struct {
	Symbol   ids.Symbol
	SymbolID ids.SymbolID
	Bids     *Side
	Asks     *Side
	ExecIDs  *ids.SequenceGenerator
}

// New constructs an empty book for symbol/symbolID with a fixed
// per-side order capacity.
func New(symbol ids.Symbol, symbolID ids.SymbolID, capacityPerSide int) *Book {
	return &Book{
		Symbol:   symbol,
		SymbolID: symbolID,
		Bids:     NewSide(ids.SideBuy, capacityPerSide),
		Asks:     NewSide(ids.SideSell, capacityPerSide),
		ExecIDs:  ids.NewSequenceGenerator(symbolID, ids.KindExecution),
	}
}

// Side returns the book side a given trading side rests on.
func (b *Book) Side(side ids.Side) *Side {
	if side == ids.SideBuy {
		return b.Bids
	}
	return b.Asks
}

// GetOrder looks up an order by id, dispatching to the correct side via
// id.Side().
func (b *Book) GetOrder(id ids.ID) (Order, bool) {
	return b.Side(id.Side()).Get(id)
}

// HasOrder reports whether id rests on either side — duplicate
// detection must check both sides, since a cross-side collision must
// not shadow an active id (spec.md §9).
func (b *Book) HasOrder(id ids.ID) bool {
	return b.Bids.Has(id) || b.Asks.Has(id)
}

// AllOrders returns every resting order, bids first then asks, each in
// its side's priority order.
func (b *Book) AllOrders() []Order {
	bids := b.Bids.heap.Iter()
	asks := b.Asks.heap.Iter()
	out := make([]Order, 0, len(bids)+len(asks))
	out = append(out, bids...)
	out = append(out, asks...)
	return out
}

// L1 is the top-of-book snapshot for a symbol.
type L1 struct {
	Symbol    ids.Symbol
	BestBid   MdEntry
	BestAsk   MdEntry
	LastTrade *Execution
}

// L2 is the depth-of-book snapshot for a symbol.
type L2 struct {
	Symbol    ids.Symbol
	Bids      []MdEntry
	Asks      []MdEntry
	LastTrade *Execution
}

// MaxDepthLevels is the fixed number of aggregated levels per side an
// L2 snapshot carries (spec.md §3).
const MaxDepthLevels = 5

// SnapshotL1 builds the top-of-book snapshot.
func (b *Book) SnapshotL1(lastTrade *Execution) L1 {
	return L1{
		Symbol:    b.Symbol,
		BestBid:   b.Bids.Top(),
		BestAsk:   b.Asks.Top(),
		LastTrade: lastTrade,
	}
}

// SnapshotL2 builds the depth-of-book snapshot, up to MaxDepthLevels
// per side.
func (b *Book) SnapshotL2(lastTrade *Execution) L2 {
	return L2{
		Symbol:    b.Symbol,
		Bids:      b.Bids.Depth(MaxDepthLevels),
		Asks:      b.Asks.Depth(MaxDepthLevels),
		LastTrade: lastTrade,
	}
}
