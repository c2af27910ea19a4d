package ids

// SequenceGenerator mints dense, monotonic sequence numbers scoped to a
// single (symbol, kind) partition — the side bit rides along in the
// packed id but does not fork the counter, so a buy and a sell order
// for the same symbol never collide on sequence. It is not safe for
// concurrent use — callers (the router's session thread, or a book's
// owning engine) advance it from a single thread, per spec.
type SequenceGenerator struct {
	symbol SymbolID
	kind   Kind
	next   uint64
}

// NewSequenceGenerator scopes a generator to a symbol/kind.
func NewSequenceGenerator(symbol SymbolID, kind Kind) *SequenceGenerator {
	return &SequenceGenerator{symbol: symbol, kind: kind}
}

// Next allocates the next id in the scope, advancing the counter. side
// is folded into the packed id but ignored for KindExecution, which
// carries no side bit.
func (g *SequenceGenerator) Next(side Side) ID {
	id := Pack(g.symbol, g.kind, side, g.next)
	g.next++
	return id
}

// Peek returns the next sequence value without advancing.
func (g *SequenceGenerator) Peek() uint64 {
	return g.next
}

// Advance moves the counter forward to max(current, seq) — used during
// WAL replay so post-replay allocation is strictly increasing.
func (g *SequenceGenerator) Advance(seq uint64) {
	if seq > g.next {
		g.next = seq
	}
}
