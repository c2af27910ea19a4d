package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/bscheinman/cixrs/internal/ids"
)

// Command is the closed set of messages an engine shard's command
// channel accepts, matching spec.md §4.5's "Commands accepted" list.
// Implemented as a sum type via an unexported marker method rather than
// a tagged struct, since each variant's payload is committed to the
// WAL as a distinct record (see internal/wal).
type Command interface {
	isCommand()
	// RoutingSymbol identifies the owning book for commands that are
	// routed by symbol. GetOpenOrders and SerializationBarrier are
	// fanned out by the router instead, and return ok=false.
	RoutingSymbol() (ids.SymbolID, bool)
}

// Sequence is a client-chosen correlation key joining a GetOpenOrders
// response's chunks across every engine shard.
type Sequence struct {
	User      uuid.UUID
	ClientSeq uint64
}

// NewOrderCommand admits a new limit order. UpdateTime is set once by
// the session at admission (not at client send, and not re-derived on replay —
// see SPEC_FULL.md §9 open-question #1) and persisted verbatim in the
// WAL so replayed time-priority matches the original live run.
type NewOrderCommand struct {
	User       uuid.UUID
	OrderID    ids.ID
	SymbolID   ids.SymbolID
	Symbol     ids.Symbol
	Side       ids.Side
	Price      float64
	Quantity   uint32
	UpdateTime time.Time
}

func (NewOrderCommand) isCommand() {}
func (c NewOrderCommand) RoutingSymbol() (ids.SymbolID, bool) { return c.SymbolID, true }

// CancelOrderCommand cancels a resting order. A no-op if the order is
// absent or already filled.
type CancelOrderCommand struct {
	User    uuid.UUID
	OrderID ids.ID
}

func (CancelOrderCommand) isCommand() {}
func (c CancelOrderCommand) RoutingSymbol() (ids.SymbolID, bool) {
	return c.OrderID.SymbolID(), true
}

// GetOpenOrdersCommand requests every resting order belonging to User
// across every shard, joined by Sequence on the session side.
type GetOpenOrdersCommand struct {
	Sequence Sequence
}

func (GetOpenOrdersCommand) isCommand()                               {}
func (GetOpenOrdersCommand) RoutingSymbol() (ids.SymbolID, bool) { return 0, false }

// SerializationBarrierCommand, once processed, guarantees every command
// enqueued before it on this shard has completed and its side effects
// have been published.
type SerializationBarrierCommand struct {
	Ticket uint64
}

func (SerializationBarrierCommand) isCommand()                               {}
func (SerializationBarrierCommand) RoutingSymbol() (ids.SymbolID, bool) { return 0, false }
