package engine

import (
	"github.com/google/uuid"

	"github.com/bscheinman/cixrs/internal/book"
	"github.com/bscheinman/cixrs/internal/ids"
)

// Event is the closed set of messages an engine shard emits onto the
// shared session channel.
type Event interface {
	isEvent()
}

// OrderAck is the engine's first response to a NewOrder, carrying the
// outcome code and the canonical id the router assigned.
type OrderAck struct {
	OrderID ids.ID
	Code    Code
}

func (OrderAck) isEvent() {}

// CancelAck responds to a CancelOrder.
type CancelAck struct {
	OrderID ids.ID
	Code    Code
}

func (CancelAck) isEvent() {}

// ExecutionEvent carries one execution produced while matching an
// order. Fanned out to subscribed execution feeds by the session.
type ExecutionEvent struct {
	Execution book.Execution
}

func (ExecutionEvent) isEvent() {}

// OpenOrdersChunk is one page (≤10 orders) of a GetOpenOrders response.
// The session joins chunks across shards by Sequence and completes the
// client's pending future once every shard has reported Last.
type OpenOrdersChunk struct {
	Sequence Sequence
	Orders   []book.Order
	Last     bool
	Code     Code
}

func (OpenOrdersChunk) isEvent() {}

// SerializationResponse answers a SerializationBarrierCommand.
type SerializationResponse struct {
	Ticket   uint64
	ShardID  int
}

func (SerializationResponse) isEvent() {}

// MarketDataEvent carries an L1/L2 snapshot pair for one dirty symbol,
// published on each market-data timer tick.
type MarketDataEvent struct {
	L1 book.L1
	L2 book.L2
}

func (MarketDataEvent) isEvent() {}

// UserID is a convenience alias matching spec.md's {user, ...} shape.
type UserID = uuid.UUID
