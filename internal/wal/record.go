package wal

import (
	"time"

	"github.com/google/uuid"

	"github.com/bscheinman/cixrs/internal/engine"
	"github.com/bscheinman/cixrs/internal/ids"
)

// recordKind discriminates the WAL's two state-changing record types.
// GetOpenOrders and SerializationBarrier are never state-changing and
// are never logged, per spec.md §4.6 ("append-only journal of all
// state-changing commands").
type recordKind uint8

const (
	kindNewOrder recordKind = iota + 1
	kindCancelOrder
)

// record is the gob-encoded envelope written to a segment. Exactly one
// of NewOrder/CancelOrder is populated, selected by Kind. Only
// exported fields round-trip through gob, so the envelope is a plain
// struct rather than the engine.Command interface itself.
type record struct {
	Kind        recordKind
	NewOrder    *newOrderRecord
	CancelOrder *cancelOrderRecord
}

type newOrderRecord struct {
	User       uuid.UUID
	OrderID    ids.ID
	SymbolID   ids.SymbolID
	Symbol     ids.Symbol
	Side       ids.Side
	Price      float64
	Quantity   uint32
	UpdateTime time.Time
}

type cancelOrderRecord struct {
	User    uuid.UUID
	OrderID ids.ID
}

// toRecord converts a loggable engine.Command into its WAL envelope.
// The bool is false for commands that are never persisted.
func toRecord(cmd engine.Command) (record, bool) {
	switch c := cmd.(type) {
	case engine.NewOrderCommand:
		return record{
			Kind: kindNewOrder,
			NewOrder: &newOrderRecord{
				User:       c.User,
				OrderID:    c.OrderID,
				SymbolID:   c.SymbolID,
				Symbol:     c.Symbol,
				Side:       c.Side,
				Price:      c.Price,
				Quantity:   c.Quantity,
				UpdateTime: c.UpdateTime,
			},
		}, true
	case engine.CancelOrderCommand:
		return record{
			Kind:        kindCancelOrder,
			CancelOrder: &cancelOrderRecord{User: c.User, OrderID: c.OrderID},
		}, true
	default:
		return record{}, false
	}
}

// toCommand converts a decoded envelope back into an engine.Command for
// replay.
func (r record) toCommand() engine.Command {
	switch r.Kind {
	case kindNewOrder:
		n := r.NewOrder
		return engine.NewOrderCommand{
			User:       n.User,
			OrderID:    n.OrderID,
			SymbolID:   n.SymbolID,
			Symbol:     n.Symbol,
			Side:       n.Side,
			Price:      n.Price,
			Quantity:   n.Quantity,
			UpdateTime: n.UpdateTime,
		}
	case kindCancelOrder:
		c := r.CancelOrder
		return engine.CancelOrderCommand{User: c.User, OrderID: c.OrderID}
	default:
		return nil
	}
}
