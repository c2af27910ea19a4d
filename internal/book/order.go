// Package book implements the order book side and order book (C3, C4):
// a price-time priority structure built on internal/heap, plus the
// paired bids/asks book and its execution-id generator.
package book

import (
	"time"

	"github.com/google/uuid"

	"github.com/bscheinman/cixrs/internal/ids"
)

// Order is a resting or incoming limit order.
type Order struct {
	ID         ids.ID
	User       uuid.UUID
	Symbol     ids.Symbol
	Side       ids.Side
	Price      float64
	Quantity   uint32
	UpdateTime time.Time
}

// Execution records one atomic cross between an incoming and a resting
// order. Price is always the resting order's price (price improvement
// always accrues to the passive side).
type Execution struct {
	ID        ids.ID
	Timestamp time.Time
	Symbol    ids.Symbol
	BuyOrder  ids.ID
	BuyUser   uuid.UUID
	SellOrder ids.ID
	SellUser  uuid.UUID
	Price     float64
	Quantity  uint32
}

// MdEntry is one market-data level: an aggregated price and quantity.
// The zero value represents an empty level.
type MdEntry struct {
	Price    float64
	Quantity uint32
}

// IsZero reports whether e is the zero-valued (empty) entry.
func (e MdEntry) IsZero() bool {
	return e == MdEntry{}
}
