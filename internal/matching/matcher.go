// Package matching implements the crossing algorithm (C5): given an
// incoming order and a book, walk the resting contra side in priority
// order, emit one execution per crossing resting order until either
// side is exhausted, then rest any remaining quantity. Grounded
// directly on original_source/src/libcix/book.rs's
// BookSide::match_order / BasicMatcher::add_order.
package matching

import (
	"time"

	"github.com/bscheinman/cixrs/internal/book"
	"github.com/bscheinman/cixrs/internal/ids"
)

// ExecutionHandler receives every execution produced while matching an
// order, in the order they occur.
type ExecutionHandler func(book.Execution)

// AddOrder matches incoming against the contra side of b, emitting one
// execution per crossed resting order to handler, then rests any remaining
// quantity on incoming's own side. incoming.ID must already be unique
// across the book; callers are responsible for duplicate-id checks
// before calling AddOrder (the router assigns ids, so collisions are
// not expected in practice, but the book can detect cross-side
// collisions via HasOrder if they need to reject defensively).
func AddOrder(b *book.Book, incoming book.Order, handler ExecutionHandler) error {
	contra := b.Side(contraSide(incoming.Side))
	crossRemaining(b, contra, &incoming, handler)

	if incoming.Quantity == 0 {
		return nil
	}

	return b.Side(incoming.Side).Add(incoming)
}

// CancelOrder removes a resting order by id. Reports whether it was
// present.
func CancelOrder(b *book.Book, id ids.ID) bool {
	return b.Side(id.Side()).Remove(id)
}

func contraSide(side ids.Side) ids.Side {
	if side == ids.SideBuy {
		return ids.SideSell
	}
	return ids.SideBuy
}

// crossRemaining repeatedly crosses incoming against the best resting
// order on contra until the two no longer cross, one side runs out of
// quantity, or contra is exhausted. Resting orders are always priced
// at their own (passive) price; an execution only ever appears at the
// resting side's price, so whichever side was already on the book
// keeps any price improvement.
func crossRemaining(b *book.Book, contra *book.Side, incoming *book.Order, handler ExecutionHandler) {
	for incoming.Quantity > 0 {
		restingOrder, ok := contra.PeekOrder()
		if !ok {
			return
		}

		if !doesCross(incoming, &restingOrder) {
			return
		}

		quantity := restingOrder.Quantity
		if incoming.Quantity < quantity {
			quantity = incoming.Quantity
		}

		execution := createExecution(b, incoming, &restingOrder, quantity)
		handler(execution)

		incoming.Quantity -= quantity
		newRestingQuantity := restingOrder.Quantity - quantity
		contra.UpdateQuantity(restingOrder.ID, newRestingQuantity)
	}
}

// doesCross reports whether an incoming order at its stated price can
// trade against a resting order on the contra side.
func doesCross(incoming, resting *book.Order) bool {
	if incoming.Side == ids.SideBuy {
		return resting.Price <= incoming.Price
	}
	return resting.Price >= incoming.Price
}

func createExecution(b *book.Book, incoming, resting *book.Order, quantity uint32) book.Execution {
	buyOrder, sellOrder := incoming, resting
	if incoming.Side == ids.SideSell {
		buyOrder, sellOrder = resting, incoming
	}

	return book.Execution{
		ID:        b.ExecIDs.Next(ids.SideSell),
		Timestamp: time.Now().UTC(),
		Symbol:    b.Symbol,
		BuyOrder:  buyOrder.ID,
		BuyUser:   buyOrder.User,
		SellOrder: sellOrder.ID,
		SellUser:  sellOrder.User,
		Price:     resting.Price,
		Quantity:  quantity,
	}
}
