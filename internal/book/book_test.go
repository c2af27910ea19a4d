package book

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bscheinman/cixrs/internal/ids"
)

const symbolID ids.SymbolID = 7

var symbol = ids.NewSymbol("GOOG")

func order(seq uint64, side ids.Side, price float64, qty uint32, at time.Time) Order {
	return Order{
		ID:         ids.Pack(symbolID, ids.KindOrder, side, seq),
		User:       uuid.New(),
		Symbol:     symbol,
		Side:       side,
		Price:      price,
		Quantity:   qty,
		UpdateTime: at,
	}
}

func TestBuySidePriceTimePriority(t *testing.T) {
	s := NewSide(ids.SideBuy, 16)
	now := time.Now()

	require.NoError(t, s.Add(order(1, ids.SideBuy, 10, 100, now)))
	require.NoError(t, s.Add(order(2, ids.SideBuy, 12, 100, now.Add(time.Second))))
	require.NoError(t, s.Add(order(3, ids.SideBuy, 12, 100, now)))

	top := s.Top()
	assert.Equal(t, 12.0, top.Price)

	ordered := s.heap.Iter()
	require.Len(t, ordered, 3)
	assert.Equal(t, 12.0, ordered[0].Price)
	assert.True(t, ordered[0].UpdateTime.Equal(now), "earlier update-time at equal price pops first")
}

func TestSellSideLowerPriceWins(t *testing.T) {
	s := NewSide(ids.SideSell, 16)
	now := time.Now()

	require.NoError(t, s.Add(order(1, ids.SideSell, 15, 50, now)))
	require.NoError(t, s.Add(order(2, ids.SideSell, 10, 50, now)))

	assert.Equal(t, 10.0, s.Top().Price)
}

func TestDuplicateAddRejected(t *testing.T) {
	s := NewSide(ids.SideBuy, 16)
	o := order(1, ids.SideBuy, 10, 100, time.Now())
	require.NoError(t, s.Add(o))
	assert.ErrorIs(t, s.Add(o), ErrDuplicateOrder)
}

func TestUpdateQuantityToZeroRemoves(t *testing.T) {
	s := NewSide(ids.SideBuy, 16)
	o := order(1, ids.SideBuy, 10, 100, time.Now())
	require.NoError(t, s.Add(o))

	s.UpdateQuantity(o.ID, 0)
	assert.False(t, s.Has(o.ID))
	assert.Equal(t, 0, s.Len())
}

func TestDepthCoalescesEqualPrices(t *testing.T) {
	s := NewSide(ids.SideBuy, 16)
	now := time.Now()
	require.NoError(t, s.Add(order(1, ids.SideBuy, 10, 100, now)))
	require.NoError(t, s.Add(order(2, ids.SideBuy, 10, 50, now.Add(time.Second))))
	require.NoError(t, s.Add(order(3, ids.SideBuy, 9, 25, now)))

	levels := s.Depth(5)
	require.Len(t, levels, 2)
	assert.Equal(t, MdEntry{Price: 10, Quantity: 150}, levels[0])
	assert.Equal(t, MdEntry{Price: 9, Quantity: 25}, levels[1])
}

func TestTopOnEmptySideIsZeroValue(t *testing.T) {
	s := NewSide(ids.SideSell, 4)
	assert.True(t, s.Top().IsZero())
}

func TestBookHasOrderChecksBothSides(t *testing.T) {
	b := New(symbol, symbolID, 16)
	buy := order(1, ids.SideBuy, 10, 100, time.Now())
	require.NoError(t, b.Bids.Add(buy))

	assert.True(t, b.HasOrder(buy.ID))
	assert.False(t, b.Asks.Has(buy.ID))
}
