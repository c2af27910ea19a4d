package router

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bscheinman/cixrs/internal/book"
	"github.com/bscheinman/cixrs/internal/engine"
	"github.com/bscheinman/cixrs/internal/ids"
	"github.com/bscheinman/cixrs/internal/metrics"
)

const testSymbolID ids.SymbolID = 5

func newTestRouter(t *testing.T) (*Router, *engine.Shard) {
	t.Helper()
	b := book.New(ids.NewSymbol("GOOG"), testSymbolID, 16)
	events := make(chan engine.Event, 16)
	m := metrics.NewEngine(prometheus.NewRegistry(), 0)
	shard := engine.NewShard(0, []*book.Book{b}, events, 16, zap.NewNop(), m)

	r := New([]*engine.Shard{shard}, map[ids.SymbolID]*engine.Shard{testSymbolID: shard})
	t.Cleanup(func() { _ = r.Close() })
	return r, shard
}

func TestCreateOrderIDSequenceIsSharedAcrossSides(t *testing.T) {
	r, _ := newTestRouter(t)

	buy := r.CreateOrderID(testSymbolID, ids.SideBuy)
	sell := r.CreateOrderID(testSymbolID, ids.SideSell)
	buy2 := r.CreateOrderID(testSymbolID, ids.SideBuy)

	assert.Equal(t, uint64(0), buy.Sequence())
	assert.Equal(t, uint64(1), sell.Sequence(), "buy and sell must draw from one dense per-symbol counter")
	assert.Equal(t, uint64(2), buy2.Sequence())

	assert.Equal(t, ids.SideBuy, buy.Side())
	assert.Equal(t, ids.SideSell, sell.Side())
	assert.Equal(t, ids.SideBuy, buy2.Side())
}

func TestRouteUnknownSymbolReturnsSentinel(t *testing.T) {
	r, _ := newTestRouter(t)

	cmd := engine.CancelOrderCommand{OrderID: ids.Pack(999, ids.KindOrder, ids.SideBuy, 1)}
	err := r.Route(cmd)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}
