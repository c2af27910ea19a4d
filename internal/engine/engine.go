// Package engine implements the single-writer order engine loop (C6):
// one cooperative task per shard, owning a disjoint set of symbols,
// consuming commands in strict arrival order and answering on a shared
// session-event channel. Grounded on
// original_source/src/server/engine.rs's OrderEngine/EngineHandle, with
// the futures-stream merge it used replaced by a plain Go select over
// a command channel and a time.Ticker (SPEC_FULL.md §4.5).
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bscheinman/cixrs/internal/book"
	"github.com/bscheinman/cixrs/internal/ids"
	"github.com/bscheinman/cixrs/internal/matching"
	"github.com/bscheinman/cixrs/internal/metrics"
)

// chunkSize bounds a single GetOpenOrders response page (spec.md §4.5).
const chunkSize = 10

// Shard owns a set of books and runs the single-writer loop for them.
type Shard struct {
	ID        int
	Commands  chan Command
	events    chan<- Event
	books     map[ids.SymbolID]*book.Book
	dirty     map[ids.SymbolID]struct{}
	loading   bool
	log       *zap.Logger
	metrics   *metrics.Engine
}

// NewShard constructs a shard owning books, publishing onto the shared
// events channel. commandBuffer sizes the bounded command channel
// (default 1024 per spec.md §5).
func NewShard(id int, books []*book.Book, events chan<- Event, commandBuffer int, log *zap.Logger, m *metrics.Engine) *Shard {
	byID := make(map[ids.SymbolID]*book.Book, len(books))
	for _, b := range books {
		byID[b.SymbolID] = b
	}

	return &Shard{
		ID:       id,
		Commands: make(chan Command, commandBuffer),
		events:   events,
		books:    byID,
		dirty:    make(map[ids.SymbolID]struct{}),
		loading:  false,
		log:      log.With(zap.Int("shard", id)),
		metrics:  m,
	}
}

// SetLoading toggles whether market-data publication is suppressed,
// per SPEC_FULL.md §9's resolution of the replay-market-data open
// question. The server clears this once the post-replay barrier
// completes and it transitions to Running.
func (s *Shard) SetLoading(loading bool) {
	s.loading = loading
}

// Run drives the cooperative loop until ctx is canceled or the command
// channel is closed. mdTick fires the market-data publication step —
// the Go select over a command channel and a time.Ticker that
// SPEC_FULL.md §4.5 uses in place of the original's futures-stream
// merge.
func (s *Shard) Run(ctx context.Context, mdTick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return

		case cmd, ok := <-s.Commands:
			if !ok {
				return
			}
			s.process(cmd)

		case <-mdTick:
			s.publishMarketData()
		}
	}
}

func (s *Shard) process(cmd Command) {
	switch c := cmd.(type) {
	case NewOrderCommand:
		s.handleNewOrder(c)
	case CancelOrderCommand:
		s.handleCancelOrder(c)
	case GetOpenOrdersCommand:
		s.handleGetOpenOrders(c)
	case SerializationBarrierCommand:
		s.handleBarrier(c)
	default:
		s.log.Error("unknown command type")
	}
}

func (s *Shard) handleNewOrder(c NewOrderCommand) {
	s.metrics.CommandsTotal.WithLabelValues("new_order").Inc()

	b, ok := s.books[c.SymbolID]
	if !ok {
		s.emit(OrderAck{OrderID: c.OrderID, Code: InvalidArgs})
		return
	}

	if b.HasOrder(c.OrderID) {
		s.emit(OrderAck{OrderID: c.OrderID, Code: DuplicateId})
		return
	}

	order := book.Order{
		ID:         c.OrderID,
		User:       c.User,
		Symbol:     c.Symbol,
		Side:       c.Side,
		Price:      c.Price,
		Quantity:   c.Quantity,
		UpdateTime: c.UpdateTime,
	}

	if err := matching.AddOrder(b, order, func(ex book.Execution) {
		s.metrics.ExecutionsTotal.WithLabelValues(c.Symbol.String()).Inc()
		s.emit(ExecutionEvent{Execution: ex})
	}); err != nil {
		s.log.Warn("order rejected", zap.Error(err))
		s.emit(OrderAck{OrderID: c.OrderID, Code: DuplicateId})
		return
	}

	s.markDirty(c.SymbolID)
	s.emit(OrderAck{OrderID: c.OrderID, Code: Ok})
}

func (s *Shard) handleCancelOrder(c CancelOrderCommand) {
	s.metrics.CommandsTotal.WithLabelValues("cancel_order").Inc()

	symbolID := c.OrderID.SymbolID()
	b, ok := s.books[symbolID]
	if !ok {
		s.emit(CancelAck{OrderID: c.OrderID, Code: InvalidArgs})
		return
	}

	order, present := b.GetOrder(c.OrderID)
	if !present {
		// Already filled or never existed; a silent no-op per spec.md §4.4.
		s.emit(CancelAck{OrderID: c.OrderID, Code: Ok})
		return
	}

	if order.User != c.User {
		s.emit(CancelAck{OrderID: c.OrderID, Code: NotAuthorized})
		return
	}

	matching.CancelOrder(b, c.OrderID)
	s.markDirty(symbolID)
	s.emit(CancelAck{OrderID: c.OrderID, Code: Ok})
}

func (s *Shard) handleGetOpenOrders(c GetOpenOrdersCommand) {
	s.metrics.CommandsTotal.WithLabelValues("get_open_orders").Inc()

	var matched []book.Order
	for _, b := range s.books {
		for _, o := range b.AllOrders() {
			if o.User == c.Sequence.User {
				matched = append(matched, o)
			}
		}
	}

	if len(matched) == 0 {
		s.emit(OpenOrdersChunk{Sequence: c.Sequence, Last: true, Code: Ok})
		return
	}

	for i := 0; i < len(matched); i += chunkSize {
		end := i + chunkSize
		if end > len(matched) {
			end = len(matched)
		}
		s.emit(OpenOrdersChunk{
			Sequence: c.Sequence,
			Orders:   matched[i:end],
			Last:     end == len(matched),
			Code:     Ok,
		})
	}
}

func (s *Shard) handleBarrier(c SerializationBarrierCommand) {
	s.emit(SerializationResponse{Ticket: c.Ticket, ShardID: s.ID})
}

func (s *Shard) markDirty(symbol ids.SymbolID) {
	s.dirty[symbol] = struct{}{}
}

func (s *Shard) publishMarketData() {
	if s.loading {
		s.dirty = make(map[ids.SymbolID]struct{})
		return
	}

	for symbolID := range s.dirty {
		b, ok := s.books[symbolID]
		if !ok {
			continue
		}
		var lastTrade *book.Execution
		s.emit(MarketDataEvent{L1: b.SnapshotL1(lastTrade), L2: b.SnapshotL2(lastTrade)})
	}
	s.dirty = make(map[ids.SymbolID]struct{})
}

// emit publishes an event; a full send blocks cooperatively (spec.md
// §5, "backpressure"). A closed events channel indicates system-wide
// teardown and is fatal, matching spec.md §4.5's failure semantics.
func (s *Shard) emit(ev Event) {
	s.events <- ev
}
