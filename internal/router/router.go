// Package router implements the router (C8): order-id assignment,
// per-symbol command dispatch to the owning engine shard, and
// control-plane broadcast. Grounded on original_source/src/server's
// router responsibilities described alongside engine.rs and
// session.rs; broadcast() is backed by watermill's in-process
// gochannel pub/sub rather than a plain fan-out loop, per
// SPEC_FULL.md §4.7.
package router

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	wmgochannel "github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/bscheinman/cixrs/internal/engine"
	"github.com/bscheinman/cixrs/internal/ids"
)

const controlTopic = "control.barrier"

// ErrUnknownSymbol is returned by Route when a command names a
// symbol-id outside the router's configured universe, so callers can
// distinguish this from other routing failures.
var ErrUnknownSymbol = errors.New("router: unknown symbol-id")

// Router assigns order ids and dispatches commands to engine shards.
type Router struct {
	mu            sync.Mutex
	shards        []*engine.Shard
	symbolToShard map[ids.SymbolID]*engine.Shard
	counters      map[ids.SymbolID]*ids.SequenceGenerator

	pubsub *wmgochannel.GoChannel
}

// New constructs a router over shards, with symbolToShard mapping every
// owned symbol to its shard. Each shard gets its own subscription to
// the control topic, so a single Broadcast fans the same barrier
// ticket out to every shard independently.
func New(shards []*engine.Shard, symbolToShard map[ids.SymbolID]*engine.Shard) *Router {
	pubsub := wmgochannel.NewGoChannel(wmgochannel.Config{}, watermill.NopLogger{})

	r := &Router{
		shards:        shards,
		symbolToShard: symbolToShard,
		counters:      make(map[ids.SymbolID]*ids.SequenceGenerator),
		pubsub:        pubsub,
	}

	for _, s := range shards {
		ch, err := pubsub.Subscribe(context.Background(), controlTopic)
		if err != nil {
			panic(fmt.Sprintf("router: subscribe control topic: %v", err))
		}
		go r.consumeControl(s, ch)
	}

	return r
}

// consumeControl decodes each published barrier ticket and hands it to
// shard's own command channel, preserving per-shard command ordering:
// the barrier still arrives strictly after every command the router
// routed to this shard before calling Broadcast.
func (r *Router) consumeControl(s *engine.Shard, ch <-chan *message.Message) {
	for msg := range ch {
		ticket := binary.BigEndian.Uint64(msg.Payload)
		s.Commands <- engine.SerializationBarrierCommand{Ticket: ticket}
		msg.Ack()
	}
}

// CreateOrderID allocates the next sequence for (symbol, kind=order) on
// the calling (session) thread, per spec.md §4.7. The sequence counter
// is shared by both sides of the symbol — side only selects which bit
// Pack sets, it never forks the counter — so buy and sell orders for
// the same symbol draw from one dense, monotonic stream.
func (r *Router) CreateOrderID(symbol ids.SymbolID, side ids.Side) ids.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counterLocked(symbol).Next(side)
}

func (r *Router) counterLocked(symbol ids.SymbolID) *ids.SequenceGenerator {
	g, ok := r.counters[symbol]
	if !ok {
		g = ids.NewSequenceGenerator(symbol, ids.KindOrder)
		r.counters[symbol] = g
	}
	return g
}

// Route enqueues cmd to the shard owning its symbol. It returns
// ErrUnknownSymbol (wrapped) when cmd names a symbol-id outside the
// router's configured universe, so callers can map that specific
// failure to a client-facing invalid-argument response.
func (r *Router) Route(cmd engine.Command) error {
	symbolID, ok := cmd.RoutingSymbol()
	if !ok {
		return fmt.Errorf("router: command has no owning symbol")
	}

	shard, ok := r.symbolToShard[symbolID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSymbol, symbolID)
	}

	shard.Commands <- cmd
	return nil
}

// RouteQuery fans a GetOpenOrders command out to every shard directly;
// unlike Broadcast, this is a data-plane operation whose replies the
// session joins by Sequence, not a control-plane signal.
func (r *Router) RouteQuery(cmd engine.GetOpenOrdersCommand) {
	for _, s := range r.shards {
		s.Commands <- cmd
	}
}

// Broadcast publishes a control message to every shard via the
// in-process pub/sub, used for the post-replay SerializationBarrier
// during recovery (spec.md §4.7).
func (r *Router) Broadcast(cmd engine.SerializationBarrierCommand) error {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, cmd.Ticket)
	msg := message.NewMessage(uuid.NewString(), payload)
	return r.pubsub.Publish(controlTopic, msg)
}

// Replay routes cmd like Route, but additionally advances the
// per-symbol counter to max(counter, sequence+1) for NewOrder commands,
// so post-replay id allocation is strictly increasing (spec.md §4.7).
func (r *Router) Replay(cmd engine.Command) error {
	if n, ok := cmd.(engine.NewOrderCommand); ok {
		r.mu.Lock()
		r.counterLocked(n.SymbolID).Advance(n.OrderID.Sequence() + 1)
		r.mu.Unlock()
	}
	return r.Route(cmd)
}

// Close releases the pub/sub's resources.
func (r *Router) Close() error {
	return r.pubsub.Close()
}
