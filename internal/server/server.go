// Package server coordinates process lifecycle: building books and
// engine shards from configuration, replaying the write-ahead log
// before admitting traffic, and driving the Loading -> Running
// transition spec.md §4.7 describes.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/bscheinman/cixrs/internal/book"
	"github.com/bscheinman/cixrs/internal/config"
	"github.com/bscheinman/cixrs/internal/engine"
	"github.com/bscheinman/cixrs/internal/ids"
	"github.com/bscheinman/cixrs/internal/metrics"
	"github.com/bscheinman/cixrs/internal/router"
	"github.com/bscheinman/cixrs/internal/session"
	"github.com/bscheinman/cixrs/internal/wal"
)

// Phase is the server's lifecycle state (spec.md §4.7).
type Phase uint8

const (
	Loading Phase = iota
	Running
)

// Server owns every shard, the WAL, and the router for one process.
type Server struct {
	cfg    config.Config
	log    *zap.Logger
	phase  Phase

	registry     *prometheus.Registry
	wal          *wal.Wal
	archiver     *wal.Archiver
	shards       []*engine.Shard
	shardIndex   map[ids.SymbolID]int
	router       *router.Router
	events       chan engine.Event

	mu sync.RWMutex
}

// New constructs every component from cfg but does not yet start
// replay or serving.
func New(cfg config.Config, log *zap.Logger) (*Server, error) {
	if len(cfg.Engine.Symbols) == 0 {
		return nil, fmt.Errorf("server: no symbols configured")
	}
	if cfg.Engine.ShardCount <= 0 {
		return nil, fmt.Errorf("server: shard_count must be positive")
	}

	registry := prometheus.NewRegistry()
	walMetrics := metrics.NewWAL(registry)

	archiver := wal.NewArchiver(log.Named("archiver"))
	w, err := wal.Open(cfg.WAL.Directory, cfg.WAL.SegmentSize, walMetrics, log.Named("wal"), archiver)
	if err != nil {
		return nil, err
	}

	events := make(chan engine.Event, cfg.Engine.CommandBuffer)

	symbolToShard := make(map[ids.SymbolID]*engine.Shard, len(cfg.Engine.Symbols))
	shardIndex := make(map[ids.SymbolID]int, len(cfg.Engine.Symbols))
	shardBooks := make([][]*book.Book, cfg.Engine.ShardCount)

	for i, name := range cfg.Engine.Symbols {
		symbolID := ids.SymbolID(i)
		symbol := ids.NewSymbol(name)
		session.RegisterSymbol(symbol, symbolID)

		b := book.New(symbol, symbolID, cfg.Engine.BookCapacity)
		shardIdx := i % cfg.Engine.ShardCount
		shardBooks[shardIdx] = append(shardBooks[shardIdx], b)
		shardIndex[symbolID] = shardIdx
	}

	shards := make([]*engine.Shard, cfg.Engine.ShardCount)
	for i := range shards {
		shardMetrics := metrics.NewEngine(registry, i)
		shards[i] = engine.NewShard(i, shardBooks[i], events, cfg.Engine.CommandBuffer, log.Named("engine"), shardMetrics)
		shards[i].SetLoading(true)
		for _, b := range shardBooks[i] {
			symbolToShard[b.SymbolID] = shards[i]
		}
	}

	rtr := router.New(shards, symbolToShard)

	return &Server{
		cfg:        cfg,
		log:        log,
		phase:      Loading,
		registry:   registry,
		wal:        w,
		archiver:   archiver,
		shards:     shards,
		shardIndex: shardIndex,
		router:     rtr,
		events:     events,
	}, nil
}

// Registry exposes the Prometheus registry for the admin surface.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// Router exposes the router for session construction.
func (s *Server) Router() *router.Router { return s.router }

// WAL exposes the write-ahead log for session construction.
func (s *Server) WAL() *wal.Wal { return s.wal }

// Events exposes the shared session-event channel.
func (s *Server) Events() <-chan engine.Event { return s.events }

// ShardCount reports how many shards this server is running.
func (s *Server) ShardCount() int { return len(s.shards) }

// Run starts every shard's loop, replays the WAL, then transitions to
// Running. mdTick fires on every shard's market-data publication tick.
func (s *Server) Run(ctx context.Context, mdTick <-chan time.Time) error {
	var wg sync.WaitGroup
	for _, shard := range s.shards {
		wg.Add(1)
		go func(sh *engine.Shard) {
			defer wg.Done()
			sh.Run(ctx, mdTick)
		}(shard)
	}

	if err := s.replay(); err != nil {
		return fmt.Errorf("server: replay: %w", err)
	}

	if err := s.crossBarrier(ctx); err != nil {
		return fmt.Errorf("server: post-replay barrier: %w", err)
	}

	s.mu.Lock()
	s.phase = Running
	s.mu.Unlock()
	for _, sh := range s.shards {
		sh.SetLoading(false)
	}
	s.log.Info("transitioned to running")

	wg.Wait()
	return nil
}

// replay decodes the WAL directory once, groups commands by owning
// shard preserving their relative order, then replays each shard's
// group on its own goroutine via a bounded pool — parallel across
// shards, strictly sequential within one, per SPEC_FULL.md §4.7.
func (s *Server) replay() error {
	reader := wal.NewDirectoryReader(s.cfg.WAL.Directory, s.log.Named("replay"))

	grouped := make(map[int][]engine.Command)
	err := reader.Replay(func(cmd engine.Command) error {
		shardIdx := s.shardIndexFor(cmd)
		grouped[shardIdx] = append(grouped[shardIdx], cmd)
		return nil
	})
	if err != nil {
		return err
	}

	pool, err := ants.NewPool(len(s.shards))
	if err != nil {
		return fmt.Errorf("server: replay pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex

	for _, cmds := range grouped {
		cmds := cmds
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			for _, cmd := range cmds {
				if err := s.router.Replay(cmd); err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					errMu.Unlock()
					return
				}
			}
		})
		if submitErr != nil {
			wg.Done()
			return fmt.Errorf("server: submit replay group: %w", submitErr)
		}
	}

	wg.Wait()
	return firstErr
}

func (s *Server) shardIndexFor(cmd engine.Command) int {
	symbolID, ok := cmd.RoutingSymbol()
	if !ok {
		return 0
	}
	return s.shardIndex[symbolID]
}

// crossBarrier posts SerializationBarrier ticket 1 to every shard and
// waits for all of them to answer before returning, gating the
// Loading -> Running transition (spec.md §4.7).
func (s *Server) crossBarrier(ctx context.Context) error {
	const ticket = 1

	remaining := make(map[int]struct{}, len(s.shards))
	for i := range s.shards {
		remaining[i] = struct{}{}
	}

	if err := s.router.Broadcast(engine.SerializationBarrierCommand{Ticket: ticket}); err != nil {
		return err
	}

	for len(remaining) > 0 {
		select {
		case ev := <-s.events:
			if resp, ok := ev.(engine.SerializationResponse); ok && resp.Ticket == ticket {
				delete(remaining, resp.ShardID)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close releases the WAL and archiver.
func (s *Server) Close() error {
	s.archiver.Close()
	return s.wal.Close()
}
