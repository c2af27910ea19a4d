// Package wal implements the write-ahead log (C7): a segmented,
// memory-mapped, append-only journal of state-changing engine commands,
// with a directory-level replay reader. Grounded on
// original_source/src/server/wal.rs's WalFile/Wal/rotate and
// walread.rs's WalReader/WalDirectoryReader, with record framing
// decisions documented in SPEC_FULL.md §4.6.
package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/bscheinman/cixrs/internal/engine"
	"github.com/bscheinman/cixrs/internal/metrics"
)

// DefaultSegmentSize is the fixed pre-allocation size for a new
// segment (spec.md §4.6 example).
const DefaultSegmentSize = 10 * 1024 * 1024

const segmentPrefix = "wal_"

// Wal is the append-only journal. It is owned exclusively by the
// session thread in steady state; a single appender (spec.md §5).
type Wal struct {
	mu          sync.Mutex
	dir         string
	segmentSize int
	current     *segment
	breaker     *gobreaker.CircuitBreaker
	metrics     *metrics.WAL
	log         *zap.Logger
	archiver    *Archiver
}

// Open enumerates dir for wal_* segments, resuming from the
// highest-numbered one, or creates wal_0 if none exist (spec.md §4.6,
// "Startup / resume").
func Open(dir string, segmentSize int, m *metrics.WAL, log *zap.Logger, archiver *Archiver) (*Wal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	indices, err := listSegmentIndices(dir)
	if err != nil {
		return nil, err
	}

	w := &Wal{
		dir:         dir,
		segmentSize: segmentSize,
		metrics:     m,
		log:         log,
		archiver:    archiver,
	}
	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "wal-append",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	index := 0
	if len(indices) > 0 {
		index = indices[len(indices)-1]
	}

	seg, err := openSegment(segmentPath(dir, index), index, segmentSize)
	if err != nil {
		return nil, err
	}
	w.current = seg
	return w, nil
}

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d", segmentPrefix, index))
}

func listSegmentIndices(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: read dir: %w", err)
	}

	var indices []int
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), segmentPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), segmentPrefix))
		if err != nil {
			continue
		}
		indices = append(indices, n)
	}
	sort.Ints(indices)
	return indices, nil
}

// Append durably writes cmd before returning. Non-state-changing
// commands (GetOpenOrders, SerializationBarrier) are silently skipped,
// since the WAL only records state-changing commands (spec.md §4.6).
// Appends run through a circuit breaker: once tripped, Append fails
// fast instead of blocking the session thread on a wedged mmap flush
// (SPEC_FULL.md §4.6, "Resilience").
func (w *Wal) Append(cmd engine.Command) error {
	r, ok := toRecord(cmd)
	if !ok {
		return nil
	}

	start := time.Now()
	_, err := w.breaker.Execute(func() (interface{}, error) {
		return nil, w.appendLocked(r)
	})
	w.metrics.AppendSeconds.Observe(time.Since(start).Seconds())

	if err == gobreaker.ErrOpenState {
		w.metrics.BreakerOpenTotal.Inc()
	}
	if err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	w.metrics.AppendsTotal.Inc()
	return nil
}

func (w *Wal) appendLocked(r record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ok, err := w.current.append(r)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if err := w.rotate(); err != nil {
		return err
	}

	ok, err = w.current.append(r)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRecordTooLarge
	}
	return nil
}

// rotate closes the current segment and opens the next unused index.
func (w *Wal) rotate() error {
	old := w.current
	next := old.index + 1

	seg, err := openSegment(segmentPath(w.dir, next), next, w.segmentSize)
	if err != nil {
		return err
	}

	if err := old.close(); err != nil {
		w.log.Warn("failed closing rotated segment", zap.Error(err))
	}
	if w.archiver != nil {
		w.archiver.Enqueue(old.path)
	}

	w.metrics.RotationsTotal.Inc()
	w.current = seg
	return nil
}

// Close flushes and unmaps the current segment.
func (w *Wal) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current.close()
}
