package wal

import (
	"bytes"
	"encoding/gob"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bscheinman/cixrs/internal/engine"
	"github.com/bscheinman/cixrs/internal/ids"
	"github.com/bscheinman/cixrs/internal/metrics"
)

func newTestWal(t *testing.T, segmentSize int) *Wal {
	t.Helper()
	dir := t.TempDir()
	m := metrics.NewWAL(prometheus.NewRegistry())
	archiver := NewArchiver(zap.NewNop())
	t.Cleanup(archiver.Close)

	w, err := Open(dir, segmentSize, m, zap.NewNop(), archiver)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func testNewOrder(seq uint64) engine.NewOrderCommand {
	return engine.NewOrderCommand{
		User:       uuid.New(),
		OrderID:    ids.Pack(1, ids.KindOrder, ids.SideBuy, seq),
		SymbolID:   1,
		Symbol:     ids.NewSymbol("GOOG"),
		Side:       ids.SideBuy,
		Price:      500,
		Quantity:   100,
		UpdateTime: time.Now().UTC(),
	}
}

func testCancelOrder(orderID ids.ID) engine.CancelOrderCommand {
	return engine.CancelOrderCommand{User: uuid.New(), OrderID: orderID}
}

// encodedSize reports the exact on-disk footprint of cmd's record, so
// tests can size a segment to land precisely on a boundary.
func encodedSize(t *testing.T, cmd engine.Command) int {
	t.Helper()
	r, ok := toRecord(cmd)
	require.True(t, ok)
	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(r))
	return lengthPrefixSize + buf.Len()
}

func TestAppendReplayRoundTrip(t *testing.T) {
	w := newTestWal(t, DefaultSegmentSize)

	order := testNewOrder(1)
	cancel := testCancelOrder(order.OrderID)

	require.NoError(t, w.Append(order))
	require.NoError(t, w.Append(cancel))
	require.NoError(t, w.Close())

	var recovered []engine.Command
	reader := NewDirectoryReader(w.dir, zap.NewNop())
	require.NoError(t, reader.Replay(func(cmd engine.Command) error {
		recovered = append(recovered, cmd)
		return nil
	}))

	require.Len(t, recovered, 2)
	assert.Equal(t, order, recovered[0])
	assert.Equal(t, cancel, recovered[1])
}

func TestNonStateChangingCommandsAreNotLogged(t *testing.T) {
	w := newTestWal(t, DefaultSegmentSize)

	require.NoError(t, w.Append(engine.GetOpenOrdersCommand{}))
	require.NoError(t, w.Append(engine.SerializationBarrierCommand{Ticket: 1}))
	require.NoError(t, w.Close())

	var recovered []engine.Command
	reader := NewDirectoryReader(w.dir, zap.NewNop())
	require.NoError(t, reader.Replay(func(cmd engine.Command) error {
		recovered = append(recovered, cmd)
		return nil
	}))

	assert.Empty(t, recovered)
}

func TestRecordExactlyFillingSegmentDoesNotRotate(t *testing.T) {
	first := testNewOrder(1)
	size := encodedSize(t, first)

	w := newTestWal(t, size)
	require.NoError(t, w.Append(first))

	assert.Equal(t, 0, w.current.index, "record that exactly fills the segment must not trigger rotation")
	assert.Equal(t, 0, w.current.remaining())
}

func TestRecordOneByteTooBigRotatesSegment(t *testing.T) {
	first := testNewOrder(1)
	second := testNewOrder(2)
	size := encodedSize(t, first)

	// After first, one byte fewer than second needs remains.
	w := newTestWal(t, 2*size-1)
	require.NoError(t, w.Append(first))
	require.NoError(t, w.Append(second))

	assert.Equal(t, 1, w.current.index, "second record must have rotated into a new segment")

	var recovered []engine.Command
	require.NoError(t, w.Close())
	reader := NewDirectoryReader(w.dir, zap.NewNop())
	require.NoError(t, reader.Replay(func(cmd engine.Command) error {
		recovered = append(recovered, cmd)
		return nil
	}))
	require.Len(t, recovered, 2)
	assert.Equal(t, first, recovered[0])
	assert.Equal(t, second, recovered[1])
}

func TestReplayStopsAtSentinelWithinSegment(t *testing.T) {
	w := newTestWal(t, DefaultSegmentSize)
	require.NoError(t, w.Append(testNewOrder(1)))
	require.NoError(t, w.Close())

	reader := NewDirectoryReader(w.dir, zap.NewNop())
	var count int
	require.NoError(t, reader.Replay(func(cmd engine.Command) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count, "zero-filled suffix must not be misread as further records")
}

func TestReplayRecoversAcrossRotatedSegments(t *testing.T) {
	first := testNewOrder(1)
	size := encodedSize(t, first)

	w := newTestWal(t, size)
	var all []engine.Command
	for i := uint64(1); i <= 5; i++ {
		cmd := testNewOrder(i)
		all = append(all, cmd)
		require.NoError(t, w.Append(cmd))
	}
	require.NoError(t, w.Close())

	assert.Equal(t, 4, w.current.index, "five one-per-segment records must rotate four times")

	var recovered []engine.Command
	reader := NewDirectoryReader(w.dir, zap.NewNop())
	require.NoError(t, reader.Replay(func(cmd engine.Command) error {
		recovered = append(recovered, cmd)
		return nil
	}))
	assert.Equal(t, all, recovered)
}
