package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bscheinman/cixrs/internal/book"
	"github.com/bscheinman/cixrs/internal/engine"
	"github.com/bscheinman/cixrs/internal/ids"
	"github.com/bscheinman/cixrs/internal/metrics"
	"github.com/bscheinman/cixrs/internal/router"
	"github.com/bscheinman/cixrs/internal/wal"
)

var testSecret = []byte("test-secret")

const testSymbolID ids.SymbolID = 42

var testSymbol = ids.NewSymbol("GOOG")

func signToken(t *testing.T, user uuid.UUID) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": user.String()})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

// harness wires a single shard, router, WAL and session together so
// NewOrder/CancelOrder/GetOpenOrders exercise the full pipeline a live
// client RPC would drive.
type harness struct {
	sess   *Session
	cancel context.CancelFunc
	shard  *engine.Shard
	book   *book.Book
	rtr    *router.Router
	w      *wal.Wal
	events chan engine.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	RegisterSymbol(testSymbol, testSymbolID)

	b := book.New(testSymbol, testSymbolID, 64)
	events := make(chan engine.Event, 256)
	m := metrics.NewEngine(prometheus.NewRegistry(), 0)
	shard := engine.NewShard(0, []*book.Book{b}, events, 64, zap.NewNop(), m)

	rtr := router.New([]*engine.Shard{shard}, map[ids.SymbolID]*engine.Shard{testSymbolID: shard})

	dir := t.TempDir()
	wm := metrics.NewWAL(prometheus.NewRegistry())
	archiver := wal.NewArchiver(zap.NewNop())
	w, err := wal.Open(dir, wal.DefaultSegmentSize, wm, zap.NewNop(), archiver)
	require.NoError(t, err)

	sess, err := New(Config{
		JWTSecret:          testSecret,
		MinProtocolVersion: "1.0.0",
		RateLimitRPS:       1000,
		ShardCount:         1,
	}, rtr, w, events, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go shard.Run(ctx, make(chan time.Time))
	go sess.Dispatch(ctx)

	h := &harness{sess: sess, cancel: cancel, shard: shard, book: b, rtr: rtr, w: w, events: events}
	t.Cleanup(func() {
		cancel()
		archiver.Close()
		_ = w.Close()
	})
	return h
}

func (h *harness) authenticate(t *testing.T) uuid.UUID {
	t.Helper()
	user := uuid.New()
	code, err := h.sess.Authenticate(context.Background(), signToken(t, user), "1.0.0")
	require.NoError(t, err)
	require.Equal(t, engine.Ok, code)
	return user
}

func TestAuthenticateRejectsStaleProtocolVersion(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	code, err := h.sess.Authenticate(context.Background(), signToken(t, user), "0.9.0")
	require.NoError(t, err)
	assert.Equal(t, engine.InvalidArgs, code)
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	h := newHarness(t)
	code, err := h.sess.Authenticate(context.Background(), "not-a-real-token", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, engine.NotAuthenticated, code)
}

func TestAuthenticateSucceeds(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	code, err := h.sess.Authenticate(context.Background(), signToken(t, user), "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, engine.Ok, code)
}

func TestNewOrderBeforeAuthenticateIsRejected(t *testing.T) {
	h := newHarness(t)
	code, _, err := h.sess.NewOrder(context.Background(), NewOrderRequest{
		Symbol: testSymbol, Side: ids.SideBuy, Price: 10, Quantity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.NotAuthenticated, code)
}

func TestExecutionSubscribeBeforeAuthenticateIsRejected(t *testing.T) {
	h := newHarness(t)
	code, _, err := h.sess.ExecutionSubscribe(context.Background(), stubFeed{})
	require.NoError(t, err)
	assert.Equal(t, engine.NotAuthenticated, code)
}

type stubFeed struct{}

func (stubFeed) Execution(book.Execution) {}

func TestExecutionSubscribeRejectsSecondAttempt(t *testing.T) {
	h := newHarness(t)
	h.authenticate(t)

	code, id, err := h.sess.ExecutionSubscribe(context.Background(), stubFeed{})
	require.NoError(t, err)
	require.Equal(t, engine.Ok, code)
	require.NotEmpty(t, id)

	code, _, err = h.sess.ExecutionSubscribe(context.Background(), stubFeed{})
	require.NoError(t, err)
	assert.Equal(t, engine.AlreadySubscribed, code)
}

func TestNewOrderRoundTrip(t *testing.T) {
	h := newHarness(t)
	user := h.authenticate(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	code, orderID, err := h.sess.NewOrder(ctx, NewOrderRequest{
		Symbol: testSymbol, Side: ids.SideBuy, Price: 100, Quantity: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.Ok, code)

	resting, ok := h.book.GetOrder(orderID)
	require.True(t, ok)
	assert.Equal(t, user, resting.User)
	assert.Equal(t, uint32(10), resting.Quantity)
}

func TestNewOrderRejectsUnregisteredSymbol(t *testing.T) {
	h := newHarness(t)
	h.authenticate(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	code, _, err := h.sess.NewOrder(ctx, NewOrderRequest{
		Symbol: ids.NewSymbol("NOPE"), Side: ids.SideBuy, Price: 100, Quantity: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.InvalidArgs, code)
}

func TestNewOrderRejectsInvalidQuantity(t *testing.T) {
	h := newHarness(t)
	h.authenticate(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	code, _, err := h.sess.NewOrder(ctx, NewOrderRequest{
		Symbol: testSymbol, Side: ids.SideBuy, Price: 100, Quantity: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.InvalidArgs, code)
}

func TestCancelOrderRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.authenticate(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, orderID, err := h.sess.NewOrder(ctx, NewOrderRequest{
		Symbol: testSymbol, Side: ids.SideBuy, Price: 100, Quantity: 10,
	})
	require.NoError(t, err)

	code, err := h.sess.CancelOrder(ctx, CancelOrderRequest{OrderID: orderID})
	require.NoError(t, err)
	assert.Equal(t, engine.Ok, code)
	assert.False(t, h.book.HasOrder(orderID))
}

func TestCancelOrderWrongUserIsNotAuthorized(t *testing.T) {
	h := newHarness(t)
	h.authenticate(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, orderID, err := h.sess.NewOrder(ctx, NewOrderRequest{
		Symbol: testSymbol, Side: ids.SideBuy, Price: 100, Quantity: 10,
	})
	require.NoError(t, err)

	// Re-authenticate the same session as a different user, standing
	// in for a second client attempting to cancel an order it doesn't
	// own; ownership is enforced by the engine, not the session.
	h.authenticate(t)
	code, err := h.sess.CancelOrder(ctx, CancelOrderRequest{OrderID: orderID})
	require.NoError(t, err)
	assert.Equal(t, engine.NotAuthorized, code)
}

func TestCancelOrderRejectsUnregisteredSymbol(t *testing.T) {
	h := newHarness(t)
	h.authenticate(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unregistered := ids.Pack(999, ids.KindOrder, ids.SideBuy, 1)
	code, err := h.sess.CancelOrder(ctx, CancelOrderRequest{OrderID: unregistered})
	require.NoError(t, err)
	assert.Equal(t, engine.InvalidArgs, code)
}

func TestGetOpenOrdersJoinsSingleShard(t *testing.T) {
	h := newHarness(t)
	h.authenticate(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		_, _, err := h.sess.NewOrder(ctx, NewOrderRequest{
			Symbol: testSymbol, Side: ids.SideBuy, Price: float64(100 + i), Quantity: 1,
		})
		require.NoError(t, err)
	}

	code, orders, err := h.sess.GetOpenOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.Ok, code)
	assert.Len(t, orders, 3)
}
