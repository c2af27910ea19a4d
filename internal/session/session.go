// Package session implements the session layer (C9): a per-client
// state machine translating RPC invocations into engine commands, and
// correlating asynchronous engine events back to pending client
// replies. Grounded on original_source/src/server/session.rs's
// minimal Session/authenticate, generalized per SPEC_FULL.md §4.7 with
// jwt/semver/validator-backed Authenticate and ksuid/go-cache-backed
// subscriptions and pending-query joins.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bscheinman/cixrs/internal/book"
	"github.com/bscheinman/cixrs/internal/engine"
	"github.com/bscheinman/cixrs/internal/ids"
	"github.com/bscheinman/cixrs/internal/router"
	"github.com/bscheinman/cixrs/internal/wal"
)

// State is the session's connection lifecycle, per spec.md §4.7.
type State uint8

const (
	Unauthenticated State = iota
	Authenticated
	Terminal
)

// pendingTTL bounds how long a disconnected client's partial
// GetOpenOrders join state lingers before self-expiring (SPEC_FULL.md
// §4.7). Pending order/cancel acks are plain maps with no TTL; an entry
// leaves them when its ack arrives or the caller's context ends.
const pendingTTL = 30 * time.Second

var (
	// ErrNotAuthenticated names a trading RPC attempted before
	// Authenticate succeeds. Session's methods report that case as
	// engine.NotAuthenticated with a nil error, not as this value.
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrAlreadySubscribed names a second ExecutionSubscribe attempt on
	// the same session. ExecutionSubscribe reports that case as
	// engine.AlreadySubscribed with a nil error, not as this value.
	ErrAlreadySubscribed = errors.New("session: already subscribed")
)

// NewOrderRequest is the validated RPC argument shape for NewOrder.
type NewOrderRequest struct {
	Symbol   ids.Symbol
	Side     ids.Side
	Price    float64 `validate:"gt=0"`
	Quantity uint32  `validate:"gt=0"`
}

// CancelOrderRequest is the validated RPC argument shape for
// CancelOrder.
type CancelOrderRequest struct {
	OrderID ids.ID `validate:"required"`
}

// ExecutionFeed receives execution callbacks for a subscription,
// matching spec.md §6's client-implemented feed capability.
type ExecutionFeed interface {
	Execution(ex book.Execution)
}

// SubscriptionID is an opaque identifier minted by ExecutionSubscribe.
type SubscriptionID string

// TradingSession is the external RPC contract spec.md §6 describes.
// The wire transport (internal/admin, internal/feed) is a thin,
// swappable caller of this interface.
type TradingSession interface {
	Authenticate(ctx context.Context, token, protocolVersion string) (engine.Code, error)
	NewOrder(ctx context.Context, req NewOrderRequest) (engine.Code, ids.ID, error)
	CancelOrder(ctx context.Context, req CancelOrderRequest) (engine.Code, error)
	GetOpenOrders(ctx context.Context) (engine.Code, []book.Order, error)
	ExecutionSubscribe(ctx context.Context, feed ExecutionFeed) (engine.Code, SubscriptionID, error)
}

type pendingOrder struct {
	code engine.Code
	done chan struct{}
}

type pendingCancel struct {
	code engine.Code
	done chan struct{}
}

type pendingQuery struct {
	mu     sync.Mutex
	orders []book.Order
	total  int
	done   chan struct{}
	closed bool
}

// Session implements TradingSession for one connected client.
type Session struct {
	log    *zap.Logger
	router *router.Router
	wal    *wal.Wal
	events <-chan engine.Event

	jwtSecret    []byte
	minVersion   *semver.Version
	validate     *validator.Validate
	limiter      *rate.Limiter
	shardCount   int

	mu           sync.Mutex
	state        State
	user         uuid.UUID

	pendingOrders map[ids.ID]*pendingOrder
	pendingCancels map[ids.ID]*pendingCancel
	pendingQueries *cache.Cache

	subscription *SubscriptionID
	feed         ExecutionFeed
}

// Config bundles the parameters Authenticate needs.
type Config struct {
	JWTSecret         []byte
	MinProtocolVersion string
	RateLimitRPS      float64
	ShardCount        int
}

// New constructs a session. events is the shared session-event channel
// this session's owning server dispatches from (see Dispatch).
func New(cfg Config, rtr *router.Router, w *wal.Wal, events <-chan engine.Event, log *zap.Logger) (*Session, error) {
	minVersion, err := semver.NewVersion(cfg.MinProtocolVersion)
	if err != nil {
		return nil, fmt.Errorf("session: invalid minimum protocol version: %w", err)
	}

	return &Session{
		log:            log,
		router:         rtr,
		wal:            w,
		events:         events,
		jwtSecret:      cfg.JWTSecret,
		minVersion:     minVersion,
		validate:       validator.New(),
		limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), int(cfg.RateLimitRPS)),
		shardCount:     cfg.ShardCount,
		state:          Unauthenticated,
		pendingOrders:  make(map[ids.ID]*pendingOrder),
		pendingCancels: make(map[ids.ID]*pendingCancel),
		pendingQueries: cache.New(pendingTTL, pendingTTL/2),
	}, nil
}

// Authenticate validates token and the client's declared protocol
// version, transitioning Unauthenticated -> Authenticated on success.
func (s *Session) Authenticate(ctx context.Context, token, protocolVersion string) (engine.Code, error) {
	clientVersion, err := semver.NewVersion(protocolVersion)
	if err != nil || clientVersion.LessThan(s.minVersion) {
		return engine.InvalidArgs, nil
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return engine.NotAuthenticated, nil
	}

	subject, err := claims.GetSubject()
	if err != nil {
		return engine.NotAuthenticated, nil
	}
	user, err := uuid.Parse(subject)
	if err != nil {
		return engine.NotAuthenticated, nil
	}

	s.mu.Lock()
	s.state = Authenticated
	s.user = user
	s.mu.Unlock()

	return engine.Ok, nil
}

func (s *Session) requireAuthenticated() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user, s.state == Authenticated
}

// NewOrder validates req, assigns an order id, appends it to the WAL,
// routes it to the owning shard, and blocks until the ack arrives.
func (s *Session) NewOrder(ctx context.Context, req NewOrderRequest) (engine.Code, ids.ID, error) {
	user, ok := s.requireAuthenticated()
	if !ok {
		return engine.NotAuthenticated, 0, nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return engine.Other, 0, nil
	}
	if err := s.validate.Struct(req); err != nil {
		return engine.InvalidArgs, 0, nil
	}

	symbolID, ok := symbolIDOf(req.Symbol)
	if !ok {
		return engine.InvalidArgs, 0, nil
	}

	orderID := s.router.CreateOrderID(symbolID, req.Side)

	cmd := engine.NewOrderCommand{
		User:       user,
		OrderID:    orderID,
		SymbolID:   symbolID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Price:      req.Price,
		Quantity:   req.Quantity,
		UpdateTime: time.Now().UTC(),
	}

	pending := &pendingOrder{done: make(chan struct{})}
	s.mu.Lock()
	s.pendingOrders[orderID] = pending
	s.mu.Unlock()

	if err := s.wal.Append(cmd); err != nil {
		s.clearPendingOrder(orderID)
		return engine.Other, 0, nil
	}
	if err := s.router.Route(cmd); err != nil {
		s.clearPendingOrder(orderID)
		return engine.Other, 0, nil
	}

	select {
	case <-pending.done:
		return pending.code, orderID, nil
	case <-ctx.Done():
		s.clearPendingOrder(orderID)
		return engine.Other, orderID, ctx.Err()
	}
}

func (s *Session) clearPendingOrder(id ids.ID) {
	s.mu.Lock()
	delete(s.pendingOrders, id)
	s.mu.Unlock()
}

// CancelOrder routes a cancellation and blocks until its ack arrives.
func (s *Session) CancelOrder(ctx context.Context, req CancelOrderRequest) (engine.Code, error) {
	user, ok := s.requireAuthenticated()
	if !ok {
		return engine.NotAuthenticated, nil
	}
	if err := s.validate.Struct(req); err != nil {
		return engine.InvalidArgs, nil
	}

	cmd := engine.CancelOrderCommand{User: user, OrderID: req.OrderID}

	pending := &pendingCancel{done: make(chan struct{})}
	s.mu.Lock()
	s.pendingCancels[req.OrderID] = pending
	s.mu.Unlock()

	if err := s.wal.Append(cmd); err != nil {
		s.clearPendingCancel(req.OrderID)
		return engine.Other, nil
	}
	if err := s.router.Route(cmd); err != nil {
		s.clearPendingCancel(req.OrderID)
		if errors.Is(err, router.ErrUnknownSymbol) {
			return engine.InvalidArgs, nil
		}
		return engine.Other, nil
	}

	select {
	case <-pending.done:
		return pending.code, nil
	case <-ctx.Done():
		s.clearPendingCancel(req.OrderID)
		return engine.Other, ctx.Err()
	}
}

func (s *Session) clearPendingCancel(id ids.ID) {
	s.mu.Lock()
	delete(s.pendingCancels, id)
	s.mu.Unlock()
}

// GetOpenOrders fans a query out to every shard and joins the chunked
// responses, keyed by {user, client-seq}.
func (s *Session) GetOpenOrders(ctx context.Context) (engine.Code, []book.Order, error) {
	user, ok := s.requireAuthenticated()
	if !ok {
		return engine.NotAuthenticated, nil, nil
	}

	seq := engine.Sequence{User: user, ClientSeq: nextClientSeq()}
	pq := &pendingQuery{done: make(chan struct{})}
	s.pendingQueries.SetDefault(querySeqKey(seq), pq)

	s.router.RouteQuery(engine.GetOpenOrdersCommand{Sequence: seq})

	select {
	case <-pq.done:
		pq.mu.Lock()
		defer pq.mu.Unlock()
		return engine.Ok, pq.orders, nil
	case <-ctx.Done():
		return engine.Other, nil, ctx.Err()
	}
}

// ExecutionSubscribe registers feed to receive this session's
// execution callbacks, minting a ksuid-backed subscription id.
func (s *Session) ExecutionSubscribe(ctx context.Context, feed ExecutionFeed) (engine.Code, SubscriptionID, error) {
	if _, ok := s.requireAuthenticated(); !ok {
		return engine.NotAuthenticated, "", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscription != nil {
		return engine.AlreadySubscribed, "", nil
	}

	id := SubscriptionID(ksuid.New().String())
	s.subscription = &id
	s.feed = feed
	return engine.Ok, id, nil
}

// Dispatch consumes the shared session-event channel and resolves
// pending replies / fans out executions, until ctx is canceled. Run on
// the single session thread, per spec.md §5.
func (s *Session) Dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Session) handleEvent(ev engine.Event) {
	switch e := ev.(type) {
	case engine.OrderAck:
		s.mu.Lock()
		p, ok := s.pendingOrders[e.OrderID]
		if ok {
			delete(s.pendingOrders, e.OrderID)
		}
		s.mu.Unlock()
		if ok {
			p.code = e.Code
			close(p.done)
		}

	case engine.CancelAck:
		s.mu.Lock()
		p, ok := s.pendingCancels[e.OrderID]
		if ok {
			delete(s.pendingCancels, e.OrderID)
		}
		s.mu.Unlock()
		if ok {
			p.code = e.Code
			close(p.done)
		}

	case engine.ExecutionEvent:
		s.mu.Lock()
		feed := s.feed
		s.mu.Unlock()
		if feed != nil {
			feed.Execution(e.Execution)
		}

	case engine.OpenOrdersChunk:
		s.joinQueryChunk(e)

	case engine.SerializationResponse:
		// Barrier responses are consumed by the server's recovery
		// coordinator, not an individual session; see internal/server.

	case engine.MarketDataEvent:
		// Market data is out of scope for per-session fan-out here;
		// the session drops it, and no other component consumes it.
	}
}

func (s *Session) joinQueryChunk(e engine.OpenOrdersChunk) {
	key := querySeqKey(e.Sequence)
	raw, ok := s.pendingQueries.Get(key)
	if !ok {
		return
	}
	pq := raw.(*pendingQuery)

	pq.mu.Lock()
	defer pq.mu.Unlock()
	if pq.closed {
		return
	}

	pq.orders = append(pq.orders, e.Orders...)
	if e.Last {
		pq.total++
	}
	if pq.total >= s.shardCount {
		pq.closed = true
		close(pq.done)
		s.pendingQueries.Delete(key)
	}
}

func querySeqKey(seq engine.Sequence) string {
	return fmt.Sprintf("%s:%d", seq.User, seq.ClientSeq)
}

var clientSeqCounter struct {
	mu  sync.Mutex
	val uint64
}

func nextClientSeq() uint64 {
	clientSeqCounter.mu.Lock()
	defer clientSeqCounter.mu.Unlock()
	clientSeqCounter.val++
	return clientSeqCounter.val
}

func symbolIDOf(symbol ids.Symbol) (ids.SymbolID, bool) {
	id, ok := symbolRegistry.Load(symbol)
	if !ok {
		return 0, false
	}
	return id.(ids.SymbolID), true
}

// symbolRegistry maps the fixed symbol universe chosen at startup to
// its assigned symbol-id (spec.md §3). Populated once via
// RegisterSymbol during server init, before any session is reachable.
var symbolRegistry sync.Map

// RegisterSymbol assigns symbolID to symbol for the lifetime of the
// process.
func RegisterSymbol(symbol ids.Symbol, symbolID ids.SymbolID) {
	symbolRegistry.Store(symbol, symbolID)
}
