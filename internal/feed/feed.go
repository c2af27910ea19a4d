// Package feed provides a minimal gorilla/websocket transport turning
// an authenticated session's ExecutionSubscribe callback interface
// into a push feed for one connected client. A concrete, swappable
// stand-in for the market-data/execution fan-out spec.md places out of
// scope (§1, "Out of scope").
package feed

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bscheinman/cixrs/internal/book"
	"github.com/bscheinman/cixrs/internal/engine"
	"github.com/bscheinman/cixrs/internal/session"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// executionMessage is the wire shape pushed to subscribers: execution
// id, both the buy and the sell order id, symbol, price, quantity and
// timestamp. It carries no side field; the side of a subscriber's own
// order follows from which of the two order ids is theirs.
type executionMessage struct {
	ID        uint64 `json:"id"`
	BuyOrder  uint64 `json:"buy_order"`
	SellOrder uint64 `json:"sell_order"`
	Symbol    string `json:"symbol"`
	Price     float64 `json:"price"`
	Quantity  uint32  `json:"quantity"`
	Timestamp string  `json:"ts"`
}

// conn adapts one websocket connection to session.ExecutionFeed.
type conn struct {
	mu  sync.Mutex
	ws  *websocket.Conn
	log *zap.Logger
}

func (c *conn) Execution(ex book.Execution) {
	msg := executionMessage{
		ID:        uint64(ex.ID),
		BuyOrder:  uint64(ex.BuyOrder),
		SellOrder: uint64(ex.SellOrder),
		Symbol:    ex.Symbol.String(),
		Price:     ex.Price,
		Quantity:  ex.Quantity,
		Timestamp: ex.Timestamp.Format(time.RFC3339Nano),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(msg); err != nil {
		c.log.Warn("execution feed write failed", zap.Error(err))
	}
}

// Handler upgrades an HTTP connection to a websocket and subscribes it
// to sess's execution feed, then reads until the connection closes. The
// subscription is not released when the connection closes, so sess
// answers any later ExecutionSubscribe with AlreadySubscribed.
func Handler(sess *session.Session, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer ws.Close()

		c := &conn{ws: ws, log: log}
		code, subID, err := sess.ExecutionSubscribe(r.Context(), c)
		if err != nil || code != engine.Ok {
			_ = ws.WriteJSON(map[string]string{"error": code.String()})
			return
		}
		_ = ws.WriteJSON(map[string]string{"subscription": string(subID)})

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}
}
