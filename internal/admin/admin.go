// Package admin exposes an operational HTTP surface (health, metrics,
// open-order debug) over gin, rate-limited by ulule/limiter/v3 — the
// external, swappable reference transport SPEC_FULL.md §6 describes
// for operational use, kept out of the core session/router path.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	limiter "github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/bscheinman/cixrs/internal/engine"
	"github.com/bscheinman/cixrs/internal/session"
)

// Server hosts the admin HTTP surface.
type Server struct {
	http *http.Server
}

// New builds the admin surface at addr, backed by reg for /metrics and
// sess for the open-orders debug endpoint.
func New(addr string, reg *prometheus.Registry, sess *session.Session, ratePerSecond int) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	rate := limiter.Rate{Period: time.Second, Limit: int64(ratePerSecond)}
	store := memory.NewStore()
	router.Use(ginlimiter.NewMiddleware(limiter.New(store, rate)))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	router.GET("/debug/orders", func(c *gin.Context) {
		code, orders, err := sess.GetOpenOrders(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if code != engine.Ok {
			c.JSON(http.StatusBadRequest, gin.H{"code": code.String()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": orders})
	})

	return &Server{http: &http.Server{Addr: addr, Handler: router}}
}

// Run starts serving until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
