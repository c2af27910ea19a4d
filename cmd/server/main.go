// Command server runs the matching engine: it loads configuration,
// replays the write-ahead log, transitions from Loading to Running,
// and serves the admin HTTP surface and execution-feed websocket.
// Flag shape follows tradSys's cmd/server/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bscheinman/cixrs/internal/admin"
	"github.com/bscheinman/cixrs/internal/config"
	"github.com/bscheinman/cixrs/internal/feed"
	"github.com/bscheinman/cixrs/internal/logging"
	"github.com/bscheinman/cixrs/internal/server"
	"github.com/bscheinman/cixrs/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration file")
	listenOverride := flag.String("listen", "", "override server.listen_addr")
	walDirOverride := flag.String("wal-dir", "", "override wal.directory")
	mdIntervalOverride := flag.Float64("md-interval", 0, "override engine.market_data_hz")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *listenOverride != "" {
		cfg.Server.ListenAddr = *listenOverride
	}
	if *walDirOverride != "" {
		cfg.WAL.Directory = *walDirOverride
	}
	if *mdIntervalOverride > 0 {
		cfg.Engine.MarketDataHz = *mdIntervalOverride
	}

	log, err := logging.New(cfg.Logging, "cixrs-server")
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	srv, err := server.New(cfg, log)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer srv.Close()

	sessCfg := session.Config{
		JWTSecret:          []byte(cfg.Auth.JWTSecret),
		MinProtocolVersion: cfg.Auth.MinProtocolVersion,
		RateLimitRPS:       cfg.Server.RateLimitRPS,
		ShardCount:         srv.ShardCount(),
	}
	sess, err := session.New(sessCfg, srv.Router(), srv.WAL(), srv.Events(), log.Named("session"))
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go sess.Dispatch(ctx)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / cfg.Engine.MarketDataHz))
	defer ticker.Stop()

	errCh := make(chan error, 3)
	go func() {
		errCh <- srv.Run(ctx, ticker.C)
	}()

	adminSrv := admin.New(cfg.Server.AdminAddr, srv.Registry(), sess, int(cfg.Server.RateLimitRPS))
	go func() {
		errCh <- adminSrv.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/feed/executions", feed.Handler(sess, log.Named("feed")))
	feedSrv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = feedSrv.Close()
	}()
	go func() {
		if err := feedSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	log.Info("server started",
		zap.String("listen", cfg.Server.ListenAddr),
		zap.String("admin", cfg.Server.AdminAddr),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
