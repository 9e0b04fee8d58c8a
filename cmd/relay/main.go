// Command relay runs the webhook-to-WebPush relay: it accepts inbound
// hook requests, frames and chunks them into size-bounded envelopes, and
// durably dispatches them to browser push services.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"webpushrelay/internal/api"
	"webpushrelay/internal/config"
	"webpushrelay/internal/logging"
	"webpushrelay/internal/push"
	"webpushrelay/internal/queue"
	"webpushrelay/internal/ratelimit"
	"webpushrelay/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		return 1
	}

	log := logging.New(os.Stdout, cfg.ServiceName, logging.ParseLevel(cfg.LogLevel))
	log.Info("starting", map[string]any{"bind_addr": cfg.BindAddr, "db_path": cfg.DBPath})

	db, err := store.OpenDB(cfg.DBPath)
	if err != nil {
		log.Error("opening database failed", map[string]any{"err": err})
		return 1
	}
	defer db.Close()

	subs := store.NewSubscriptionStore(db)

	qstore := queue.NewStore(db, cfg.QueueMaxBytes)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := qstore.Migrate(ctx); err != nil {
		log.Error("queue migration failed", map[string]any{"err": err})
		return 1
	}
	recovered, err := qstore.RecoverInflight(ctx, time.Now().UnixMilli())
	if err != nil {
		log.Error("inflight recovery failed", map[string]any{"err": err})
		return 1
	}
	if recovered > 0 {
		log.Info("recovered stranded inflight records", map[string]any{"count": recovered})
	}

	vapid, err := push.LoadVAPIDKeys(cfg.VAPIDPrivateKey, cfg.VAPIDSubject)
	if err != nil {
		log.Error("loading VAPID keys failed", map[string]any{"err": err})
		return 1
	}
	sender := push.NewSender(vapid, 30*time.Second)

	limiter := ratelimit.New(cfg.RateLimitPerMinute)

	pool := queue.NewPool(qstore, subs, sender, cfg.QueueWorkers, log)
	poolDone := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(poolDone)
	}()

	reaperDone := make(chan struct{})
	go func() {
		runTTLReaper(ctx, subs, cfg.SubscriptionTTLDays, log)
		close(reaperDone)
	}()

	server := api.NewServer(cfg, subs, qstore, limiter, log, pool)
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			log.Error("listen failed", map[string]any{"err": err})
			cancel()
			return 1
		}
	case <-sig:
		log.Info("shutdown signal received", nil)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", map[string]any{"err": err})
	}

	cancel()
	<-poolDone
	<-reaperDone
	log.Info("shutdown complete", nil)
	return 0
}

// ttlReapInterval is how often the background reaper sweeps expired
// subscriptions. It runs independently of the dispatch queue's own
// per-record lifecycle.
const ttlReapInterval = 1 * time.Hour

// runTTLReaper periodically deletes subscriptions past
// SUBSCRIPTION_TTL_DAYS, per the StoredSubscription lifecycle in spec
// §3. It blocks until ctx is cancelled.
func runTTLReaper(ctx context.Context, subs *store.SubscriptionStore, ttlDays int64, log *logging.Logger) {
	if ttlDays <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(ttlReapInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := subs.ReapExpired(ctx, time.Now().UTC(), ttlDays)
			if err != nil {
				log.Error("ttl reap failed", map[string]any{"err": err})
				continue
			}
			if n > 0 {
				log.Info("reaped expired subscriptions", map[string]any{"count": n})
			}
		}
	}
}
