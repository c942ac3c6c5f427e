// Command edgecached runs the caching reverse proxy's cache core as a
// standalone server: it loads a YAML config, wires the sharded store, the
// TinyLFU admitter, the cache engine, the Evictor/Lifetime-Manager worker
// supervisor, and serves cacheable GET requests behind an upstream client.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on http.DefaultServeMux, which this command does not serve
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IvanBrykalov/edgecache/admission"
	"github.com/IvanBrykalov/edgecache/config"
	"github.com/IvanBrykalov/edgecache/engine"
	"github.com/IvanBrykalov/edgecache/internal/logdedupe"
	"github.com/IvanBrykalov/edgecache/metrics/prom"
	"github.com/IvanBrykalov/edgecache/model"
	"github.com/IvanBrykalov/edgecache/proxy"
	"github.com/IvanBrykalov/edgecache/storage/shardmap"
	"github.com/IvanBrykalov/edgecache/workers"
)

func main() {
	var (
		configPath  = flag.String("config", "cache.yaml", "path to the YAML config file")
		addr        = flag.String("addr", ":8080", "address to serve cached traffic on")
		metricsAddr = flag.String("metrics", ":9090", "address to serve /metrics on; empty = disabled")
		refreshQCap = flag.Int("refresh-queue-cap", 256, "per-shard bounded refresh queue capacity")
		originURL   = flag.String("origin", "http://127.0.0.1:8081", "origin base URL to fetch/refresh from")
	)
	flag.Parse()

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("edgecached: building logger: %v", err)
	}
	defer zlog.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal("loading config", zap.Error(err))
	}

	metrics := prom.New(nil, "edgecache", "core", nil)
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			zlog.Info("metrics: serving", zap.String("addr", *metricsAddr))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				zlog.Error("metrics server exited", zap.Error(err))
			}
		}()
	}

	store := shardmap.New(cfg.StorageMapMode(), *refreshQCap)
	admitter := admission.New(cfg.AdmissionConfig())
	dedupe := logdedupe.New(zlog, logdedupe.DefaultWindow)
	eng := engine.New(store, admitter, cfg.EngineConfig(), dedupe, zlog)

	upstream := proxy.NewHTTPUpstream(http.DefaultClient)
	upstream.BaseURL = *originURL

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := workers.NewSupervisor(ctx, eng, upstream, cfg.EvictorConfig(), cfg.LifetimeConfig(), zlog)
	eng.OnClose(sup.Stop)
	defer eng.Close(context.Background())

	eng.StartStatsLogger(ctx, 30*time.Second)

	go reportGauges(ctx, eng, sup, metrics)

	rules := model.NewRuleSet(cfg.ModelRules())
	handler := proxy.NewHandler(rules, eng, upstream, metrics, zlog)

	srv := &http.Server{Addr: *addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zlog.Info("edgecached: serving", zap.String("addr", *addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		zlog.Fatal("server exited", zap.Error(err))
	}
}

// reportGauges periodically pushes the engine's size and the supervisor's
// replica counts into the metrics adapter's gauges, which otherwise only
// see Set/Inc calls from the hot path.
func reportGauges(ctx context.Context, eng *engine.Engine, sup *workers.Supervisor, metrics *prom.Adapter) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bytes, items := eng.Stat()
			metrics.Size(int(items), bytes)
			metrics.WorkerReplicas(workers.GroupEvictor, sup.EvictorReplicas())
			metrics.WorkerReplicas(workers.GroupLifetime, sup.LifetimeReplicas())
		}
	}
}
