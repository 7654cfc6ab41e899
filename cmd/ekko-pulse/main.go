package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ardanlabs/conf/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/web3ekko/ekko-pulse/internal/config"
	"github.com/web3ekko/ekko-pulse/internal/logger"
	"github.com/web3ekko/ekko-pulse/pkg/alerts"
	"github.com/web3ekko/ekko-pulse/pkg/api"
	"github.com/web3ekko/ekko-pulse/pkg/common"
	"github.com/web3ekko/ekko-pulse/pkg/events"
	"github.com/web3ekko/ekko-pulse/pkg/metrics"
	"github.com/web3ekko/ekko-pulse/pkg/sinks"
	"github.com/web3ekko/ekko-pulse/pkg/supervisor"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {
	cfg, help, err := config.Parse(build)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return
		}
		fmt.Println("parsing config:", err)
		os.Exit(1)
	}

	log, err := logger.NewWithLevel("PULSE", cfg.Log.Level)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log, cfg); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger, cfg config.Config) error {

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	registry, err := config.LoadNetworkRegistry(cfg.Networks.File)
	if err != nil {
		return err
	}
	for _, n := range registry.List() {
		log.Infow("startup", "status", "network registered", "network", n.Key, "name", n.Name, "chainId", n.ChainID, "ws", n.WSURL != "")
	}

	// =========================================================================
	// Metrics

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(cfg.Metrics.Namespace, reg)

	// =========================================================================
	// Downstream Sinks

	var multi sinks.Multi
	if cfg.NATS.URL != "" {
		ns, err := sinks.DialNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("connecting to nats: %w", err)
		}
		log.Infow("startup", "status", "nats sink enabled", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
		multi = append(multi, ns)
	}
	if cfg.Redis.Addr != "" {
		rs := sinks.DialRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix, cfg.Redis.SnapshotTTL)
		log.Infow("startup", "status", "redis sink enabled", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.KeyPrefix)
		multi = append(multi, rs)
	}
	defer func() {
		if err := multi.Close(); err != nil {
			log.Warnw("shutdown", "status", "closing sinks", "ERROR", err)
		}
	}()

	var sink sinks.Sink
	if len(multi) > 0 {
		sink = multi
	}

	// =========================================================================
	// Engine

	evts := events.New()

	sup, err := supervisor.New(supervisor.Config{
		Log:      log,
		Registry: registry,
		Engine:   cfg.Engine,
		Events:   evts,
		Sink:     sink,
		Metrics:  m,
	})
	if err != nil {
		return fmt.Errorf("constructing supervisor: %w", err)
	}
	defer sup.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Alerts are logged as they come due so operators can follow the same
	// cadence a consumer would play them at.
	alertsDone := make(chan struct{})
	go func() {
		defer close(alertsDone)
		logAlerts(ctx, log, sup.Subscribe("alert-log"))
	}()

	if err := sup.Connect(ctx); err != nil {
		// Not fatal: the network may come up later and a switch or
		// restart through the API retries the connection.
		log.Warnw("startup", "status", "initial connect failed", "network", cfg.Engine.Network, "ERROR", err)
	} else if cfg.Engine.AutoStart {
		if err := sup.StartListening(ctx); err != nil {
			return fmt.Errorf("starting listener: %w", err)
		}
	}

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)

	debugMux := api.DebugMux(build, reg)

	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Start API Service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	apiMux := api.PublicMux(api.MuxConfig{
		Log:        log,
		Engine:     sup,
		CorsOrigin: cfg.Web.CorsOrigin,
	})

	server := http.Server{
		Addr:         cfg.Web.APIHost,
		Handler:      apiMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "api router started", "host", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		log.Infow("shutdown", "status", "stopping listener")
		sup.StopListening()

		log.Infow("shutdown", "status", "shutdown web socket channels")
		cancel()
		evts.Shutdown()
		<-alertsDone

		ctx, cancelSrv := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelSrv()

		if err := server.Shutdown(ctx); err != nil {
			server.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}

// logAlerts replays the alerts of every update at their scheduled delays.
// Updates arriving while a batch is still replaying start their own batch.
func logAlerts(ctx context.Context, log *zap.SugaredLogger, ch <-chan common.Update) {
	log = log.With("component", "alerts")
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-ch:
			if !ok {
				return
			}
			if len(u.Alerts) == 0 {
				continue
			}
			go func(batch []common.AlertEvent) {
				_ = alerts.Replay(ctx, batch, func(ev common.AlertEvent) {
					log.Infow("alert", "network", ev.Network, "tier", ev.Tier, "type", ev.Type, "amount", ev.Amount, "tx", ev.TxHash)
				})
			}(u.Alerts)
		}
	}
}
