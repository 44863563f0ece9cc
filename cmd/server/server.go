// Command server runs THE CORE: it loads the instrument registry,
// wires the matching engine, one executor goroutine per instrument,
// the Postgres-backed persistence port, the market-data publisher, and
// the order service, then serves the wire protocol and a Prometheus
// /metrics endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"github.com/saiputravu/fenrir-core/internal/config"
	"github.com/saiputravu/fenrir-core/internal/engine"
	"github.com/saiputravu/fenrir-core/internal/executor"
	"github.com/saiputravu/fenrir-core/internal/logging"
	"github.com/saiputravu/fenrir-core/internal/marketdata"
	"github.com/saiputravu/fenrir-core/internal/metrics"
	"github.com/saiputravu/fenrir-core/internal/orderservice"
	"github.com/saiputravu/fenrir-core/internal/persistence"
	"github.com/saiputravu/fenrir-core/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml/json/toml)")
	logLevel := flag.String("log-level", "info", "zerolog level")
	logPretty := flag.Bool("log-pretty", false, "use zerolog's human-readable console writer")
	flag.Parse()

	logging.Init(*logLevel, *logPretty)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("server: unable to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	persister, closePersister := mustPersister(ctx, cfg)
	defer closePersister()

	eng := engine.New()
	publisher := marketdata.NewPublisher(256)

	var t tomb.Tomb
	executors := make(map[string]*executor.Executor, len(cfg.Instruments))
	for _, ic := range cfg.Instruments {
		inst, err := ic.ToDomain()
		if err != nil {
			log.Fatal().Err(err).Str("instrument", ic.Symbol).Msg("server: invalid instrument config")
		}
		eng.RegisterInstrument(inst)

		exec := executor.New(inst.Symbol, eng, persister, publisher, cfg.CommitTimeout)
		executors[inst.Symbol] = exec
		t.Go(func() error { return exec.Run(&t) })
		log.Info().Str("instrument", inst.Symbol).Msg("server: executor started")
	}

	ledger := orderservice.NewLedger()
	service := orderservice.New(eng, executors, ledger, cfg.CommitTimeout)

	srv := wire.New(cfg.ListenAddress, cfg.ListenPort, service)
	t.Go(func() error { return srv.Run(ctx) })

	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metrics.Handler()}
	t.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	log.Info().Msg("server: running")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	t.Kill(nil)
	if err := t.Wait(); err != nil {
		log.Error().Err(err).Msg("server: shut down with error")
	}
}

func mustPersister(ctx context.Context, cfg *config.Config) (persistence.Port, func()) {
	if cfg.Postgres.DSN == "" {
		log.Warn().Msg("server: no postgres DSN configured, commits will fail")
		return persistence.NewBreakerPort("persistence", noopPort{}), func() {}
	}
	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("server: unable to connect to postgres")
	}
	pg := persistence.NewPostgresPort(pool)
	return persistence.NewBreakerPort("persistence", pg), pool.Close
}

// noopPort is used only when no DSN is configured, so the server can
// still start (e.g. for a pure matching-engine smoke test); every
// commit against it fails, and once enough of them have failed the
// circuit breaker opens, rather than silently pretending writes
// succeeded.
type noopPort struct{}

func (noopPort) Commit(ctx context.Context, ws persistence.OrderWriteSet) (persistence.Result, error) {
	return persistence.Result{}, fmt.Errorf("server: no persistence backend configured")
}
