// Command crib-server tracks sleep sessions per subject, arbitrates sensor
// events against caregiver interventions and serves sleep analytics.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sweeney/crib-sensor/internal/api"
	"github.com/sweeney/crib-sensor/internal/config"
	"github.com/sweeney/crib-sensor/internal/kafka"
	"github.com/sweeney/crib-sensor/internal/logger"
	"github.com/sweeney/crib-sensor/internal/metrics"
	"github.com/sweeney/crib-sensor/internal/mqtt"
	"github.com/sweeney/crib-sensor/internal/registry"
	"github.com/sweeney/crib-sensor/internal/repository"
	"github.com/sweeney/crib-sensor/internal/session"
	"github.com/sweeney/crib-sensor/internal/store"
)

func main() {
	fs := newFlagSet()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	configPath, _ := fs.GetString("config")
	cfg, err := config.LoadServer(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlags(fs, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "crib-server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}

func newFlagSet() *pflag.FlagSet {
	d := config.DefaultServer()
	fs := pflag.NewFlagSet("crib-server", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "YAML config file")
	fs.String("http", d.HTTPAddr, "HTTP listen address")
	fs.Duration("cooldown", d.Cooldown, "How long automatic events are ignored after an intervention")
	fs.Duration("block-gap", d.BlockGap, "Largest wake gap inside one sleep block")
	fs.String("timezone", d.Timezone, "Timezone for daily and per-period analytics")
	fs.String("redis", d.Redis.Addr, "Redis address for tracker replay (empty disables)")
	fs.StringSlice("kafka-brokers", d.Kafka.Brokers, "Kafka brokers for awakening records (empty disables)")
	fs.String("broker", d.MQTT.Broker, "MQTT broker to subscribe to (empty disables)")
	fs.String("log-level", d.Log.Level, "Log level: debug, info, warn, error")
	return fs
}

// applyFlags overlays the flags that were set explicitly on cfg and
// validates the result.
func applyFlags(fs *pflag.FlagSet, cfg *config.Server) error {
	if fs.Changed("http") {
		cfg.HTTPAddr, _ = fs.GetString("http")
	}
	if fs.Changed("cooldown") {
		cfg.Cooldown, _ = fs.GetDuration("cooldown")
	}
	if fs.Changed("block-gap") {
		cfg.BlockGap, _ = fs.GetDuration("block-gap")
	}
	if fs.Changed("timezone") {
		cfg.Timezone, _ = fs.GetString("timezone")
	}
	if fs.Changed("redis") {
		cfg.Redis.Addr, _ = fs.GetString("redis")
	}
	if fs.Changed("kafka-brokers") {
		cfg.Kafka.Brokers, _ = fs.GetStringSlice("kafka-brokers")
	}
	if fs.Changed("broker") {
		cfg.MQTT.Broker, _ = fs.GetString("broker")
	}
	if fs.Changed("log-level") {
		cfg.Log.Level, _ = fs.GetString("log-level")
	}
	return cfg.Validate()
}

// waitFor retries probe with backoff until it succeeds, attempts run out or
// ctx ends.
func waitFor(ctx context.Context, name string, probe func(context.Context) error, attempts uint, delay time.Duration, log *zap.Logger) error {
	err := retry.Do(
		func() error { return probe(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.FullJitterBackoffDelay),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("dependency not ready", zap.String("dependency", name), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	log.Info("dependency ready", zap.String("dependency", name))
	return nil
}

func run(cfg config.Server, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}

	db, err := repository.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := waitFor(ctx, "postgres", db.PingContext, 10, time.Second, log); err != nil {
		return err
	}
	if err := repository.Migrate(ctx, db); err != nil {
		return err
	}

	tracker := session.NewTracker(time.Now, log)
	defer tracker.Close()

	var (
		rdb        *redis.Client
		replicated <-chan struct{}
	)
	if cfg.Redis.Addr != "" {
		rdb = store.NewClient(cfg.Redis)
		defer rdb.Close()
		ping := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		if err := waitFor(ctx, "redis", ping, 10, time.Second, log); err != nil {
			return err
		}

		snapshots := store.NewSnapshotStore(rdb)
		snap, err := snapshots.Load(ctx)
		if err != nil {
			return fmt.Errorf("load tracker snapshot: %w", err)
		}
		tracker.Restore(snap)
		log.Info("tracker restored",
			zap.Int("sessions", len(snap.Sessions)),
			zap.Int("cooldowns", len(snap.Cooldowns)))

		// Stopped by tracker.Close once the HTTP server has drained.
		replCtx, stopRepl := context.WithCancel(context.Background())
		defer stopRepl()
		done := make(chan struct{})
		go func() {
			store.NewReplicator(tracker, snapshots, log).Run(replCtx)
			close(done)
		}()
		replicated = done
	}

	var records api.RecordPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		pub := kafka.NewPublisher(kafka.NewWriter(cfg.Kafka), log)
		defer pub.Close()
		records = pub
		log.Info("publishing awakening records",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}

	m := metrics.New()
	subjects := registry.New(repository.NewSubjectRepository(db), cfg.RegistrySize, cfg.RegistryTTL, log)
	awakenings := repository.NewAwakeningRepository(db, log)

	svc := api.NewService(api.Deps{
		Tracker:    tracker,
		Subjects:   subjects,
		Awakenings: awakenings,
		Records:    records,
		Metrics:    m,
		Cooldown:   cfg.Cooldown,
		Logger:     log,
	})
	stats := api.NewStats(awakenings, subjects, cfg.BlockGap, loc, time.Now, log)

	if cfg.MQTT.Broker != "" {
		sub, err := mqtt.NewSubscriber(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, log, svc.MQTTHandler(ctx))
		if err != nil {
			return err
		}
		defer sub.Close()
	}

	srv := api.NewHTTPServer(cfg.HTTPAddr, api.NewServer(svc, stats, m, readinessChecks(db, rdb), log).Handler())
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)

	tracker.Close()
	if replicated != nil {
		<-replicated
	}
	return err
}

// readinessChecks probes the stores the server cannot work without. rdb may
// be nil.
func readinessChecks(db *sql.DB, rdb *redis.Client) []api.Check {
	checks := []api.Check{{Name: "postgres", Fn: db.PingContext}}
	if rdb != nil {
		checks = append(checks, api.Check{Name: "redis", Fn: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return checks
}
