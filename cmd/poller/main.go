// Command poller is the reapergt seat-availability poller: it loads
// configuration, wires the Store Gateway, Registrar Client, Notification
// Dispatcher, and Adaptive Scheduler together, and runs until its runtime
// budget is spent or it receives SIGINT/SIGTERM.
//
// Grounded on the teacher's cmd/server/main.go: flag parsing, config
// loading, collaborator wiring, signal-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/reapergt/poller/internal/config"
	"github.com/reapergt/poller/internal/notify"
	"github.com/reapergt/poller/internal/obslog"
	"github.com/reapergt/poller/internal/opsfeed"
	"github.com/reapergt/poller/internal/opshttp"
	"github.com/reapergt/poller/internal/pushgateway"
	"github.com/reapergt/poller/internal/registrar"
	"github.com/reapergt/poller/internal/scheduler"
	"github.com/reapergt/poller/internal/secrets"
	"github.com/reapergt/poller/internal/smsgateway"
	"github.com/reapergt/poller/internal/statusfile"
	"github.com/reapergt/poller/internal/store"
	"github.com/reapergt/poller/internal/store/badgerstore"
	"github.com/reapergt/poller/internal/store/memstore"
	"github.com/reapergt/poller/internal/store/redisstore"
	"github.com/reapergt/poller/internal/telemetry"
	"github.com/reapergt/poller/internal/watchdog"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to XDG config dir)")
	term := flag.String("term", "", "override the registrar term code")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poller: failed to load config from %s: %v\n", cfgPath, err)
		os.Exit(1)
	}
	if *term != "" {
		cfg.Registrar.Term = *term
	}

	obslog.Configure(obslog.Config{
		Level:   cfg.Log.Level,
		Pretty:  cfg.Log.Pretty,
		Service: "reapergt-poller",
	})
	log := obslog.Component("main")

	sec := secrets.New()
	smsAPIKey, err := sec.Require(secrets.KeySMSAPIKey)
	if err != nil {
		log.Fatal().Err(err).Msg("missing required secret")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telProvider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := telProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown error")
		}
	}()

	gateway, closeStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	reg := registrar.New(registrar.Config{
		BaseURL:           cfg.Registrar.BaseURL,
		Term:              cfg.Registrar.Term,
		RequestsPerSecond: cfg.Registrar.RequestsPerSecond,
		Burst:             cfg.Registrar.Burst,
	}, log)

	sms := smsgateway.New(smsgateway.Config{Endpoint: cfg.SMS.Endpoint, APIKey: smsAPIKey}, log)
	push := buildPushGateway(cfg, sec, log)

	dispatcher := notify.New(gateway, sms, push, log)
	sched := scheduler.New(gateway, reg, dispatcher, cfg.Scheduler)

	wd, err := watchdog.New(watchdog.Config{
		PollInterval:  cfg.Ops.WatchdogPoll,
		MaxRSSBytes:   uint64(cfg.Ops.WatchdogMaxRSSMB) * 1024 * 1024,
		MaxCPUPercent: cfg.Ops.WatchdogMaxCPUPct,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start watchdog")
	}

	feed := opsfeed.New(cfg.Ops.MaxWebsocketConns, log)

	var snapMu sync.RWMutex
	var lastSnapshot opsfeed.TickSummary
	feed.SetSnapshotSource(func() opsfeed.TickSummary {
		snapMu.RLock()
		defer snapMu.RUnlock()
		return lastSnapshot
	})

	sched.SetTransitionObserver(func(r scheduler.TransitionReport) {
		feed.BroadcastTransition(opsfeed.TransitionEvent{
			CRN:            r.CRN,
			Kind:           r.Kind,
			IsOpen:         r.IsOpen,
			SeatsRemaining: r.SeatsRemaining,
			ObservedAt:     r.ObservedAt,
		})
	})
	sched.SetTickObserver(func(r scheduler.TickReport) {
		summary := opsfeed.TickSummary{
			TickID:           r.TickID,
			CoursesProcessed: r.CoursesProcessed,
			Duration:         r.CompletedAt.Sub(r.StartedAt),
			NextInterval:     r.NextInterval,
		}
		snapMu.Lock()
		lastSnapshot = summary
		snapMu.Unlock()
		feed.BroadcastTickSummary(summary)

		if err := statusfile.Write(cfg.Ops.StatusFilePath, statusfile.Snapshot{
			TickID:           r.TickID,
			StartedAt:        r.StartedAt,
			CompletedAt:      r.CompletedAt,
			CoursesProcessed: r.CoursesProcessed,
			OpenedCount:      r.OpenedCount,
			ClosedCount:      r.ClosedCount,
			ErrorCount:       r.ErrorCount,
			NextIntervalMS:   r.NextInterval.Milliseconds(),
			PID:              os.Getpid(),
		}); err != nil {
			log.Warn().Err(err).Msg("failed to write status file")
		}
	})

	opsServer := opshttp.New(feed, wd, cfg.Ops.RateLimitRPS, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		wd.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := opshttp.ListenAndServe(ctx, cfg.Ops.ListenAddr, opsServer.Handler(), log); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("ops http server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	summary := sched.Run(ctx)
	log.Info().
		Float64("runtime_seconds", summary.RuntimeSeconds).
		Int("ticks_completed", summary.TicksCompleted).
		Msg("scheduler stopped")

	cancel()
	wg.Wait()
}

// openStore opens the configured Store Gateway backend and returns a
// close function the caller should defer.
func openStore(ctx context.Context, cfg config.StoreConfig, log zerolog.Logger) (store.Gateway, func(), error) {
	switch cfg.Backend {
	case "redis":
		s, err := redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, func() {}, nil
	case "badger":
		s, err := badgerstore.Open(cfg.Badger.Path, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger store: %w", err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Warn().Err(err).Msg("error closing badger store")
			}
		}, nil
	case "memory", "":
		return memstore.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// buildPushGateway wires a real pushgateway.Client when push is enabled
// and a VAPID keypair is configured, falling back to NoopPushGateway
// otherwise (spec.md §6: push is optional).
func buildPushGateway(cfg *config.Config, sec *secrets.Store, log zerolog.Logger) notify.PushGateway {
	if !cfg.Push.Enabled || !sec.HasVAPIDKeypair() {
		log.Info().Msg("push notifications disabled, using noop gateway")
		return pushgateway.NoopPushGateway{}
	}
	priv, _ := sec.Get(secrets.KeyVAPIDPrivateKey)
	pub, _ := sec.Get(secrets.KeyVAPIDPublicKey)
	client, err := pushgateway.New(pushgateway.Config{
		PrivateKeyB64URL: priv,
		PublicKeyB64URL:  pub,
		Subject:          cfg.Push.Subject,
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("push misconfigured, falling back to noop gateway")
		return pushgateway.NoopPushGateway{}
	}
	return client
}
