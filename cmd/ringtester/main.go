// cmd/ringtester/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tamzrod/ring-tester/internal/alarm"
	"github.com/tamzrod/ring-tester/internal/api"
	"github.com/tamzrod/ring-tester/internal/broadcast"
	"github.com/tamzrod/ring-tester/internal/command"
	"github.com/tamzrod/ring-tester/internal/config"
	"github.com/tamzrod/ring-tester/internal/device"
	"github.com/tamzrod/ring-tester/internal/device/modbus"
	"github.com/tamzrod/ring-tester/internal/device/s7"
	"github.com/tamzrod/ring-tester/internal/publish"
	"github.com/tamzrod/ring-tester/internal/status"
	"github.com/tamzrod/ring-tester/internal/storage"
	"github.com/tamzrod/ring-tester/internal/storage/mongo"
	"github.com/tamzrod/ring-tester/internal/telemetry"
	"github.com/tamzrod/ring-tester/internal/testrun"
)

const (
	storeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: ringtester <config.yaml>")
	}

	cfgPath := os.Args[1]

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	config.Defaults(cfg)

	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}

	config.Normalize(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Device session
	// --------------------

	tr, err := buildTransport(cfg.Controller)
	if err != nil {
		log.Fatalf("transport build failed (controller=%s): %v", cfg.Controller.Name, err)
	}
	session := device.NewSession(cfg.Controller.Name, tr)

	// A controller that is down at boot is not fatal: the supervisor
	// keeps reconnecting.
	if err := session.Connect(); err != nil {
		log.Printf("initial connect failed (controller=%s): %v", cfg.Controller.Name, err)
	}

	// --------------------
	// Core components
	// --------------------

	tmap, err := telemetry.BuildMap(cfg.MemoryMap)
	if err != nil {
		log.Fatalf("telemetry map failed: %v", err)
	}
	reader := telemetry.NewReader(session, tmap, telemetry.Limits{
		MaxForce:  cfg.Safety.MaxForce,
		MaxStroke: cfg.Safety.MaxStroke,
	})

	ccfg, err := command.Build(cfg)
	if err != nil {
		log.Fatalf("command map failed: %v", err)
	}
	dispatcher := command.New(session, ccfg)

	store, err := buildStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("storage open failed (backend=%s): %v", cfg.Storage.Backend, err)
	}

	runs := testrun.New(reader, dispatcher, store, testrun.Config{
		SamplePeriod:     cfg.Timing.SamplePeriod(),
		CompletionStatus: cfg.Timing.CompletionStatus,
		PersistTimeout:   storeTimeout,
	})

	// --------------------
	// Background loops
	// --------------------

	var wg sync.WaitGroup
	loopCtx, stopLoops := context.WithCancel(context.Background())
	goLoop := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(loopCtx)
		}()
	}

	tracker := status.NewTracker()
	supervisor := broadcast.NewSupervisor(session, tracker, cfg.Timing.ReconnectPeriod())
	loop := broadcast.New(reader, cfg.Timing.BroadcastPeriod())

	monitor := alarm.NewMonitor(store)
	alarmFeed := loop.Subscribe(uuid.New())

	goLoop(supervisor.Run)
	goLoop(func(ctx context.Context) { monitor.Run(ctx, alarmFeed) })

	if cfg.NATS.URL != "" {
		nc, err := publish.Connect(cfg.NATS.URL, "ringtester-"+cfg.Controller.Name)
		if err != nil {
			log.Printf("nats disabled: %v", err)
		} else {
			defer nc.Close()
			pub := publish.New(nc, cfg.NATS.Subject, cfg.Controller.Name)
			natsFeed := loop.Subscribe(uuid.New())
			goLoop(func(ctx context.Context) { pub.Run(ctx, natsFeed) })
		}
	}

	goLoop(loop.Run)

	// --------------------
	// HTTP surface
	// --------------------

	srv := &http.Server{
		Addr: cfg.HTTP.Listen,
		Handler: api.New(api.Deps{
			Endpoint:  cfg.Controller.Endpoint,
			Telemetry: reader,
			Commands:  dispatcher,
			Runs:      runs,
			Link:      session,
			Health:    tracker,
			Feed:      loop,
			Store:     store,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		log.Printf("http listening (addr=%s)", cfg.HTTP.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	log.Printf("ringtester started (controller=%s protocol=%s endpoint=%s storage=%s)",
		cfg.Controller.Name, cfg.Controller.Protocol, cfg.Controller.Endpoint, cfg.Storage.Backend)

	select {
	case <-ctx.Done():
		log.Printf("shutdown requested")
	case err := <-httpErr:
		log.Printf("http server failed: %v", err)
	}

	// --------------------
	// Ordered shutdown
	// --------------------

	shutdown(srv, runs, dispatcher, session, store, stopLoops, &wg)
}

// shutdown stops the surfaces first, then motion, then the link.
func shutdown(
	srv *http.Server,
	runs *testrun.Orchestrator,
	dispatcher *command.Dispatcher,
	session *device.Session,
	store storage.Store,
	stopLoops context.CancelFunc,
	wg *sync.WaitGroup,
) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}

	stopLoops()
	wg.Wait()

	switch runs.State() {
	case testrun.Recording:
		if err := runs.Stop(); err != nil {
			log.Printf("SAFETY: run stop on shutdown failed: %v", err)
		}
	case testrun.Finalizing:
		// One last attempt; otherwise the held samples go to the log.
		if err := runs.RetryFinalize(); err != nil {
			log.Printf("testrun: pending run not saved on shutdown: %v", err)
			if err := runs.Abandon(); err != nil {
				log.Printf("testrun: abandon on shutdown: %v", err)
			}
		}
	}
	if session.Connected() {
		if err := dispatcher.StopAllJog(); err != nil {
			log.Printf("SAFETY: stop all jog on shutdown failed: %v", err)
		}
	}
	session.Disconnect()

	if err := store.Close(ctx); err != nil {
		log.Printf("storage close: %v", err)
	}
	log.Printf("ringtester stopped")
}

func buildTransport(c config.ControllerConfig) (device.Transport, error) {
	switch c.Protocol {
	case config.ProtocolS7:
		c7, err := s7.New(s7.Config{
			Endpoint: c.Endpoint,
			Rack:     c.Rack,
			Slot:     *c.Slot,
			Timeout:  c.Timeout(),
			Trace:    c.Trace,
		})
		if err != nil {
			return nil, err
		}
		return c7, nil
	case config.ProtocolModbus:
		mb, err := modbus.New(modbus.Config{
			Endpoint: c.Endpoint,
			UnitID:   c.UnitID,
			Timeout:  c.Timeout(),
			Trace:    c.Trace,
			DBBase:   c.DBRegisterBase,
		})
		if err != nil {
			return nil, err
		}
		return mb, nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", c.Protocol)
	}
}

func buildStore(ctx context.Context, c config.StorageConfig) (storage.Store, error) {
	switch c.Backend {
	case config.StorageMemory:
		log.Printf("storage: in-memory, runs are lost on exit")
		return storage.NewMemory(), nil
	case config.StorageMongo:
		ctx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		st, err := mongo.Open(ctx, mongo.Config{URI: c.URI, Database: c.Database, Timeout: storeTimeout})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", c.Backend)
	}
}
