// Package app wires configuration, the catalog, the store engine and the
// API servers into one process.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	grpcapi "github.com/arkilian/bookingstore/internal/api/grpc"
	httpapi "github.com/arkilian/bookingstore/internal/api/http"
	"github.com/arkilian/bookingstore/internal/aggregate"
	"github.com/arkilian/bookingstore/internal/catalog"
	"github.com/arkilian/bookingstore/internal/config"
	"github.com/arkilian/bookingstore/internal/engine"
	"github.com/arkilian/bookingstore/internal/events"
	"github.com/arkilian/bookingstore/internal/index"
	"github.com/arkilian/bookingstore/internal/observability"
	"github.com/arkilian/bookingstore/internal/server"
)

// App owns every long-lived resource of a store process.
type App struct {
	cfg     *config.Config
	version string

	mu         sync.Mutex
	opened     bool
	engine     *engine.Engine
	metrics    *observability.Metrics
	supervisor *server.Supervisor
	handler    http.Handler
}

// New validates the configuration and prepares the data directory.
func New(cfg *config.Config, version string) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{cfg: cfg, version: version}, nil
}

// Open loads the catalog into a store engine and registers every
// configured component with the supervisor. Nothing listens yet.
func (a *App) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened {
		return fmt.Errorf("app is already open")
	}

	cat, err := catalog.Open(a.cfg.CatalogPath())
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	log.Printf("app: catalog opened at %s", cat.Path())

	opts, err := engine.OptionsFromConfig(a.cfg)
	if err != nil {
		cat.Close()
		return err
	}
	a.metrics = observability.NewMetrics()
	opts.Collector = observability.NewCollector(a.cfg.Query.RecentQueries, a.metrics,
		observability.SlowQueryLogger{Threshold: a.cfg.Query.SlowQueryThreshold})

	eng, err := engine.Open(ctx, cat, opts)
	if err != nil {
		cat.Close()
		return fmt.Errorf("failed to load store: %w", err)
	}
	a.engine = eng
	a.supervisor = server.NewSupervisor(server.Config{
		ShutdownTimeout: a.cfg.HTTP.ShutdownTimeout,
		DrainTimeout:    a.cfg.HTTP.ShutdownTimeout / 2,
	})

	// registered first so it closes last
	a.supervisor.Add(server.CloserComponent("catalog", cat))

	if err := a.addBackground(); err != nil {
		cat.Close()
		return err
	}
	a.addHTTP()
	if err := a.addGRPC(); err != nil {
		cat.Close()
		return err
	}
	a.addEvents()

	a.opened = true
	return nil
}

func (a *App) addBackground() error {
	if a.cfg.Indexes.AutoCreate {
		policy := index.NewPolicy(a.engine.Stats(), a.engine, a.cfg.Indexes)
		a.supervisor.Add(server.LoopComponent("index policy", func(ctx context.Context) error {
			policy.Run(ctx)
			return nil
		}))
	}
	if a.cfg.Aggregates.VerifySchedule != "" {
		v, err := aggregate.NewVerifier(a.engine.Aggregates(), a.cfg.Aggregates.VerifySchedule, time.Minute)
		if err != nil {
			return fmt.Errorf("aggregates.verify_schedule: %w", err)
		}
		a.supervisor.Add(server.LoopComponent("drift verifier", func(ctx context.Context) error {
			v.Start()
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			v.Stop(stopCtx)
			return nil
		}))
	}
	return nil
}

func (a *App) addHTTP() {
	api := httpapi.NewServer(a.engine, a.metrics, a.version)
	api.SetSlowRequest(a.cfg.Query.SlowQueryThreshold)
	api.Use(a.supervisor.Middleware)

	a.handler = api.Handler()

	a.supervisor.Add(server.HTTPComponent("http", &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      a.handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}))
}

func (a *App) addGRPC() error {
	if !a.cfg.GRPC.Enabled {
		return nil
	}
	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}
	a.supervisor.Add(server.GRPCComponent("grpc", grpcapi.NewServer(a.engine), lis))
	return nil
}

func (a *App) addEvents() {
	if !a.cfg.Events.Enabled {
		return
	}
	consumer := events.NewConsumer(a.cfg.Events, a.engine)
	a.supervisor.Add(server.LoopComponent("rating consumer", func(ctx context.Context) error {
		if err := consumer.Connect(); err != nil {
			return err
		}
		defer consumer.Close()
		return consumer.Run(ctx)
	}))
}

// Run opens the app if needed and serves until a signal, ctx ending or a
// component failure.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	opened := a.opened
	a.mu.Unlock()
	if !opened {
		if err := a.Open(ctx); err != nil {
			return err
		}
	}
	log.Printf("app: bookingstore %s serving http=%s grpc=%t events=%t",
		a.version, a.cfg.HTTP.Addr, a.cfg.GRPC.Enabled, a.cfg.Events.Enabled)
	return a.supervisor.Run(ctx)
}

// Close stops every component without waiting for a signal.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	sup := a.supervisor
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Shutdown(ctx, "closed")
}

// Engine returns the store engine. Nil before Open.
func (a *App) Engine() *engine.Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

// Handler returns the HTTP handler. Nil before Open.
func (a *App) Handler() http.Handler {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handler
}
