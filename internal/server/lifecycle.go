// Package server runs the long-lived parts of the booking store (API
// listeners, the rating consumer, background loops) and stops them in
// order when the process is told to exit.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// Component is one supervised part of the process. Run blocks until the
// component stops and may be nil for resources that only need closing.
// Stop must make Run return.
type Component struct {
	Name string
	Run  func(ctx context.Context) error
	Stop func(ctx context.Context) error
}

// Config holds supervisor timeouts.
type Config struct {
	// ShutdownTimeout bounds the whole shutdown. Default: 30 seconds
	ShutdownTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight requests. Default: 15 seconds
	DrainTimeout time.Duration
}

// DefaultConfig returns the default supervisor configuration.
func DefaultConfig() Config {
	return Config{
		ShutdownTimeout: 30 * time.Second,
		DrainTimeout:    15 * time.Second,
	}
}

// Supervisor starts components, waits for a signal or a failure, then
// drains in-flight requests and stops components in reverse order.
type Supervisor struct {
	cfg Config

	mu         sync.Mutex
	components []Component

	inFlight atomic.Int64
	draining atomic.Bool
	once     sync.Once
	stopErr  error
}

// NewSupervisor creates a supervisor.
func NewSupervisor(cfg Config) *Supervisor {
	def := DefaultConfig()
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	return &Supervisor{cfg: cfg}
}

// Add registers a component. Components are started in registration order
// and stopped in reverse.
func (s *Supervisor) Add(c Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components = append(s.components, c)
}

// Run starts every component and blocks until SIGINT, SIGTERM, ctx ending
// or a component failing; then it shuts everything down. The returned
// error joins the first component failure with any shutdown error.
func (s *Supervisor) Run(ctx context.Context) error {
	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	s.mu.Lock()
	components := append([]Component(nil), s.components...)
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(sigCtx)
	for _, c := range components {
		if c.Run == nil {
			continue
		}
		g.Go(func() error {
			log.Printf("server: %s started", c.Name)
			if err := c.Run(gctx); err != nil {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
			return nil
		})
	}

	<-gctx.Done()
	reason := "context done"
	if sigCtx.Err() != nil && ctx.Err() == nil {
		reason = "signal received"
	} else if ctx.Err() == nil {
		reason = "component failed"
	}
	shutdownErr := s.Shutdown(context.Background(), reason)
	return stderrors.Join(g.Wait(), shutdownErr)
}

// Shutdown drains in-flight requests and stops every component once.
// Later calls return the first call's result.
func (s *Supervisor) Shutdown(ctx context.Context, reason string) error {
	s.once.Do(func() {
		log.Printf("server: shutting down (%s)", reason)
		s.draining.Store(true)

		ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := s.drain(ctx); err != nil {
			errs = append(errs, err)
		}

		s.mu.Lock()
		components := append([]Component(nil), s.components...)
		s.mu.Unlock()
		for i := len(components) - 1; i >= 0; i-- {
			c := components[i]
			if c.Stop == nil {
				continue
			}
			if err := c.Stop(ctx); err != nil {
				log.Printf("server: stopping %s: %v", c.Name, err)
				errs = append(errs, fmt.Errorf("stop %s: %w", c.Name, err))
			}
		}
		s.stopErr = stderrors.Join(errs...)
		log.Printf("server: stopped")
	})
	return s.stopErr
}

func (s *Supervisor) drain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DrainTimeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.inFlight.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			if n := s.inFlight.Load(); n > 0 {
				return fmt.Errorf("timeout waiting for %d in-flight requests", n)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// Draining reports whether shutdown has begun.
func (s *Supervisor) Draining() bool {
	return s.draining.Load()
}

// InFlight returns the number of tracked requests.
func (s *Supervisor) InFlight() int64 {
	return s.inFlight.Load()
}

// Middleware tracks in-flight HTTP requests and rejects new ones with 503
// once shutdown has begun.
func (s *Supervisor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			w.Header().Set("Connection", "close")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "service unavailable: shutting down", http.StatusServiceUnavailable)
			return
		}
		s.inFlight.Add(1)
		defer s.inFlight.Add(-1)
		next.ServeHTTP(w, r)
	})
}

// HTTPComponent serves srv until stopped.
func HTTPComponent(name string, srv *http.Server) Component {
	return Component{
		Name: name,
		Run: func(context.Context) error {
			log.Printf("server: %s listening on %s", name, srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		Stop: srv.Shutdown,
	}
}

// GRPCComponent serves srv on lis until stopped. A graceful stop that
// outlives ctx is cut short.
func GRPCComponent(name string, srv *grpc.Server, lis net.Listener) Component {
	return Component{
		Name: name,
		Run: func(context.Context) error {
			log.Printf("server: %s listening on %s", name, lis.Addr())
			if err := srv.Serve(lis); err != nil && !stderrors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		},
		Stop: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				srv.GracefulStop()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				srv.Stop()
			}
			// Serve may never have run
			_ = lis.Close()
			return nil
		},
	}
}

// CloserComponent closes c on shutdown.
func CloserComponent(name string, c io.Closer) Component {
	return Component{
		Name: name,
		Stop: func(context.Context) error { return c.Close() },
	}
}

// LoopComponent runs fn with a context that Stop cancels. It suits
// background loops that exit when their context ends.
func LoopComponent(name string, fn func(ctx context.Context) error) Component {
	var (
		mu     sync.Mutex
		cancel context.CancelFunc
		done   = make(chan struct{})
	)
	return Component{
		Name: name,
		Run: func(ctx context.Context) error {
			defer close(done)
			ctx, c := context.WithCancel(ctx)
			mu.Lock()
			cancel = c
			mu.Unlock()
			defer c()
			return fn(ctx)
		},
		Stop: func(ctx context.Context) error {
			mu.Lock()
			c := cancel
			mu.Unlock()
			if c == nil {
				return nil
			}
			c()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}
