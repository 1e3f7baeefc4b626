// Package supervisor implements C8: startup in a given order, shutdown by
// a single shared cancellation, and health reporting for the pipeline's
// long-running components. Grounded on collector.Collector.Run's
// WaitGroup + error-channel fan-out, generalized from two collectors to the
// full C1-C7 startup order named in §4.8. Shutdown does not follow a
// reverse order: every component is cancelled at the same moment.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Component is anything the supervisor starts and stops. Run must block
// until ctx is cancelled or a fatal error occurs, and return promptly once
// ctx is done.
type Component struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor starts components in order and stops them all together.
type Supervisor struct {
	log           *slog.Logger
	components    []Component
	shutdownGrace time.Duration

	mu      sync.Mutex
	healthy bool
}

// New constructs a Supervisor. components must already be in startup
// order (§4.8: C1 → C7 → C2 → C3 → C5). Shutdown cancels all of them at
// once; it does not stop them in reverse order.
func New(log *slog.Logger, shutdownGrace time.Duration, components ...Component) *Supervisor {
	return &Supervisor{log: log, components: components, shutdownGrace: shutdownGrace}
}

// Run launches every component concurrently in the order given, waits for
// ctx cancellation or the first fatal error, then cancels all components
// through one shared context and waits up to shutdownGrace for them to
// return. No stop order is enforced between components.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(s.components))
	var wg sync.WaitGroup

	for _, c := range s.components {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.log.Info("starting component", slog.String("component", c.Name))
			if err := c.Run(runCtx); err != nil {
				s.log.Error("component exited with error", slog.String("component", c.Name), slog.Any("error", err))
				errCh <- fmt.Errorf("%s: %w", c.Name, err)
				cancel()
				return
			}
			s.log.Info("component stopped", slog.String("component", c.Name))
		}()
	}

	s.setHealthy(true)

	<-runCtx.Done()
	s.setHealthy(false)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.shutdownGrace):
		s.log.Warn("shutdown grace period elapsed with components still running")
	}

	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// Healthy reports whether every component is currently believed to be
// running: true from startup until Run begins shutting down.
func (s *Supervisor) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

func (s *Supervisor) setHealthy(v bool) {
	s.mu.Lock()
	s.healthy = v
	s.mu.Unlock()
}
