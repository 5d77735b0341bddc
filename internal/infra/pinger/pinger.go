package pinger

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clusterlens/clusterlens/internal/infra/shutdown"
)

// defaultPingTimeout bounds one component health probe.
const defaultPingTimeout = 1 * time.Second

// Pinger is implemented by components that expose a health probe.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// Stats is the outcome of the most recent probes of one component.
type Stats struct {
	Name                string        `json:"name"`
	LastRun             time.Time     `json:"lastRun"`
	LastLatency         time.Duration `json:"lastLatency"`
	LastError           string        `json:"lastError,omitempty"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
}

// Service probes registered components on a fixed interval and feeds
// the health endpoints.
type Service struct {
	logger   *slog.Logger
	interval time.Duration

	mu      sync.RWMutex
	pingers map[string]Pinger
	stats   map[string]Stats

	inShutdown atomic.Bool
	doneCh     chan struct{}
}

// New creates a pinger service with the given probe interval.
func New(logger *slog.Logger, interval time.Duration) *Service {
	return &Service{
		logger:   logger,
		interval: interval,
		pingers:  make(map[string]Pinger),
		stats:    make(map[string]Stats),
		doneCh:   make(chan struct{}),
	}
}

var _ shutdown.Shutdowner = (*Service)(nil)

// Name returns the name of the pinger service component.
func (s *Service) Name() string {
	return "pinger-service"
}

// Register adds a component to the probe set.
func (s *Service) Register(p Pinger) error {
	if p == nil {
		return fmt.Errorf("register pinger: pinger cannot be nil")
	}

	name := p.Name()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pingers[name]; exists {
		return fmt.Errorf("register pinger: %s already registered", name)
	}

	s.pingers[name] = p
	s.stats[name] = Stats{Name: name}
	s.logger.Info("pinger registered", "name", name)

	return nil
}

// Start launches the probe loop.
func (s *Service) Start(ctx context.Context) error {
	if s.inShutdown.Load() {
		s.logger.InfoContext(ctx, "pinger service is shutting down, skipping start")

		return nil
	}

	go s.run(ctx)

	return nil
}

// Shutdown waits for the probe loop to exit.
func (s *Service) Shutdown(ctx context.Context) error {
	if !s.inShutdown.CompareAndSwap(false, true) {
		s.logger.ErrorContext(ctx, "pinger service is already shutting down, skipping shutdown")

		return nil
	}

	s.logger.InfoContext(ctx, "shutting down pinger service")

	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context done before pinger loop exited: %w", ctx.Err())
	case <-s.doneCh:
	}

	s.logger.InfoContext(ctx, "pinger service shut down")

	return nil
}

// Healthy reports whether every registered component passed its most
// recent probe.
func (s *Service) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.stats {
		if st.ConsecutiveFailures > 0 {
			return false
		}
	}

	return true
}

// AllStats returns a copy of the latest probe outcomes.
func (s *Service) AllStats() map[string]Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.stats)
}

func (s *Service) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.probeAll(ctx)

	for {
		if s.inShutdown.Load() {
			return
		}

		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "terminating pinger loop")

			return
		case <-ticker.C:
			s.probeAll(ctx)
		}
	}
}

func (s *Service) probeAll(ctx context.Context) {
	s.mu.RLock()
	pingers := maps.Clone(s.pingers)
	s.mu.RUnlock()

	var wg sync.WaitGroup

	for name, p := range pingers {
		wg.Add(1)

		go func(name string, p Pinger) {
			defer wg.Done()

			pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
			defer cancel()

			start := time.Now()
			err := p.Ping(pingCtx)
			s.record(name, time.Since(start), err)

			if err != nil {
				s.logger.DebugContext(ctx, "pinger error", "name", name, "reason", err)
			}
		}(name, p)
	}

	wg.Wait()
}

func (s *Service) record(name string, latency time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats[name]
	st.Name = name
	st.LastRun = time.Now()
	st.LastLatency = latency

	if err != nil {
		st.LastError = err.Error()
		st.ConsecutiveFailures++
	} else {
		st.LastError = ""
		st.ConsecutiveFailures = 0
	}

	s.stats[name] = st
}
