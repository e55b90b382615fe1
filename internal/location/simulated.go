package location

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blerec/internal/groutine"
	"github.com/srg/blerec/internal/telemetry"
)

// SimulatedOptions configures a SimulatedSource.
type SimulatedOptions struct {
	Latitude  float64       `default:"52.52"`
	Longitude float64       `default:"13.405"`
	Interval  time.Duration `default:"1s"`
	// Step is the distance moved per fix, in degrees.
	Step float64 `default:"0.00005"`
}

// SimulatedSource walks a slow curve around an origin and reports one fix per interval.
type SimulatedSource struct {
	opts   SimulatedOptions
	logger *logrus.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   <-chan struct{}
}

// NewSimulatedSource creates a simulated source; zero option fields take defaults.
func NewSimulatedSource(opts SimulatedOptions, logger *logrus.Logger) *SimulatedSource {
	defaults.SetDefaults(&opts)
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &SimulatedSource{opts: opts, logger: logger, now: time.Now}
}

// Start begins emitting fixes.
func (s *SimulatedSource) Start(ctx context.Context, onFix func(telemetry.LocationFix)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("simulated source already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = groutine.Go(runCtx, "gps-simulator", func(ctx context.Context) {
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()

		// the origin is reported at once, like a receiver that already has a fix
		lat, lon, heading := s.opts.Latitude, s.opts.Longitude, 0.0
		onFix(telemetry.LocationFix{Timestamp: s.now(), Latitude: lat, Longitude: lon})
		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("gps-simulator: exiting")
				return
			case <-ticker.C:
			}
			lat += s.opts.Step * math.Cos(heading)
			lon += s.opts.Step * math.Sin(heading)
			heading += 0.1
			onFix(telemetry.LocationFix{Timestamp: s.now(), Latitude: lat, Longitude: lon})
		}
	})
	return nil
}

// Stop ends the walk and waits for the emitting goroutine.
func (s *SimulatedSource) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
