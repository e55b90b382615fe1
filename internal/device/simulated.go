package device

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blerec/internal/groutine"
	"github.com/srg/blerec/internal/session"
	"github.com/srg/blerec/internal/telemetry"
)

// SimulatorOptions shapes the frames and link behaviour of a SimulatedPeripheral.
type SimulatorOptions struct {
	Name            string        `default:"blerec-sim"`
	FrameInterval   time.Duration `default:"20ms"`
	SamplesPerFrame int           `default:"8"`
	// DropAfter frames the link is lost once; 0 keeps it up.
	DropAfter int
	// ReconnectDelay is how long a reconnect takes.
	ReconnectDelay time.Duration `default:"500ms"`
	// RejectReconnect makes RequestReconnect fail.
	RejectReconnect bool
	// NeverReconnect accepts the reconnect request but never comes back.
	NeverReconnect bool
}

// SimulatedPeripheral is an in-process Transport producing well-formed
// telemetry frames. Channels alternate rear and side, slots cycle 0, 1, 2 and
// the peripheral clock advances by the frame interval in milliseconds.
type SimulatedPeripheral struct {
	opts   SimulatorOptions
	logger *logrus.Logger

	mu        sync.Mutex
	handler   session.LinkHandler
	ctx       context.Context
	cancel    context.CancelFunc
	closed    bool
	sent      int
	dropped   bool
	readIndex uint8
	slot      uint8
	clock     uint32
}

// NewSimulatedPeripheral creates a simulator; zero option fields take defaults.
func NewSimulatedPeripheral(opts SimulatorOptions, logger *logrus.Logger) *SimulatedPeripheral {
	defaults.SetDefaults(&opts)
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &SimulatedPeripheral{opts: opts, logger: logger}
}

// Connect reports the link up and starts producing frames.
func (p *SimulatedPeripheral) Connect(ctx context.Context, handler session.LinkHandler) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.handler != nil {
		p.mu.Unlock()
		return ErrAlreadyConnected
	}
	p.handler = handler
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.logger.WithField("peer", p.opts.Name).Info("Simulated peripheral connected")
	handler.OnConnectionStateChanged(true)
	p.startStreaming()
	return nil
}

func (p *SimulatedPeripheral) startStreaming() {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	groutine.Go(ctx, "sim-peripheral", p.stream)
}

func (p *SimulatedPeripheral) stream(ctx context.Context) {
	ticker := time.NewTicker(p.opts.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, drop, ok := p.next()
		if !ok {
			return
		}
		if drop {
			p.logger.WithField("after_frames", p.opts.DropAfter).Warn("Simulated link drop")
			p.handler.OnConnectionStateChanged(false)
			return
		}
		p.handler.OnFrame(frame)
	}
}

// next builds the next frame, or reports that the scheduled drop is due.
func (p *SimulatedPeripheral) next() (frame []byte, drop bool, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false, false
	}
	if p.opts.DropAfter > 0 && p.sent == p.opts.DropAfter && !p.dropped {
		p.dropped = true
		return nil, true, true
	}

	channel := telemetry.ChannelRear
	if p.sent%2 == 1 {
		channel = telemetry.ChannelSide
	}
	samples := make([]uint16, p.opts.SamplesPerFrame)
	for i := range samples {
		phase := float64(p.sent*p.opts.SamplesPerFrame+i) / 32
		samples[i] = uint16(2048 + 1024*math.Sin(phase))
	}

	frame = telemetry.Encode(telemetry.Reading{
		Channel:             channel,
		Slot:                p.slot,
		ReadIndex:           p.readIndex,
		PeripheralTimestamp: p.clock,
		Samples:             samples,
	})

	p.sent++
	p.readIndex++
	p.slot = (p.slot + 1) % telemetry.SlotCount
	p.clock += uint32(p.opts.FrameInterval.Milliseconds())
	return frame, false, true
}

// RequestReconnect schedules the link to come back after ReconnectDelay.
func (p *SimulatedPeripheral) RequestReconnect() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.handler == nil || p.opts.RejectReconnect {
		return false
	}
	if p.opts.NeverReconnect {
		return true
	}

	ctx := p.ctx
	groutine.Go(ctx, "sim-reconnect", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.opts.ReconnectDelay):
		}

		p.mu.Lock()
		closed := p.closed
		// the peripheral restarts its slot cycle after a reconnect
		p.slot = 0
		p.mu.Unlock()
		if closed {
			return
		}

		p.logger.WithField("peer", p.opts.Name).Info("Simulated peripheral reconnected")
		p.handler.OnConnectionStateChanged(true)
		p.startStreaming()
	})
	return true
}

// Close stops frame production. It does not wait for the streaming goroutine,
// which may itself be blocked delivering a callback to the caller.
func (p *SimulatedPeripheral) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// PeerName returns the simulated advertised name.
func (p *SimulatedPeripheral) PeerName() string {
	return p.opts.Name
}

// Sent returns how many frames were produced.
func (p *SimulatedPeripheral) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

var _ session.Transport = (*SimulatedPeripheral)(nil)
