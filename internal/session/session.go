// Package session implements the link state machine that owns a recording
// session: it connects the transport, decodes and routes frames to the stream
// sinks, and survives a link drop with exactly one bounded reconnect attempt.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blerec/internal/eventbus"
	"github.com/srg/blerec/internal/sink"
	"github.com/srg/blerec/internal/telemetry"
)

// State is the connection state of a session.
type State int32

const (
	StateDisconnected State = iota // initial and terminal
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultReconnectTimeout bounds the single reconnect attempt.
const DefaultReconnectTimeout = 5 * time.Second

// Options configures a Session.
type Options struct {
	OutputDir        string
	FilePrefix       string // session file prefix; derived from the start time when empty
	PrefixLayout     string
	ReconnectTimeout time.Duration
	Location         LocationSource
	SinkOptions      []sink.Option
	Now              func() time.Time
}

// Option is a functional option for configuring a Session
type Option func(*Options)

// WithOutputDir sets the directory session files are written to.
func WithOutputDir(dir string) Option {
	return func(o *Options) { o.OutputDir = dir }
}

// WithFilePrefix fixes the session file prefix.
func WithFilePrefix(prefix string) Option {
	return func(o *Options) { o.FilePrefix = prefix }
}

// WithPrefixLayout sets the time layout used to derive the file prefix.
func WithPrefixLayout(layout string) Option {
	return func(o *Options) { o.PrefixLayout = layout }
}

// WithReconnectTimeout sets the reconnect deadline.
func WithReconnectTimeout(d time.Duration) Option {
	return func(o *Options) { o.ReconnectTimeout = d }
}

// WithLocationSource attaches a location source feeding the location stream.
func WithLocationSource(src LocationSource) Option {
	return func(o *Options) { o.Location = src }
}

// WithSinkOptions passes options to every stream sink.
func WithSinkOptions(opts ...sink.Option) Option {
	return func(o *Options) { o.SinkOptions = append(o.SinkOptions, opts...) }
}

// WithClock replaces time.Now for receipt timestamps and the file prefix.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

type nopPublisher struct{}

func (nopPublisher) Publish(eventbus.Event) {}

// Session is the aggregate root of one recording: connection state, the three
// stream sinks, the sequence tracker and reconnect bookkeeping.
//
// Transitions are serialized by transMu. The frame path only takes mu, which
// is never held across file I/O or transport calls; the only sink call made
// under it is the lock-free Enqueue.
type Session struct {
	transport        Transport
	events           Publisher
	logger           *logrus.Logger
	location         LocationSource
	reconnectTimeout time.Duration
	now              func() time.Time
	sinks            *sink.Set
	stats            Stats

	transMu sync.Mutex

	mu                 sync.Mutex
	state              State
	started            bool
	terminated         bool
	locationStarted    bool
	tracker            telemetry.SequenceTracker
	lastVerdict        telemetry.SequenceVerdict
	summary            eventbus.TelemetrySummary
	reconnectAttempted bool
	attempt            uint64
	timer              *time.Timer
	cause              error
	cancel             context.CancelFunc

	done chan struct{}
}

// New creates a disconnected session and its stream sinks. Files are not
// created until rows are written.
func New(transport Transport, events Publisher, logger *logrus.Logger, opts ...Option) (*Session, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if events == nil {
		events = nopPublisher{}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	o := Options{
		OutputDir:        ".",
		ReconnectTimeout: DefaultReconnectTimeout,
		Now:              time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ReconnectTimeout <= 0 {
		return nil, fmt.Errorf("reconnect timeout must be > 0, got %s", o.ReconnectTimeout)
	}
	if o.FilePrefix == "" {
		o.FilePrefix = sink.SessionPrefix(o.Now(), o.PrefixLayout)
	}
	if err := os.MkdirAll(o.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	sinks, err := sink.NewSet(o.OutputDir, o.FilePrefix, telemetry.Streams, logger, o.SinkOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream sinks: %w", err)
	}

	return &Session{
		transport:        transport,
		events:           events,
		logger:           logger,
		location:         o.Location,
		reconnectTimeout: o.ReconnectTimeout,
		now:              o.Now,
		sinks:            sinks,
		state:            StateDisconnected,
		done:             make(chan struct{}),
	}, nil
}

// Start connects the transport and begins feeding the location stream.
// A session can be started once; a connect error ends it.
func (s *Session) Start(ctx context.Context) error {
	s.transMu.Lock()
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		s.transMu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		s.transMu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.setState(StateConnecting)

	if s.location != nil {
		if err := s.location.Start(runCtx, s.onLocationFix); err != nil {
			s.logger.WithField("error", err).Warn("Location source failed to start, recording without location")
		} else {
			s.mu.Lock()
			s.locationStarted = true
			s.mu.Unlock()
		}
	}
	s.transMu.Unlock()

	// The transport reports success through OnConnectionStateChanged, which
	// takes transMu, so Connect must run without it.
	if err := s.transport.Connect(runCtx, s); err != nil {
		s.transMu.Lock()
		defer s.transMu.Unlock()
		cause := fmt.Errorf("%w: %w", ErrConnectFailed, err)
		s.terminate(cause)
		return cause
	}
	return nil
}

// Stop ends the session from any state: sinks are drained and stopped, the
// transport is closed and the session becomes Disconnected. Safe to call twice.
func (s *Session) Stop() error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	s.terminate(nil)
	return nil
}

// OnConnectionStateChanged implements LinkHandler.
func (s *Session) OnConnectionStateChanged(connected bool) {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	state := s.State()
	s.logger.WithFields(logrus.Fields{
		"connected": connected,
		"state":     state,
	}).Debug("Transport reported connection change")

	if connected {
		switch state {
		case StateConnecting:
			s.enterConnected()
		case StateReconnecting:
			s.cancelReconnectTimer()
			s.stats.add(&s.stats.Reconnects)
			s.enterConnected()
		default:
			s.logger.WithField("state", state).Debug("Ignoring connect report")
		}
		return
	}

	switch state {
	case StateConnecting:
		s.terminate(&LinkError{Kind: ConnectFailed, Msg: "link dropped while connecting"})
	case StateConnected:
		s.mu.Lock()
		attempted := s.reconnectAttempted
		s.mu.Unlock()
		if attempted {
			s.terminate(&LinkError{Kind: LinkLost, Msg: "reconnect already attempted"})
			return
		}
		s.beginReconnect()
	case StateReconnecting:
		s.cancelReconnectTimer()
		s.terminate(&LinkError{Kind: LinkLost, Msg: "link dropped again before reconnecting"})
	default:
		s.logger.WithField("state", state).Debug("Ignoring drop report")
	}
}

// OnFrame implements LinkHandler. It decodes, tracks and routes one frame
// without blocking: the only hand-off is a non-blocking sink enqueue.
//
// The state check, tracker update and enqueue share one mu section, so a
// row is either queued before a transition stops the sinks (and drained by
// that stop) or counted as dropped.
func (s *Session) OnFrame(frame []byte) {
	receivedAt := s.now()
	s.stats.add(&s.stats.Frames)

	reading, err := telemetry.Decode(frame, receivedAt)
	if err != nil {
		if errors.Is(err, telemetry.ErrUnknownChannel) {
			s.stats.add(&s.stats.UnknownChannel)
		} else {
			s.stats.add(&s.stats.DecodeErrors)
		}
		s.logger.WithFields(logrus.Fields{
			"length": len(frame),
			"error":  err,
		}).Warn("Frame dropped: decode failed")
		return
	}

	stream, _ := reading.Channel.Stream()
	target, ok := s.sinks.Get(stream)
	if !ok {
		s.logger.WithField("stream", stream).Error("No sink for stream")
		return
	}

	s.mu.Lock()
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		s.stats.add(&s.stats.Dropped)
		s.logger.WithFields(logrus.Fields{
			"length": len(frame),
			"state":  state,
		}).Debug("Frame dropped: link not connected")
		return
	}
	verdict := s.tracker.Check(reading.Slot, reading.PeripheralTimestamp)
	s.lastVerdict = verdict
	s.updateSummary(reading)
	summary := s.summary
	target.Enqueue(reading)
	s.mu.Unlock()

	s.stats.add(&s.stats.Readings)
	if verdict.Missed {
		s.stats.add(&s.stats.Missed)
	}
	if s.logger.IsLevelEnabled(logrus.DebugLevel) {
		s.logger.WithFields(logrus.Fields{
			"channel":    reading.Channel,
			"slot":       reading.Slot,
			"read_index": reading.ReadIndex,
			"missed":     verdict.Missed,
			"delay":      verdict.InterArrivalDelay,
			"samples":    len(reading.Samples),
		}).Debug("Frame received")
	}
	s.events.Publish(summary)
}

// updateSummary must be called with mu held.
func (s *Session) updateSummary(r telemetry.Reading) {
	first, hasSample := r.FirstSample()
	switch r.Channel {
	case telemetry.ChannelRear:
		s.summary.TsRear = r.PeripheralTimestamp
		if hasSample {
			s.summary.FirstSampleRear = first
			s.summary.HasRear = true
		}
	case telemetry.ChannelSide:
		s.summary.TsSide = r.PeripheralTimestamp
		if hasSample {
			s.summary.FirstSampleSide = first
			s.summary.HasSide = true
		}
	}
}

func (s *Session) onLocationFix(fix telemetry.LocationFix) {
	target, ok := s.sinks.Get(telemetry.StreamLocation)
	if !ok {
		return
	}
	target.Enqueue(fix)
	s.stats.add(&s.stats.LocationFixes)
	s.events.Publish(eventbus.LocationUpdate{
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Timestamp: fix.Timestamp,
	})
}

// enterConnected runs the Connected entry actions. Caller holds transMu.
func (s *Session) enterConnected() {
	s.mu.Lock()
	s.tracker.Reset()
	s.mu.Unlock()

	if err := s.sinks.StartAll(); err != nil {
		s.logger.WithField("error", err).Error("Failed to start stream sinks")
	}

	s.mu.Lock()
	s.reconnectAttempted = false
	s.mu.Unlock()
	s.setState(StateConnected)

	peer := s.transport.PeerName()
	s.logger.WithField("peer", peer).Info("Link connected")
	s.events.Publish(eventbus.Connected{PeerName: peer})
}

// beginReconnect handles the first drop of a connection. Caller holds transMu.
func (s *Session) beginReconnect() {
	s.mu.Lock()
	s.reconnectAttempted = true
	s.mu.Unlock()
	s.setState(StateReconnecting)

	if err := s.sinks.StopAll(); err != nil {
		s.logger.WithField("error", err).Warn("Stream sinks stopped with errors")
	}

	if !s.transport.RequestReconnect() {
		s.terminate(&LinkError{Kind: ReconnectRejected, Msg: "transport could not begin reconnecting"})
		return
	}

	s.mu.Lock()
	s.attempt++
	attempt := s.attempt
	s.timer = time.AfterFunc(s.reconnectTimeout, func() {
		s.onReconnectDeadline(attempt)
	})
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"attempt": attempt,
		"timeout": s.reconnectTimeout,
	}).Info("Link dropped, reconnecting")
	s.events.Publish(eventbus.Reconnecting{})
}

// onReconnectDeadline fires when a reconnect attempt runs out of time. It is a
// no-op unless that same attempt is still pending.
func (s *Session) onReconnectDeadline(attempt uint64) {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	s.mu.Lock()
	current, state := s.attempt, s.state
	s.mu.Unlock()

	if attempt != current || state != StateReconnecting {
		s.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"current": current,
			"state":   state,
		}).Debug("Stale reconnect deadline ignored")
		return
	}

	s.terminate(&LinkError{
		Kind: ReconnectTimeout,
		Msg:  fmt.Sprintf("no reconnection within %s", s.reconnectTimeout),
	})
}

// cancelReconnectTimer invalidates the pending attempt. Caller holds transMu.
func (s *Session) cancelReconnectTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// terminate moves the session to its terminal Disconnected state. A nil cause
// means an explicit stop. Caller holds transMu.
func (s *Session) terminate(cause error) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	previous := s.state
	s.terminated = true
	s.state = StateDisconnected
	s.cause = cause
	s.attempt++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	locationStarted := s.locationStarted
	cancel := s.cancel
	s.mu.Unlock()

	if err := s.sinks.StopAll(); err != nil {
		s.logger.WithField("error", err).Warn("Stream sinks stopped with errors")
	}
	if err := s.transport.Close(); err != nil {
		s.logger.WithField("error", err).Warn("Transport closed with errors")
	}
	if locationStarted {
		if err := s.location.Stop(); err != nil {
			s.logger.WithField("error", err).Warn("Location source stopped with errors")
		}
	}
	if cancel != nil {
		cancel()
	}

	reason := "stopped"
	entry := s.logger.WithFields(logrus.Fields{
		"from": previous,
		"to":   StateDisconnected,
	})
	if cause != nil {
		reason = cause.Error()
		entry.WithField("cause", cause).Error("Session ended")
	} else {
		entry.Info("Session stopped")
	}

	if previous != StateDisconnected {
		s.events.Publish(eventbus.Disconnected{Reason: reason})
	}
	close(s.done)
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"from": from,
		"to":   to,
	}).Debug("Link state changed")
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session reaches its terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended: nil while running or after an explicit
// Stop, a *LinkError otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Wait blocks until the session ends or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return s.stats.snapshot()
}

// Summary returns the latest telemetry summary.
func (s *Session) Summary() eventbus.TelemetrySummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// LastVerdict returns the sequence verdict of the most recent reading.
func (s *Session) LastVerdict() telemetry.SequenceVerdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastVerdict
}

// Sinks exposes the session's stream sinks for paths and metrics.
func (s *Session) Sinks() *sink.Set {
	return s.sinks
}
