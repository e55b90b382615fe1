package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/blerec/internal/groutine"
)

// Row is anything that renders itself as one CSV line.
type Row interface {
	CSVRow() []string
}

const (
	// StreamSink lifecycle states
	StateNotRunning uint32 = iota // no worker, rows accumulate in the queue
	StateRunning                  // worker is draining the queue
	StateStopping                 // worker was signaled and is finishing its last drain

	// DefaultCapacity is the default queue size in rows.
	DefaultCapacity uint32 = 1 << 16

	// MaxCapacity guards against accidental misconfiguration.
	MaxCapacity uint32 = 1 << 22

	// DefaultIdleInterval is how long the worker sleeps once the queue is empty.
	DefaultIdleInterval = 10 * time.Millisecond

	stopWarnTimeout = 5 * time.Second
)

// OpenFunc opens the sink's output file for appending.
type OpenFunc func(path string) (io.WriteCloser, error)

// AppendFile is the default OpenFunc.
func AppendFile(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// Options configures a StreamSink.
type Options struct {
	Capacity     uint32
	IdleInterval time.Duration
	Open         OpenFunc
}

// Option is a functional option for configuring a StreamSink
type Option func(*Options)

// WithCapacity sets the queue size in rows.
func WithCapacity(capacity uint32) Option {
	return func(o *Options) { o.Capacity = capacity }
}

// WithIdleInterval sets the worker's idle poll interval.
func WithIdleInterval(d time.Duration) Option {
	return func(o *Options) { o.IdleInterval = d }
}

// WithOpenFunc replaces the file opener.
func WithOpenFunc(open OpenFunc) Option {
	return func(o *Options) { o.Open = open }
}

// WriteError reports a row that could not be persisted.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// StreamSink persists one row stream to one append-only CSV file.
//
// Enqueue never blocks and may be called from any goroutine in any state.
// Rows queued while the sink is stopped are written once Start runs.
// Start and Stop are idempotent and serialized against each other.
type StreamSink struct {
	name   string
	path   string
	logger *logrus.Logger
	idle   time.Duration
	open   OpenFunc

	queue   mpmc.RichOverlappedRingBuffer[Row]
	metrics Metrics
	state   uint32 // atomic, one of the State constants

	lifecycle sync.Mutex // guards stop and done
	stop      chan struct{}
	done      <-chan struct{}

	// owned by the worker goroutine
	file   io.WriteCloser
	writer *csv.Writer
}

// New creates a stopped sink writing to path.
func New(name, path string, logger *logrus.Logger, opts ...Option) (*StreamSink, error) {
	if path == "" {
		return nil, fmt.Errorf("sink %q: path cannot be empty", name)
	}

	o := Options{
		Capacity:     DefaultCapacity,
		IdleInterval: DefaultIdleInterval,
		Open:         AppendFile,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Capacity == 0 {
		return nil, fmt.Errorf("sink %q: capacity must be > 0", name)
	}
	if o.Capacity > MaxCapacity {
		return nil, fmt.Errorf("sink %q: capacity %d exceeds maximum %d", name, o.Capacity, MaxCapacity)
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = DefaultIdleInterval
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	return &StreamSink{
		name:   name,
		path:   path,
		logger: logger,
		idle:   o.IdleInterval,
		open:   o.Open,
		queue:  mpmc.NewOverlappedRingBuffer[Row](o.Capacity),
		state:  StateNotRunning,
	}, nil
}

// Name returns the stream name.
func (s *StreamSink) Name() string { return s.name }

// Path returns the output file path.
func (s *StreamSink) Path() string { return s.path }

// State returns the current lifecycle state.
func (s *StreamSink) State() uint32 {
	return atomic.LoadUint32(&s.state)
}

// Running reports whether a worker is draining the queue.
func (s *StreamSink) Running() bool {
	return s.State() == StateRunning
}

// Metrics returns a snapshot of the sink counters.
func (s *StreamSink) Metrics() Metrics {
	return s.metrics.snapshot()
}

// Enqueue queues a row for writing. It never blocks; when the queue is full
// the oldest row is overwritten and counted.
func (s *StreamSink) Enqueue(row Row) {
	overwrites, err := s.queue.EnqueueM(row)
	if err != nil {
		s.metrics.addOverwritten(1)
		s.logger.WithFields(logrus.Fields{
			"sink":  s.name,
			"error": err,
		}).Warn("Row dropped: enqueue failed")
		return
	}
	s.metrics.addEnqueued()
	if overwrites > 0 {
		s.metrics.addOverwritten(overwrites)
		s.logger.WithFields(logrus.Fields{
			"sink":        s.name,
			"overwritten": overwrites,
		}).Warn("Sink queue full, oldest rows overwritten")
	}
}

// Start spawns the drain worker. It is a no-op when already running.
func (s *StreamSink) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !atomic.CompareAndSwapUint32(&s.state, StateNotRunning, StateRunning) {
		currentState := atomic.LoadUint32(&s.state)
		switch currentState {
		case StateRunning:
			return nil
		default:
			return fmt.Errorf("sink %q is in unexpected state %d", s.name, currentState)
		}
	}

	// Fresh channel per start cycle so a restart never sees a closed stop signal
	stop := make(chan struct{})
	s.stop = stop
	s.done = groutine.Go(context.Background(), "sink-"+s.name, func(ctx context.Context) {
		s.run(ctx, stop)
	})

	s.logger.WithFields(logrus.Fields{
		"sink": s.name,
		"path": s.path,
	}).Debug("Sink started")
	return nil
}

// Stop signals the worker, waits until it has drained the queue and exited.
// It is a no-op when the sink is not running.
func (s *StreamSink) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !atomic.CompareAndSwapUint32(&s.state, StateRunning, StateStopping) {
		return nil
	}
	close(s.stop)

	var err error
	select {
	case <-s.done:
	case <-time.After(stopWarnTimeout):
		s.logger.WithField("sink", s.name).Warn("Sink worker is slow to stop, still waiting")
		// The worker must exit; keep waiting so state stays consistent
		<-s.done
		err = fmt.Errorf("sink %q stop exceeded %s", s.name, stopWarnTimeout)
	}
	atomic.StoreUint32(&s.state, StateNotRunning)

	m := s.metrics.snapshot()
	s.logger.WithFields(logrus.Fields{
		"sink":         s.name,
		"written":      m.Written,
		"write_errors": m.WriteErrors,
		"overwritten":  m.Overwritten,
	}).Debug("Sink stopped")
	return err
}

// run is the drain worker loop.
func (s *StreamSink) run(ctx context.Context, stop <-chan struct{}) {
	defer s.closeFile()
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"sink":  s.name,
				"panic": r,
			}).Error("Sink worker: panic recovered")
		}
	}()
	defer s.logger.Debugf("%s: exiting", groutine.GetName(ctx))

	ticker := time.NewTicker(s.idle)
	defer ticker.Stop()

	for {
		s.drain()
		select {
		case <-stop:
			// Rows queued before the stop signal still belong to this run
			s.drain()
			return
		case <-ticker.C:
		}
	}
}

// drain writes every currently queued row.
func (s *StreamSink) drain() {
	for !s.queue.IsEmpty() {
		row, err := s.queue.Dequeue()
		if err != nil {
			if s.queue.IsEmpty() {
				return
			}
			s.logger.WithFields(logrus.Fields{
				"sink":  s.name,
				"error": err,
			}).Warn("Sink dequeue failed")
			return
		}
		if row == nil {
			continue
		}
		if err := s.write(row); err != nil {
			s.metrics.addWriteError()
			s.logger.WithFields(logrus.Fields{
				"sink":  s.name,
				"error": err,
			}).Warn("Row lost: write failed")
			continue
		}
		s.metrics.addWritten()
	}
}

// write appends one row and flushes it. On failure the file is closed so the
// next row reopens it.
func (s *StreamSink) write(row Row) error {
	if s.writer == nil {
		f, err := s.open(s.path)
		if err != nil {
			return &WriteError{Path: s.path, Err: err}
		}
		s.file = f
		s.writer = csv.NewWriter(f)
	}

	if err := s.writer.Write(row.CSVRow()); err != nil {
		s.closeFile()
		return &WriteError{Path: s.path, Err: err}
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.closeFile()
		return &WriteError{Path: s.path, Err: err}
	}
	return nil
}

func (s *StreamSink) closeFile() {
	if s.file == nil {
		return
	}
	if err := s.file.Close(); err != nil {
		s.logger.WithFields(logrus.Fields{
			"sink":  s.name,
			"error": err,
		}).Warn("Failed to close sink file")
	}
	s.file = nil
	s.writer = nil
}
