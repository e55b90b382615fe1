package location

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/blerec/internal/groutine"
	"github.com/srg/blerec/internal/telemetry"
	"go.bug.st/serial"
)

// PortOptions describes the serial connection parameters of a GPS receiver.
type PortOptions struct {
	BaudRate int    `yaml:"baud_rate" json:"baud_rate"`
	DataBits int    `yaml:"data_bits" json:"data_bits"`
	StopBits int    `yaml:"stop_bits" json:"stop_bits"`
	Parity   string `yaml:"parity" json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 9600
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the port options into a go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// SerialOptions configures a SerialSource.
type SerialOptions struct {
	Path        string
	Port        PortOptions
	MinInterval time.Duration `default:"1s"`
	ReadTimeout time.Duration `default:"200ms"`
	BufferSize  int           `default:"4096"`
	MaxLine     int           `default:"256"`
}

// openPort opens the receiver (can be overridden in tests)
var openPort = func(path string, mode *serial.Mode, readTimeout time.Duration) (io.ReadCloser, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, err
	}
	return port, nil
}

// SerialMetrics counts what a SerialSource has read.
type SerialMetrics struct {
	Sentences int64
	Fixes     int64
	Throttled int64
	Invalid   int64
}

// SerialSource reads NMEA sentences from a serial GPS receiver.
type SerialSource struct {
	opts   SerialOptions
	mode   *serial.Mode
	logger *logrus.Logger
	now    func() time.Time

	sentences atomic.Int64
	fixes     atomic.Int64
	throttled atomic.Int64
	invalid   atomic.Int64

	mu     sync.Mutex
	port   io.ReadCloser
	cancel context.CancelFunc
	done   <-chan struct{}
}

// NewSerialSource validates the options; the port is opened by Start.
func NewSerialSource(opts SerialOptions, logger *logrus.Logger) (*SerialSource, error) {
	defaults.SetDefaults(&opts)
	if strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("serial port path is empty")
	}
	mode, err := opts.Port.SerialMode()
	if err != nil {
		return nil, err
	}
	if opts.MaxLine <= 0 || opts.BufferSize < opts.MaxLine {
		return nil, fmt.Errorf("buffer size %d must hold a line of %d bytes", opts.BufferSize, opts.MaxLine)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &SerialSource{opts: opts, mode: mode, logger: logger, now: time.Now}, nil
}

// Start opens the port and reads fixes until Stop or ctx is done.
func (s *SerialSource) Start(ctx context.Context, onFix func(telemetry.LocationFix)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return fmt.Errorf("serial source already started")
	}

	port, err := openPort(s.opts.Path, s.mode, s.opts.ReadTimeout)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.opts.Path, err)
	}
	s.logger.WithFields(logrus.Fields{
		"path": s.opts.Path,
		"baud": s.mode.BaudRate,
	}).Info("GPS receiver opened")

	runCtx, cancel := context.WithCancel(ctx)
	s.port = port
	s.cancel = cancel
	s.done = groutine.Go(runCtx, "gps-reader", func(ctx context.Context) {
		s.read(ctx, port, onFix)
	})
	return nil
}

func (s *SerialSource) read(ctx context.Context, port io.Reader, onFix func(telemetry.LocationFix)) {
	defer s.logger.WithField("goroutine", groutine.GetName(ctx)).Debug("gps-reader: exiting")

	staged := ringbuffer.New(s.opts.BufferSize)
	chunk := make([]byte, 256)
	line := make([]byte, 0, s.opts.MaxLine)
	overlong := false
	var lastFix time.Time

	handle := func() {
		defer func() {
			line = line[:0]
			overlong = false
		}()
		if overlong || len(line) == 0 {
			return
		}
		s.sentences.Add(1)

		fix, err := ParseNMEA(string(line))
		switch {
		case err == nil:
		case errors.Is(err, ErrNoFix), errors.Is(err, ErrUnsupportedSentence):
			return
		default:
			s.invalid.Add(1)
			s.logger.WithField("error", err).Debug("Invalid NMEA sentence")
			return
		}

		now := s.now()
		if !lastFix.IsZero() && now.Sub(lastFix) < s.opts.MinInterval {
			s.throttled.Add(1)
			return
		}
		lastFix = now
		s.fixes.Add(1)
		onFix(telemetry.LocationFix{Timestamp: now, Latitude: fix.Latitude, Longitude: fix.Longitude})
	}

	for {
		n, err := port.Read(chunk)
		if ctx.Err() != nil {
			return
		}
		if n > 0 {
			if _, werr := staged.Write(chunk[:n]); errors.Is(werr, ringbuffer.ErrIsFull) {
				s.logger.WithField("buffered", staged.Length()).Warn("GPS line buffer overflow, discarding")
				staged.Reset()
				line = line[:0]
				overlong = true
			}
			for {
				b, rerr := staged.ReadByte()
				if rerr != nil {
					break
				}
				switch b {
				case '\n':
					handle()
				case '\r':
				default:
					if len(line) < s.opts.MaxLine {
						line = append(line, b)
					} else {
						overlong = true
					}
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.WithField("error", err).Error("GPS receiver read failed")
			}
			return
		}
	}
}

// Stop closes the port and waits for the reader to exit.
func (s *SerialSource) Stop() error {
	s.mu.Lock()
	port, cancel, done := s.port, s.cancel, s.done
	s.port, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()

	if port == nil {
		return nil
	}
	cancel()
	err := port.Close()
	<-done
	s.logger.WithField("path", s.opts.Path).Info("GPS receiver closed")
	return err
}

// Metrics returns a snapshot of the reader counters.
func (s *SerialSource) Metrics() SerialMetrics {
	return SerialMetrics{
		Sentences: s.sentences.Load(),
		Fixes:     s.fixes.Load(),
		Throttled: s.throttled.Load(),
		Invalid:   s.invalid.Load(),
	}
}
