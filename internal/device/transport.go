package device

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blerec/internal/groutine"
	"github.com/srg/blerec/internal/session"
)

// TransportOptions configures a BLETransport.
type TransportOptions struct {
	Address            string
	ServiceUUID        string        `default:"10336bc0-c8f9-4de7-b637-a68b7ef33fc9"`
	CharacteristicUUID string        `default:"43336bc0-c8f9-4de7-b637-a68b7ef33fc9"`
	ConnectTimeout     time.Duration `default:"10s"`
	RetryInterval      time.Duration `default:"500ms"`
}

// gattClient is the part of ble.Client the transport relies on.
type gattClient interface {
	Name() string
	DiscoverProfile(force bool) (*ble.Profile, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	CancelConnection() error
}

// disconnectNotifier is implemented by clients that report link loss.
type disconnectNotifier interface {
	Disconnected() <-chan struct{}
}

var (
	hostOnce   sync.Once
	hostDevErr error
)

// DeviceFactory creates the host BLE device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking as device.DeviceFactory
var DeviceFactory = newHostDevice

// dial connects to a peripheral (can be overridden in tests)
var dial = func(ctx context.Context, address string) (gattClient, error) {
	hostOnce.Do(func() {
		dev, err := DeviceFactory()
		if err != nil {
			hostDevErr = fmt.Errorf("failed to create BLE device: %w", err)
			return
		}
		ble.SetDefaultDevice(dev)
	})
	if hostDevErr != nil {
		return nil, hostDevErr
	}
	return ble.Dial(ctx, ble.NewAddr(address))
}

// BLETransport subscribes to the telemetry characteristic of one peripheral
// and forwards notifications to a session.
//
// Each established link has a generation number; callbacks from an older
// generation are discarded so a late disconnect never reaches the session twice.
type BLETransport struct {
	opts     TransportOptions
	service  ble.UUID
	char     ble.UUID
	logger   *logrus.Logger
	mu       sync.Mutex
	handler  session.LinkHandler
	client   gattClient
	peerName string
	gen      uint64
	redial   bool
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewBLETransport validates the options and creates an unconnected transport.
func NewBLETransport(opts TransportOptions, logger *logrus.Logger) (*BLETransport, error) {
	defaults.SetDefaults(&opts)
	if strings.TrimSpace(opts.Address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}
	svc, err := ParseUUID(opts.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	char, err := ParseUUID(opts.CharacteristicUUID)
	if err != nil {
		return nil, fmt.Errorf("characteristic: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &BLETransport{
		opts:     opts,
		service:  svc,
		char:     char,
		logger:   logger,
		peerName: opts.Address,
	}, nil
}

// Connect dials the peripheral, subscribes to the telemetry characteristic
// and reports the link up.
func (t *BLETransport) Connect(ctx context.Context, handler session.LinkHandler) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.handler != nil {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.handler = handler
	t.ctx, t.cancel = context.WithCancel(ctx)
	runCtx := t.ctx
	t.mu.Unlock()

	gen, err := t.establish(runCtx)
	if err != nil {
		return err
	}
	t.report(gen, true)
	return nil
}

// establish runs one dial, discovery and subscribe cycle and returns the
// generation of the new link.
func (t *BLETransport) establish(ctx context.Context) (uint64, error) {
	log := t.logger.WithField("address", t.opts.Address)

	dialCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	log.WithField("timeout", t.opts.ConnectTimeout).Info("Connecting to BLE device...")
	client, err := dial(dialCtx, t.opts.Address)
	if err != nil {
		err = NormalizeError(err)
		log.WithField("error", err).Error("Failed to dial BLE device")
		return 0, fmt.Errorf("failed to connect to device with address %q: %w", t.opts.Address, err)
	}

	char, err := t.findCharacteristic(client)
	if err != nil {
		log.WithField("error", err).Error("Telemetry characteristic unavailable")
		t.cancelClient(client)
		return 0, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.cancelClient(client)
		return 0, ErrClosed
	}
	t.gen++
	gen := t.gen
	t.client = client
	if name := client.Name(); name != "" {
		t.peerName = name
	}
	t.mu.Unlock()

	// go-ble writes the CCCD (0x2902) on subscribe
	if err := client.Subscribe(char, false, func(data []byte) { t.deliver(gen, data) }); err != nil {
		err = NormalizeError(err)
		log.WithField("error", err).Error("Failed to subscribe to telemetry notifications")
		t.detach(gen)
		t.cancelClient(client)
		return 0, fmt.Errorf("failed to subscribe: %w", err)
	}

	if notifier, ok := client.(disconnectNotifier); ok {
		groutine.Go(ctx, "ble-link-monitor", func(monitorCtx context.Context) {
			select {
			case <-notifier.Disconnected():
				log.Warn("BLE stack reported disconnection")
				if t.detach(gen) {
					t.report(gen, false)
				}
			case <-monitorCtx.Done():
			}
		})
	} else {
		log.Debug("Client does not report disconnections")
	}

	log.WithFields(logrus.Fields{
		"peer":       t.PeerName(),
		"generation": gen,
	}).Info("BLE device connected successfully")
	return gen, nil
}

func (t *BLETransport) findCharacteristic(client gattClient) (*ble.Characteristic, error) {
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}
	for _, svc := range profile.Services {
		if !svc.UUID.Equal(t.service) {
			continue
		}
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(t.char) {
				return c, nil
			}
		}
		return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{t.opts.ServiceUUID, t.opts.CharacteristicUUID}}
	}
	return nil, &NotFoundError{Resource: "service", UUIDs: []string{t.opts.ServiceUUID}}
}

// detach forgets the client of generation gen. It reports false when that
// link is already gone or the transport is closed.
func (t *BLETransport) detach(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || gen != t.gen || t.client == nil {
		return false
	}
	t.client = nil
	return true
}

func (t *BLETransport) deliver(gen uint64, data []byte) {
	t.mu.Lock()
	live := !t.closed && gen == t.gen && t.client != nil
	handler := t.handler
	t.mu.Unlock()
	if live {
		handler.OnFrame(data)
	}
}

func (t *BLETransport) report(gen uint64, connected bool) {
	t.mu.Lock()
	live := !t.closed && gen == t.gen
	handler := t.handler
	t.mu.Unlock()
	if live {
		handler.OnConnectionStateChanged(connected)
	}
}

func (t *BLETransport) cancelClient(client gattClient) {
	if err := client.CancelConnection(); err != nil {
		t.logger.WithField("error", NormalizeError(err)).Warn("Failed to cancel BLE connection")
	}
}

// RequestReconnect starts redialing in the background until a link is
// established or the transport is closed. The session bounds the attempt.
func (t *BLETransport) RequestReconnect() bool {
	t.mu.Lock()
	if t.closed || t.handler == nil || t.redial {
		t.mu.Unlock()
		return false
	}
	t.redial = true
	ctx := t.ctx
	stale := t.client
	t.client = nil
	t.mu.Unlock()

	if stale != nil {
		t.cancelClient(stale)
	}

	groutine.Go(ctx, "ble-reconnect", func(ctx context.Context) {
		defer func() {
			t.mu.Lock()
			t.redial = false
			t.mu.Unlock()
		}()

		for attempt := 1; ; attempt++ {
			gen, err := t.establish(ctx)
			if err == nil {
				t.report(gen, true)
				return
			}
			t.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"error":   err,
			}).Debug("Reconnect attempt failed")

			select {
			case <-ctx.Done():
				return
			case <-time.After(t.opts.RetryInterval):
			}
		}
	})
	return true
}

// Close cancels any reconnect in progress and releases the link.
func (t *BLETransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	client := t.client
	t.client = nil
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client == nil {
		return nil
	}

	if err := client.CancelConnection(); err != nil {
		err = NormalizeError(err)
		t.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return err
	}
	t.logger.Info("BLE device disconnected successfully")
	return nil
}

// PeerName returns the advertised name of the peripheral, or its address
// before the first connection.
func (t *BLETransport) PeerName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peerName
}

var _ session.Transport = (*BLETransport)(nil)
