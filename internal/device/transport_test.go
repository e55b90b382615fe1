package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeClient struct {
	name       string
	profile    *ble.Profile
	profileErr error
	subErr     error

	mu           sync.Mutex
	notify       ble.NotificationHandler
	subscribed   *ble.Characteristic
	cancelled    int
	disconnected chan struct{}
}

func newFakeClient(service, char string) *fakeClient {
	return &fakeClient{
		name: "rig-01",
		profile: &ble.Profile{Services: []*ble.Service{{
			UUID: ble.MustParse(service),
			Characteristics: []*ble.Characteristic{
				{UUID: ble.MustParse("2a19")},
				{UUID: ble.MustParse(char)},
			},
		}}},
		disconnected: make(chan struct{}),
	}
}

func (c *fakeClient) Name() string { return c.name }

func (c *fakeClient) DiscoverProfile(bool) (*ble.Profile, error) {
	return c.profile, c.profileErr
}

func (c *fakeClient) Subscribe(char *ble.Characteristic, _ bool, h ble.NotificationHandler) error {
	if c.subErr != nil {
		return c.subErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = char
	c.notify = h
	return nil
}

func (c *fakeClient) CancelConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled++
	return nil
}

func (c *fakeClient) Disconnected() <-chan struct{} { return c.disconnected }

func (c *fakeClient) push(data []byte) {
	c.mu.Lock()
	h := c.notify
	c.mu.Unlock()
	h(data)
}

func (c *fakeClient) cancelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// linkRecorder is a session.LinkHandler that reports callbacks on channels.
type linkRecorder struct {
	frames chan []byte
	states chan bool
}

func newLinkRecorder() *linkRecorder {
	return &linkRecorder{frames: make(chan []byte, 16), states: make(chan bool, 16)}
}

func (r *linkRecorder) OnFrame(frame []byte)             { r.frames <- frame }
func (r *linkRecorder) OnConnectionStateChanged(up bool) { r.states <- up }

func (r *linkRecorder) nextState(t require.TestingT) bool {
	select {
	case up := <-r.states:
		return up
	case <-time.After(2 * time.Second):
		require.Fail(t, "no connection state reported")
		return false
	}
}

type BLETransportTestSuite struct {
	suite.Suite

	logger   *logrus.Logger
	clients  []*fakeClient
	dialErr  error
	dials    int
	mu       sync.Mutex
	origDial func(context.Context, string) (gattClient, error)
}

func (s *BLETransportTestSuite) SetupTest() {
	s.logger = logrus.New()
	s.logger.SetLevel(logrus.DebugLevel)
	s.clients = nil
	s.dialErr = nil
	s.dials = 0

	s.origDial = dial
	dial = func(ctx context.Context, address string) (gattClient, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.dials++
		if s.dialErr != nil {
			return nil, s.dialErr
		}
		if len(s.clients) == 0 {
			return nil, errors.New("device not found")
		}
		c := s.clients[0]
		s.clients = s.clients[1:]
		return c, nil
	}
}

func (s *BLETransportTestSuite) TearDownTest() {
	dial = s.origDial
}

func (s *BLETransportTestSuite) queue(clients ...*fakeClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients = append(s.clients, clients...)
}

func (s *BLETransportTestSuite) newTransport() *BLETransport {
	tr, err := NewBLETransport(TransportOptions{
		Address:       "AA:BB:CC:DD:EE:FF",
		RetryInterval: 5 * time.Millisecond,
	}, s.logger)
	s.Require().NoError(err)
	return tr
}

func (s *BLETransportTestSuite) TestConnectDeliversFrames() {
	// GOAL: Verify connect subscribes to the telemetry characteristic and forwards notifications
	//
	// TEST SCENARIO: connect → connected reported → notification → frame forwarded → peer name from client

	client := newFakeClient(TelemetryServiceUUID, TelemetryCharacteristicUUID)
	s.queue(client)
	tr := s.newTransport()
	rec := newLinkRecorder()

	s.Require().NoError(tr.Connect(context.Background(), rec))
	s.True(rec.nextState(s.T()), "Connect MUST report the link up")
	s.True(client.subscribed.UUID.Equal(ble.MustParse(TelemetryCharacteristicUUID)), "telemetry characteristic MUST be subscribed")
	s.Equal("rig-01", tr.PeerName())

	client.push([]byte{0x10, 0, 0, 0, 0, 1})
	s.Equal([]byte{0x10, 0, 0, 0, 0, 1}, <-rec.frames)

	s.Require().NoError(tr.Close())
	s.Equal(1, client.cancelCount(), "Close MUST cancel the connection once")
	s.NoError(tr.Close(), "second Close MUST be a no-op")
}

func (s *BLETransportTestSuite) TestConnectErrors() {
	// GOAL: Verify dial, discovery and profile mismatches surface as connect errors
	//
	// TEST SCENARIO: dial failure → missing service → missing characteristic → subscribe failure

	s.Run("dial", func() {
		s.dialErr = errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
		defer func() { s.dialErr = nil }()

		err := s.newTransport().Connect(context.Background(), newLinkRecorder())
		s.ErrorIs(err, ErrBluetoothOff)
	})

	s.Run("missing service", func() {
		client := newFakeClient("180f", TelemetryCharacteristicUUID)
		s.queue(client)

		err := s.newTransport().Connect(context.Background(), newLinkRecorder())
		var nf *NotFoundError
		s.Require().ErrorAs(err, &nf)
		s.Equal("service", nf.Resource)
		s.Equal(1, client.cancelCount(), "a useless link MUST be cancelled")
	})

	s.Run("missing characteristic", func() {
		s.queue(newFakeClient(TelemetryServiceUUID, "2a37"))

		err := s.newTransport().Connect(context.Background(), newLinkRecorder())
		var nf *NotFoundError
		s.Require().ErrorAs(err, &nf)
		s.Equal("characteristic", nf.Resource)
	})

	s.Run("subscribe", func() {
		client := newFakeClient(TelemetryServiceUUID, TelemetryCharacteristicUUID)
		client.subErr = errors.New("device not connected")
		s.queue(client)

		err := s.newTransport().Connect(context.Background(), newLinkRecorder())
		s.ErrorIs(err, ErrNotConnected)
	})
}

func (s *BLETransportTestSuite) TestDisconnectAndReconnect() {
	// GOAL: Verify link loss is reported once and a reconnect request redials in the background
	//
	// TEST SCENARIO: connect → stack reports disconnect → down reported → reconnect accepted →
	//                first redial fails → second succeeds → up reported → frames from the old link ignored

	first := newFakeClient(TelemetryServiceUUID, TelemetryCharacteristicUUID)
	s.queue(first)
	tr := s.newTransport()
	defer tr.Close()
	rec := newLinkRecorder()

	s.Require().NoError(tr.Connect(context.Background(), rec))
	s.True(rec.nextState(s.T()))

	close(first.disconnected)
	s.False(rec.nextState(s.T()), "link loss MUST be reported")

	s.Require().True(tr.RequestReconnect(), "reconnect MUST be accepted")
	s.False(tr.RequestReconnect(), "a second request while redialing MUST be rejected")

	second := newFakeClient(TelemetryServiceUUID, TelemetryCharacteristicUUID)
	time.Sleep(20 * time.Millisecond)
	s.queue(second)

	s.True(rec.nextState(s.T()), "successful redial MUST report the link up")

	first.push([]byte{0x10, 0, 0, 0, 0, 1})
	second.push([]byte{0x20, 0, 0, 0, 0, 2})
	s.Equal([]byte{0x20, 0, 0, 0, 0, 2}, <-rec.frames, "only the live link MUST deliver frames")

	s.mu.Lock()
	s.GreaterOrEqual(s.dials, 3, "failed redials MUST be retried")
	s.mu.Unlock()
}

func (s *BLETransportTestSuite) TestCloseStopsRedialAndCallbacks() {
	// GOAL: Verify Close ends a pending reconnect and no callbacks follow
	//
	// TEST SCENARIO: connect → reconnect requested with no peer available → close → nothing reported

	s.queue(newFakeClient(TelemetryServiceUUID, TelemetryCharacteristicUUID))
	tr := s.newTransport()
	rec := newLinkRecorder()

	s.Require().NoError(tr.Connect(context.Background(), rec))
	s.True(rec.nextState(s.T()))

	s.Require().True(tr.RequestReconnect())
	s.Require().NoError(tr.Close())
	s.False(tr.RequestReconnect(), "a closed transport MUST reject reconnects")

	s.queue(newFakeClient(TelemetryServiceUUID, TelemetryCharacteristicUUID))
	select {
	case up := <-rec.states:
		s.Failf("unexpected callback", "connected=%v after Close", up)
	case <-time.After(50 * time.Millisecond):
	}

	s.ErrorIs(tr.Connect(context.Background(), rec), ErrClosed)
}

func (s *BLETransportTestSuite) TestNewValidation() {
	_, err := NewBLETransport(TransportOptions{}, nil)
	s.Error(err, "empty address MUST be rejected")

	_, err = NewBLETransport(TransportOptions{Address: "x", ServiceUUID: "not-a-uuid"}, nil)
	s.Error(err, "invalid service UUID MUST be rejected")

	tr, err := NewBLETransport(TransportOptions{Address: "x"}, nil)
	s.Require().NoError(err)
	s.Equal(TelemetryServiceUUID, tr.opts.ServiceUUID, "defaults MUST be applied")
	s.Equal("x", tr.PeerName(), "peer name MUST fall back to the address")
}

func TestBLETransportTestSuite(t *testing.T) {
	suite.Run(t, new(BLETransportTestSuite))
}
