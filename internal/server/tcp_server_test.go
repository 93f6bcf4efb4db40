package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-socket-server/internal/config"
	"iot-socket-server/internal/device"
	"iot-socket-server/internal/monitor"
	"iot-socket-server/internal/storage"
	"iot-socket-server/pkg/client"
	"iot-socket-server/pkg/protocol"
)

type testServer struct {
	srv      *TCPServer
	addr     string
	registry *device.Registry
	monitor  *monitor.Monitor
	cancel   context.CancelFunc
	done     chan error
}

func testConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.HandshakeTimeout = time.Second
	cfg.Server.ShutdownTimeout = 200 * time.Millisecond
	return cfg
}

func startServer(t *testing.T, cfg *config.Config, ids ...string) *testServer {
	t.Helper()

	registry := device.NewRegistry(device.NewSequenceGenerator("socket"), device.MeterFunc(func() float32 { return 3.25 }))
	for _, id := range ids {
		require.NoError(t, registry.Add(id))
	}

	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	mon := monitor.NewMonitor(log)

	srv, err := NewTCPServer(cfg, registry, log, WithMonitor(mon))
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{
		srv:      srv,
		addr:     srv.Addr().String(),
		registry: registry,
		monitor:  mon,
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	go func() { ts.done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-ts.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ts
}

func dial(t *testing.T, addr string) *client.Session {
	t.Helper()
	s, err := client.Connect(context.Background(), addr, client.WithReadTimeout(2*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServerCommands(t *testing.T) {
	ts := startServer(t, testConfig(), "kitchen")
	s := dial(t, ts.addr)

	c, err := s.Consumption()
	require.NoError(t, err)
	assert.Equal(t, float32(0), c)

	require.NoError(t, s.PowerOn())

	c, err = s.Consumption()
	require.NoError(t, err)
	assert.Greater(t, c, float32(0))

	status, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, "id = kitchen, power = ON, consumption = 3.25", status)

	ids, err := s.ListDevices()
	require.NoError(t, err)
	assert.Equal(t, []string{"kitchen"}, ids)

	resp, err := s.SendCmd(byte(protocol.PowerOff))
	require.NoError(t, err)
	assert.Equal(t, protocol.AckOK, resp)
}

func TestServerSharedRegistry(t *testing.T) {
	ts := startServer(t, testConfig(), "kitchen")
	a := dial(t, ts.addr)
	b := dial(t, ts.addr)

	require.NoError(t, a.PowerOn())

	status, err := b.Status()
	require.NoError(t, err)
	assert.Contains(t, status, "power = ON")

	require.NoError(t, b.PowerOff())
	c, err := a.Consumption()
	require.NoError(t, err)
	assert.Equal(t, float32(0), c)
}

func TestServerConcurrentClients(t *testing.T) {
	ts := startServer(t, testConfig(), "kitchen")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := client.Connect(context.Background(), ts.addr, client.WithReadTimeout(2*time.Second))
			if !assert.NoError(t, err) {
				return
			}
			defer s.Close()
			for j := 0; j < 20; j++ {
				ids, err := s.ListDevices()
				assert.NoError(t, err)
				assert.Equal(t, []string{"kitchen"}, ids)
			}
		}()
	}
	wg.Wait()
}

func TestServerFailingClientDoesNotAffectOthers(t *testing.T) {
	ts := startServer(t, testConfig(), "kitchen")
	good := dial(t, ts.addr)

	raw, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer raw.Close()
	require.NoError(t, protocol.ClientHandshake(raw))

	// 非法类型标记导致该连接关闭
	_, err = raw.Write([]byte{0x10})
	require.NoError(t, err)
	_, err = protocol.Decode(raw)
	assert.Error(t, err)

	ids, err := good.ListDevices()
	require.NoError(t, err)
	assert.Equal(t, []string{"kitchen"}, ids)
}

func TestServerBadHandshake(t *testing.T) {
	ts := startServer(t, testConfig(), "kitchen")

	raw, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	require.NoError(t, protocol.Encode(raw, protocol.Byte(7)))
	_, err = protocol.Decode(raw)
	assert.Error(t, err)
	raw.Close()

	// 监听器继续工作
	s := dial(t, ts.addr)
	_, err = s.Status()
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(ts.monitor.HandshakeFailures))
}

func TestServerSilentPeerDoesNotBlockAccept(t *testing.T) {
	cfg := testConfig()
	cfg.Server.HandshakeTimeout = 3 * time.Second
	ts := startServer(t, cfg, "kitchen")

	// 连接后不握手
	silent, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer silent.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := client.Connect(ctx, ts.addr, client.WithHandshakeTimeout(time.Second))
	require.NoError(t, err)
	defer s.Close()

	ids, err := s.ListDevices()
	require.NoError(t, err)
	assert.Equal(t, []string{"kitchen"}, ids)
}

func TestServerUnsupportedCommand(t *testing.T) {
	ts := startServer(t, testConfig(), "kitchen")

	raw, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer raw.Close()
	require.NoError(t, protocol.ClientHandshake(raw))

	require.NoError(t, protocol.Encode(raw, protocol.Byte(99)))
	require.NoError(t, protocol.Encode(raw, protocol.Byte(protocol.ListDevices)))

	p, err := protocol.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.Str("kitchen"), p)
}

func TestServerMaxConnections(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxConnections = 1
	ts := startServer(t, cfg, "kitchen")

	first := dial(t, ts.addr)
	_, err := first.Status()
	require.NoError(t, err)

	// 第二个连接握手成功后被关闭
	second := dial(t, ts.addr)
	_, err = second.Status()
	assert.Error(t, err)

	_, err = first.Status()
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(ts.monitor.RejectedConnections))
}

func TestServerAddressByID(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AddressByID = true
	ts := startServer(t, cfg, "kitchen", "garage")
	s := dial(t, ts.addr)

	require.NoError(t, s.PowerOn("garage"))

	state, err := ts.registry.State("garage")
	require.NoError(t, err)
	assert.Equal(t, device.On, state)
	state, err = ts.registry.State("kitchen")
	require.NoError(t, err)
	assert.Equal(t, device.Off, state)

	assert.ErrorIs(t, s.PowerOn("attic"), client.ErrCommandFailed)
}

func TestServerGracefulShutdown(t *testing.T) {
	ts := startServer(t, testConfig(), "kitchen")
	s := dial(t, ts.addr)
	_, err := s.Status()
	require.NoError(t, err)

	ts.cancel()
	select {
	case err := <-ts.done:
		assert.NoError(t, err)
		ts.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	// 空闲连接在关闭超时后被强制关闭
	_, err = s.Status()
	assert.Error(t, err)

	_, err = net.DialTimeout("tcp", ts.addr, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestServerPublishesToRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	ts := startServer(t, cfg, "kitchen")
	s := dial(t, ts.addr)

	require.NoError(t, s.PowerOn())
	require.NoError(t, s.PowerOff())

	items, err := mr.List(storage.HistoryKey("kitchen"))
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
