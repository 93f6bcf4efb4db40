package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"iot-socket-server/internal/config"
	"iot-socket-server/internal/device"
	"iot-socket-server/internal/handler"
	"iot-socket-server/internal/monitor"
	"iot-socket-server/internal/parser"
	"iot-socket-server/internal/storage"
)

// 运行时采样周期
const runtimeSampleInterval = 10 * time.Second

type TCPServer struct {
	config   *config.Config
	listener *Listener
	registry *device.Registry
	parser   *parser.Parser
	storage  *storage.MessageQueue
	events   handler.EventSink
	monitor  *monitor.Monitor
	log      *logrus.Logger
	limiter  chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[*Connection]struct{}
}

// Option TCPServer 选项
type Option func(*TCPServer)

// WithEventSink 使用指定的事件接收者代替 Redis
func WithEventSink(sink handler.EventSink) Option {
	return func(s *TCPServer) { s.events = sink }
}

// WithMonitor 使用指定的监控实例
func WithMonitor(m *monitor.Monitor) Option {
	return func(s *TCPServer) { s.monitor = m }
}

func NewTCPServer(cfg *config.Config, registry *device.Registry, log *logrus.Logger, opts ...Option) (*TCPServer, error) {
	s := &TCPServer{
		config:   cfg,
		registry: registry,
		parser:   parser.NewParser(),
		log:      log,
		limiter:  make(chan struct{}, cfg.Server.MaxConnections),
		conns:    make(map[*Connection]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	// 创建消息队列
	if s.events == nil && cfg.Redis.Enabled {
		mq, err := storage.NewMessageQueue(cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		s.storage = mq
		s.events = mq
	}

	// 创建监控
	if s.monitor == nil {
		s.monitor = monitor.NewMonitor(log)
	}

	return s, nil
}

// Listen 监听配置的地址
func (s *TCPServer) Listen() error {
	addr := s.config.Server.Address()

	listener, err := Bind(addr,
		WithTimeouts(s.config.Server.ReadTimeout, s.config.Server.WriteTimeout),
		WithHandshakeTimeout(s.config.Server.HandshakeTimeout),
		WithKeepAlive(s.config.Server.KeepAlive),
		WithMaxStringSize(s.config.Server.MaxStringSize),
	)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}

	s.listener = listener
	s.log.Infof("服务器启动成功: %s (最大连接: %d, 设备: %d)",
		listener.Addr(), s.config.Server.MaxConnections, s.registry.Len())
	return nil
}

// Addr 实际监听地址，Listen 之前为 nil
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start 监听并处理连接，直到 ctx 结束
func (s *TCPServer) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve 接受连接直到 ctx 结束或监听器关闭，然后优雅关闭
func (s *TCPServer) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("服务器未监听")
	}

	// 启动监控
	if s.config.Monitor.Enabled {
		s.monitor.StartMetricsServer(ctx, s.config.Monitor.MetricsPort)
		s.monitor.StartRuntimeMonitor(ctx, runtimeSampleInterval)
	}

	// 优雅退出处理
	stop := context.AfterFunc(ctx, func() {
		s.log.Info("停止接受新连接")
		s.listener.Close()
	})
	defer stop()

	for conn, err := range s.listener.Incoming() {
		if err != nil {
			s.monitor.HandshakeFailures.Inc()
			s.log.Warnf("连接建立失败: %v", err)
			continue
		}

		// 连接数限制
		select {
		case s.limiter <- struct{}{}:
			s.track(conn)
			s.wg.Add(1)
			go s.handleConnection(ctx, conn)
		default:
			s.monitor.RejectedConnections.Inc()
			s.log.Warnf("达到最大连接数，拒绝连接: %s", conn.RemoteAddr())
			conn.Close()
		}
	}

	s.shutdown()

	if ctx.Err() != nil {
		return nil
	}
	return errors.New("监听器已关闭")
}

func (s *TCPServer) handleConnection(ctx context.Context, conn *Connection) {
	defer func() {
		s.untrack(conn)
		<-s.limiter
		s.wg.Done()
	}()

	h := handler.NewConnectionHandler(
		conn,
		s.registry,
		s.parser,
		s.events,
		s.monitor,
		s.log,
		s.config.Server.AddressByID,
	)

	h.Handle(ctx)
}

func (s *TCPServer) track(conn *Connection) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *TCPServer) untrack(conn *Connection) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// shutdown 等待现有连接处理完成，超时后强制关闭
func (s *TCPServer) shutdown() {
	s.listener.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timeout := s.config.Server.ShutdownTimeout
	select {
	case <-done:
		s.log.Info("所有连接已关闭")
	case <-time.After(timeout):
		s.log.Warnf("关闭超时(%s)，强制关闭剩余连接", timeout)
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		<-done
	}

	// 关闭存储连接
	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			s.log.Errorf("关闭存储连接失败: %v", err)
		}
	}

	s.log.Info("服务器已关闭")
}
