package server

import (
	"context"
	"errors"
	"iter"
	"net"
	"sync"
	"time"

	"iot-socket-server/pkg/protocol"
)

// accept 出错后的重试间隔
const (
	acceptInitialDelay = 5 * time.Millisecond
	acceptMaxDelay     = time.Second
)

type listenerOptions struct {
	readTimeout      time.Duration
	writeTimeout     time.Duration
	handshakeTimeout time.Duration
	keepAlive        time.Duration
	maxStringSize    uint32
}

// ListenerOption 监听器选项
type ListenerOption func(*listenerOptions)

// WithTimeouts 设置每次读写的超时，0 表示不限制
func WithTimeouts(read, write time.Duration) ListenerOption {
	return func(o *listenerOptions) {
		o.readTimeout = read
		o.writeTimeout = write
	}
}

// WithHandshakeTimeout 设置握手超时，0 表示不限制
func WithHandshakeTimeout(d time.Duration) ListenerOption {
	return func(o *listenerOptions) { o.handshakeTimeout = d }
}

// WithKeepAlive 设置TCP keep-alive 周期
func WithKeepAlive(d time.Duration) ListenerOption {
	return func(o *listenerOptions) { o.keepAlive = d }
}

// WithMaxStringSize 设置接收 Str 数据包的长度上限，0 使用默认值
func WithMaxStringSize(n uint32) ListenerOption {
	return func(o *listenerOptions) { o.maxStringSize = n }
}

// Listener 监听TCP端口并对每个连接完成服务端握手
type Listener struct {
	ln   net.Listener
	opts listenerOptions
}

// Bind 监听地址
func Bind(addr string, opts ...ListenerOption) (*Listener, error) {
	var o listenerOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.maxStringSize == 0 {
		o.maxStringSize = protocol.DefaultMaxStringSize
	}

	lc := net.ListenConfig{
		KeepAlive: o.keepAlive,
	}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, &protocol.BindError{Addr: addr, Err: err}
	}

	return &Listener{ln: ln, opts: o}, nil
}

// Addr 实际监听地址
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close 关闭监听，Incoming 随之结束
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Incoming 返回已握手连接的惰性序列。
// 每个连接在独立的goroutine中握手，慢速或沉默的对端不会阻塞后续连接。
// 单个连接的错误以 *protocol.ConnectError 形式产出，序列继续；
// 只有监听器关闭才会结束序列。
func (l *Listener) Incoming() iter.Seq2[*Connection, error] {
	return func(yield func(*Connection, error) bool) {
		results := make(chan handshakeResult)
		done := make(chan struct{})
		defer close(done)

		var wg sync.WaitGroup
		wg.Add(1)
		go l.acceptLoop(results, done, &wg)
		go func() {
			wg.Wait()
			close(results)
		}()

		for r := range results {
			if !yield(r.conn, r.err) {
				return
			}
		}
	}
}

type handshakeResult struct {
	conn *Connection
	err  error
}

// deliver 把结果交给序列的消费者，消费者已退出时返回 false
func deliver(results chan<- handshakeResult, done <-chan struct{}, r handshakeResult) bool {
	select {
	case results <- r:
		return true
	case <-done:
		return false
	}
}

// acceptLoop 接受连接直到监听器关闭或消费者退出
func (l *Listener) acceptLoop(results chan<- handshakeResult, done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	var delay time.Duration
	for {
		raw, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if !deliver(results, done, handshakeResult{err: &protocol.ConnectError{Err: err}}) {
				return
			}
			if delay == 0 {
				delay = acceptInitialDelay
			} else {
				delay *= 2
			}
			if delay > acceptMaxDelay {
				delay = acceptMaxDelay
			}
			select {
			case <-time.After(delay):
			case <-done:
				return
			}
			continue
		}
		delay = 0

		select {
		case <-done:
			raw.Close()
			return
		default:
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := l.handshake(raw)
			if !deliver(results, done, handshakeResult{conn, err}) && conn != nil {
				conn.Close()
			}
		}()
	}
}

// handshake 执行服务端握手，失败时关闭连接
func (l *Listener) handshake(raw net.Conn) (*Connection, error) {
	remote := raw.RemoteAddr().String()

	if l.opts.handshakeTimeout > 0 {
		raw.SetDeadline(time.Now().Add(l.opts.handshakeTimeout))
	}

	if err := protocol.ServerHandshake(raw); err != nil {
		raw.Close()
		return nil, &protocol.ConnectError{Addr: remote, Err: err}
	}

	if err := raw.SetDeadline(time.Time{}); err != nil {
		raw.Close()
		return nil, &protocol.ConnectError{Addr: remote, Err: err}
	}

	return newConnection(raw, l.opts), nil
}

// Connection 已完成握手的连接
type Connection struct {
	conn         net.Conn
	dec          *protocol.Decoder
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newConnection(conn net.Conn, o listenerOptions) *Connection {
	return &Connection{
		conn:         conn,
		dec:          protocol.NewDecoderWithMaxString(conn, o.maxStringSize),
		readTimeout:  o.readTimeout,
		writeTimeout: o.writeTimeout,
	}
}

// Recv 读取一个请求数据包
func (c *Connection) Recv() (protocol.Packet, error) {
	if c.readTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	return c.dec.Decode()
}

// Send 发送一个响应数据包
func (c *Connection) Send(p protocol.Packet) error {
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return protocol.Encode(c.conn, p)
}

// SendAll 依次发送多个数据包，遇到错误立即返回
func (c *Connection) SendAll(packets []protocol.Packet) error {
	for _, p := range packets {
		if err := c.Send(p); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Connection) Close() error {
	return c.conn.Close()
}
