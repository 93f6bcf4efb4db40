// Package client 提供同步的请求/响应客户端会话。
//
// 会话在建立时完成握手，之后每次 SendCmd 写出一个命令并阻塞等待一个响应。
// 同一会话上的调用被串行化，不支持流水线。
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"iot-socket-server/pkg/protocol"
)

var (
	// ErrUnexpectedResponse 响应类型与命令不匹配
	ErrUnexpectedResponse = errors.New("unexpected response")

	// ErrCommandFailed 服务器返回了错误响应
	ErrCommandFailed = errors.New("command failed")
)

type options struct {
	dialTimeout      time.Duration
	handshakeTimeout time.Duration
	readTimeout      time.Duration
	writeTimeout     time.Duration
	log              *logrus.Logger
}

// Option 会话选项
type Option func(*options)

// WithDialTimeout 设置建立TCP连接的超时
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithHandshakeTimeout 设置握手超时
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithReadTimeout 设置等待响应的超时
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = d }
}

// WithWriteTimeout 设置发送请求的超时
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// WithLogger 输出调试日志
func WithLogger(log *logrus.Logger) Option {
	return func(o *options) { o.log = log }
}

// Session 已握手的客户端会话
type Session struct {
	mu     sync.Mutex
	conn   net.Conn
	dec    *protocol.Decoder
	opts   options
	broken error // 首次I/O错误后会话不可再用
}

// Connect 连接服务器并完成握手
func Connect(ctx context.Context, addr string, opts ...Option) (*Session, error) {
	o := options{
		dialTimeout:      10 * time.Second,
		handshakeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	dialer := net.Dialer{Timeout: o.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &protocol.ConnectError{Addr: addr, Err: err}
	}

	s, err := newSession(conn, o)
	if err != nil {
		return nil, &protocol.ConnectError{Addr: addr, Err: err}
	}
	return s, nil
}

// NewSession 在已有连接上完成握手。失败时关闭连接。
func NewSession(conn net.Conn, opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s, err := newSession(conn, o)
	if err != nil {
		return nil, &protocol.ConnectError{Addr: conn.RemoteAddr().String(), Err: err}
	}
	return s, nil
}

func newSession(conn net.Conn, o options) (*Session, error) {
	if o.handshakeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(o.handshakeTimeout))
	}
	if err := protocol.ClientHandshake(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, err
	}

	if o.log != nil {
		o.log.Debugf("握手成功: %s", conn.RemoteAddr())
	}
	return &Session{conn: conn, dec: protocol.NewDecoder(conn), opts: o}, nil
}

// SendCmd 发送命令并等待一个响应
func (s *Session) SendCmd(op byte) (protocol.Packet, error) {
	return s.roundTrip(protocol.Byte(op))
}

// SendCmdTo 发送针对指定设备的命令，服务器需开启按ID寻址
func (s *Session) SendCmdTo(op byte, deviceID string) (protocol.Packet, error) {
	return s.roundTrip(protocol.Byte(op), protocol.Str(deviceID))
}

func (s *Session) roundTrip(request ...protocol.Packet) (protocol.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken != nil {
		return nil, &protocol.CmdError{Op: "send", Err: fmt.Errorf("%w: %w", net.ErrClosed, s.broken)}
	}

	if s.opts.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.opts.writeTimeout))
	}
	for _, p := range request {
		if err := protocol.Encode(s.conn, p); err != nil {
			return nil, s.fail("send", err)
		}
	}

	if s.opts.readTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.opts.readTimeout))
	}
	resp, err := s.dec.Decode()
	if err != nil {
		return nil, s.fail("recv", err)
	}

	if s.opts.log != nil {
		s.opts.log.Debugf("请求 %v -> 响应 %v", request, resp)
	}
	return resp, nil
}

// PowerOn 打开插座
func (s *Session) PowerOn(deviceID ...string) error {
	return s.switchPower(protocol.PowerOn, deviceID)
}

// PowerOff 关闭插座
func (s *Session) PowerOff(deviceID ...string) error {
	return s.switchPower(protocol.PowerOff, deviceID)
}

func (s *Session) switchPower(op protocol.Opcode, deviceID []string) error {
	resp, err := s.command(op, deviceID)
	if err != nil {
		return err
	}
	if resp != protocol.AckOK {
		return fmt.Errorf("%w: %v for %v", ErrUnexpectedResponse, resp, op)
	}
	return nil
}

// Status 插座状态描述
func (s *Session) Status(deviceID ...string) (string, error) {
	resp, err := s.command(protocol.GetStatus, deviceID)
	if err != nil {
		return "", err
	}
	str, ok := resp.(protocol.Str)
	if !ok {
		return "", fmt.Errorf("%w: %v for %v", ErrUnexpectedResponse, resp, protocol.GetStatus)
	}
	return string(str), nil
}

// Consumption 插座当前功耗
func (s *Session) Consumption(deviceID ...string) (float32, error) {
	resp, err := s.command(protocol.GetConsumption, deviceID)
	if err != nil {
		return 0, err
	}
	f, ok := resp.(protocol.Float32)
	if !ok {
		return 0, fmt.Errorf("%w: %v for %v", ErrUnexpectedResponse, resp, protocol.GetConsumption)
	}
	return float32(f), nil
}

// ListDevices 服务器上所有设备的ID
func (s *Session) ListDevices() ([]string, error) {
	resp, err := s.command(protocol.ListDevices, nil)
	if err != nil {
		return nil, err
	}
	str, ok := resp.(protocol.Str)
	if !ok {
		return nil, fmt.Errorf("%w: %v for %v", ErrUnexpectedResponse, resp, protocol.ListDevices)
	}
	if str == "" {
		return nil, nil
	}
	return strings.Split(string(str), "\n"), nil
}

// command 发送命令；deviceID 最多一个，非空时按ID寻址。
// 错误响应转换为 ErrCommandFailed。
func (s *Session) command(op protocol.Opcode, deviceID []string) (protocol.Packet, error) {
	var (
		resp protocol.Packet
		err  error
	)
	switch {
	case len(deviceID) > 1:
		return nil, errors.New("最多指定一个设备ID")
	case len(deviceID) == 1 && op.Addressed():
		resp, err = s.SendCmdTo(byte(op), deviceID[0])
	default:
		resp, err = s.SendCmd(byte(op))
	}
	if err != nil {
		return nil, err
	}

	str, ok := resp.(protocol.Str)
	if !ok {
		return resp, nil
	}
	expectStr := op == protocol.GetStatus || op == protocol.ListDevices
	if !expectStr || strings.HasPrefix(string(str), protocol.ErrorPrefix) {
		return nil, fmt.Errorf("%w: %s", ErrCommandFailed, strings.TrimPrefix(string(str), protocol.ErrorPrefix))
	}
	return resp, nil
}

// RemoteAddr 服务器地址
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// fail 关闭连接。请求与响应一一对应，出错后迟到的响应无法再与请求配对。
func (s *Session) fail(op string, err error) error {
	s.broken = err
	s.conn.Close()
	if s.opts.log != nil {
		s.opts.log.Debugf("会话已关闭 [%s]: %v", op, err)
	}
	return &protocol.CmdError{Op: op, Err: err}
}

// Close 关闭会话
func (s *Session) Close() error {
	return s.conn.Close()
}
