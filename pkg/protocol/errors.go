package protocol

import (
	"errors"
	"io"
)

// 协议错误
var (
	// ErrInvalidFormat 对端发送了无法解析的数据（未知类型标记、非法UTF-8、超长字符串）
	ErrInvalidFormat = errors.New("invalid format")

	// ErrUnexpectedPacket 数据包没有定义编码格式
	ErrUnexpectedPacket = errors.New("unexpected packet")

	// ErrBadHandshake 握手失败
	ErrBadHandshake = errors.New("bad handshake")
)

// ConnectError 建立连接失败：网络错误或握手失败
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Addr == "" {
		return "connect: " + e.Err.Error()
	}
	return "connect " + e.Addr + ": " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error { return e.Err }

// BindError 监听地址失败
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string { return "bind " + e.Addr + ": " + e.Err.Error() }

func (e *BindError) Unwrap() error { return e.Err }

// SendError 发送数据包失败
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return "send: " + e.Err.Error() }

func (e *SendError) Unwrap() error { return e.Err }

// RecvError 接收数据包失败
type RecvError struct {
	Err error
}

func (e *RecvError) Error() string { return "recv: " + e.Err.Error() }

func (e *RecvError) Unwrap() error { return e.Err }

// CmdError 命令调用失败，Op 为 "send" 或 "recv"
type CmdError struct {
	Op  string
	Err error
}

func (e *CmdError) Error() string { return "cmd " + e.Op + ": " + e.Err.Error() }

func (e *CmdError) Unwrap() error { return e.Err }

// IsDisconnect 对端在数据包边界上正常断开
func IsDisconnect(err error) bool {
	return errors.Is(err, io.EOF)
}

// IsInvalidFormat 对端发送了非法数据
func IsInvalidFormat(err error) bool {
	return errors.Is(err, ErrInvalidFormat)
}
