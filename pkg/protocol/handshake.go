package protocol

import (
	"fmt"
	"io"
)

// HandshakeState 握手状态
type HandshakeState uint8

const (
	AwaitSend HandshakeState = iota
	AwaitPeerReply
	Established
	Failed
)

func (s HandshakeState) String() string {
	switch s {
	case AwaitSend:
		return "AwaitSend"
	case AwaitPeerReply:
		return "AwaitPeerReply"
	case Established:
		return "Established"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("HandshakeState(%d)", uint8(s))
	}
}

// Role 握手中的角色
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

// Handshaker 握手状态机。
// 客户端：发送 Byte(42)，等待 Byte(24)。
// 服务端：等待 Byte(42)，回复 Byte(24)。
type Handshaker struct {
	role  Role
	state HandshakeState
}

// NewHandshaker 创建握手状态机
func NewHandshaker(role Role) *Handshaker {
	h := &Handshaker{role: role, state: AwaitSend}
	if role == RoleServer {
		h.state = AwaitPeerReply
	}
	return h
}

// State 当前状态
func (h *Handshaker) State() HandshakeState {
	return h.state
}

// Run 在 rw 上执行握手直到 Established 或 Failed。
// 失败时返回的错误包装了 ErrBadHandshake 以及底层原因。
func (h *Handshaker) Run(rw io.ReadWriter) error {
	dec := NewDecoder(rw)
	for {
		switch h.state {
		case AwaitSend:
			out := HandshakeRequest
			if h.role == RoleServer {
				out = HandshakeReply
			}
			if err := Encode(rw, out); err != nil {
				return h.fail(fmt.Errorf("%w: %w", ErrBadHandshake, err))
			}
			if h.role == RoleServer {
				h.state = Established
			} else {
				h.state = AwaitPeerReply
			}

		case AwaitPeerReply:
			want := HandshakeReply
			if h.role == RoleServer {
				want = HandshakeRequest
			}
			p, err := dec.Decode()
			if err != nil {
				return h.fail(fmt.Errorf("%w: %w", ErrBadHandshake, err))
			}
			if p != want {
				return h.fail(fmt.Errorf("%w: got %v, want %v", ErrBadHandshake, p, want))
			}
			if h.role == RoleServer {
				h.state = AwaitSend
			} else {
				h.state = Established
			}

		case Established:
			return nil

		default:
			return fmt.Errorf("%w: invalid state %v", ErrBadHandshake, h.state)
		}
	}
}

func (h *Handshaker) fail(err error) error {
	h.state = Failed
	return err
}

// ClientHandshake 执行客户端握手
func ClientHandshake(rw io.ReadWriter) error {
	return NewHandshaker(RoleClient).Run(rw)
}

// ServerHandshake 执行服务端握手
func ServerHandshake(rw io.ReadWriter) error {
	return NewHandshaker(RoleServer).Run(rw)
}
