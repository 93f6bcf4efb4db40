package parser

import (
	"errors"
	"fmt"

	"iot-socket-server/pkg/protocol"
)

var (
	// ErrUnsupportedCommand 非 Byte 数据包或未定义的命令字节
	ErrUnsupportedCommand = errors.New("unsupported command")

	// ErrBadArgument 设备ID参数不是 Str 数据包
	ErrBadArgument = errors.New("bad device argument")
)

// ParseResult 解析结果
type ParseResult struct {
	Success bool
	Opcode  protocol.Opcode
	Error   error
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse 将请求数据包解析为命令
func (p *Parser) Parse(packet protocol.Packet) *ParseResult {
	result := &ParseResult{
		Success: false,
	}

	b, ok := packet.(protocol.Byte)
	if !ok {
		result.Error = fmt.Errorf("%w: packet %v", ErrUnsupportedCommand, packet)
		return result
	}

	op := protocol.Opcode(b)
	if !op.Valid() {
		result.Error = fmt.Errorf("%w: %d", ErrUnsupportedCommand, uint8(b))
		return result
	}

	result.Success = true
	result.Opcode = op
	return result
}

// ParseDeviceID 解析命令后的设备ID参数
func (p *Parser) ParseDeviceID(packet protocol.Packet) (string, error) {
	s, ok := packet.(protocol.Str)
	if !ok {
		return "", fmt.Errorf("%w: %v", ErrBadArgument, packet)
	}
	if s == "" {
		return "", fmt.Errorf("%w: empty id", ErrBadArgument)
	}
	return string(s), nil
}
