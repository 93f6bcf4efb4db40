package handler

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"iot-socket-server/internal/device"
	"iot-socket-server/internal/monitor"
	"iot-socket-server/internal/parser"
	"iot-socket-server/pkg/protocol"
)

// 事件发布超时
const publishTimeout = 2 * time.Second

// Conn 已握手的连接
type Conn interface {
	Recv() (protocol.Packet, error)
	Send(protocol.Packet) error
	RemoteAddr() net.Addr
	Close() error
}

// EventSink 接收设备状态变更事件
type EventSink interface {
	Publish(ctx context.Context, ev *device.Event) error
}

type ConnectionHandler struct {
	conn        Conn
	remote      string
	registry    *device.Registry
	parser      *parser.Parser
	events      EventSink
	monitor     *monitor.Monitor
	log         *logrus.Entry
	addressByID bool
}

// NewConnectionHandler 创建连接处理器。events 可以为 nil。
func NewConnectionHandler(
	conn Conn,
	registry *device.Registry,
	parser *parser.Parser,
	events EventSink,
	mon *monitor.Monitor,
	log *logrus.Logger,
	addressByID bool,
) *ConnectionHandler {
	remote := conn.RemoteAddr().String()

	return &ConnectionHandler{
		conn:        conn,
		remote:      remote,
		registry:    registry,
		parser:      parser,
		events:      events,
		monitor:     mon,
		log:         log.WithField("remote", remote),
		addressByID: addressByID,
	}
}

// Handle 处理连接直到对端断开或出现不可恢复的错误
func (h *ConnectionHandler) Handle(ctx context.Context) {
	defer func() {
		h.conn.Close()
		h.monitor.ActiveConnections.Dec()
		h.log.Info("连接关闭")
	}()

	h.monitor.ActiveConnections.Inc()
	h.monitor.TotalConnections.Inc()
	h.log.Info("新连接")

	for {
		packet, err := h.conn.Recv()
		if err != nil {
			h.recvFailed(err)
			return
		}

		// 解析命令
		result := h.parser.Parse(packet)
		if !result.Success {
			h.monitor.UnsupportedCommands.Inc()
			h.log.Warnf("不支持的命令: %v", result.Error)
			continue
		}

		start := time.Now()
		response, err := h.execute(ctx, result.Opcode)
		if err != nil {
			h.recvFailed(err)
			return
		}

		if err := h.conn.Send(response); err != nil {
			h.log.Errorf("发送响应失败 [%s]: %v", result.Opcode, err)
			return
		}

		h.monitor.ObserveCommand(result.Opcode.String(), start)
		h.log.WithField("opcode", result.Opcode.String()).Debugf("命令处理成功: 响应=%v, 耗时=%.3fms",
			response,
			time.Since(start).Seconds()*1000,
		)
	}
}

func (h *ConnectionHandler) recvFailed(err error) {
	var netErr net.Error
	switch {
	case protocol.IsDisconnect(err):
		h.log.Debug("客户端断开")
	case errors.As(err, &netErr) && netErr.Timeout():
		h.log.Info("读取超时，关闭空闲连接")
	case protocol.IsInvalidFormat(err):
		h.monitor.RecvErrors.Inc()
		h.log.Warnf("数据格式错误: %v", err)
	default:
		h.monitor.RecvErrors.Inc()
		h.log.Errorf("接收失败: %v", err)
	}
}

// execute 执行命令并返回响应数据包。
// 只有读取设备ID参数时的接收错误才会返回 error。
func (h *ConnectionHandler) execute(ctx context.Context, op protocol.Opcode) (protocol.Packet, error) {
	var id string
	if op.Addressed() {
		target, reply, err := h.target()
		if err != nil || reply != nil {
			return reply, err
		}
		id = target
	}

	switch op {
	case protocol.PowerOn, protocol.PowerOff:
		state := device.On
		if op == protocol.PowerOff {
			state = device.Off
		}
		if err := h.registry.Switch(id, state); err != nil {
			return errorReply(err), nil
		}
		h.publish(ctx, id, op, state)
		return protocol.AckOK, nil

	case protocol.GetStatus:
		status, err := h.registry.Status(id)
		if err != nil {
			return errorReply(err), nil
		}
		return protocol.Str(status), nil

	case protocol.GetConsumption:
		value, err := h.registry.Consumption(id)
		if err != nil {
			return errorReply(err), nil
		}
		return protocol.Float32(value), nil

	case protocol.ListDevices:
		return protocol.Str(strings.Join(h.registry.List(), "\n")), nil

	default:
		return errorReply(parser.ErrUnsupportedCommand), nil
	}
}

// target 确定命令作用的设备。
// 参数无效或设备不存在时返回错误响应。
func (h *ConnectionHandler) target() (string, protocol.Packet, error) {
	if !h.addressByID {
		id, err := h.registry.Default()
		if err != nil {
			return "", errorReply(err), nil
		}
		return id, nil, nil
	}

	packet, err := h.conn.Recv()
	if err != nil {
		return "", nil, err
	}
	id, err := h.parser.ParseDeviceID(packet)
	if err != nil {
		h.log.Warnf("设备参数错误: %v", err)
		return "", errorReply(err), nil
	}
	return id, nil, nil
}

func (h *ConnectionHandler) publish(ctx context.Context, id string, op protocol.Opcode, state device.PowerState) {
	if h.events == nil {
		return
	}

	// 服务器关闭期间仍然完成发布
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	ev := &device.Event{
		DeviceID:  id,
		Command:   op.String(),
		State:     state,
		Remote:    h.remote,
		Timestamp: time.Now(),
	}
	if err := h.events.Publish(ctx, ev); err != nil {
		h.monitor.EventErrors.Inc()
		h.log.WithField("device_id", id).Warnf("发布设备事件失败: %v", err)
	}
}

func errorReply(err error) protocol.Packet {
	return protocol.Str(protocol.ErrorPrefix + err.Error())
}
