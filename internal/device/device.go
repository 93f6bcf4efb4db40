package device

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// PowerState 插座电源状态
type PowerState uint8

const (
	Off PowerState = iota
	On
)

func (s PowerState) String() string {
	if s == On {
		return "ON"
	}
	return "OFF"
}

// MarshalText 以 "ON"/"OFF" 形式序列化
func (s PowerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *PowerState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "ON":
		*s = On
	case "OFF":
		*s = Off
	default:
		return fmt.Errorf("未知的电源状态: %q", text)
	}
	return nil
}

// Meter 功耗测量。Registry 串行调用 Measure，实现无需自行加锁。
type Meter interface {
	Measure() float32
}

// MeterFunc 将函数适配为 Meter
type MeterFunc func() float32

func (f MeterFunc) Measure() float32 { return f() }

// RandomMeter 模拟读数，范围 [0.1, 100.0)
type RandomMeter struct{}

func (RandomMeter) Measure() float32 {
	v := float32(0.1 + rand.Float64()*99.9)
	if v >= 100 {
		v = math.Nextafter32(100, 0)
	}
	return v
}

// IDGenerator 设备ID生成器
type IDGenerator interface {
	NextID() string
}

// UUIDGenerator 使用随机UUID作为设备ID
type UUIDGenerator struct{}

func (UUIDGenerator) NextID() string {
	return uuid.NewString()
}

// SequenceGenerator 生成 prefix-1, prefix-2 ... 形式的确定性ID
type SequenceGenerator struct {
	Prefix string
	next   atomic.Uint64
}

func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{Prefix: prefix}
}

func (g *SequenceGenerator) NextID() string {
	n := g.next.Add(1)
	if g.Prefix == "" {
		return strconv.FormatUint(n, 10)
	}
	return g.Prefix + "-" + strconv.FormatUint(n, 10)
}

// ACSocket 可控电源插座。ID创建后不可变。
// ACSocket 本身不加锁，并发访问由 Registry 保护。
type ACSocket struct {
	id    string
	state PowerState
	meter Meter
}

// NewACSocket 创建插座，初始状态为 Off
func NewACSocket(id string, meter Meter) *ACSocket {
	if meter == nil {
		meter = RandomMeter{}
	}
	return &ACSocket{id: id, state: Off, meter: meter}
}

func (s *ACSocket) ID() string { return s.id }

func (s *ACSocket) State() PowerState { return s.state }

// Switch 设置电源状态，重复设置相同状态不是错误
func (s *ACSocket) Switch(state PowerState) {
	s.state = state
}

// Consumption 当前功耗，关闭时恒为 0
func (s *ACSocket) Consumption() float32 {
	if s.state == Off {
		return 0
	}
	v := s.meter.Measure()
	if v <= 0 {
		// 开启状态下读数必须为正
		v = minReading
	}
	return v
}

// Status 可读的状态描述
func (s *ACSocket) Status() string {
	return fmt.Sprintf("id = %s, power = %s, consumption = %.2f", s.id, s.state, s.Consumption())
}

const minReading float32 = 0.1

// Event 设备状态变更事件
type Event struct {
	DeviceID  string     `json:"device_id"`
	Command   string     `json:"command"`
	State     PowerState `json:"state"`
	Remote    string     `json:"remote,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
