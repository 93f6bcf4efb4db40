package device

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNotFound  = errors.New("device not found")
	ErrDuplicate = errors.New("device already registered")
	ErrEmpty     = errors.New("registry is empty")
)

// Registry 所有连接共享的设备集合。
// 所有读写都经过同一把读写锁，调用 Meter 的读取持有写锁。
type Registry struct {
	mu      sync.RWMutex
	order   []string
	devices map[string]*ACSocket

	ids   IDGenerator
	meter Meter
}

// NewRegistry 创建设备注册表。ids 为 nil 时使用 UUID，meter 为 nil 时使用模拟读数。
func NewRegistry(ids IDGenerator, meter Meter) *Registry {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if meter == nil {
		meter = RandomMeter{}
	}
	return &Registry{
		devices: make(map[string]*ACSocket),
		ids:     ids,
		meter:   meter,
	}
}

// Create 以生成的ID注册新插座
func (r *Registry) Create() (string, error) {
	id := r.ids.NextID()
	if err := r.Add(id); err != nil {
		return "", err
	}
	return id, nil
}

// Add 以指定ID注册新插座
func (r *Registry) Add(id string) error {
	if id == "" {
		return fmt.Errorf("设备ID不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	r.devices[id] = NewACSocket(id, r.meter)
	r.order = append(r.order, id)
	return nil
}

// Default 返回默认设备（最先注册的设备）
func (r *Registry) Default() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return "", ErrEmpty
	}
	return r.order[0], nil
}

// Switch 设置设备电源状态
func (r *Registry) Switch(id string, state PowerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, err := r.lookup(id)
	if err != nil {
		return err
	}
	dev.Switch(state)
	return nil
}

// State 查询设备电源状态
func (r *Registry) State(id string) (PowerState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, err := r.lookup(id)
	if err != nil {
		return Off, err
	}
	return dev.State(), nil
}

// Status 设备状态描述
func (r *Registry) Status(id string) (string, error) {
	// 读数会调用 Meter，Meter 不要求并发安全
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	return dev.Status(), nil
}

// Consumption 设备当前功耗
func (r *Registry) Consumption(id string) (float32, error) {
	// 读数会调用 Meter，Meter 不要求并发安全
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	return dev.Consumption(), nil
}

// List 按注册顺序返回所有设备ID
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len 设备数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) lookup(id string) (*ACSocket, error) {
	dev, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return dev, nil
}
