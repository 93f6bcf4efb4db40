package main

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"iot-socket-server/pkg/client"
	"iot-socket-server/pkg/protocol"
)

// Stats 统计指标
type Stats struct {
	TotalSent      atomic.Int64 // 总请求数
	TotalFailed    atomic.Int64 // 总失败数
	TotalConnected atomic.Int64 // 总连接数
	ConnectFailed  atomic.Int64 // 连接失败数
	ActiveClients  atomic.Int64 // 活跃客户端数
	TotalLatencyUs atomic.Int64 // 累计响应耗时（微秒）
}

// AvgLatency 平均响应耗时
func (s *Stats) AvgLatency() time.Duration {
	sent := s.TotalSent.Load()
	if sent == 0 {
		return 0
	}
	return time.Duration(s.TotalLatencyUs.Load()/sent) * time.Microsecond
}

// Controller 模拟一个控制端，周期性发送随机命令
type Controller struct {
	ID           int
	ServerAddr   string
	SendInterval time.Duration
	Stats        *Stats
	Log          *logrus.Logger
}

// Run 运行直到 ctx 结束或连接失败
func (c *Controller) Run(ctx context.Context) error {
	s, err := client.Connect(ctx, c.ServerAddr,
		client.WithDialTimeout(5*time.Second),
		client.WithReadTimeout(5*time.Second),
		client.WithWriteTimeout(5*time.Second),
	)
	if err != nil {
		c.Log.Errorf("控制端 %d 连接失败: %v", c.ID, err)
		c.Stats.ConnectFailed.Add(1)
		return nil
	}
	defer s.Close()

	c.Stats.TotalConnected.Add(1)
	c.Stats.ActiveClients.Add(1)
	defer c.Stats.ActiveClients.Add(-1)

	c.Log.Debugf("控制端 %d 已连接", c.ID)

	ticker := time.NewTicker(c.SendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Log.Debugf("控制端 %d 停止", c.ID)
			return nil

		case <-ticker.C:
			op := randomOpcode()
			start := time.Now()
			if _, err := s.SendCmd(byte(op)); err != nil {
				c.Log.Errorf("控制端 %d 请求失败 [%s]: %v", c.ID, op, err)
				c.Stats.TotalFailed.Add(1)
				return nil
			}
			c.Stats.TotalSent.Add(1)
			c.Stats.TotalLatencyUs.Add(time.Since(start).Microseconds())
		}
	}
}

// randomOpcode 随机命令，查询多于开关
func randomOpcode() protocol.Opcode {
	r := rand.IntN(100)
	switch {
	case r < 10:
		return protocol.PowerOn
	case r < 20:
		return protocol.PowerOff
	case r < 50:
		return protocol.GetStatus
	case r < 90:
		return protocol.GetConsumption
	default:
		return protocol.ListDevices
	}
}

// StressTest 压力测试管理器
type StressTest struct {
	ServerAddr   string
	NumClients   int
	SendInterval time.Duration
	Duration     time.Duration
	Stats        *Stats
	Log          *logrus.Logger
}

func NewStressTest(serverAddr string, numClients int, sendInterval, duration time.Duration, log *logrus.Logger) *StressTest {
	return &StressTest{
		ServerAddr:   serverAddr,
		NumClients:   numClients,
		SendInterval: sendInterval,
		Duration:     duration,
		Stats:        &Stats{},
		Log:          log,
	}
}

// Run 启动所有控制端，持续 Duration 后停止
func (st *StressTest) Run(ctx context.Context) error {
	st.Log.Infof("开始压力测试: %d 个控制端, 间隔 %s, 持续 %s", st.NumClients, st.SendInterval, st.Duration)

	ctx, cancel := context.WithTimeout(ctx, st.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < st.NumClients; i++ {
		c := &Controller{
			ID:           i,
			ServerAddr:   st.ServerAddr,
			SendInterval: st.SendInterval,
			Stats:        st.Stats,
			Log:          st.Log,
		}
		g.Go(func() error { return c.Run(ctx) })
	}

	go st.monitorStats(ctx)

	err := g.Wait()
	st.printFinalStats()
	return err
}

// monitorStats 每秒输出一次统计
func (st *StressTest) monitorStats(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastSent int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent := st.Stats.TotalSent.Load()
			st.Log.Infof("活跃: %d | 请求: %d (%d/s) | 失败: %d | 平均耗时: %s",
				st.Stats.ActiveClients.Load(), sent, sent-lastSent,
				st.Stats.TotalFailed.Load(), st.Stats.AvgLatency())
			lastSent = sent
		}
	}
}

func (st *StressTest) printFinalStats() {
	st.Log.Info("========== 测试结果 ==========")
	st.Log.Infof("连接成功: %d, 连接失败: %d", st.Stats.TotalConnected.Load(), st.Stats.ConnectFailed.Load())
	st.Log.Infof("请求成功: %d, 请求失败: %d", st.Stats.TotalSent.Load(), st.Stats.TotalFailed.Load())
	st.Log.Infof("平均耗时: %s", st.Stats.AvgLatency())
}
