package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Monitor 服务器指标，使用独立的 prometheus.Registry
type Monitor struct {
	log      *logrus.Logger
	registry *prometheus.Registry

	// 连接指标
	ActiveConnections   prometheus.Gauge
	TotalConnections    prometheus.Counter
	RejectedConnections prometheus.Counter
	HandshakeFailures   prometheus.Counter

	// 命令指标
	Commands            *prometheus.CounterVec
	UnsupportedCommands prometheus.Counter
	RecvErrors          prometheus.Counter
	EventErrors         prometheus.Counter
	CommandDuration     prometheus.Histogram

	// 运行时指标
	GoroutineCount prometheus.Gauge
	MemoryUsage    prometheus.Gauge
}

func NewMonitor(log *logrus.Logger) *Monitor {
	m := &Monitor{
		log:      log,
		registry: prometheus.NewRegistry(),

		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "socket_active_connections",
			Help: "当前活跃连接数",
		}),
		TotalConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socket_total_connections",
			Help: "握手成功的连接总数",
		}),
		RejectedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socket_rejected_connections_total",
			Help: "超过最大连接数被拒绝的连接数",
		}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socket_handshake_failures_total",
			Help: "握手失败次数",
		}),

		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socket_commands_total",
				Help: "执行的命令总数",
			},
			[]string{"opcode"},
		),
		UnsupportedCommands: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socket_unsupported_commands_total",
			Help: "不支持的命令数",
		}),
		RecvErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socket_recv_errors_total",
			Help: "接收数据包错误数",
		}),
		EventErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socket_event_errors_total",
			Help: "设备事件发布失败数",
		}),
		CommandDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "socket_command_duration_seconds",
			Help:    "命令处理耗时",
			Buckets: prometheus.DefBuckets,
		}),

		GoroutineCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "socket_goroutines",
			Help: "当前Goroutine数量",
		}),
		MemoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "socket_memory_usage_bytes",
			Help: "内存使用量",
		}),
	}

	// 注册指标
	m.registry.MustRegister(
		m.ActiveConnections,
		m.TotalConnections,
		m.RejectedConnections,
		m.HandshakeFailures,
		m.Commands,
		m.UnsupportedCommands,
		m.RecvErrors,
		m.EventErrors,
		m.CommandDuration,
		m.GoroutineCount,
		m.MemoryUsage,
	)

	return m
}

// Registry 指标注册表
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCommand 记录一次命令执行
func (m *Monitor) ObserveCommand(opcode string, start time.Time) {
	m.Commands.WithLabelValues(opcode).Inc()
	m.CommandDuration.Observe(time.Since(start).Seconds())
}

// Handler 返回 /metrics 和 /health 路由
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	// 健康检查端点
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// StartMetricsServer 启动Metrics HTTP服务器，ctx 结束时关闭
func (m *Monitor) StartMetricsServer(ctx context.Context, port int) {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.log.Infof("Metrics服务器启动: %s", addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Errorf("Metrics服务器错误: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

// StartRuntimeMonitor 启动运行时监控
func (m *Monitor) StartRuntimeMonitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sampleRuntime()
			}
		}
	}()
}

func (m *Monitor) sampleRuntime() {
	// 更新Goroutine数量
	m.GoroutineCount.Set(float64(runtime.NumGoroutine()))

	// 更新内存使用
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.MemoryUsage.Set(float64(memStats.Alloc))

	m.log.Debugf("Goroutines: %d, 内存: %.2f MB",
		runtime.NumGoroutine(),
		float64(memStats.Alloc)/1024/1024,
	)
}
