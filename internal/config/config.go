package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Devices DevicesConfig `yaml:"devices"`
	Redis   RedisConfig   `yaml:"redis"`
	Log     LogConfig     `yaml:"log"`
	Monitor MonitorConfig `yaml:"monitor"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	MaxConnections   int           `yaml:"max_connections"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	KeepAlive        time.Duration `yaml:"keep_alive"`
	// 接收 Str 数据包的长度上限（字节）
	MaxStringSize uint32 `yaml:"max_string_size"`
	// 开启后，针对单个设备的命令后跟一个 Str 设备ID
	AddressByID bool `yaml:"address_by_id"`
}

type DevicesConfig struct {
	// 指定设备ID；为空时按 Count 生成
	IDs   []string `yaml:"ids"`
	Count int      `yaml:"count"`
}

type RedisConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
	Channel     string `yaml:"channel"`
	HistorySize int    `yaml:"history_size"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitorConfig struct {
	Enabled     bool `yaml:"enabled"`
	MetricsPort int  `yaml:"metrics_port"`
}

// Address 监听地址 host:port
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoadConfig 加载配置文件，未设置的字段使用默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port 超出范围: %d", c.Server.Port))
	}
	if c.Server.MaxConnections <= 0 {
		errs = append(errs, fmt.Errorf("server.max_connections 必须大于0"))
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("超时不能为负数"))
	}
	if c.Server.MaxStringSize == 0 {
		errs = append(errs, fmt.Errorf("server.max_string_size 必须大于0"))
	}
	if c.Server.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.handshake_timeout 必须大于0"))
	}
	if len(c.Devices.IDs) == 0 && c.Devices.Count <= 0 {
		errs = append(errs, fmt.Errorf("devices 至少需要一个设备"))
	}
	seen := make(map[string]bool, len(c.Devices.IDs))
	for _, id := range c.Devices.IDs {
		if id == "" || seen[id] {
			errs = append(errs, fmt.Errorf("devices.ids 包含空或重复的ID: %q", id))
		}
		seen[id] = true
	}
	if c.Redis.Enabled && (c.Redis.Addr == "" || c.Redis.Channel == "") {
		errs = append(errs, fmt.Errorf("redis.addr 和 redis.channel 不能为空"))
	}
	if c.Monitor.Enabled && (c.Monitor.MetricsPort <= 0 || c.Monitor.MetricsPort > 65535) {
		errs = append(errs, fmt.Errorf("monitor.metrics_port 超出范围: %d", c.Monitor.MetricsPort))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置无效: %w", errors.Join(errs...))
	}
	return nil
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8088,
			MaxConnections:   1024,
			ReadTimeout:      5 * time.Minute,
			WriteTimeout:     30 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			ShutdownTimeout:  30 * time.Second,
			KeepAlive:        180 * time.Second,
			MaxStringSize:    65536,
		},
		Devices: DevicesConfig{
			Count: 1,
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			Password:    "",
			DB:          0,
			PoolSize:    10,
			Channel:     "socket_events",
			HistorySize: 1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Monitor: MonitorConfig{
			Enabled:     false,
			MetricsPort: 9090,
		},
	}
}
