package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"iot-socket-server/internal/config"
	"iot-socket-server/internal/device"
	"iot-socket-server/internal/logging"
	"iot-socket-server/internal/server"
	"iot-socket-server/internal/storage"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "iot-server",
		Short:        "IoT 电源插座控制服务器",
		Version:      fmt.Sprintf("v%s (Build: %s)", Version, BuildTime),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(configFile)
			return run(cmd.Context(), cfg, configFile)
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/config.yaml", "配置文件路径")

	root.AddCommand(newEventsCmd(&configFile))
	return root
}

// loadConfig 加载配置，失败时使用默认配置
func loadConfig(path string) *config.Config {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		fmt.Fprintln(os.Stderr, "使用默认配置")
		cfg = config.GetDefaultConfig()
	}
	return cfg
}

func run(parent context.Context, cfg *config.Config, configFile string) error {
	// 初始化日志
	log := logging.Setup(cfg.Log)
	log.Infof("IoT Server v%s 启动中...", Version)
	log.Infof("配置文件: %s", configFile)

	registry, err := buildRegistry(cfg.Devices, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 创建并启动服务器
	srv, err := server.NewTCPServer(cfg, registry, log)
	if err != nil {
		log.Errorf("创建服务器失败: %v", err)
		return err
	}

	if err := srv.Start(ctx); err != nil {
		log.Errorf("服务器运行失败: %v", err)
		return err
	}
	return nil
}

// buildRegistry 按配置注册设备
func buildRegistry(cfg config.DevicesConfig, log *logrus.Logger) (*device.Registry, error) {
	registry := device.NewRegistry(device.UUIDGenerator{}, device.RandomMeter{})

	for _, id := range cfg.IDs {
		if err := registry.Add(id); err != nil {
			return nil, fmt.Errorf("注册设备失败: %w", err)
		}
	}
	if len(cfg.IDs) == 0 {
		for i := 0; i < cfg.Count; i++ {
			if _, err := registry.Create(); err != nil {
				return nil, fmt.Errorf("注册设备失败: %w", err)
			}
		}
	}

	for _, id := range registry.List() {
		log.WithField("device_id", id).Info("设备已注册")
	}
	return registry, nil
}

// newEventsCmd 查看 Redis 中保存的设备事件
func newEventsCmd(configFile *string) *cobra.Command {
	var limit int64

	cmd := &cobra.Command{
		Use:   "events <device-id>",
		Short: "显示设备最近的开关事件",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*configFile)
			log := logging.Setup(cfg.Log)

			mq, err := storage.NewMessageQueue(cfg.Redis, log)
			if err != nil {
				return err
			}
			defer mq.Close()

			events, err := mq.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			for _, ev := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s %-4s %s\n",
					ev.Timestamp.Format("2006-01-02 15:04:05"), ev.Command, ev.State, ev.Remote)
			}
			return nil
		},
	}
	cmd.Flags().Int64VarP(&limit, "limit", "n", 20, "显示的事件数量")
	return cmd
}
