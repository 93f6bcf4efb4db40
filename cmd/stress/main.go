package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var (
		addr     string
		clients  int
		interval time.Duration
		duration time.Duration
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:          "stress",
		Short:        "IoT 插座服务器压力测试",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return NewStressTest(addr, clients, interval, duration, log).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8088", "服务器地址")
	cmd.Flags().IntVar(&clients, "clients", 100, "控制端数量")
	cmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "请求间隔")
	cmd.Flags().DurationVar(&duration, "duration", 30*time.Second, "测试时长")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "输出调试日志")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
