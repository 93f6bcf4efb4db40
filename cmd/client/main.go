package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"iot-socket-server/pkg/client"
)

type globalFlags struct {
	addr    string
	device  string
	timeout time.Duration
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:          "iotctl",
		Short:        "IoT 电源插座命令行客户端",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.addr, "addr", "a", "127.0.0.1:8088", "服务器地址")
	root.PersistentFlags().StringVarP(&flags.device, "device", "d", "", "设备ID（服务器需开启 address_by_id）")
	root.PersistentFlags().DurationVarP(&flags.timeout, "timeout", "t", 5*time.Second, "连接和响应超时")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "输出调试日志")

	root.AddCommand(
		&cobra.Command{
			Use:   "on",
			Short: "打开插座",
			Args:  cobra.NoArgs,
			RunE: withSession(flags, func(cmd *cobra.Command, s *client.Session, args []string) error {
				if err := s.PowerOn(deviceArg(flags)...); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "OK")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "off",
			Short: "关闭插座",
			Args:  cobra.NoArgs,
			RunE: withSession(flags, func(cmd *cobra.Command, s *client.Session, args []string) error {
				if err := s.PowerOff(deviceArg(flags)...); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "OK")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "查询插座状态",
			Args:  cobra.NoArgs,
			RunE: withSession(flags, func(cmd *cobra.Command, s *client.Session, args []string) error {
				status, err := s.Status(deviceArg(flags)...)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), status)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "consumption",
			Short: "查询插座功耗",
			Args:  cobra.NoArgs,
			RunE: withSession(flags, func(cmd *cobra.Command, s *client.Session, args []string) error {
				value, err := s.Consumption(deviceArg(flags)...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%.2f\n", value)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "列出所有设备",
			Args:  cobra.NoArgs,
			RunE: withSession(flags, func(cmd *cobra.Command, s *client.Session, args []string) error {
				ids, err := s.ListDevices()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(ids, "\n"))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "raw <opcode>",
			Short: "发送原始命令字节并打印响应",
			Args:  cobra.ExactArgs(1),
			RunE: withSession(flags, func(cmd *cobra.Command, s *client.Session, args []string) error {
				op, err := strconv.ParseUint(args[0], 0, 8)
				if err != nil {
					return fmt.Errorf("无效的命令字节 %q: %w", args[0], err)
				}
				resp, err := s.SendCmd(byte(op))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp)
				return nil
			}),
		},
	)
	return root
}

func deviceArg(flags *globalFlags) []string {
	if flags.device == "" {
		return nil
	}
	return []string{flags.device}
}

// withSession 连接服务器后执行命令
func withSession(flags *globalFlags, fn func(*cobra.Command, *client.Session, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log := logrus.New()
		log.SetOutput(cmd.ErrOrStderr())
		if flags.verbose {
			log.SetLevel(logrus.DebugLevel)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
		defer cancel()

		s, err := client.Connect(ctx, flags.addr,
			client.WithDialTimeout(flags.timeout),
			client.WithHandshakeTimeout(flags.timeout),
			client.WithReadTimeout(flags.timeout),
			client.WithWriteTimeout(flags.timeout),
			client.WithLogger(log),
		)
		if err != nil {
			return err
		}
		defer s.Close()

		return fn(cmd, s, args)
	}
}
