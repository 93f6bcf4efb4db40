package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"iot-socket-server/pkg/protocol"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		kind   string
		random bool
		count  int
	)

	cmd := &cobra.Command{
		Use:          "packetgen [value]",
		Short:        "生成协议数据包的字节表示",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for i := 0; i < count; i++ {
				var (
					p   protocol.Packet
					err error
				)
				if random {
					p = randomPacket()
				} else {
					value := ""
					if len(args) > 0 {
						value = args[0]
					}
					p, err = buildPacket(kind, value)
					if err != nil {
						return err
					}
				}

				fmt.Fprintf(out, "数据包 %d:\n", i+1)
				if err := display(out, p); err != nil {
					return err
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", "byte", "数据类型 (byte, int32, float32, str, op, handshake)")
	cmd.Flags().BoolVarP(&random, "random", "r", false, "生成随机数据")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "生成数量")
	return cmd
}

// buildPacket 按类型解析值
func buildPacket(kind, value string) (protocol.Packet, error) {
	switch strings.ToLower(kind) {
	case "byte":
		v, err := strconv.ParseUint(orDefault(value, "0"), 0, 8)
		if err != nil {
			return nil, fmt.Errorf("无效的 byte 值 %q: %w", value, err)
		}
		return protocol.Byte(v), nil
	case "int32":
		v, err := strconv.ParseInt(orDefault(value, "0"), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("无效的 int32 值 %q: %w", value, err)
		}
		return protocol.Int32(v), nil
	case "float32":
		v, err := strconv.ParseFloat(orDefault(value, "0"), 32)
		if err != nil {
			return nil, fmt.Errorf("无效的 float32 值 %q: %w", value, err)
		}
		return protocol.Float32(v), nil
	case "str":
		return protocol.Str(value), nil
	case "op":
		v, err := strconv.ParseUint(orDefault(value, "1"), 0, 8)
		if err != nil {
			return nil, fmt.Errorf("无效的命令字节 %q: %w", value, err)
		}
		return protocol.Byte(v), nil
	case "handshake":
		if value == "reply" {
			return protocol.HandshakeReply, nil
		}
		return protocol.HandshakeRequest, nil
	default:
		return nil, fmt.Errorf("未知的数据类型: %s", kind)
	}
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

// randomPacket 生成随机数据包
func randomPacket() protocol.Packet {
	switch rand.IntN(4) {
	case 0:
		return protocol.Byte(rand.IntN(5) + 1)
	case 1:
		return protocol.Int32(rand.Int32() - rand.Int32())
	case 2:
		return protocol.Float32(0.1 + rand.Float32()*99.9)
	default:
		return protocol.Str(fmt.Sprintf("socket-%d", rand.IntN(1000)))
	}
}

// display 编码后输出多种格式，并解码校验
func display(w io.Writer, p protocol.Packet) error {
	data, err := protocol.Append(nil, p)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "  十六进制: %s\n", hex.EncodeToString(data))
	fmt.Fprintf(w, "  字节数组: % x\n", data)
	fmt.Fprintf(w, "  C格式:    {%s}\n", byteList(data))
	fmt.Fprintf(w, "  Go格式:   []byte{%s}\n", byteList(data))

	decoded, err := protocol.Decode(bytes.NewReader(data))
	if err != nil {
		fmt.Fprintf(w, "  错误: %v\n", err)
		return nil
	}
	fmt.Fprintf(w, "  解析结果:\n")
	fmt.Fprintf(w, "    类型:   %s (0x%02X)\n", decoded.Tag(), byte(decoded.Tag()))
	fmt.Fprintf(w, "    值:     %v\n", decoded)
	if b, ok := decoded.(protocol.Byte); ok {
		if op := protocol.Opcode(b); op.Valid() {
			fmt.Fprintf(w, "    命令:   %s\n", op)
		}
	}
	return nil
}

func byteList(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("0x%02X", b)
	}
	return strings.Join(parts, ", ")
}
