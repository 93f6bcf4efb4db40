package protocol

import "fmt"

// Tag 数据包类型标记，每种类型占用一个独立的位
type Tag uint8

// 类型标记
const (
	TagByte    Tag = 0x01
	TagInt32   Tag = 0x01 << 1
	TagFloat32 Tag = 0x01 << 2
	TagStr     Tag = 0x01 << 3
)

func (t Tag) String() string {
	switch t {
	case TagByte:
		return "Byte"
	case TagInt32:
		return "Int32"
	case TagFloat32:
		return "Float32"
	case TagStr:
		return "Str"
	default:
		return fmt.Sprintf("Tag(0x%02X)", uint8(t))
	}
}

// Packet 协议中传输的最小带类型数据单元。
// 只有本包中的 Byte, Int32, Float32, Str 实现该接口。
type Packet interface {
	Tag() Tag
	isPacket()
}

// Byte 单字节数据包
type Byte uint8

// Int32 有符号32位整数数据包
type Int32 int32

// Float32 IEEE-754 单精度浮点数据包
type Float32 float32

// Str UTF-8 字符串数据包
type Str string

func (Byte) Tag() Tag    { return TagByte }
func (Int32) Tag() Tag   { return TagInt32 }
func (Float32) Tag() Tag { return TagFloat32 }
func (Str) Tag() Tag     { return TagStr }

func (Byte) isPacket()    {}
func (Int32) isPacket()   {}
func (Float32) isPacket() {}
func (Str) isPacket()     {}

func (b Byte) String() string    { return fmt.Sprintf("Byte(%d)", uint8(b)) }
func (i Int32) String() string   { return fmt.Sprintf("Int32(%d)", int32(i)) }
func (f Float32) String() string { return fmt.Sprintf("Float32(%g)", float32(f)) }
func (s Str) String() string     { return fmt.Sprintf("Str(%q)", string(s)) }

// Opcode 服务器支持的命令，以 Byte 数据包传输
type Opcode uint8

// 命令集合（封闭）
const (
	PowerOn        Opcode = 1
	PowerOff       Opcode = 2
	GetStatus      Opcode = 3
	GetConsumption Opcode = 4
	ListDevices    Opcode = 5
)

// Valid 判断是否为已定义的命令
func (op Opcode) Valid() bool {
	return op >= PowerOn && op <= ListDevices
}

// Addressed 判断命令是否作用于单个设备
func (op Opcode) Addressed() bool {
	return op >= PowerOn && op <= GetConsumption
}

func (op Opcode) String() string {
	switch op {
	case PowerOn:
		return "PowerOn"
	case PowerOff:
		return "PowerOff"
	case GetStatus:
		return "GetStatus"
	case GetConsumption:
		return "GetConsumption"
	case ListDevices:
		return "ListDevices"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(op))
	}
}

// 协议常量
const (
	// 握手魔数
	HandshakeRequest Byte = 42
	HandshakeReply   Byte = 24

	// 开关命令的确认响应
	AckOK Byte = 1

	// 命令无法执行时以 Str 响应，内容以此开头
	ErrorPrefix = "error: "

	// 字符串最大长度（64 KB）
	DefaultMaxStringSize = 65536
)
