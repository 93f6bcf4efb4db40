package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// Decoder 从字节流中逐个读取数据包
type Decoder struct {
	r             io.Reader
	maxStringSize uint32
	buf           [4]byte
}

// NewDecoder 创建解码器
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:             r,
		maxStringSize: DefaultMaxStringSize,
	}
}

// NewDecoderWithMaxString 创建自定义字符串长度上限的解码器
func NewDecoderWithMaxString(r io.Reader, maxSize uint32) *Decoder {
	return &Decoder{
		r:             r,
		maxStringSize: maxSize,
	}
}

// Decode 读取一个数据包。
// 在数据包边界遇到EOF时返回包装了 io.EOF 的错误（对端正常断开），
// 数据包中途断开返回 io.ErrUnexpectedEOF。
func (d *Decoder) Decode() (Packet, error) {
	// 类型标记
	if _, err := io.ReadFull(d.r, d.buf[:1]); err != nil {
		return nil, &RecvError{Err: err}
	}

	switch tag := Tag(d.buf[0]); tag {
	case TagByte:
		if err := d.readPayload(d.buf[:1]); err != nil {
			return nil, err
		}
		return Byte(d.buf[0]), nil

	case TagInt32:
		if err := d.readPayload(d.buf[:4]); err != nil {
			return nil, err
		}
		return Int32(int32(binary.BigEndian.Uint32(d.buf[:4]))), nil

	case TagFloat32:
		if err := d.readPayload(d.buf[:4]); err != nil {
			return nil, err
		}
		return Float32(math.Float32frombits(binary.BigEndian.Uint32(d.buf[:4]))), nil

	case TagStr:
		if err := d.readPayload(d.buf[:4]); err != nil {
			return nil, err
		}
		length := binary.BigEndian.Uint32(d.buf[:4])
		if length > d.maxStringSize {
			return nil, &RecvError{Err: fmt.Errorf("%w: string length %d > %d", ErrInvalidFormat, length, d.maxStringSize)}
		}
		data := make([]byte, length)
		if err := d.readPayload(data); err != nil {
			return nil, err
		}
		if !utf8.Valid(data) {
			return nil, &RecvError{Err: fmt.Errorf("%w: string is not valid UTF-8", ErrInvalidFormat)}
		}
		return Str(data), nil

	default:
		return nil, &RecvError{Err: fmt.Errorf("%w: unknown tag 0x%02X", ErrInvalidFormat, uint8(tag))}
	}
}

// readPayload 读取标记之后的数据，此时任何EOF都表示数据包被截断
func (d *Decoder) readPayload(p []byte) error {
	if _, err := io.ReadFull(d.r, p); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return &RecvError{Err: err}
	}
	return nil
}

// Decode 从 r 中读取一个数据包
func Decode(r io.Reader) (Packet, error) {
	return NewDecoder(r).Decode()
}

// Append 将数据包的编码追加到 buf 之后
func Append(buf []byte, p Packet) ([]byte, error) {
	switch v := p.(type) {
	case Byte:
		buf = append(buf, byte(TagByte), byte(v))
	case Int32:
		buf = append(buf, byte(TagInt32))
		buf = binary.BigEndian.AppendUint32(buf, uint32(v))
	case Float32:
		buf = append(buf, byte(TagFloat32))
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(v)))
	case Str:
		if uint64(len(v)) > math.MaxUint32 {
			return nil, &SendError{Err: fmt.Errorf("%w: string too long", ErrUnexpectedPacket)}
		}
		buf = append(buf, byte(TagStr))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v)))
		buf = append(buf, v...)
	default:
		return nil, &SendError{Err: fmt.Errorf("%w: %T", ErrUnexpectedPacket, p)}
	}
	return buf, nil
}

// Encode 将一个数据包写入 w，每个数据包只调用一次 Write
func Encode(w io.Writer, p Packet) error {
	buf, err := Append(make([]byte, 0, encodedSize(p)), p)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return &SendError{Err: err}
	}
	return nil
}

func encodedSize(p Packet) int {
	switch v := p.(type) {
	case Byte:
		return 2
	case Int32, Float32:
		return 5
	case Str:
		return 5 + len(v)
	default:
		return 0
	}
}
