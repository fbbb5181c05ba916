package speech

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// 火山引擎大模型 ASR 二进制帧:
//
//	| ver(4) hsize(4) | type(4) flags(4) | serial(4) compress(4) | reserved(8) |
//	[sequence int32]  仅当 flags 携带序号
//	[error code uint32] 仅错误帧
//	payload size uint32, payload

// ProtocolVersion 二进制协议版本
const ProtocolVersion = 0b0001

// MessageType 消息类型
type MessageType uint8

const (
	FullClientRequest  MessageType = 0b0001
	AudioOnlyRequest   MessageType = 0b0010
	FullServerResponse MessageType = 0b1001
	ServerAck          MessageType = 0b1011
	ErrorMessage       MessageType = 0b1111
)

// MessageFlags 序号标志
type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	LastPacketNoSequence   MessageFlags = 0b0010
	NegativeSequenceNumber MessageFlags = 0b0011
)

// SerializationMethod payload 序列化方式
type SerializationMethod uint8

const (
	NoSerialization   SerializationMethod = 0b0000
	JSONSerialization SerializationMethod = 0b0001
)

// CompressionMethod payload 压缩方式
type CompressionMethod uint8

const (
	NoCompression   CompressionMethod = 0b0000
	GzipCompression CompressionMethod = 0b0001
)

// Header 4 字节帧头
type Header struct {
	Version       uint8
	Size          uint8 // 以 4 字节为单位
	Type          MessageType
	Flags         MessageFlags
	Serialization SerializationMethod
	Compression   CompressionMethod
}

// Message 一个完整的协议帧
type Message struct {
	Header    Header
	Sequence  int32
	ErrorCode uint32
	Payload   []byte
}

// NewHeader 创建 4 字节帧头
func NewHeader(msgType MessageType, flags MessageFlags, serialization SerializationMethod, compression CompressionMethod) Header {
	return Header{
		Version:       ProtocolVersion,
		Size:          1,
		Type:          msgType,
		Flags:         flags,
		Serialization: serialization,
		Compression:   compression,
	}
}

func (h Header) hasSequence() bool {
	f := h.Flags & 0b0011
	return f == PositiveSequenceNumber || f == NegativeSequenceNumber
}

// EncodeMessage 序列化帧
func EncodeMessage(msg *Message) []byte {
	h := msg.Header
	buf := bytes.NewBuffer(make([]byte, 0, 12+len(msg.Payload)))
	buf.WriteByte(h.Version<<4 | h.Size)
	buf.WriteByte(uint8(h.Type)<<4 | uint8(h.Flags))
	buf.WriteByte(uint8(h.Serialization)<<4 | uint8(h.Compression))
	buf.WriteByte(0)

	var word [4]byte
	if h.hasSequence() {
		binary.BigEndian.PutUint32(word[:], uint32(msg.Sequence))
		buf.Write(word[:])
	}
	if h.Type == ErrorMessage {
		binary.BigEndian.PutUint32(word[:], msg.ErrorCode)
		buf.Write(word[:])
	}
	binary.BigEndian.PutUint32(word[:], uint32(len(msg.Payload)))
	buf.Write(word[:])
	buf.Write(msg.Payload)
	return buf.Bytes()
}

// DecodeMessage 解析帧，未知的扩展头部被跳过
func DecodeMessage(r io.Reader) (*Message, error) {
	var raw [4]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	h := Header{
		Version:       raw[0] >> 4,
		Size:          raw[0] & 0x0F,
		Type:          MessageType(raw[1] >> 4),
		Flags:         MessageFlags(raw[1] & 0x0F),
		Serialization: SerializationMethod(raw[2] >> 4),
		Compression:   CompressionMethod(raw[2] & 0x0F),
	}
	if h.Version != ProtocolVersion {
		return nil, errors.Errorf("unsupported protocol version: %d", h.Version)
	}
	if extra := int(h.Size)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return nil, errors.Wrap(err, "read extended header")
		}
	}

	msg := &Message{Header: h}
	if h.hasSequence() {
		if err := binary.Read(r, binary.BigEndian, &msg.Sequence); err != nil {
			return nil, errors.Wrap(err, "read sequence")
		}
	}
	if h.Type == ErrorMessage {
		if err := binary.Read(r, binary.BigEndian, &msg.ErrorCode); err != nil {
			return nil, errors.Wrap(err, "read error code")
		}
	}

	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, errors.Wrap(err, "read payload size")
	}
	if size > 0 {
		msg.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			return nil, errors.Wrapf(err, "read payload (expected %d bytes)", size)
		}
	}
	return msg, nil
}

// CreateFullClientRequest 携带识别参数的首帧
func CreateFullClientRequest(payload []byte, compression CompressionMethod) *Message {
	return &Message{
		Header:  NewHeader(FullClientRequest, NoSequenceNumber, JSONSerialization, compression),
		Payload: payload,
	}
}

// CreateAudioOnlyRequest 音频帧；最后一包使用负序号
func CreateAudioOnlyRequest(audio []byte, sequence int32, isLast bool, compression CompressionMethod) *Message {
	flags := PositiveSequenceNumber
	switch {
	case isLast && sequence != 0:
		flags = NegativeSequenceNumber
		sequence = -sequence
	case isLast:
		flags = LastPacketNoSequence
	case sequence <= 0:
		flags = NoSequenceNumber
	}
	return &Message{
		Header:   NewHeader(AudioOnlyRequest, flags, NoSerialization, compression),
		Sequence: sequence,
		Payload:  audio,
	}
}

// IsLastPacket 是否为最后一包
func (m *Message) IsLastPacket() bool {
	f := m.Header.Flags & 0b0011
	return f == LastPacketNoSequence || f == NegativeSequenceNumber
}
