// Package cannelloni implements the cannelloni CAN over UDP frame format
// and a stage processor decoding datagrams into raw CAN batches.
package cannelloni

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	headerSize     = 5
	messageSize    = 5
	canFDFlagsSize = 1

	canFDMask = 0x80
)

// ErrShortFrame is returned when a buffer ends before the frame it describes.
var ErrShortFrame = errors.New("cannelloni: not enough data")

// FrameMessage is a CAN message carried by a [Frame].
type FrameMessage struct {
	CANID      uint32
	DataLen    uint8
	CANFDFlags uint8
	Data       []byte
}

// NewFrameMessage returns a classic CAN message.
func NewFrameMessage(canID uint32, data []byte) *FrameMessage {
	return &FrameMessage{
		CANID:   canID,
		DataLen: uint8(len(data)),
		Data:    data,
	}
}

func (fm *FrameMessage) isCANFD() bool {
	return fm.CANFDFlags != 0
}

// Encode returns the wire representation of the message.
func (fm *FrameMessage) Encode() []byte {
	size := messageSize
	if fm.isCANFD() {
		size += canFDFlagsSize
	}

	buf := make([]byte, size, size+len(fm.Data))

	binary.BigEndian.PutUint32(buf[0:4], fm.CANID)

	if fm.isCANFD() {
		buf[4] = fm.DataLen | canFDMask
		buf[5] = fm.CANFDFlags
	} else {
		buf[4] = fm.DataLen
	}

	return append(buf, fm.Data[:fm.DataLen]...)
}

// Frame is a cannelloni frame, the payload of a single UDP datagram.
type Frame struct {
	Version        uint8
	OPCode         uint8
	SequenceNumber uint8
	Messages       []*FrameMessage
}

// NewFrame returns an empty frame.
func NewFrame(opCode, sequenceNumber uint8) *Frame {
	return &Frame{
		Version:        1,
		OPCode:         opCode,
		SequenceNumber: sequenceNumber,
	}
}

// AddMessage appends a message to the frame.
func (f *Frame) AddMessage(msg *FrameMessage) {
	f.Messages = append(f.Messages, msg)
}

// Encode returns the wire representation of the frame.
func (f *Frame) Encode() []byte {
	buf := make([]byte, headerSize)

	buf[0] = f.Version
	buf[1] = f.OPCode
	buf[2] = f.SequenceNumber
	binary.BigEndian.PutUint16(buf[3:5], uint16(len(f.Messages)))

	for _, msg := range f.Messages {
		buf = append(buf, msg.Encode()...)
	}

	return buf
}

// DecodeFrame decodes a frame. The data of the messages is copied.
func DecodeFrame(buf []byte) (*Frame, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("%w: header of %d bytes", ErrShortFrame, len(buf))
	}

	f := &Frame{
		Version:        buf[0],
		OPCode:         buf[1],
		SequenceNumber: buf[2],
	}

	msgCount := int(binary.BigEndian.Uint16(buf[3:5]))
	f.Messages = make([]*FrameMessage, msgCount)

	pos := headerSize
	for i := range msgCount {
		msg, n, err := decodeFrameMessage(buf[pos:])
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}

		f.Messages[i] = msg
		pos += n
	}

	return f, nil
}

func decodeFrameMessage(buf []byte) (*FrameMessage, int, error) {
	if len(buf) < messageSize {
		return nil, 0, ErrShortFrame
	}

	msg := &FrameMessage{
		CANID: binary.BigEndian.Uint32(buf[0:4]),
	}

	n := messageSize

	rawDataLen := buf[4]
	if rawDataLen&canFDMask != 0 {
		if len(buf) < n+canFDFlagsSize {
			return nil, 0, ErrShortFrame
		}

		msg.DataLen = rawDataLen &^ canFDMask
		msg.CANFDFlags = buf[5]
		n += canFDFlagsSize
	} else {
		msg.DataLen = rawDataLen
	}

	dataLen := int(msg.DataLen)
	if len(buf) < n+dataLen {
		return nil, 0, fmt.Errorf("%w: %d bytes of content", ErrShortFrame, dataLen)
	}

	msg.Data = make([]byte, dataLen)
	copy(msg.Data, buf[n:n+dataLen])

	return msg, n + dataLen, nil
}
