package mqtt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

func UInt16ToByte(number uint16) []byte {
	result := make([]byte, 2)
	binary.BigEndian.PutUint16(result, number)
	return result
}

func ByteToUInt16(bytes []byte) uint16 {
	if len(bytes) == 0 {
		return 0
	}
	if len(bytes) == 1 {
		return uint16(bytes[0])
	}
	return binary.BigEndian.Uint16(bytes)
}

func ReadByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

const (
	// DefaultMaxPacketSize bounds the remaining length accepted by ReadPacket.
	DefaultMaxPacketSize = 1 << 20

	readChunkSize = 64 * 1024
)

// ReadPacket reads one control packet of at most DefaultMaxPacketSize bytes.
func ReadPacket(r io.Reader) (*Packet, error) {
	return ReadPacketLimit(r, DefaultMaxPacketSize)
}

// ReadPacketLimit reads one complete control packet from r. A remaining length above maxSize is
// rejected before the body is read. I/O errors are returned untouched so the caller can tell a
// closed stream from a malformed packet, which wraps ErrProtocolViolation.
func ReadPacketLimit(r io.Reader, maxSize int) (*Packet, error) {
	typeAndFlags, err := ReadByte(r)
	if err != nil {
		return nil, err
	}

	remaining, err := DecodeRemainingLength(r)
	if err != nil {
		return nil, err
	}

	header := &FixedHeader{
		Type:            PacketType(typeAndFlags >> 4),
		Flags:           typeAndFlags & 0x0F,
		RemainingLength: remaining,
	}

	if !header.Type.Valid() {
		return nil, fmt.Errorf("%w: reserved packet type %d", ErrProtocolViolation, header.Type)
	}

	if !ValidateFlags(header.Type, header.Flags) {
		return nil, fmt.Errorf("%w: flags %04b of %s packet is not valid", ErrProtocolViolation, header.Flags, header.Type.String())
	}

	if maxSize <= 0 || maxSize > MaxRemainingLength {
		maxSize = MaxRemainingLength
	}
	if remaining > maxSize {
		return nil, fmt.Errorf("%w: %s packet of %d bytes exceeds the %d byte limit", ErrProtocolViolation, header.Type.String(), remaining, maxSize)
	}

	payload, err := readBody(r, remaining)
	if err != nil {
		return nil, err
	}

	return &Packet{
		Header: header,
		Payload: &Payload{
			Context:    payload,
			ContextLen: len(payload),
			CurrentPtr: 0,
		},
	}, nil
}

// readBody grows the buffer as bytes arrive so a large declared length costs nothing until the
// peer actually sends it.
func readBody(r io.Reader, length int) ([]byte, error) {
	if length <= readChunkSize {
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
		return body, nil
	}

	body := make([]byte, 0, readChunkSize)
	for len(body) < length {
		n := min(readChunkSize, length-len(body))
		start := len(body)
		body = append(body, make([]byte, n)...)
		if _, err := io.ReadFull(r, body[start:]); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	return body, nil
}

func DecodeRemainingLength(r io.Reader) (int, error) {
	multiplier := 1
	value := 0
	for i := 0; i < 4; i++ {
		encodedByte, err := ReadByte(r)
		if err != nil {
			return 0, err
		}
		value += int(encodedByte&127) * multiplier
		multiplier *= 128
		if (encodedByte & 128) == 0 {
			return value, nil
		}
	}
	return 0, fmt.Errorf("%w: the remaining length exceeds the 4 byte limit", ErrProtocolViolation)
}

func EncodeRemainingLength(x int) []byte {
	if x <= 0 {
		return []byte{0}
	}
	var buf [4]byte
	i := 0
	for x > 0 && i < 4 {
		buf[i] = byte(x % 128)
		if x /= 128; x > 0 {
			buf[i] |= 128
		}
		i++
	}
	return buf[:i]
}

func ValidateFlags(pt PacketType, flags byte) bool {
	allowed := allowedFlags[pt]
	if flags&^allowed != 0 {
		return false
	}
	required := requiredFlags[pt]
	return flags&required == required
}

// Encode assembles a packet from its type, flag nibble and variable header plus payload.
func Encode(pt PacketType, flags byte, body []byte) []byte {
	packet := make([]byte, 0, 1+4+len(body))
	packet = append(packet, byte(pt)<<4|flags&0x0F)
	packet = append(packet, EncodeRemainingLength(len(body))...)
	packet = append(packet, body...)
	return packet
}

func (p *Payload) CheckRemainingLength() bool {
	return p.CurrentPtr < p.ContextLen
}

// Remaining returns the number of unread bytes.
func (p *Payload) Remaining() int {
	return p.ContextLen - p.CurrentPtr
}
