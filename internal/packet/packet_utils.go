package packet

import (
	"fmt"
	"unicode/utf8"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/mqtt"
)

// FieldPayload is a length-prefixed field of the variable header or payload.
type FieldPayload struct {
	PayloadLength int
	Payload       []byte
}

func NewFieldPayload(value string) FieldPayload {
	return FieldPayload{PayloadLength: len(value), Payload: []byte(value)}
}

func (f FieldPayload) String() string {
	return string(f.Payload)
}

func readPacketByte(payload *mqtt.Payload) (byte, error) {
	startByte := payload.CurrentPtr
	if startByte >= payload.ContextLen {
		return 0, fmt.Errorf("%w: invalid packet context length", mqtt.ErrProtocolViolation)
	}
	payload.CurrentPtr++
	return payload.Context[startByte], nil
}

func readPacketBytes(payload *mqtt.Payload, length int) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("%w: invalid reading length %d", mqtt.ErrProtocolViolation, length)
	}
	end := payload.CurrentPtr + length
	if end > payload.ContextLen {
		return nil, fmt.Errorf("%w: invalid packet context length", mqtt.ErrProtocolViolation)
	}
	data := payload.Context[payload.CurrentPtr:end]
	payload.CurrentPtr = end
	return data, nil
}

func readPacketID(payload *mqtt.Payload) (uint16, error) {
	data, err := readPacketBytes(payload, 2)
	if err != nil {
		return 0, err
	}
	return mqtt.ByteToUInt16(data), nil
}

func readPacketPayload(payload *mqtt.Payload) (FieldPayload, error) {
	startByte := payload.CurrentPtr
	contextLen := payload.ContextLen
	if startByte+1 >= contextLen {
		return FieldPayload{}, fmt.Errorf("%w: insufficient bytes for length", mqtt.ErrProtocolViolation)
	}
	length := int(mqtt.ByteToUInt16(payload.Context[startByte : startByte+2]))
	end := startByte + 2 + length
	if end > contextLen {
		return FieldPayload{}, fmt.Errorf("%w: payload length %d exceeds buffer (len=%d)", mqtt.ErrProtocolViolation, length, contextLen)
	}
	payload.CurrentPtr = end
	return FieldPayload{
		PayloadLength: length,
		Payload:       payload.Context[startByte+2 : end],
	}, nil
}

// readPacketString reads a length-prefixed field that must be well-formed UTF-8 without U+0000.
func readPacketString(payload *mqtt.Payload) (FieldPayload, error) {
	field, err := readPacketPayload(payload)
	if err != nil {
		return field, err
	}
	if !utf8.Valid(field.Payload) {
		return field, fmt.Errorf("%w: string is not valid UTF-8", mqtt.ErrProtocolViolation)
	}
	for _, b := range field.Payload {
		if b == 0 {
			return field, fmt.Errorf("%w: string contains U+0000", mqtt.ErrProtocolViolation)
		}
	}
	return field, nil
}

func appendField(dst []byte, value []byte) []byte {
	dst = append(dst, mqtt.UInt16ToByte(uint16(len(value)))...)
	return append(dst, value...)
}

// ExpectEmpty rejects a packet that must not carry a variable header or payload.
func ExpectEmpty(packet *mqtt.Packet) error {
	if packet.Header.RemainingLength != 0 {
		return fmt.Errorf("%w: %s packet must have zero remaining length", mqtt.ErrProtocolViolation, packet.Header.Type)
	}
	return nil
}

func expectConsumed(payload *mqtt.Payload, pt mqtt.PacketType) error {
	if payload.CheckRemainingLength() {
		return fmt.Errorf("%w: %d trailing bytes in %s packet", mqtt.ErrProtocolViolation, payload.Remaining(), pt)
	}
	return nil
}
