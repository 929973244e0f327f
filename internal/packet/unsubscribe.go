package packet

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/mqtt"
)

type UnSubscribePacketPayloads struct {
	PacketID uint16
	Filters  []string
}

// NewUnSubAckPacket encodes an UNSUBACK; MQTT 3.1.1 UNSUBACK has no payload.
func NewUnSubAckPacket(packetID uint16) []byte {
	return mqtt.Encode(mqtt.UNSUBACK, 0, mqtt.UInt16ToByte(packetID))
}

func NewUnSubscribePacket(p *UnSubscribePacketPayloads) []byte {
	body := make([]byte, 0, 16)
	body = append(body, mqtt.UInt16ToByte(p.PacketID)...)
	for _, filter := range p.Filters {
		body = appendField(body, []byte(filter))
	}
	return mqtt.Encode(mqtt.UNSUBSCRIBE, 0x02, body)
}

func ParseUnSubscribePacket(packet *mqtt.Packet) (*UnSubscribePacketPayloads, error) {
	result := &UnSubscribePacketPayloads{
		Filters: make([]string, 0),
	}

	packetID, err := readPacketID(packet.Payload)
	if err != nil {
		return result, fmt.Errorf("error occured when reading packet ID: %w", err)
	}
	if packetID == 0 {
		return result, fmt.Errorf("%w: packet ID must be non-zero", mqtt.ErrProtocolViolation)
	}
	result.PacketID = packetID

	for packet.Payload.CheckRemainingLength() {
		topicFilter, err := readPacketString(packet.Payload)
		if err != nil {
			return result, fmt.Errorf("error occured when reading topic filter: %w", err)
		}
		result.Filters = append(result.Filters, string(topicFilter.Payload))
	}

	if len(result.Filters) == 0 {
		return result, fmt.Errorf("%w: UNSUBSCRIBE without topic filters", mqtt.ErrProtocolViolation)
	}

	return result, nil
}
