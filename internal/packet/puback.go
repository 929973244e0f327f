package packet

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/mqtt"
)

func NewPubAckPacket(packetID uint16) []byte {
	return mqtt.Encode(mqtt.PUBACK, 0, mqtt.UInt16ToByte(packetID))
}

func ParsePubAckPacket(packet *mqtt.Packet) (uint16, error) {
	if packet.Header.RemainingLength != 2 {
		return 0, fmt.Errorf("%w: PUBACK remaining length must be 2, got %d", mqtt.ErrProtocolViolation, packet.Header.RemainingLength)
	}
	return readPacketID(packet.Payload)
}
