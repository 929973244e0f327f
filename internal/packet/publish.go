package packet

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/mqtt"
)

type PublishPacketFlag struct {
	RetryFlag bool // DUP
	QoS       byte
	Retain    bool
}

type PublishPacketPayloads struct {
	PacketFlag PublishPacketFlag
	TopicName  FieldPayload
	PacketID   uint16
	Payload    []byte
}

func NewPublishPacket(packetPayloads *PublishPacketPayloads) []byte {
	var flags byte
	if packetPayloads.PacketFlag.RetryFlag && packetPayloads.PacketFlag.QoS > 0 {
		flags |= 0x08
	}
	flags |= (packetPayloads.PacketFlag.QoS & 0x03) << 1
	if packetPayloads.PacketFlag.Retain {
		flags |= 0x01
	}

	body := make([]byte, 0, 2+len(packetPayloads.TopicName.Payload)+2+len(packetPayloads.Payload))
	body = appendField(body, packetPayloads.TopicName.Payload)
	if packetPayloads.PacketFlag.QoS > 0 {
		body = append(body, mqtt.UInt16ToByte(packetPayloads.PacketID)...)
	}
	body = append(body, packetPayloads.Payload...)
	return mqtt.Encode(mqtt.PUBLISH, flags, body)
}

func ParsePublishPacket(packet *mqtt.Packet) (*PublishPacketPayloads, error) {
	result := &PublishPacketPayloads{
		PacketFlag: PublishPacketFlag{
			RetryFlag: packet.Header.Flags&0x08 != 0,
			QoS:       (packet.Header.Flags & 0x06) >> 1,
			Retain:    packet.Header.Flags&0x01 == 1,
		},
	}

	if result.PacketFlag.QoS == 0 && result.PacketFlag.RetryFlag {
		return result, fmt.Errorf("%w: when QoS level is 0 the DUP flag must be 0", mqtt.ErrProtocolViolation)
	}

	if result.PacketFlag.QoS == 3 {
		return result, fmt.Errorf("%w: the QoS level must not be 3", mqtt.ErrProtocolViolation)
	}

	topicName, err := readPacketString(packet.Payload)
	if err != nil {
		return result, fmt.Errorf("error occured when reading topic name: %w", err)
	}
	result.TopicName = topicName

	if result.PacketFlag.QoS > 0 {
		packetID, err := readPacketID(packet.Payload)
		if err != nil {
			return result, fmt.Errorf("error occured when reading packet ID: %w", err)
		}
		if packetID == 0 {
			return result, fmt.Errorf("%w: packet ID must be non-zero", mqtt.ErrProtocolViolation)
		}
		result.PacketID = packetID
	}

	payload, err := readPacketBytes(packet.Payload, packet.Payload.Remaining())
	if err != nil {
		return result, fmt.Errorf("error occured when reading payload: %w", err)
	}
	result.Payload = append([]byte(nil), payload...)

	return result, nil
}
