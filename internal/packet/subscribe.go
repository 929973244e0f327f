package packet

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/mqtt"
)

// SubscribeState is a SUBACK return code.
type SubscribeState byte

const (
	SuccessQos0 SubscribeState = iota
	SuccessQos1
	SuccessQos2
	Failure SubscribeState = 0x80
)

type TopicSubscription struct {
	Filter string
	QoS    byte
}

type SubscribePacketPayloads struct {
	PacketID      uint16
	Subscriptions []TopicSubscription
}

func NewSubAckPacket(packetID uint16, states []SubscribeState) []byte {
	body := make([]byte, 0, 2+len(states))
	body = append(body, mqtt.UInt16ToByte(packetID)...)
	for _, state := range states {
		body = append(body, byte(state))
	}
	return mqtt.Encode(mqtt.SUBACK, 0, body)
}

func ParseSubAckPacket(packet *mqtt.Packet) (uint16, []SubscribeState, error) {
	packetID, err := readPacketID(packet.Payload)
	if err != nil {
		return 0, nil, err
	}
	states := make([]SubscribeState, 0, packet.Payload.Remaining())
	for packet.Payload.CheckRemainingLength() {
		b, _ := readPacketByte(packet.Payload)
		states = append(states, SubscribeState(b))
	}
	return packetID, states, nil
}

func NewSubscribePacket(p *SubscribePacketPayloads) []byte {
	body := make([]byte, 0, 16)
	body = append(body, mqtt.UInt16ToByte(p.PacketID)...)
	for _, sub := range p.Subscriptions {
		body = appendField(body, []byte(sub.Filter))
		body = append(body, sub.QoS)
	}
	return mqtt.Encode(mqtt.SUBSCRIBE, 0x02, body)
}

// ParseSubscribePacket decodes a SUBSCRIBE. Filter syntax is not checked here: a malformed filter
// only fails its own SUBACK entry.
func ParseSubscribePacket(packet *mqtt.Packet) (*SubscribePacketPayloads, error) {
	result := &SubscribePacketPayloads{
		Subscriptions: make([]TopicSubscription, 0),
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
		qos, err := readPacketByte(packet.Payload)
		if err != nil {
			return result, fmt.Errorf("error occured when reading qos level: %w", err)
		}
		if qos&0xFC != 0 || qos > 2 {
			return result, fmt.Errorf("%w: invalid requested QoS byte %#x", mqtt.ErrProtocolViolation, qos)
		}
		result.Subscriptions = append(result.Subscriptions, TopicSubscription{
			Filter: string(topicFilter.Payload),
			QoS:    qos,
		})
	}

	if len(result.Subscriptions) == 0 {
		return result, fmt.Errorf("%w: SUBSCRIBE without topic filters", mqtt.ErrProtocolViolation)
	}

	return result, nil
}
