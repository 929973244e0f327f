// Package mqtt implements the MQTT 3.1.1 fixed header, remaining length encoding and packet framing.
package mqtt

import "errors"

// PacketType is the control packet type carried in the high nibble of the first header byte.
type PacketType byte

const (
	CONNECT     PacketType = iota + 1 // client request to connect
	CONNACK                           // connect acknowledgment
	PUBLISH                           // publish message
	PUBACK                            // QoS 1 publish acknowledgment
	PUBREC                            // QoS 2 step 1
	PUBREL                            // QoS 2 step 2
	PUBCOMP                           // QoS 2 step 3
	SUBSCRIBE                         // subscribe request
	SUBACK                            // subscribe acknowledgment
	UNSUBSCRIBE                       // unsubscribe request
	UNSUBACK                          // unsubscribe acknowledgment
	PINGREQ                           // ping request
	PINGRESP                          // ping response
	DISCONNECT                        // client is disconnecting
)

// MaxRemainingLength is the largest value four varint bytes can carry.
const MaxRemainingLength = 268435455

// ErrProtocolViolation is wrapped by every decoding error caused by a malformed or illegal packet.
var ErrProtocolViolation = errors.New("protocol violation")

var PacketTypeMap = map[PacketType]string{
	CONNECT:     "CONNECT",
	CONNACK:     "CONNACK",
	PUBLISH:     "PUBLISH",
	PUBACK:      "PUBACK",
	PUBREC:      "PUBREC",
	PUBREL:      "PUBREL",
	PUBCOMP:     "PUBCOMP",
	SUBSCRIBE:   "SUBSCRIBE",
	SUBACK:      "SUBACK",
	UNSUBSCRIBE: "UNSUBSCRIBE",
	UNSUBACK:    "UNSUBACK",
	PINGREQ:     "PINGREQ",
	PINGRESP:    "PINGRESP",
	DISCONNECT:  "DISCONNECT",
}

func (packetType PacketType) String() string {
	if name, ok := PacketTypeMap[packetType]; ok {
		return name
	}
	return "RESERVED"
}

// Valid reports whether the type is one of the fourteen defined control packets.
func (packetType PacketType) Valid() bool {
	return packetType >= CONNECT && packetType <= DISCONNECT
}

// allowedFlags holds the fixed header flag bits each packet type may carry.
var allowedFlags = map[PacketType]byte{
	CONNECT:     0x00,
	CONNACK:     0x00,
	PUBLISH:     0x0F, // DUP, QoS and RETAIN are all variable
	PUBACK:      0x00,
	PUBREC:      0x00,
	PUBREL:      0x02,
	PUBCOMP:     0x00,
	SUBSCRIBE:   0x02,
	SUBACK:      0x00,
	UNSUBSCRIBE: 0x02,
	UNSUBACK:    0x00,
	PINGREQ:     0x00,
	PINGRESP:    0x00,
	DISCONNECT:  0x00,
}

// requiredFlags holds the bits that must be set; MQTT 3.1.1 fixes them for PUBREL, SUBSCRIBE and UNSUBSCRIBE.
var requiredFlags = map[PacketType]byte{
	PUBREL:      0x02,
	SUBSCRIBE:   0x02,
	UNSUBSCRIBE: 0x02,
}

type FixedHeader struct {
	Type            PacketType
	Flags           byte
	RemainingLength int
}

// Payload is the variable header and payload of a packet together with a read cursor.
type Payload struct {
	Context    []byte
	ContextLen int
	CurrentPtr int
}

type Packet struct {
	Header  *FixedHeader
	Payload *Payload
}
