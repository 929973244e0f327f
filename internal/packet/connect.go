package packet

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/mqtt"
)

// ConnectRespType is the CONNACK return code.
type ConnectRespType byte

const (
	Accepted ConnectRespType = iota
	UnacceptableProtocol
	IdentifierRejected
	ServerUnavailable
	AuthenticationFailed
	NotAuthorized
)

const (
	protocolName  = "MQTT"
	protocolLevel = 0x04
)

var connectRespNames = map[ConnectRespType]string{
	Accepted:             "Accepted",
	UnacceptableProtocol: "UnacceptableProtocol",
	IdentifierRejected:   "IdentifierRejected",
	ServerUnavailable:    "ServerUnavailable",
	AuthenticationFailed: "BadCredentials",
	NotAuthorized:        "NotAuthorized",
}

func (c ConnectRespType) String() string {
	if name, ok := connectRespNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ConnectRespType(%d)", byte(c))
}

// ConnectPacketFlag holds the CONNECT flags byte.
type ConnectPacketFlag struct {
	UsernameFlag    bool
	PasswordFlag    bool
	RemainFlag      bool
	QoSLevel        byte
	WillMessageFlag bool
	CleanSession    bool
}

func (f ConnectPacketFlag) encode() byte {
	var b byte
	if f.UsernameFlag {
		b |= 0x80
	}
	if f.PasswordFlag {
		b |= 0x40
	}
	if f.RemainFlag {
		b |= 0x20
	}
	b |= (f.QoSLevel & 0x03) << 3
	if f.WillMessageFlag {
		b |= 0x04
	}
	if f.CleanSession {
		b |= 0x02
	}
	return b
}

type ConnectPacketPayloads struct {
	ConnectFlag        ConnectPacketFlag
	ClientIdentifier   FieldPayload
	UsernamePayload    FieldPayload
	PasswordPayload    FieldPayload
	WillMessageTopic   FieldPayload
	WillMessageContent FieldPayload
	KeepAlive          int
}

func NewConnectAckPacket(sessionPresent bool, returnCode ConnectRespType) []byte {
	if sessionPresent && returnCode == Accepted {
		return []byte{0x20, 0x02, 0x01, byte(returnCode)}
	}
	return []byte{0x20, 0x02, 0x00, byte(returnCode)}
}

// ParseConnAckPacket returns the session present flag and return code of a CONNACK.
func ParseConnAckPacket(packet *mqtt.Packet) (bool, ConnectRespType, error) {
	if packet.Header.Type != mqtt.CONNACK || packet.Header.RemainingLength != 2 {
		return false, 0, fmt.Errorf("%w: malformed CONNACK packet", mqtt.ErrProtocolViolation)
	}
	return packet.Payload.Context[0]&0x01 == 1, ConnectRespType(packet.Payload.Context[1]), nil
}

// NewConnectPacket encodes a CONNECT packet; flags for optional fields follow the presence in p.ConnectFlag.
func NewConnectPacket(p *ConnectPacketPayloads) []byte {
	body := make([]byte, 0, 32)
	body = appendField(body, []byte(protocolName))
	body = append(body, protocolLevel, p.ConnectFlag.encode())
	body = append(body, mqtt.UInt16ToByte(uint16(p.KeepAlive))...)
	body = appendField(body, p.ClientIdentifier.Payload)
	if p.ConnectFlag.WillMessageFlag {
		body = appendField(body, p.WillMessageTopic.Payload)
		body = appendField(body, p.WillMessageContent.Payload)
	}
	if p.ConnectFlag.UsernameFlag {
		body = appendField(body, p.UsernamePayload.Payload)
	}
	if p.ConnectFlag.PasswordFlag {
		body = appendField(body, p.PasswordPayload.Payload)
	}
	return mqtt.Encode(mqtt.CONNECT, 0, body)
}

// ParseConnectPacket decodes the variable header and payload of a CONNECT packet. When the
// protocol level is not 3.1.1 the returned response is the CONNACK the caller must send
// before closing.
func ParseConnectPacket(packet *mqtt.Packet) (*ConnectPacketPayloads, []byte, error) {
	payload := packet.Payload
	result := &ConnectPacketPayloads{}

	protocolString, err := readPacketPayload(payload)
	if err != nil {
		return result, nil, fmt.Errorf("unable to check protocol string: %w", err)
	}
	if string(protocolString.Payload) != protocolName {
		return result, nil, fmt.Errorf("%w: incorrect protocol string %q", mqtt.ErrProtocolViolation, string(protocolString.Payload))
	}

	protocolVersion, err := readPacketByte(payload)
	if err != nil {
		return result, nil, fmt.Errorf("unable to read protocol version: %w", err)
	}
	if protocolVersion != protocolLevel {
		return result, NewConnectAckPacket(false, UnacceptableProtocol),
			fmt.Errorf("%w: unsupported protocol level %d", mqtt.ErrProtocolViolation, protocolVersion)
	}

	connectFlag, err := readPacketByte(payload)
	if err != nil {
		return result, nil, fmt.Errorf("unable to read connect flag: %w", err)
	}
	if connectFlag&0x01 != 0 {
		return result, nil, fmt.Errorf("%w: reserved connect flag is set", mqtt.ErrProtocolViolation)
	}

	result.ConnectFlag = ConnectPacketFlag{
		UsernameFlag:    connectFlag&0x80 != 0,
		PasswordFlag:    connectFlag&0x40 != 0,
		RemainFlag:      connectFlag&0x20 != 0,
		QoSLevel:        (connectFlag & 0x18) >> 3,
		WillMessageFlag: connectFlag&0x04 != 0,
		CleanSession:    connectFlag&0x02 != 0,
	}

	if !result.ConnectFlag.WillMessageFlag && (result.ConnectFlag.RemainFlag || result.ConnectFlag.QoSLevel != 0) {
		return result, nil, fmt.Errorf("%w: will retain and will QoS must be 0 without a will message", mqtt.ErrProtocolViolation)
	}
	if result.ConnectFlag.QoSLevel > 2 {
		return result, nil, fmt.Errorf("%w: will QoS must not be 3", mqtt.ErrProtocolViolation)
	}
	if result.ConnectFlag.PasswordFlag && !result.ConnectFlag.UsernameFlag {
		return result, nil, fmt.Errorf("%w: password flag set without username flag", mqtt.ErrProtocolViolation)
	}

	keepAlive, err := readPacketID(payload)
	if err != nil {
		return result, nil, fmt.Errorf("unable to read keep alive time: %w", err)
	}
	result.KeepAlive = int(keepAlive)

	clientID, err := readPacketString(payload)
	if err != nil {
		return result, nil, fmt.Errorf("client ID: %w", err)
	}
	result.ClientIdentifier = clientID

	if result.ConnectFlag.WillMessageFlag {
		willTopic, err := readPacketString(payload)
		if err != nil {
			return result, nil, fmt.Errorf("will topic: %w", err)
		}
		result.WillMessageTopic = willTopic

		willContent, err := readPacketPayload(payload)
		if err != nil {
			return result, nil, fmt.Errorf("will content: %w", err)
		}
		result.WillMessageContent = willContent
	}

	if result.ConnectFlag.UsernameFlag {
		username, err := readPacketString(payload)
		if err != nil {
			return result, nil, fmt.Errorf("username: %w", err)
		}
		result.UsernamePayload = username
	}

	if result.ConnectFlag.PasswordFlag {
		password, err := readPacketPayload(payload)
		if err != nil {
			return result, nil, fmt.Errorf("password: %w", err)
		}
		result.PasswordPayload = password
	}

	if err := expectConsumed(payload, mqtt.CONNECT); err != nil {
		return result, nil, err
	}

	return result, nil, nil
}
