package session

// Message is an application message as accepted by the broker. It is never mutated after
// it enters the Dispatcher.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
	Sender  string
}

// Delivery is a message queued for one session at the QoS negotiated for that session.
type Delivery struct {
	Message Message
	QoS     byte
}

// Outbound is a delivery handed to the connection writer. PacketID is set for QoS 1.
type Outbound struct {
	PacketID uint16
	Message  Message
	QoS      byte
	Dup      bool
}

// PendingAck tracks a QoS 1 delivery from transmission until its PUBACK.
type PendingAck struct {
	PacketID uint16
	ClientID string
	Message  Message
	Attempts int

	seq       uint64
	resend    bool
	nextRetry int64 // unix nanoseconds, 0 means no timed retry
}
