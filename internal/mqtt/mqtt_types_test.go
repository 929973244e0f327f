package mqtt

import "testing"

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		pt     PacketType
		flags  byte
		expect bool
	}{
		{CONNECT, 0x00, true},
		{CONNECT, 0x01, false},
		{PUBREL, 0x02, true},
		{PUBREL, 0x03, false},
		{PUBREL, 0x00, false},
		{SUBSCRIBE, 0x02, true},
		{SUBSCRIBE, 0x00, false},
		{UNSUBSCRIBE, 0x02, true},
		{PUBLISH, 0x0F, true},
		{PINGREQ, 0x00, true},
		{DISCONNECT, 0x08, false},
	}

	for _, tt := range tests {
		result := ValidateFlags(tt.pt, tt.flags)
		if result != tt.expect {
			t.Errorf("type=%s flags=%04b expect=%v got=%v", tt.pt, tt.flags, tt.expect, result)
		}
	}
}

func TestPacketTypeString(t *testing.T) {
	if PUBACK.String() != "PUBACK" {
		t.Errorf("expect PUBACK, got %s", PUBACK.String())
	}
	if PacketType(15).String() != "RESERVED" {
		t.Errorf("expect RESERVED, got %s", PacketType(15).String())
	}
	if PacketType(0).Valid() || PacketType(15).Valid() {
		t.Error("reserved packet types must not be valid")
	}
}
