package protocol

import (
	"bytes"
	"net"
	"testing"
)

func TestIPv4PeerMarshalBinary(t *testing.T) {
	var tests = []struct {
		peers    IPv4Peers
		expected []byte
	}{
		{
			peers: IPv4Peers{
				{
					IP:   net.ParseIP("127.0.0.1"),
					Port: uint16(8080),
				},
				{
					IP:   net.ParseIP("192.168.178.1"),
					Port: uint16(8080),
				},
				{
					IP:   net.ParseIP("::1"),
					Port: uint16(8080),
				},
			},
			expected: []byte{
				0x7f, 0x00, 0x00, 0x01, 0x1F, 0x90,
				0xC0, 0xA8, 0xB2, 0x01, 0x1F, 0x90,
			},
		},
	}

	for _, test := range tests {
		actual, err := test.peers.MarshalBinary()
		if err != nil {
			t.Fatalf("IPv4Peers.MarshalBinary() returned error: %v", err)
		}

		if !bytes.Equal(actual, test.expected) {
			t.Fatalf("IPv4Peers.MarshalBinary() returned %v, expected %v", actual, test.expected)
		}
	}
}

func TestIPv4PeerUnmarshalBinary(t *testing.T) {
	var peers IPv4Peers
	err := peers.UnmarshalBinary([]byte{
		0x7f, 0x00, 0x00, 0x01, 0x1F, 0x90,
		0xC0, 0xA8, 0xB2, 0x01, 0x1A, 0xE1,
	})
	if err != nil {
		t.Fatalf("IPv4Peers.UnmarshalBinary() returned error: %v", err)
	}

	expected := []PeerAddr{
		{IP: net.IPv4(127, 0, 0, 1), Port: 8080},
		{IP: net.IPv4(192, 168, 178, 1), Port: 6881},
	}

	if len(peers) != len(expected) {
		t.Fatalf("expected %d peers, got %d", len(expected), len(peers))
	}

	for i := range expected {
		if !peers[i].Equal(expected[i]) {
			t.Fatalf("peer %d: expected %v, got %v", i, expected[i], peers[i])
		}
	}
}

func TestIPv4PeerUnmarshalBinaryInvalidLength(t *testing.T) {
	var peers IPv4Peers
	if err := peers.UnmarshalBinary([]byte{0x7f, 0x00, 0x00}); err == nil {
		t.Fatal("IPv4Peers.UnmarshalBinary() accepted a truncated peer")
	}
}

func TestIPv6PeerRoundTrip(t *testing.T) {
	peers := IPv6Peers{
		{IP: net.ParseIP("2001:db8::1"), Port: 51413},
		{IP: net.ParseIP("10.0.0.1"), Port: 1},
	}

	b, err := peers.MarshalBinary()
	if err != nil {
		t.Fatalf("IPv6Peers.MarshalBinary() returned error: %v", err)
	}

	if len(b) != net.IPv6len+2 {
		t.Fatalf("expected %d bytes, got %d", net.IPv6len+2, len(b))
	}

	var decoded IPv6Peers
	if err := decoded.UnmarshalBinary(b); err != nil {
		t.Fatalf("IPv6Peers.UnmarshalBinary() returned error: %v", err)
	}

	if len(decoded) != 1 || !decoded[0].Equal(peers[0]) {
		t.Fatalf("unexpected peers %v", decoded)
	}

	if decoded[0].String() != "[2001:db8::1]:51413" {
		t.Fatalf("unexpected peer string %s", decoded[0].String())
	}
}
