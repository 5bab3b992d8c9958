package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

type PeerAddr struct {
	IP   net.IP
	Port uint16
}

func (peer PeerAddr) String() string {
	return net.JoinHostPort(peer.IP.String(), strconv.Itoa(int(peer.Port)))
}

func (peer PeerAddr) Equal(other PeerAddr) bool {
	return peer.Port == other.Port && peer.IP.Equal(other.IP)
}

type IPv4Peers []PeerAddr

type IPv6Peers []PeerAddr

func (peers IPv4Peers) MarshalBinary() ([]byte, error) {
	return marshalPeers(peers, net.IPv4len, func(ip net.IP) net.IP { return ip.To4() })
}

func (peers *IPv4Peers) UnmarshalBinary(data []byte) error {
	result, err := unmarshalPeers(data, net.IPv4len)
	if err != nil {
		return err
	}

	*peers = result
	return nil
}

func (peers IPv6Peers) MarshalBinary() ([]byte, error) {
	return marshalPeers(peers, net.IPv6len, func(ip net.IP) net.IP {
		// IPv4 addresses also have a 16 byte form, only real IPv6 ones belong here
		if ip.To4() != nil {
			return nil
		}
		return ip.To16()
	})
}

func (peers *IPv6Peers) UnmarshalBinary(data []byte) error {
	result, err := unmarshalPeers(data, net.IPv6len)
	if err != nil {
		return err
	}

	*peers = result
	return nil
}

func marshalPeers(peers []PeerAddr, ipLen int, convert func(net.IP) net.IP) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(peers)*(ipLen+2)))

	for _, peer := range peers {
		ip := convert(peer.IP)

		// skip this peer if the IP has the wrong family
		if ip == nil {
			continue
		}

		if _, err := buf.Write(ip); err != nil {
			return nil, err
		}

		if err := binary.Write(buf, binary.BigEndian, &peer.Port); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func unmarshalPeers(data []byte, ipLen int) ([]PeerAddr, error) {
	size := ipLen + 2
	if len(data)%size != 0 {
		return nil, fmt.Errorf("Compact peer list of %d bytes is not a multiple of %d", len(data), size)
	}

	peers := make([]PeerAddr, 0, len(data)/size)
	for offset := 0; offset < len(data); offset += size {
		ip := make(net.IP, ipLen)
		copy(ip, data[offset:offset+ipLen])

		peers = append(peers, PeerAddr{
			IP:   ip,
			Port: binary.BigEndian.Uint16(data[offset+ipLen : offset+size]),
		})
	}

	return peers, nil
}
