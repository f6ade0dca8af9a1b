// Package testutil builds synthetic TCP conversations for tests.
package testutil

import (
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Endpoint is one side of a synthetic TCP connection.
type Endpoint struct {
	IP   net.IP
	Port uint16
	MAC  net.HardwareAddr
	seq  uint32
}

// Conn produces the packets of one TCP connection, keeping sequence and
// acknowledgement numbers consistent in both directions.
type Conn struct {
	Client *Endpoint
	Server *Endpoint
	clock  time.Time
}

// NewConn creates a connection between client and server addresses.
func NewConn(clientIP string, clientPort uint16, serverIP string, serverPort uint16) *Conn {
	return &Conn{
		Client: &Endpoint{IP: net.ParseIP(clientIP).To4(), Port: clientPort, MAC: net.HardwareAddr{2, 0, 0, 0, 0, 1}, seq: 1000},
		Server: &Endpoint{IP: net.ParseIP(serverIP).To4(), Port: serverPort, MAC: net.HardwareAddr{2, 0, 0, 0, 0, 2}, seq: 5000},
		clock:  time.Unix(1700000000, 0),
	}
}

// Wait advances the capture clock by d before the next segment.
func (c *Conn) Wait(d time.Duration) {
	c.clock = c.clock.Add(d)
}

// Handshake returns SYN, SYN-ACK and ACK.
func (c *Conn) Handshake() []gopacket.Packet {
	return []gopacket.Packet{
		c.segment(c.Client, c.Server, layers.TCP{SYN: true}, nil),
		c.segment(c.Server, c.Client, layers.TCP{SYN: true, ACK: true}, nil),
		c.segment(c.Client, c.Server, layers.TCP{ACK: true}, nil),
	}
}

// FromClient returns a data segment sent by the client.
func (c *Conn) FromClient(payload []byte) gopacket.Packet {
	return c.segment(c.Client, c.Server, layers.TCP{ACK: true, PSH: true}, payload)
}

// FromServer returns a data segment sent by the server.
func (c *Conn) FromServer(payload []byte) gopacket.Packet {
	return c.segment(c.Server, c.Client, layers.TCP{ACK: true, PSH: true}, payload)
}

// Close returns a client FIN, the server FIN-ACK and the final ACK.
func (c *Conn) Close() []gopacket.Packet {
	return []gopacket.Packet{
		c.segment(c.Client, c.Server, layers.TCP{FIN: true, ACK: true}, nil),
		c.segment(c.Server, c.Client, layers.TCP{FIN: true, ACK: true}, nil),
		c.segment(c.Client, c.Server, layers.TCP{ACK: true}, nil),
	}
}

func (c *Conn) segment(from, to *Endpoint, tcp layers.TCP, payload []byte) gopacket.Packet {
	eth := &layers.Ethernet{
		SrcMAC:       from.MAC,
		DstMAC:       to.MAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    from.IP,
		DstIP:    to.IP,
	}
	tcp.SrcPort = layers.TCPPort(from.Port)
	tcp.DstPort = layers.TCPPort(to.Port)
	tcp.Seq = from.seq
	tcp.Window = 65535
	if tcp.ACK {
		tcp.Ack = to.seq
	}
	tcp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, &tcp, gopacket.Payload(payload)); err != nil {
		panic(err)
	}

	from.seq += uint32(len(payload))
	if tcp.SYN || tcp.FIN {
		from.seq++
	}

	c.clock = c.clock.Add(10 * time.Millisecond)
	pkt := gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
	pkt.Metadata().Timestamp = c.clock
	pkt.Metadata().CaptureLength = len(buf.Bytes())
	pkt.Metadata().Length = len(buf.Bytes())
	return pkt
}

type sliceSource struct {
	pkts []gopacket.Packet
}

func (s *sliceSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if len(s.pkts) == 0 {
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	p := s.pkts[0]
	s.pkts = s.pkts[1:]
	return p.Data(), p.Metadata().CaptureInfo, nil
}

// Source replays pkts as an Ethernet packet source.
func Source(pkts []gopacket.Packet) *gopacket.PacketSource {
	return gopacket.NewPacketSource(&sliceSource{pkts: pkts}, layers.LayerTypeEthernet)
}
