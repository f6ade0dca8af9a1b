package stream

import (
	"encoding/binary"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/tcpassembly"

	"ficsniff/internal/dissect"
	"ficsniff/internal/flow"
	"ficsniff/internal/parser"
)

const (
	inputChanCap         = 4096
	defaultFlushInterval = 30 * time.Second
	defaultStreamTimeout = 10 * time.Minute
)

// Dispatcher receives reassembled chunks. It is implemented by
// dissect.Registry.
type Dispatcher interface {
	Dispatch(pkt *dissect.Packet) bool
	Handles(port uint16) bool
}

// Options tunes a Manager.
type Options struct {
	// FlushInterval is both the tick period and the age after which data
	// buffered behind a sequence gap is pushed through.
	FlushInterval time.Duration
	// StreamTimeout is how long a half-connection may stay silent before its
	// reassembly state is dropped. Ages are measured in packet time.
	StreamTimeout time.Duration
	// OnFlowClose is called when the flow tracker sees a flow reach CLOSED.
	// Tearing down a stalled stream does not count as a close.
	OnFlowClose func(key flow.FlowKey)
	// OnTick is called on every flush tick.
	OnTick func(now time.Time)
}

// Stats are running counters of a Manager.
type Stats struct {
	Packets int64
	Chunks  int64
	Streams int64
}

// Manager coordinates TCP stream reassembly and hands every contiguous
// segment of payload to the dispatcher.
type Manager struct {
	factory    *chunkStreamFactory
	assembler  *tcpassembly.Assembler
	pool       *tcpassembly.StreamPool
	tracker    *flow.Tracker
	dispatcher Dispatcher
	opts       Options

	inputCh  chan gopacket.Packet
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	// latest packet timestamp seen; owned by the assembler goroutine
	latest time.Time

	packets atomic.Int64
	chunks  atomic.Int64
	streams atomic.Int64
}

// NewManager creates a new stream reassembly manager.
func NewManager(dispatcher Dispatcher, tracker *flow.Tracker, opts Options) *Manager {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = defaultStreamTimeout
	}
	m := &Manager{
		tracker:    tracker,
		dispatcher: dispatcher,
		opts:       opts,
		inputCh:    make(chan gopacket.Packet, inputChanCap),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	m.factory = &chunkStreamFactory{mgr: m}
	m.pool = tcpassembly.NewStreamPool(m.factory)
	m.assembler = tcpassembly.NewAssembler(m.pool)

	return m
}

// Feed sends a packet to the assembler goroutine. It blocks while the input
// queue is full and returns false once the manager is stopped.
func (m *Manager) Feed(pkt gopacket.Packet) bool {
	select {
	case <-m.stopCh:
		return false
	default:
	}
	select {
	case m.inputCh <- pkt:
		return true
	case <-m.stopCh:
		return false
	}
}

// Start launches the assembler goroutine and flush ticker.
func (m *Manager) Start() {
	go m.assembleLoop()
}

// Stop drains queued packets, flushes every connection and waits for the
// assembler goroutine to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Packets: m.packets.Load(),
		Chunks:  m.chunks.Load(),
		Streams: m.streams.Load(),
	}
}

func (m *Manager) assembleLoop() {
	defer close(m.doneCh)

	flushTicker := time.NewTicker(m.opts.FlushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-m.stopCh:
			for {
				select {
				case pkt := <-m.inputCh:
					m.Assemble(pkt)
				default:
					m.FlushAll()
					return
				}
			}
		case pkt := <-m.inputCh:
			m.Assemble(pkt)
		case now := <-flushTicker.C:
			m.tick(now)
		}
	}
}

// tick flushes stalled reassembly state. Cutoffs are relative to the newest
// packet timestamp, so offline captures age by their own clock. now is the
// wall time handed to OnTick.
func (m *Manager) tick(now time.Time) {
	if !m.latest.IsZero() {
		m.assembler.FlushWithOptions(tcpassembly.FlushOptions{T: m.latest.Add(-m.opts.FlushInterval)})
		if _, closed := m.assembler.FlushOlderThan(m.latest.Add(-m.opts.StreamTimeout)); closed > 0 {
			log.Printf("Dropped %d stalled half-connection(s)", closed)
		}
	}
	if m.opts.OnTick != nil {
		m.opts.OnTick(now)
	}
}

// Assemble runs one packet through flow tracking and reassembly. It must only
// be called from a single goroutine; Start's loop is that goroutine when
// running.
func (m *Manager) Assemble(pkt gopacket.Packet) {
	tuple := parser.ExtractFlowTuple(pkt)
	if !tuple.IsTCP() || pkt.NetworkLayer() == nil {
		return
	}
	tcp, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if !ok {
		return
	}
	m.packets.Add(1)

	var closed bool
	var key flow.FlowKey
	if m.tracker != nil {
		key, _, closed = m.tracker.Track(tuple.SrcIP, tuple.DstIP, tuple.SrcPort, tuple.DstPort,
			tuple.Protocol, tuple.Payload, tuple.Flags)
	}

	ts := pkt.Metadata().Timestamp
	if ts.After(m.latest) {
		m.latest = ts
	}
	m.assembler.AssembleWithTimestamp(pkt.NetworkLayer().NetworkFlow(), tcp, ts)

	if closed {
		m.flowClosed(key)
	}
}

// FlushAll closes every open connection, delivering buffered data first.
func (m *Manager) FlushAll() {
	m.assembler.FlushAll()
}

func (m *Manager) flowClosed(key flow.FlowKey) {
	if m.opts.OnFlowClose != nil {
		m.opts.OnFlowClose(key)
	}
}

func (m *Manager) dispatch(pkt *dissect.Packet) {
	m.chunks.Add(1)
	m.dispatcher.Dispatch(pkt)
}

// chunkStreamFactory creates streams for the TCP assembler.
type chunkStreamFactory struct {
	mgr *Manager
}

func (f *chunkStreamFactory) New(netFlow, tcpFlow gopacket.Flow) tcpassembly.Stream {
	srcPort := endpointPort(tcpFlow.Src())
	dstPort := endpointPort(tcpFlow.Dst())
	if !f.mgr.dispatcher.Handles(srcPort) && !f.mgr.dispatcher.Handles(dstPort) {
		return discardStream{}
	}

	f.mgr.streams.Add(1)
	return &chunkStream{
		mgr:     f.mgr,
		srcIP:   net.IP(netFlow.Src().Raw()),
		dstIP:   net.IP(netFlow.Dst().Raw()),
		srcPort: srcPort,
		dstPort: dstPort,
	}
}

func endpointPort(ep gopacket.Endpoint) uint16 {
	raw := ep.Raw()
	if len(raw) != 2 {
		return 0
	}
	return binary.BigEndian.Uint16(raw)
}

// chunkStream delivers each contiguous reassembled segment of one direction
// of a connection as a separate chunk.
type chunkStream struct {
	mgr     *Manager
	srcIP   net.IP
	dstIP   net.IP
	srcPort uint16
	dstPort uint16
}

func (s *chunkStream) Reassembled(reassemblies []tcpassembly.Reassembly) {
	for _, r := range reassemblies {
		if r.Skip > 0 {
			log.Printf("Stream %s:%d -> %s:%d lost %d bytes", s.srcIP, s.srcPort, s.dstIP, s.dstPort, r.Skip)
		}
		// The assembler reuses its buffers.
		payload := make([]byte, len(r.Bytes))
		copy(payload, r.Bytes)

		s.mgr.dispatch(&dissect.Packet{
			Payload:   payload,
			SrcIP:     s.srcIP,
			DstIP:     s.dstIP,
			SrcPort:   s.srcPort,
			DstPort:   s.dstPort,
			Timestamp: r.Seen,
		})
	}
}

// ReassemblyComplete fires on FIN, RST or a timeout flush alike. Session
// teardown is driven by the flow tracker instead.
func (s *chunkStream) ReassemblyComplete() {}

type discardStream struct{}

func (discardStream) Reassembled([]tcpassembly.Reassembly) {}
func (discardStream) ReassemblyComplete()                  {}
