package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"ficsniff/internal/capture"
	"ficsniff/internal/config"
	"ficsniff/internal/dissect"
	"ficsniff/internal/dissect/fics"
	"ficsniff/internal/flow"
	"ficsniff/internal/models"
	"ficsniff/internal/session"
	"ficsniff/internal/sink"
	"ficsniff/internal/stream"
)

const maxRecentEvents = 256

// Client represents a connected WebSocket client that receives events.
type Client interface {
	SendMessage(msg models.WSMessage) error
}

// Engine owns the dissector host: registry, session store and flow table. It
// runs captures through reassembly and fans events out to sinks and clients.
type Engine struct {
	mu          sync.Mutex
	clients     map[Client]bool
	cfg         *config.Config
	registry    *dissect.Registry
	sessions    *session.Table[*fics.Session]
	tracker     *flow.Tracker
	out         sink.Sink
	idleTimeout time.Duration
	liveCapture *capture.LiveCapture
	liveManager *stream.Manager
	stopCh      chan struct{}
	capturing   bool
	pktCount    int
	startTime   time.Time
	recent      []models.Event
	emitted     int
}

// New creates an Engine and registers the FICS dissector. out receives every
// event in addition to WebSocket clients; it may be nil.
func New(cfg *config.Config, out sink.Sink) (*Engine, error) {
	idle, err := cfg.IdleTimeout()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		clients:     make(map[Client]bool),
		cfg:         cfg,
		registry:    dissect.NewRegistry(),
		sessions:    session.NewTable[*fics.Session](cfg.Sessions.NumShards, cfg.Sessions.MaxSessions),
		tracker:     flow.NewTracker(cfg.Sessions.MaxFlows, idle),
		out:         out,
		idleTimeout: idle,
	}

	if _, err := fics.Register(e.registry, e.sessions, e, cfg.Dissector.Port, cfg.Dissector.AltPort); err != nil {
		return nil, fmt.Errorf("register fics dissector: %w", err)
	}
	return e, nil
}

// RegisterClient adds a client to receive event broadcasts.
func (e *Engine) RegisterClient(c Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clients[c] = true
}

// UnregisterClient removes a client.
func (e *Engine) UnregisterClient(c Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.clients, c)
}

// Emit implements sink.Sink for the dissectors.
func (e *Engine) Emit(ev models.Event) {
	e.mu.Lock()
	e.emitted++
	e.recent = append(e.recent, ev)
	if len(e.recent) > maxRecentEvents {
		e.recent = e.recent[len(e.recent)-maxRecentEvents:]
	}
	e.mu.Unlock()

	if e.out != nil {
		e.out.Emit(ev)
	}

	payload, _ := json.Marshal(ev)
	e.broadcast(models.WSMessage{Type: ev.Type, Payload: payload})
}

// RecentEvents returns up to the last 256 events, oldest first.
func (e *Engine) RecentEvents() []models.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Event, len(e.recent))
	copy(out, e.recent)
	return out
}

// EventCount returns how many events have been emitted since start.
func (e *Engine) EventCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emitted
}

// Flows returns a snapshot of the tracked flows.
func (e *Engine) Flows() []*flow.Flow {
	return e.tracker.GetFlows()
}

// Stats returns capture counters.
func (e *Engine) Stats() models.CaptureStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := models.CaptureStats{
		PacketCount:  e.pktCount,
		SessionCount: e.sessions.Len(),
		FlowCount:    e.tracker.Len(),
	}
	if e.liveCapture != nil && e.capturing {
		st.InterfaceName = e.liveCapture.Interface()
	}
	if e.liveManager != nil {
		st.ChunkCount = int(e.liveManager.Stats().Chunks)
	}
	return st
}

// GetInterfaces returns available network interfaces.
func (e *Engine) GetInterfaces() ([]models.InterfaceInfo, error) {
	ifaces, err := capture.ListInterfaces()
	if err != nil {
		return nil, err
	}
	var out []models.InterfaceInfo
	for _, i := range ifaces {
		out = append(out, models.InterfaceInfo{
			Name:        i.Name,
			Description: i.Description,
			Addresses:   i.Addresses,
		})
	}
	return out, nil
}

// Filter returns the BPF filter to use when none is configured.
func (e *Engine) Filter(override string) string {
	if override != "" {
		return override
	}
	return capture.BuildFilter(e.registry.Ports())
}

func (e *Engine) newManager() *stream.Manager {
	return stream.NewManager(e.registry, e.tracker, stream.Options{
		StreamTimeout: e.idleTimeout,
		OnFlowClose: func(k flow.FlowKey) {
			if n := e.sessions.PurgeFlow(k); n > 0 {
				log.Printf("Flow %s closed, dropped %d unfinished session(s)", k, n)
			}
		},
		OnTick: func(now time.Time) {
			if n := e.sessions.EvictIdle(now.Add(-e.idleTimeout)); n > 0 {
				log.Printf("Evicted %d idle session(s)", n)
			}
		},
	})
}

// StartCapture begins a live capture on the given interface.
func (e *Engine) StartCapture(req models.StartCaptureRequest) error {
	e.mu.Lock()
	if e.capturing {
		e.mu.Unlock()
		return fmt.Errorf("capture already running")
	}
	e.mu.Unlock()

	filter := e.Filter(req.BPFFilter)
	lc, err := capture.NewLiveCapture(req.Interface, filter, req.SnapLen)
	if err != nil {
		return err
	}
	mgr := e.newManager()
	mgr.Start()

	e.mu.Lock()
	e.liveCapture = lc
	e.liveManager = mgr
	e.capturing = true
	e.pktCount = 0
	e.startTime = time.Now()
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	log.Printf("Capturing on %s with filter %q", req.Interface, filter)
	payload, _ := json.Marshal(map[string]string{"interfaceName": req.Interface, "filter": filter})
	e.broadcast(models.WSMessage{Type: "capture_started", Payload: payload})

	go e.captureLoop(lc.Packets(), mgr, stopCh)

	return nil
}

// StopCapture stops the active capture.
func (e *Engine) StopCapture() {
	e.mu.Lock()
	if !e.capturing {
		e.mu.Unlock()
		return
	}
	e.capturing = false
	stopCh := e.stopCh
	lc := e.liveCapture
	mgr := e.liveManager
	e.mu.Unlock()

	// Broadcast immediately so clients get instant feedback
	e.broadcast(models.WSMessage{Type: "capture_stopped"})

	// handle.Close() may block briefly until the pending pcap read returns.
	close(stopCh)
	lc.Close()
	mgr.Stop()
	log.Printf("Capture stopped")
}

// LoadPcapFile runs every packet of a pcap file through the dissectors and
// returns once all of them have been processed.
func (e *Engine) LoadPcapFile(path string) error {
	reader, err := capture.NewPcapReader(path, e.Filter(e.cfg.Capture.BPFFilter))
	if err != nil {
		return err
	}
	defer reader.Close()

	return e.Process(reader.Packets())
}

// Process runs packets from source through reassembly until the source is
// exhausted, then flushes every open connection.
func (e *Engine) Process(source *gopacket.PacketSource) error {
	mgr := e.newManager()
	mgr.Start()

	n := 0
	for pkt := range source.Packets() {
		mgr.Feed(pkt)
		n++
	}
	mgr.Stop()

	e.mu.Lock()
	e.pktCount += n
	e.mu.Unlock()

	st := mgr.Stats()
	log.Printf("Processed %d packets, %d TCP chunks on %d streams", n, st.Chunks, st.Streams)
	return nil
}

func (e *Engine) captureLoop(source *gopacket.PacketSource, mgr *stream.Manager, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		pkt, err := source.NextPacket()
		if errors.Is(err, pcap.NextErrorTimeoutExpired) {
			continue
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			select {
			case <-stopCh:
				return
			default:
			}
			log.Printf("Packet read error: %v", err)
			continue
		}

		e.mu.Lock()
		e.pktCount++
		e.mu.Unlock()

		mgr.Feed(pkt)
	}
}

func (e *Engine) broadcast(msg models.WSMessage) {
	e.mu.Lock()
	clients := make([]Client, 0, len(e.clients))
	for c := range e.clients {
		clients = append(clients, c)
	}
	e.mu.Unlock()

	for _, c := range clients {
		c.SendMessage(msg)
	}
}
