// Package dissect is the host side of application-layer dissection: it owns
// the packet abstraction handed to dissectors, flow identities and the
// port-based registration table.
package dissect

import (
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"ficsniff/internal/flow"
)

// Packet is one reassembled application-layer chunk of a TCP stream.
type Packet struct {
	Payload   []byte
	SrcIP     net.IP
	DstIP     net.IP
	SrcPort   uint16
	DstPort   uint16
	Timestamp time.Time
}

// Direction tells which side of a connection sent a chunk.
type Direction int

const (
	FromClient Direction = iota
	FromServer
)

func (d Direction) String() string {
	if d == FromServer {
		return "server"
	}
	return "client"
}

// Ident identifies one dissector's view of a flow. It is comparable and is
// meant to be used only as a map key.
type Ident struct {
	Flow flow.FlowKey
	Tag  string
}

// NewIdent builds the identity of pkt's flow for the dissector named tag.
// Both directions of a connection yield the same Ident.
func NewIdent(pkt *Packet, tag string) Ident {
	return Ident{
		Flow: flow.MakeFlowKey(pkt.SrcIP.String(), pkt.DstIP.String(), pkt.SrcPort, pkt.DstPort, "TCP"),
		Tag:  tag,
	}
}

func (id Ident) String() string {
	return fmt.Sprintf("%s [%s]", id.Flow, id.Tag)
}

// Dissector consumes application-layer chunks.
type Dissector interface {
	Dissect(pkt *Packet)
}

// DissectorFunc adapts a function to the Dissector interface.
type DissectorFunc func(pkt *Packet)

func (f DissectorFunc) Dissect(pkt *Packet) { f(pkt) }

type entry struct {
	name string
	port uint16
	d    Dissector
}

// Registry maps well-known server ports to dissectors.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*entry
	byPort map[uint16]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*entry),
		byPort: make(map[uint16]*entry),
	}
}

// Add registers d under name for TCP traffic to or from port.
func (r *Registry) Add(name string, port uint16, d Dissector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("dissector %q already registered", name)
	}
	if e, ok := r.byPort[port]; ok {
		return fmt.Errorf("port %d already taken by dissector %q", port, e.name)
	}
	e := &entry{name: name, port: port, d: d}
	r.byName[name] = e
	r.byPort[port] = e
	log.Printf("Registered dissector %s on TCP port %d", name, port)
	return nil
}

// FromServer reports whether pkt was sent by the server side of the
// dissector registered as name, i.e. from its listening port.
func (r *Registry) FromServer(name string, pkt *Packet) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byName[name]
	return ok && pkt.SrcPort == e.port
}

// Dispatch hands pkt to the dissector registered for its destination port,
// falling back to its source port. It reports whether any dissector ran.
func (r *Registry) Dispatch(pkt *Packet) bool {
	r.mu.RLock()
	e, ok := r.byPort[pkt.DstPort]
	if !ok {
		e, ok = r.byPort[pkt.SrcPort]
	}
	r.mu.RUnlock()

	if !ok {
		return false
	}
	e.d.Dissect(pkt)
	return true
}

// Handles reports whether a dissector is registered for port.
func (r *Registry) Handles(port uint16) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byPort[port]
	return ok
}

// Ports returns the registered ports in ascending order.
func (r *Registry) Ports() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ports := make([]uint16, 0, len(r.byPort))
	for p := range r.byPort {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}
