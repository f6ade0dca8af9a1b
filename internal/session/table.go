// Package session implements the session-association store dissectors use to
// keep per-flow state between chunks.
package session

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"

	"ficsniff/internal/dissect"
	"ficsniff/internal/flow"
)

// ErrFull is returned by Put when the table holds its maximum number of
// sessions.
var ErrFull = errors.New("session table full")

const defaultShards = 16

type record[V any] struct {
	value    V
	lastSeen time.Time
}

type shard[V any] struct {
	mu      sync.Mutex
	entries map[dissect.Ident]*record[V]
}

// Table is a sharded map from flow identity to session value. Each shard has
// its own lock, so operations on one identity are mutually exclusive.
type Table[V any] struct {
	shards []*shard[V]
	max    int64
	size   atomic.Int64
	now    func() time.Time
}

// NewTable creates a table with numShards shards holding at most maxSessions
// entries. A non-positive maxSessions means unbounded.
func NewTable[V any](numShards, maxSessions int) *Table[V] {
	if numShards <= 0 {
		numShards = defaultShards
	}
	t := &Table[V]{
		shards: make([]*shard[V], numShards),
		max:    int64(maxSessions),
		now:    time.Now,
	}
	for i := range t.shards {
		t.shards[i] = &shard[V]{entries: make(map[dissect.Ident]*record[V])}
	}
	return t
}

func (t *Table[V]) shardFor(id dissect.Ident) *shard[V] {
	return t.shards[hashFlow(id.Flow)%uint64(len(t.shards))]
}

// hashFlow hashes only the flow part of an identity so every tag of a flow
// lands in the same shard.
func hashFlow(k flow.FlowKey) uint64 {
	buf := make([]byte, 0, len(k.IP1)+len(k.IP2)+len(k.Protocol)+7)
	buf = append(buf, k.IP1...)
	buf = append(buf, 0)
	buf = append(buf, k.IP2...)
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint16(buf, k.Port1)
	buf = binary.BigEndian.AppendUint16(buf, k.Port2)
	buf = append(buf, k.Protocol...)
	return xxh3.Hash(buf)
}

// Get returns the session for id and whether it exists.
func (t *Table[V]) Get(id dissect.Ident) (V, bool) {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.entries[id]
	if !ok {
		var zero V
		return zero, false
	}
	r.lastSeen = t.now()
	return r.value, true
}

// Put stores v under id, replacing any previous value.
func (t *Table[V]) Put(id dissect.Ident, v V) error {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.entries[id]; ok {
		r.value = v
		r.lastSeen = t.now()
		return nil
	}
	if !t.reserve() {
		return ErrFull
	}
	s.entries[id] = &record[V]{value: v, lastSeen: t.now()}
	return nil
}

// reserve claims one slot of capacity. Puts on different shards race on size
// alone, so the claim is a compare-and-swap.
func (t *Table[V]) reserve() bool {
	for {
		n := t.size.Load()
		if t.max > 0 && n >= t.max {
			return false
		}
		if t.size.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Delete removes the session for id, if any.
func (t *Table[V]) Delete(id dissect.Ident) {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; ok {
		delete(s.entries, id)
		t.size.Add(-1)
	}
}

// PurgeFlow removes the sessions of every dissector on the flow k and returns
// how many were removed.
func (t *Table[V]) PurgeFlow(k flow.FlowKey) int {
	s := t.shards[hashFlow(k)%uint64(len(t.shards))]
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id := range s.entries {
		if id.Flow == k {
			delete(s.entries, id)
			n++
		}
	}
	t.size.Add(int64(-n))
	return n
}

// EvictIdle removes sessions not touched since cutoff and returns how many
// were removed.
func (t *Table[V]) EvictIdle(cutoff time.Time) int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for id, r := range s.entries {
			if r.lastSeen.Before(cutoff) {
				delete(s.entries, id)
				n++
			}
		}
		s.mu.Unlock()
	}
	t.size.Add(int64(-n))
	return n
}

// Len returns the number of stored sessions.
func (t *Table[V]) Len() int {
	return int(t.size.Load())
}
