// Package testutil provides shared fakes for gateway tests.
package testutil

import (
	"sync"

	gateway "github.com/eugener/bifrost/internal"
)

// Sink records traffic and state events in memory. It implements both
// gateway.TrafficSink and gateway.StateSink and is safe for concurrent use.
type Sink struct {
	mu         sync.Mutex
	upstream   []gateway.UpstreamTrafficEvent
	downstream []gateway.DownstreamTrafficEvent
	states     []gateway.StateEvent
}

func (s *Sink) RecordUpstream(ev gateway.UpstreamTrafficEvent) {
	s.mu.Lock()
	s.upstream = append(s.upstream, ev)
	s.mu.Unlock()
}

func (s *Sink) RecordDownstream(ev gateway.DownstreamTrafficEvent) {
	s.mu.Lock()
	s.downstream = append(s.downstream, ev)
	s.mu.Unlock()
}

func (s *Sink) PublishState(ev gateway.StateEvent) {
	s.mu.Lock()
	s.states = append(s.states, ev)
	s.mu.Unlock()
}

// Upstream returns a copy of the recorded upstream events.
func (s *Sink) Upstream() []gateway.UpstreamTrafficEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gateway.UpstreamTrafficEvent, len(s.upstream))
	copy(out, s.upstream)
	return out
}

// Downstream returns a copy of the recorded downstream events.
func (s *Sink) Downstream() []gateway.DownstreamTrafficEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gateway.DownstreamTrafficEvent, len(s.downstream))
	copy(out, s.downstream)
	return out
}

// States returns a copy of the recorded state events.
func (s *Sink) States() []gateway.StateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gateway.StateEvent, len(s.states))
	copy(out, s.states)
	return out
}
