package cluster

import (
	"log/slog"
	"slices"
	"sync"
)

// Listener is notified of state changes, in order, on the goroutine that
// applied the change.
type Listener interface {
	ClusterChanged(event ChangedEvent)
}

// Service holds the current cluster state and fans changes out to listeners.
type Service struct {
	applyMu sync.Mutex // serializes Apply so listeners see changes in order

	mu        sync.RWMutex
	state     State
	listeners []Listener

	logger *slog.Logger
}

func NewService(localNodeID string, logger *slog.Logger) *Service {
	return &Service{
		state:  State{LocalNodeID: localNodeID, Routing: RoutingTable{}},
		logger: logger.With("component", "cluster"),
	}
}

func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Service) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Apply replaces membership and routing and notifies listeners when either
// changed. It reports whether anything changed.
func (s *Service) Apply(nodes []string, routing RoutingTable) bool {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	prev := s.state
	next := State{LocalNodeID: prev.LocalNodeID, Nodes: slices.Clone(nodes), Routing: routing}
	event := ChangedEvent{Previous: prev, Current: next}
	if !event.NodesChanged() && !routingDiffers(prev.Routing, routing) {
		s.mu.Unlock()
		return false
	}
	s.state = next
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	s.logger.Info("cluster state changed", "nodes", len(next.Nodes), "shard_copies", copyCount(routing))
	for _, l := range listeners {
		l.ClusterChanged(event)
	}
	return true
}

func routingDiffers(a, b RoutingTable) bool {
	if len(a) != len(b) {
		return true
	}
	for id, copies := range a {
		if !slices.Equal(copies, b[id]) {
			return true
		}
	}
	return false
}

func copyCount(r RoutingTable) int {
	n := 0
	for _, copies := range r {
		n += len(copies)
	}
	return n
}
