// Package cluster tracks node membership and which nodes hold copies of each
// job index shard.
package cluster

import (
	"fmt"
	"slices"
	"sort"
)

type ShardID struct {
	Index string
	Shard int
}

func (s ShardID) String() string { return fmt.Sprintf("[%s][%d]", s.Index, s.Shard) }

// ShardCopy is one copy of a shard placed on a node. Only active copies
// take part in job ownership.
type ShardCopy struct {
	NodeID  string
	Primary bool
	Active  bool
}

type RoutingTable map[ShardID][]ShardCopy

// State is an immutable membership and routing snapshot as seen by LocalNodeID.
type State struct {
	LocalNodeID string
	Nodes       []string
	Routing     RoutingTable
}

// LocalActiveShards returns the shards of index with an active copy on the
// local node, ordered by shard number.
func (s State) LocalActiveShards(index string) []ShardID {
	var out []ShardID
	for id, copies := range s.Routing {
		if id.Index != index {
			continue
		}
		for _, c := range copies {
			if c.Active && c.NodeID == s.LocalNodeID {
				out = append(out, id)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Shard < out[j].Shard })
	return out
}

// ActiveNodes returns the ids of nodes holding an active copy of shard.
func (s State) ActiveNodes(shard ShardID) []string {
	var out []string
	for _, c := range s.Routing[shard] {
		if c.Active {
			out = append(out, c.NodeID)
		}
	}
	return out
}

// ChangedEvent is delivered to listeners whenever the state changes.
type ChangedEvent struct {
	Previous State
	Current  State
}

// RoutingChanged reports whether any shard of index moved between the two states.
func (e ChangedEvent) RoutingChanged(index string) bool {
	prev, cur := e.Previous.shardsOf(index), e.Current.shardsOf(index)
	if len(prev) != len(cur) {
		return true
	}
	for id, copies := range cur {
		if !slices.Equal(prev[id], copies) {
			return true
		}
	}
	return false
}

// NodesChanged reports whether membership changed.
func (e ChangedEvent) NodesChanged() bool {
	return !slices.Equal(e.Previous.Nodes, e.Current.Nodes)
}

func (s State) shardsOf(index string) map[ShardID][]ShardCopy {
	out := make(map[ShardID][]ShardCopy)
	for id, copies := range s.Routing {
		if id.Index == index {
			out[id] = copies
		}
	}
	return out
}
