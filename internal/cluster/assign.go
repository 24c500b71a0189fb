package cluster

import (
	"sort"
	"strconv"

	"github.com/ErlanBelekov/alerting-scheduler/internal/ring"
)

// Assign places 1+replicas copies of each of the index's shards on nodes
// using rendezvous hashing: every node scores every shard and the highest
// scores win. The first copy is the primary. Every node computes the same
// table from the same member list.
func Assign(nodes []string, index string, shards, replicas int) RoutingTable {
	table := make(RoutingTable, shards)
	if len(nodes) == 0 {
		return table
	}
	copies := min(replicas+1, len(nodes))

	for shard := range shards {
		key := index + "/" + strconv.Itoa(shard) + "/"
		ranked := make([]scoredNode, len(nodes))
		for i, n := range nodes {
			ranked[i] = scoredNode{id: n, score: uint32(ring.Hash(key + n))}
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].score == ranked[j].score {
				return ranked[i].id < ranked[j].id
			}
			return ranked[i].score > ranked[j].score
		})

		placed := make([]ShardCopy, copies)
		for i := range copies {
			placed[i] = ShardCopy{NodeID: ranked[i].id, Primary: i == 0, Active: true}
		}
		table[ShardID{Index: index, Shard: shard}] = placed
	}
	return table
}

type scoredNode struct {
	id    string
	score uint32
}

// ShardFor routes a document id to one of shards shards.
func ShardFor(id string, shards int) int {
	h := int(ring.Hash(id))
	return ((h % shards) + shards) % shards
}
