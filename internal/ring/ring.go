// Package ring decides which node owns a job among the nodes holding an
// active copy of the job's shard.
//
// Every node builds the ring independently from the same membership snapshot,
// so the hash must be stable across processes and platforms: it is murmur3
// x86_32 (seed 0) over the UTF-16LE encoding of the key, the layout the job
// store uses when routing documents to shards.
package ring

import (
	"strconv"
	"unicode/utf16"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/spaolacci/murmur3"
)

// VirtualNodes is the number of ring points each real node occupies.
const VirtualNodes = 100

// ShardNodes is an immutable consistent-hash ring over a shard's active copies.
type ShardNodes struct {
	localNodeID string
	circle      *treemap.Map // int32 -> node id
}

// NewShardNodes builds the ring for activeNodeIDs as seen from localNodeID.
func NewShardNodes(localNodeID string, activeNodeIDs []string) *ShardNodes {
	circle := treemap.NewWith(utils.Int32Comparator)
	for _, node := range activeNodeIDs {
		for i := 0; i < VirtualNodes; i++ {
			circle.Put(Hash(node+strconv.Itoa(i)), node)
		}
	}
	return &ShardNodes{localNodeID: localNodeID, circle: circle}
}

// Owner returns the node owning id. ok is false for an empty ring.
func (r *ShardNodes) Owner(id string) (string, bool) {
	if r.circle.Empty() {
		return "", false
	}
	_, node := r.circle.Ceiling(Hash(id))
	if node == nil {
		_, node = r.circle.Min()
	}
	return node.(string), true
}

// IsOwningNode reports whether the local node owns id. An empty ring owns nothing.
func (r *ShardNodes) IsOwningNode(id string) bool {
	owner, ok := r.Owner(id)
	return ok && owner == r.localNodeID
}

// Size is the number of points on the ring.
func (r *ShardNodes) Size() int { return r.circle.Size() }

// Hash is the ring hash of s.
func Hash(s string) int32 {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, 0, len(units)*2)
	for _, u := range units {
		buf = append(buf, byte(u), byte(u>>8))
	}
	return int32(murmur3.Sum32(buf))
}
