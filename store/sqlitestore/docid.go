package sqlitestore

import (
	"strconv"
	"sync"
	"time"
)

// docIDGenerator produces unique, roughly time-ordered document ids.
// Format before base-36 encoding: (physical_ms << 22) | (node_id << 16) | logical,
// so ids stay unique across nodes sharing one content database.
type docIDGenerator struct {
	mu      sync.Mutex
	nodeID  uint64
	lastMS  int64
	logical uint64
}

func newDocIDGenerator(nodeID uint64) *docIDGenerator {
	return &docIDGenerator{nodeID: nodeID}
}

func (g *docIDGenerator) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now <= g.lastMS {
		g.logical++
	} else {
		g.lastMS = now
		g.logical = 0
	}

	v := uint64(g.lastMS)<<22 | (g.nodeID&0x3f)<<16 | (g.logical & 0xffff)
	return strconv.FormatUint(v, 36)
}
