package l5tracks

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator hands out trajectory identifiers. Implementations must be
// safe for concurrent use.
type IDGenerator interface {
	NextID() string
}

// CounterGenerator produces prefix1, prefix2, ...
type CounterGenerator struct {
	prefix string
	n      atomic.Int64
}

func NewCounterGenerator(prefix string) *CounterGenerator {
	return &CounterGenerator{prefix: prefix}
}

func (g *CounterGenerator) NextID() string {
	return fmt.Sprintf("%s%d", g.prefix, g.n.Add(1))
}

// UUIDGenerator produces random version 4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NextID() string { return uuid.NewString() }

// SeededUUIDGenerator produces a reproducible sequence of version 4 UUIDs.
type SeededUUIDGenerator struct {
	mu  sync.Mutex
	rng *rand.ChaCha8
}

func NewSeededUUIDGenerator(seed int64) *SeededUUIDGenerator {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:], uint64(seed))
	return &SeededUUIDGenerator{rng: rand.NewChaCha8(key)}
}

func (g *SeededUUIDGenerator) NextID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		// ChaCha8.Read never fails.
		panic(err)
	}
	return id.String()
}
