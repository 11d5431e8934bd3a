package agent

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

// CallIDGenerator synthesizes tool-call ids when a provider omits them.
// IDs combine a process-start timestamp with a monotonic counter, so they
// are collision-free within a process. A generator is injected per run
// rather than shared globally to keep runs independently testable.
type CallIDGenerator struct {
	epoch string
	seq   atomic.Uint64
}

// NewCallIDGenerator creates a generator seeded with the current time.
func NewCallIDGenerator() *CallIDGenerator {
	return &CallIDGenerator{
		epoch: strconv.FormatInt(time.Now().UnixNano(), 36),
	}
}

// Next returns the next unique call id.
func (g *CallIDGenerator) Next() string {
	return fmt.Sprintf("call_%s_%d", g.epoch, g.seq.Add(1))
}
