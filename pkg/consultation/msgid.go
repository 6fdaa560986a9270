package consultation

import (
	"fmt"
	"sync/atomic"
	"time"
)

// messageIDGenerator hands out correlation ids that are monotonic within
// one process: a start-time prefix plus an increasing sequence number.
// Desk units echo the id back verbatim in their responses.
type messageIDGenerator struct {
	prefix string
	seq    atomic.Int64
}

func newMessageIDGenerator(start time.Time) *messageIDGenerator {
	return &messageIDGenerator{prefix: fmt.Sprintf("%d", start.UnixMilli())}
}

// Next returns the next message id.
func (g *messageIDGenerator) Next() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.seq.Add(1))
}
