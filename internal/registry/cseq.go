package registry

import "sync/atomic"

// cseqCounter is a process-wide monotonic CSeq counter, encapsulated and
// owned by the registry rather than a global as in the source this was
// re-architected from. 64-bit to avoid the 2^31-1 rollover the original
// left undefined.
type cseqCounter struct {
	n atomic.Uint64
}

// next returns the next CSeq value, starting at 1.
func (c *cseqCounter) next() uint64 {
	return c.n.Add(1)
}
