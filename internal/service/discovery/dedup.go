package discovery

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// seenFilter remembers message digests in two generations of Bloom filters.
// Rotation drops the older generation so the false-positive rate stays near
// the configured value instead of climbing as the filter fills.
type seenFilter struct {
	mu       sync.Mutex
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	n        uint
	fpRate   float64
}

func newSeenFilter(n uint, fpRate float64) *seenFilter {
	return &seenFilter{
		current:  bloom.NewWithEstimates(n, fpRate),
		previous: bloom.NewWithEstimates(n, fpRate),
		n:        n,
		fpRate:   fpRate,
	}
}

// testAndAdd reports whether d may have been seen before and records it.
func (f *seenFilter) testAndAdd(d []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := f.current.Test(d) || f.previous.Test(d)
	f.current.Add(d)
	return seen
}

func (f *seenFilter) add(d []byte) {
	f.mu.Lock()
	f.current.Add(d)
	f.mu.Unlock()
}

func (f *seenFilter) rotate() {
	f.mu.Lock()
	f.previous = f.current
	f.current = bloom.NewWithEstimates(f.n, f.fpRate)
	f.mu.Unlock()
}
