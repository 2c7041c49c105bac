package compute

import "sync/atomic"

// PrefixSum writes the exclusive prefix sum of counter into prefixSum and
// resets counter to zero, claiming the counts accumulated since the previous
// call. It returns the claimed total.
//
// The scan is serial. It runs over one entry per sort key, which is small
// next to the path count, and a parallel scan would cost more to launch than
// it saves. A call that claims nothing leaves prefixSum as it was, so two
// back-to-back calls agree.
func PrefixSum(counter, prefixSum []atomic.Uint32) uint32 {
	n := min(len(counter), len(prefixSum))

	var total uint32
	for i := range n {
		total += counter[i].Load()
	}
	if total == 0 {
		return 0
	}

	var offset uint32
	for i := range n {
		c := counter[i].Swap(0)
		prefixSum[i].Store(offset)
		offset += c
	}
	return offset
}
