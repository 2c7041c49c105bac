package compute

// CompactStates moves states[src[i]] to states[dst[i]] for every pair and
// resets the source slot with release, one thread per pair. Each destination
// is written by exactly one thread and no destination is a source of the
// same call, so no thread observes a partially copied record.
//
// The number of moves is min(len(src), len(dst)).
func CompactStates[T any](d *Device, states []T, src, dst []int32, release func(*T)) {
	n := min(len(src), len(dst))
	d.grid(n, func(i int) {
		from, to := src[i], dst[i]
		states[to] = states[from]
		release(&states[from])
	})
}
