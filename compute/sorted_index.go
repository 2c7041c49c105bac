package compute

import (
	"sync/atomic"

	"github.com/gogpu/wavefront/simt"
)

// SortedIndexAtomic writes the states selected by key to indices, grouped by
// key, using one device-wide atomic per state.
//
// keyPrefixSum must hold the exclusive prefix sum of the per-key counts of
// the selected states, as produced by PrefixSum from keyCounter. Each
// selected state takes the next slot of its key. States whose slot falls at
// or beyond limit are not written; their key counter is incremented again so
// the next step's PrefixSum accounts for them and they are retried then.
func (d *Device) SortedIndexAtomic(numStates, limit int, key KeyFunc,
	keyCounter, keyPrefixSum []atomic.Uint32, indices []int32) {
	d.grid(numStates, func(i int) {
		k, ok := key(i)
		if !ok {
			return
		}
		slot := keyPrefixSum[k].Add(1) - 1
		if int(slot) < limit {
			indices[slot] = int32(i)
		} else {
			keyCounter[k].Add(1)
		}
	})
}

// PartitionOffsetsLen returns the length of the partition key offset array
// for numKeys keys per partition: numKeys local offsets plus the partition
// total.
func PartitionOffsetsLen(numKeys, numPartitions int) int {
	return (numKeys + 1) * numPartitions
}

// NumPartitions returns the number of partitions covering numStates.
func NumPartitions(numStates, partitionSize int) int {
	if numStates <= 0 || partitionSize <= 0 {
		return 0
	}
	return (numStates + partitionSize - 1) / partitionSize
}

type bucketShared struct {
	count []atomic.Uint32
}

// SortedIndexPartitioned writes the states selected by key to indices using
// a two-pass bucket sort with one block per partition of partitionSize
// consecutive states. Atomics on the hot path touch only block-shared
// buckets; the only device-wide traffic is partitionKeyOffsets.
//
// Keys are reduced modulo numKeys. Output is ordered by partition first and
// by key within a partition, which is the order of the composite sort key
// when partitionSize equals the locality band width. Slots at or beyond
// limit are skipped; the skipped states stay queued and are selected again
// next step. It returns the number of indices written.
//
// partitionKeyOffsets must have PartitionOffsetsLen(numKeys, partitions)
// entries.
func (d *Device) SortedIndexPartitioned(numStates, limit, partitionSize, numKeys int,
	key KeyFunc, partitionKeyOffsets []uint32, indices []int32) int {
	numPartitions := NumPartitions(numStates, partitionSize)
	if numPartitions == 0 || numKeys <= 0 {
		return 0
	}
	stride := numKeys + 1
	newShared := func(int) *bucketShared {
		return &bucketShared{count: make([]atomic.Uint32, numKeys)}
	}

	// Bucket pass: count keys per partition.
	simt.Launch(d.l, numPartitions, newShared, func(w *simt.Warp, sh *bucketShared) {
		start, end := partitionRange(w.Block(), partitionSize, numStates)
		forPartition(w, start, end, func(i int) {
			if k, ok := key(i); ok {
				sh.count[k%uint32(numKeys)].Add(1)
			}
		})
		w.Sync()

		if w.IsLast() {
			row := partitionKeyOffsets[w.Block()*stride : (w.Block()+1)*stride]
			var offset uint32
			for k := range numKeys {
				row[k] = offset
				offset += sh.count[k].Load()
			}
			row[numKeys] = offset
		}
	})

	// Write pass: global base of each key, then scatter.
	simt.Launch(d.l, numPartitions, newShared, func(w *simt.Warp, sh *bucketShared) {
		p := w.Block()
		if w.Index() == 0 {
			var base uint32
			for q := range p {
				base += partitionKeyOffsets[q*stride+numKeys]
			}
			for k := range numKeys {
				sh.count[k].Store(base + partitionKeyOffsets[p*stride+k])
			}
		}
		w.Sync()

		start, end := partitionRange(p, partitionSize, numStates)
		forPartition(w, start, end, func(i int) {
			k, ok := key(i)
			if !ok {
				return
			}
			if slot := sh.count[k%uint32(numKeys)].Add(1) - 1; int(slot) < limit {
				indices[slot] = int32(i)
			}
		})
	})

	var total int
	for q := range numPartitions {
		total += int(partitionKeyOffsets[q*stride+numKeys])
	}
	return min(total, limit)
}

func partitionRange(partition, size, numStates int) (int, int) {
	start := partition * size
	return start, min(start+size, numStates)
}

// forPartition visits [start, end) with the threads of the block, each
// warp covering Width consecutive states per round.
func forPartition(w *simt.Warp, start, end int, fn func(i int)) {
	for base := start + w.Index()*w.Width(); base < end; base += w.BlockDim() {
		for lane := range w.Width() {
			if i := base + lane; i < end {
				fn(i)
			}
		}
	}
}

// SortScratch is the scratch memory of one sorted-index build.
type SortScratch struct {
	// KeyPrefixSum has one entry per composite key.
	KeyPrefixSum []atomic.Uint32
	// PartitionKeyOffsets has PartitionOffsetsLen(numShaders, partitions)
	// entries.
	PartitionKeyOffsets []uint32
}

// NewSortScratch allocates scratch for numKeys composite keys made of
// numShaders raw keys, sorting at most numPartitions partitions.
func NewSortScratch(numKeys, numShaders, numPartitions int) *SortScratch {
	return &SortScratch{
		KeyPrefixSum:        make([]atomic.Uint32, numKeys),
		PartitionKeyOffsets: make([]uint32, PartitionOffsetsLen(numShaders, numPartitions)),
	}
}
