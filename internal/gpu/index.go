//go:build !nogpu

package gpu

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"
)

func (d *IndexDispatcher) begin() error {
	if !d.initialized {
		return ErrNotInitialized
	}
	return nil
}

// ActiveIndex returns the indices of the states whose queued kernel matches
// the filter in cfg (Mode, Kernel, Threshold). cfg.NumStates is taken from
// len(queued). The order of the result is unspecified.
func (d *IndexDispatcher) ActiveIndex(queued []uint32, cfg Config) ([]int32, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.begin(); err != nil {
		return nil, err
	}
	cfg.NumStates = uint32(len(queued))
	if cfg.NumStates == 0 {
		return nil, nil
	}

	f := &frame{device: d.device}
	defer f.cleanup()

	config, err := d.upload(f, "active_index_config", cfg.toBytes(), usageUniform)
	if err != nil {
		return nil, err
	}
	queuedBuf, err := d.upload(f, "active_index_queued", u32Bytes(queued), usageStorage)
	if err != nil {
		return nil, err
	}
	indicesSize := uint64(cfg.NumStates) * 4
	indices, err := d.buffer(f, "active_index_indices", indicesSize, usageStorage)
	if err != nil {
		return nil, err
	}
	counter, err := d.upload(f, "active_index_count", make([]byte, 4), usageStorage)
	if err != nil {
		return nil, err
	}

	countRead := &readback{src: counter, size: 4, dst: make([]byte, 4)}
	indicesRead := &readback{src: indices, size: indicesSize, dst: make([]byte, indicesSize)}
	err = d.execute(f, "active_index", []pass{{
		stage:      StageActiveIndex,
		bindings:   []hal.Buffer{config, queuedBuf, indices, counter},
		workgroups: cfg.WorkgroupCount(StageActiveIndex),
	}}, []*readback{countRead, indicesRead})
	if err != nil {
		return nil, err
	}

	n := int(bytesU32(countRead.dst, 1)[0])
	if n > int(cfg.NumStates) {
		return nil, fmt.Errorf("gpu: active_index returned %d of %d states", n, cfg.NumStates)
	}
	return toIndices(bytesU32(indicesRead.dst, n)), nil
}

// PrefixSum runs the prefix sum stage over counter. On return counter and
// prefix hold the device results and the claimed total is returned.
func (d *IndexDispatcher) PrefixSum(counter, prefix []uint32) (uint32, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.begin(); err != nil {
		return 0, err
	}
	if len(prefix) < len(counter) {
		return 0, fmt.Errorf("gpu: prefix sum of %d keys into %d entries", len(counter), len(prefix))
	}

	f := &frame{device: d.device}
	defer f.cleanup()

	cfg := Config{NumKeys: uint32(len(counter))}
	bufs, err := d.prefixSumBuffers(f, cfg, counter, prefix)
	if err != nil {
		return 0, err
	}

	size := uint64(len(counter)) * 4
	counterRead := &readback{src: bufs.counter, size: size, dst: make([]byte, size)}
	prefixRead := &readback{src: bufs.prefix, size: size, dst: make([]byte, size)}
	totalRead := &readback{src: bufs.total, size: 4, dst: make([]byte, 4)}
	err = d.execute(f, "prefix_sum", []pass{bufs.pass(cfg)},
		[]*readback{counterRead, prefixRead, totalRead})
	if err != nil {
		return 0, err
	}

	copy(counter, bytesU32(counterRead.dst, len(counter)))
	copy(prefix, bytesU32(prefixRead.dst, len(counter)))
	return bytesU32(totalRead.dst, 1)[0], nil
}

type prefixSumBuffers struct {
	config, counter, prefix, total hal.Buffer
}

func (b *prefixSumBuffers) pass(cfg Config) pass {
	return pass{
		stage:      StagePrefixSum,
		bindings:   []hal.Buffer{b.config, b.counter, b.prefix, b.total},
		workgroups: cfg.WorkgroupCount(StagePrefixSum),
	}
}

func (d *IndexDispatcher) prefixSumBuffers(f *frame, cfg Config, counter, prefix []uint32) (*prefixSumBuffers, error) {
	var b prefixSumBuffers
	var err error
	if b.config, err = d.upload(f, "prefix_sum_config", cfg.toBytes(), usageUniform); err != nil {
		return nil, err
	}
	if b.counter, err = d.upload(f, "prefix_sum_counter", u32Bytes(counter), usageStorage); err != nil {
		return nil, err
	}
	if b.prefix, err = d.upload(f, "prefix_sum_prefix", u32Bytes(prefix[:len(counter)]), usageStorage); err != nil {
		return nil, err
	}
	if b.total, err = d.upload(f, "prefix_sum_total", make([]byte, 4), usageStorage); err != nil {
		return nil, err
	}
	return &b, nil
}

// SortedIndexAtomic claims keyCounter with a prefix sum and scatters the
// states queued for cfg.Kernel grouped by sortKeys, in one submission.
// Deferred states are added back to keyCounter. cfg.Limit bounds the output.
func (d *IndexDispatcher) SortedIndexAtomic(queued, sortKeys, keyCounter []uint32, cfg Config) ([]int32, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.begin(); err != nil {
		return nil, err
	}
	if len(sortKeys) != len(queued) {
		return nil, fmt.Errorf("gpu: %d sort keys for %d states", len(sortKeys), len(queued))
	}
	cfg.NumStates = uint32(len(queued))
	cfg.NumKeys = uint32(len(keyCounter))
	if cfg.NumStates == 0 || cfg.Limit == 0 {
		return nil, nil
	}

	f := &frame{device: d.device}
	defer f.cleanup()

	ps, err := d.prefixSumBuffers(f, cfg, keyCounter, make([]uint32, len(keyCounter)))
	if err != nil {
		return nil, err
	}
	queuedBuf, err := d.upload(f, "sorted_index_queued", u32Bytes(queued), usageStorage)
	if err != nil {
		return nil, err
	}
	keysBuf, err := d.upload(f, "sorted_index_keys", u32Bytes(sortKeys), usageStorage)
	if err != nil {
		return nil, err
	}
	indicesSize := uint64(cfg.Limit) * 4
	indices, err := d.buffer(f, "sorted_index_indices", indicesSize, usageStorage)
	if err != nil {
		return nil, err
	}

	counterSize := uint64(len(keyCounter)) * 4
	counterRead := &readback{src: ps.counter, size: counterSize, dst: make([]byte, counterSize)}
	totalRead := &readback{src: ps.total, size: 4, dst: make([]byte, 4)}
	indicesRead := &readback{src: indices, size: indicesSize, dst: make([]byte, indicesSize)}
	err = d.execute(f, "sorted_index", []pass{
		ps.pass(cfg),
		{
			stage:      StageSortedIndex,
			bindings:   []hal.Buffer{ps.config, queuedBuf, keysBuf, ps.counter, ps.prefix, indices},
			workgroups: cfg.WorkgroupCount(StageSortedIndex),
		},
	}, []*readback{counterRead, totalRead, indicesRead})
	if err != nil {
		return nil, err
	}

	copy(keyCounter, bytesU32(counterRead.dst, len(keyCounter)))
	n := min(bytesU32(totalRead.dst, 1)[0], cfg.Limit)
	return toIndices(bytesU32(indicesRead.dst, int(n))), nil
}

// SortedIndexPartitioned runs the bucket and write passes of the partitioned
// sort over the states queued for cfg.Kernel. cfg.NumKeys is the raw key
// count per partition and must not exceed MaxKeys.
func (d *IndexDispatcher) SortedIndexPartitioned(queued, sortKeys []uint32, cfg Config) ([]int32, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.begin(); err != nil {
		return nil, err
	}
	if len(sortKeys) != len(queued) {
		return nil, fmt.Errorf("gpu: %d sort keys for %d states", len(sortKeys), len(queued))
	}
	if cfg.NumKeys == 0 || cfg.NumKeys > MaxKeys {
		return nil, fmt.Errorf("gpu: partitioned sort supports 1..%d keys, got %d", MaxKeys, cfg.NumKeys)
	}
	if cfg.PartitionSize == 0 {
		return nil, fmt.Errorf("gpu: partitioned sort needs a partition size")
	}
	cfg.NumStates = uint32(len(queued))
	if cfg.NumStates == 0 || cfg.Limit == 0 {
		return nil, nil
	}
	cfg.NumPartitions = (cfg.NumStates + cfg.PartitionSize - 1) / cfg.PartitionSize

	f := &frame{device: d.device}
	defer f.cleanup()

	config, err := d.upload(f, "sort_config", cfg.toBytes(), usageUniform)
	if err != nil {
		return nil, err
	}
	queuedBuf, err := d.upload(f, "sort_queued", u32Bytes(queued), usageStorage)
	if err != nil {
		return nil, err
	}
	keysBuf, err := d.upload(f, "sort_keys", u32Bytes(sortKeys), usageStorage)
	if err != nil {
		return nil, err
	}
	numOffsets := int(cfg.NumKeys+1) * int(cfg.NumPartitions)
	offsetsSize := uint64(numOffsets) * 4
	offsets, err := d.buffer(f, "sort_partition_key_offsets", offsetsSize, usageStorage)
	if err != nil {
		return nil, err
	}
	indicesSize := uint64(cfg.Limit) * 4
	indices, err := d.buffer(f, "sort_indices", indicesSize, usageStorage)
	if err != nil {
		return nil, err
	}

	offsetsRead := &readback{src: offsets, size: offsetsSize, dst: make([]byte, offsetsSize)}
	indicesRead := &readback{src: indices, size: indicesSize, dst: make([]byte, indicesSize)}
	err = d.execute(f, "sort", []pass{
		{
			stage:      StageSortBucket,
			bindings:   []hal.Buffer{config, queuedBuf, keysBuf, offsets},
			workgroups: cfg.WorkgroupCount(StageSortBucket),
		},
		{
			stage:      StageSortWrite,
			bindings:   []hal.Buffer{config, queuedBuf, keysBuf, offsets, indices},
			workgroups: cfg.WorkgroupCount(StageSortWrite),
		},
	}, []*readback{offsetsRead, indicesRead})
	if err != nil {
		return nil, err
	}

	rows := bytesU32(offsetsRead.dst, numOffsets)
	var total uint32
	for p := range cfg.NumPartitions {
		total += rows[p*(cfg.NumKeys+1)+cfg.NumKeys]
	}
	n := min(total, cfg.Limit)
	return toIndices(bytesU32(indicesRead.dst, int(n))), nil
}

func toIndices(v []uint32) []int32 {
	out := make([]int32, len(v))
	for i, x := range v {
		out[i] = int32(x)
	}
	return out
}
