//go:build !nogpu

package gpu

import (
	_ "embed"
	"encoding/binary"
	"fmt"
)

//go:embed shaders/prefix_sum.wgsl
var prefixSumShaderSource string

//go:embed shaders/active_index.wgsl
var activeIndexShaderSource string

//go:embed shaders/sorted_index.wgsl
var sortedIndexShaderSource string

//go:embed shaders/sort_bucket.wgsl
var sortBucketShaderSource string

//go:embed shaders/sort_write.wgsl
var sortWriteShaderSource string

// Stage identifies one compute pipeline.
type Stage int

const (
	StagePrefixSum Stage = iota
	StageActiveIndex
	StageSortedIndex
	StageSortBucket
	StageSortWrite

	// StageCount is the number of stages.
	StageCount
)

// String returns the shader name of the stage.
func (s Stage) String() string {
	switch s {
	case StagePrefixSum:
		return "prefix_sum"
	case StageActiveIndex:
		return "active_index"
	case StageSortedIndex:
		return "sorted_index"
	case StageSortBucket:
		return "sort_bucket"
	case StageSortWrite:
		return "sort_write"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// ShaderSource returns the WGSL source of the stage.
func (s Stage) ShaderSource() string {
	switch s {
	case StagePrefixSum:
		return prefixSumShaderSource
	case StageActiveIndex:
		return activeIndexShaderSource
	case StageSortedIndex:
		return sortedIndexShaderSource
	case StageSortBucket:
		return sortBucketShaderSource
	case StageSortWrite:
		return sortWriteShaderSource
	default:
		return ""
	}
}

// Workgroup sizes must match the @workgroup_size of each shader.
const (
	blockSize = 256

	// MaxKeys bounds the per-partition key count of the partitioned sort;
	// it is the size of the workgroup bucket array.
	MaxKeys = 1024
)

// Filter modes, matching the MODE_ constants of active_index.wgsl.
const (
	ModeQueued uint32 = iota
	ModeActive
	ModeTerminated
	ModeActiveFrom
)

// Config is the uniform shared by all stages.
type Config struct {
	NumStates     uint32
	Mode          uint32
	Kernel        uint32
	Threshold     uint32
	NumKeys       uint32
	PartitionSize uint32
	Limit         uint32
	NumPartitions uint32
}

const configSize = 32

// toBytes serializes the config in std140 order.
func (c Config) toBytes() []byte {
	buf := make([]byte, configSize)
	for i, v := range [...]uint32{
		c.NumStates, c.Mode, c.Kernel, c.Threshold,
		c.NumKeys, c.PartitionSize, c.Limit, c.NumPartitions,
	} {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

// WorkgroupCount returns the number of workgroups a stage dispatches.
func (c Config) WorkgroupCount(stage Stage) uint32 {
	switch stage {
	case StagePrefixSum:
		return 1
	case StageSortBucket, StageSortWrite:
		return c.NumPartitions
	default:
		return (c.NumStates + blockSize - 1) / blockSize
	}
}

func u32Bytes(v []uint32) []byte {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], x)
	}
	return buf
}

func bytesU32(b []byte, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}
