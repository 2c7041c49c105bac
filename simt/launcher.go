// Package simt executes single-instruction multiple-thread kernels on the CPU.
//
// A grid is a number of independent thread blocks. A block is split into
// warps of LaneGroup.Width() lanes; warps of a block run concurrently and
// synchronize with Warp.Sync, lanes of a warp run in lock-step. This is the
// execution model the compaction and sort kernels of package compute are
// written against, so the same kernel text maps directly onto a GPU dispatch.
package simt

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/wavefront/internal/parallel"
)

// DefaultBlockSize is the thread count per block used when Config leaves it
// unset. It matches the block size of the compaction kernels on most GPUs.
const DefaultBlockSize = 256

// Config configures a Launcher.
type Config struct {
	// BlockSize is the number of threads per block. It must be a positive
	// multiple of the lane width. Zero selects DefaultBlockSize.
	BlockSize int

	// Lanes is the lock-step group strategy. Nil selects Wave32.
	Lanes LaneGroup

	// Workers is the number of blocks executed concurrently.
	// Zero or negative selects GOMAXPROCS.
	Workers int
}

// Launcher executes grids of thread blocks.
//
// Each block runs its warps as separate goroutines that meet at real
// barriers; the lanes of one warp are executed in lock-step by a single
// goroutine. Blocks of a grid are independent and run on a shared
// work-stealing pool.
type Launcher struct {
	pool      *parallel.WorkerPool
	lanes     LaneGroup
	blockSize int
	numWarps  int
}

// NewLauncher validates cfg and starts the block pool.
func NewLauncher(cfg Config) (*Launcher, error) {
	if cfg.BlockSize == 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.Lanes == nil {
		cfg.Lanes = Wave32{}
	}
	width := cfg.Lanes.Width()
	if cfg.BlockSize < 0 || cfg.BlockSize%width != 0 {
		return nil, fmt.Errorf("simt: block size %d is not a positive multiple of lane width %d",
			cfg.BlockSize, width)
	}
	return &Launcher{
		pool:      parallel.NewWorkerPool(cfg.Workers),
		lanes:     cfg.Lanes,
		blockSize: cfg.BlockSize,
		numWarps:  cfg.BlockSize / width,
	}, nil
}

// Close stops the block pool. Close is safe to call multiple times.
func (l *Launcher) Close() {
	l.pool.Close()
}

// BlockSize returns the number of threads per block.
func (l *Launcher) BlockSize() int { return l.blockSize }

// Lanes returns the lock-step group strategy.
func (l *Launcher) Lanes() LaneGroup { return l.lanes }

// WarpsPerBlock returns BlockSize / lane width.
func (l *Launcher) WarpsPerBlock() int { return l.numWarps }

// Workers returns the number of blocks that may execute concurrently.
func (l *Launcher) Workers() int { return l.pool.Workers() }

// BlocksFor returns the number of blocks needed to cover numThreads threads.
func (l *Launcher) BlocksFor(numThreads int) int {
	if numThreads <= 0 {
		return 0
	}
	return (numThreads + l.blockSize - 1) / l.blockSize
}

// Kernel is the body executed by every warp of every block. shared points to
// the block-shared scratch of the warp's block.
type Kernel[S any] func(w *Warp, shared *S)

// Launch runs kernel over numBlocks blocks and returns when every block has
// retired. newShared allocates the block-shared scratch for each block; nil
// allocates a zero S.
func Launch[S any](l *Launcher, numBlocks int, newShared func(block int) *S, kernel Kernel[S]) {
	if numBlocks <= 0 {
		return
	}
	l.pool.Grid(numBlocks, func(block int) {
		var shared *S
		if newShared != nil {
			shared = newShared(block)
		} else {
			shared = new(S)
		}
		runBlock(l, block, shared, kernel)
	})
}

func runBlock[S any](l *Launcher, block int, shared *S, kernel Kernel[S]) {
	bar := newBarrier(l.numWarps)
	width := l.lanes.Width()

	if l.numWarps == 1 {
		kernel(newWarp(l, block, 0, width, bar), shared)
		return
	}

	var wg sync.WaitGroup
	wg.Add(l.numWarps - 1)
	for wi := 1; wi < l.numWarps; wi++ {
		go func() {
			defer wg.Done()
			kernel(newWarp(l, block, wi, width, bar), shared)
		}()
	}
	kernel(newWarp(l, block, 0, width, bar), shared)
	wg.Wait()
}

// ForEach calls fn(i) for every i in [0, n), one call per thread, with up to
// Workers blocks in flight. The first error cancels the blocks that have not
// started yet and is returned. Threads within a block are called in order.
func ForEach(ctx context.Context, l *Launcher, n int, fn func(i int) error) error {
	numBlocks := l.BlocksFor(n)
	if numBlocks == 0 {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.Workers())
	started := 0
	for b := range numBlocks {
		if gctx.Err() != nil {
			break
		}
		started++
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := b * l.blockSize
			end := min(start+l.blockSize, n)
			for i := start; i < end; i++ {
				if err := fn(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if started < numBlocks {
		return ctx.Err()
	}
	return nil
}
