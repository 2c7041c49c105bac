// Package parallel provides the block scheduler used to execute thread-block
// grids on the CPU.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool is a pool of goroutines that executes the blocks of a grid.
//
// Blocks are distributed round-robin across per-worker queues. A worker whose
// queue is empty steals from the others, which balances grids where some
// blocks are much slower than the rest (long partitions, skewed predicates).
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	// workers is the number of worker goroutines.
	workers int

	// queues holds per-worker block queues.
	queues []chan func()

	// done signals workers to stop.
	done chan struct{}

	// wg waits for all workers to finish.
	wg sync.WaitGroup

	// running indicates whether the pool is accepting grids.
	running atomic.Bool

	// launched counts blocks executed since creation.
	launched atomic.Uint64
}

// NewWorkerPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := max(workers*4, 8)

	p := &WorkerPool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), queueSize)
	}

	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}

	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	own := p.queues[id]

	for {
		select {
		case <-p.done:
			p.drain(own)
			return

		case block := <-own:
			p.run(block)

		default:
			if stolen := p.steal(id); stolen != nil {
				p.run(stolen)
				continue
			}
			select {
			case <-p.done:
				p.drain(own)
				return
			case block := <-own:
				p.run(block)
			}
		}
	}
}

func (p *WorkerPool) run(block func()) {
	if block == nil {
		return
	}
	p.launched.Add(1)
	block()
}

func (p *WorkerPool) drain(queue chan func()) {
	for {
		select {
		case block := <-queue:
			p.run(block)
		default:
			return
		}
	}
}

// steal takes one block from another worker's queue, or returns nil.
func (p *WorkerPool) steal(self int) func() {
	for i := range p.workers {
		if i == self {
			continue
		}
		select {
		case block := <-p.queues[i]:
			return block
		default:
		}
	}
	return nil
}

// Grid executes fn(0) .. fn(numBlocks-1) across the workers and waits for all
// of them to return. Blocks must not depend on each other: the pool gives no
// ordering or co-residency guarantee between blocks of the same grid.
//
// If the pool is closed, blocks run on the calling goroutine.
func (p *WorkerPool) Grid(numBlocks int, fn func(block int)) {
	if numBlocks <= 0 {
		return
	}
	if !p.running.Load() || numBlocks == 1 {
		for b := range numBlocks {
			fn(b)
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(numBlocks)

	for b := range numBlocks {
		block := func() {
			defer wg.Done()
			fn(b)
		}
		select {
		case p.queues[b%p.workers] <- block:
		case <-p.done:
			block()
		}
	}

	wg.Wait()
}

// Close stops the workers after the queued blocks have run.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning reports whether the pool still accepts grids.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}

// Launched returns the number of blocks executed by the workers.
func (p *WorkerPool) Launched() uint64 {
	return p.launched.Load()
}
