package simt

import (
	"fmt"
	"math/bits"
)

// LaneGroup is the reduction strategy of one lock-step thread group.
//
// A warp evaluates a per-lane predicate into an activity mask with Ballot and
// derives exclusive ranks and totals from it with population counts. Devices
// differ in group width and intrinsics, so the strategy is pluggable: the
// compaction and sort kernels only ever talk to this interface.
type LaneGroup interface {
	// Width returns the number of lanes executing in lock-step.
	Width() int

	// Ballot packs active[lane] into bit lane of the returned mask.
	// len(active) must equal Width.
	Ballot(active []bool) uint64

	// Rank returns the number of set bits of mask below lane.
	Rank(mask uint64, lane int) uint32

	// Count returns the number of set bits of mask.
	Count(mask uint64) uint32
}

// Wave32 is a 32-lane group, the common NVIDIA warp and RDNA wave32 width.
type Wave32 struct{}

func (Wave32) Width() int { return 32 }

func (Wave32) Ballot(active []bool) uint64 {
	var m uint32
	for lane, on := range active[:32] {
		if on {
			m |= 1 << uint(lane)
		}
	}
	return uint64(m)
}

func (Wave32) Rank(mask uint64, lane int) uint32 {
	return uint32(bits.OnesCount32(uint32(mask) & (uint32(1)<<uint(lane) - 1)))
}

func (Wave32) Count(mask uint64) uint32 {
	return uint32(bits.OnesCount32(uint32(mask)))
}

// Wave64 is a 64-lane group as found on GCN and CDNA devices.
type Wave64 struct{}

func (Wave64) Width() int { return 64 }

func (Wave64) Ballot(active []bool) uint64 {
	var m uint64
	for lane, on := range active[:64] {
		if on {
			m |= 1 << uint(lane)
		}
	}
	return m
}

func (Wave64) Rank(mask uint64, lane int) uint32 {
	return uint32(bits.OnesCount64(mask & (uint64(1)<<uint(lane) - 1)))
}

func (Wave64) Count(mask uint64) uint32 {
	return uint32(bits.OnesCount64(mask))
}

// Serial is a single-lane group. Every thread is its own warp, so the
// block-level scan carries all of the work. Useful on devices without
// subgroup operations and for checking that kernels do not depend on a
// particular width.
type Serial struct{}

func (Serial) Width() int { return 1 }

func (Serial) Ballot(active []bool) uint64 {
	if active[0] {
		return 1
	}
	return 0
}

func (Serial) Rank(uint64, int) uint32 { return 0 }

func (Serial) Count(mask uint64) uint32 { return uint32(mask & 1) }

// LanesForWidth returns the built-in strategy for the given group width.
func LanesForWidth(width int) (LaneGroup, error) {
	switch width {
	case 1:
		return Serial{}, nil
	case 32:
		return Wave32{}, nil
	case 64:
		return Wave64{}, nil
	default:
		return nil, fmt.Errorf("simt: unsupported lane width %d (want 1, 32 or 64)", width)
	}
}
