package ap

import (
	"errors"
	"fmt"
	"math/rand"

	"rawsim/pkg/types"
)

// ErrAIDSpaceExhausted is returned once every AID in the range is taken.
var ErrAIDSpaceExhausted = errors.New("no free AID left")

// AIDAllocator hands out association identifiers in [1, 8191].
type AIDAllocator struct {
	strategy string
	next     types.AID
	used     map[types.AID]bool
	rng      *rand.Rand
}

// NewAIDAllocator creates an allocator. strategy is "sequential" or
// "random"; start is the first sequential AID and seed drives "random".
func NewAIDAllocator(strategy string, start types.AID, seed int64) (*AIDAllocator, error) {
	switch strategy {
	case "", "sequential":
		strategy = "sequential"
	case "random":
	default:
		return nil, fmt.Errorf("unknown AID strategy: %s", strategy)
	}
	if !start.Valid() {
		start = types.AIDMin
	}
	return &AIDAllocator{
		strategy: strategy,
		next:     start,
		used:     make(map[types.AID]bool),
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// Allocate returns a free AID.
func (a *AIDAllocator) Allocate() (types.AID, error) {
	if len(a.used) >= int(types.AIDMax) {
		return types.AIDUnassociated, ErrAIDSpaceExhausted
	}

	switch a.strategy {
	case "random":
		for attempts := 0; attempts < 10000; attempts++ {
			aid := types.AID(a.rng.Intn(int(types.AIDMax)) + 1)
			if a.used[aid] {
				continue
			}
			a.used[aid] = true
			return aid, nil
		}
		return types.AIDUnassociated, fmt.Errorf("failed to allocate random AID after 10000 attempts")
	default:
		for i := 0; i < int(types.AIDMax); i++ {
			if !a.next.Valid() {
				a.next = types.AIDMin
			}
			aid := a.next
			a.next++
			if !a.used[aid] {
				a.used[aid] = true
				return aid, nil
			}
		}
		return types.AIDUnassociated, ErrAIDSpaceExhausted
	}
}

// Reserve marks a specific AID as taken.
func (a *AIDAllocator) Reserve(aid types.AID) error {
	if !aid.Valid() {
		return fmt.Errorf("AID %d outside [%d, %d]", uint16(aid), types.AIDMin, types.AIDMax)
	}
	if a.used[aid] {
		return fmt.Errorf("AID %d already allocated", uint16(aid))
	}
	a.used[aid] = true
	return nil
}

// Release frees a previously allocated AID for reuse.
func (a *AIDAllocator) Release(aid types.AID) {
	delete(a.used, aid)
}

// AllocatedCount returns the number of AIDs in use.
func (a *AIDAllocator) AllocatedCount() int {
	return len(a.used)
}
