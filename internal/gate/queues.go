package gate

import (
	"fmt"

	"rawsim/internal/dot11"
	"rawsim/pkg/types"
)

// Queue is one channel-access queue the controller switches on and off.
type Queue interface {
	Enqueue(f *dot11.Frame)
	SetContentionAllowed(allowed bool)
	OnRawWindowStart()
	Len() int
}

// Queues is the full set of access queues of one station.
type Queues struct {
	DCF    Queue
	BE     Queue
	BK     Queue
	VI     Queue
	VO     Queue
	PSPoll Queue
}

// Normal returns every queue except the polling one.
func (q Queues) Normal() []Queue {
	return []Queue{q.DCF, q.VO, q.VI, q.BE, q.BK}
}

// All returns every queue, polling queue first.
func (q Queues) All() []Queue {
	return append([]Queue{q.PSPoll}, q.Normal()...)
}

// ForCategory returns the EDCA queue serving ac.
func (q Queues) ForCategory(ac types.AccessCategory) Queue {
	switch ac {
	case types.ACBackground:
		return q.BK
	case types.ACVideo:
		return q.VI
	case types.ACVoice:
		return q.VO
	default:
		return q.BE
	}
}

// Pending reports the number of frames waiting in the normal queues.
func (q Queues) Pending() int {
	n := 0
	for _, queue := range q.Normal() {
		n += queue.Len()
	}
	return n
}

func (q Queues) validate() error {
	for i, queue := range q.All() {
		if queue == nil {
			return fmt.Errorf("access queue %d is nil", i)
		}
	}
	return nil
}
