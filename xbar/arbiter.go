package xbar

import (
	"log"
	"math/rand"

	"github.com/sarchlab/fabricsim/packet"
)

// A Policy picks the winning input among the candidates competing for one
// output. The candidates slice is indexed by input port; a nil entry means
// the input is not competing. Pick may update internal policy state.
//
// When the winning input later declines the transfer, the crossbar calls
// Rollback with the same output, and the policy must restore the state it
// had when Pick for that output was entered.
type Policy interface {
	Pick(candidates []packet.Packet, outPort int) (inPort int, ok bool)
	Rollback(outPort int)
}

// A RandomPolicy picks a winner uniformly at random among the competing
// inputs. The random source is injected so runs stay reproducible.
type RandomPolicy struct {
	rng *rand.Rand
}

// NewRandomPolicy creates a random policy driven by the given source.
func NewRandomPolicy(rng *rand.Rand) *RandomPolicy {
	if rng == nil {
		log.Panic("random policy built without a random source")
	}

	return &RandomPolicy{rng: rng}
}

// Pick selects uniformly among the non-nil candidates.
func (p *RandomPolicy) Pick(
	candidates []packet.Packet,
	_ int,
) (int, bool) {
	active := make([]int, 0, len(candidates))
	for in, c := range candidates {
		if c != nil {
			active = append(active, in)
		}
	}

	if len(active) == 0 {
		return 0, false
	}

	return active[p.rng.Intn(len(active))], true
}

// Rollback is a no-op; a random pick carries no state.
func (p *RandomPolicy) Rollback(_ int) {}

// A RoundRobinPolicy grants each output's competing inputs in cyclic order,
// scanning from the input after the one served last.
type RoundRobinPolicy struct {
	numInPorts int
	last       []int
	prev       []int
}

// NewRoundRobinPolicy creates a round-robin policy for a crossbar of the
// given size.
func NewRoundRobinPolicy(numInPorts, numOutPorts int) *RoundRobinPolicy {
	mustBeValidShape(numInPorts, numOutPorts)

	p := &RoundRobinPolicy{
		numInPorts: numInPorts,
		last:       make([]int, numOutPorts),
		prev:       make([]int, numOutPorts),
	}

	for out := range p.last {
		p.last[out] = -1
		p.prev[out] = -1
	}

	return p
}

// Pick selects the first competing input at or after the pointer position.
func (p *RoundRobinPolicy) Pick(
	candidates []packet.Packet,
	outPort int,
) (int, bool) {
	start := (p.last[outPort] + 1) % p.numInPorts
	if p.last[outPort] < 0 {
		start = 0
	}

	for i := 0; i < p.numInPorts; i++ {
		in := (start + i) % p.numInPorts
		if candidates[in] != nil {
			p.prev[outPort] = p.last[outPort]
			p.last[outPort] = in

			return in, true
		}
	}

	return 0, false
}

// Rollback restores the pointer of the output.
func (p *RoundRobinPolicy) Rollback(outPort int) {
	p.last[outPort] = p.prev[outPort]
}

// A WeightedRoundRobinPolicy grants inputs proportionally to their weights.
// The scan starts at the input served last, so an input with remaining
// weight keeps the grant until its weight is exhausted; the grant counter of
// an input resets once it has used its full weight.
type WeightedRoundRobinPolicy struct {
	numInPorts int
	weights    []int
	grants     []int

	last       []int
	prevLast   []int
	prevGrants [][]int
}

// NewWeightedRoundRobinPolicy creates a weighted round-robin policy. The
// weights slice must have one positive entry per input port.
func NewWeightedRoundRobinPolicy(
	numInPorts, numOutPorts int,
	weights []int,
) *WeightedRoundRobinPolicy {
	mustBeValidShape(numInPorts, numOutPorts)

	if len(weights) != numInPorts {
		log.Panicf(
			"weighted round-robin policy needs %d weights, got %d",
			numInPorts, len(weights))
	}

	for in, w := range weights {
		if w <= 0 {
			log.Panicf(
				"weighted round-robin weight of input %d must be positive",
				in)
		}
	}

	p := &WeightedRoundRobinPolicy{
		numInPorts: numInPorts,
		weights:    append([]int(nil), weights...),
		grants:     make([]int, numInPorts),
		last:       make([]int, numOutPorts),
		prevLast:   make([]int, numOutPorts),
		prevGrants: make([][]int, numOutPorts),
	}

	return p
}

// Pick scans from the input served last, preferring inputs that still have
// weight headroom, and falls back to the first competing input when every
// candidate has exhausted its weight.
func (p *WeightedRoundRobinPolicy) Pick(
	candidates []packet.Packet,
	outPort int,
) (int, bool) {
	p.prevLast[outPort] = p.last[outPort]
	p.prevGrants[outPort] = append([]int(nil), p.grants...)

	candidate := p.last[outPort]
	selected := -1

	for count := 0; count < p.numInPorts; count++ {
		if candidates[candidate] != nil {
			if p.weights[candidate] > p.grants[candidate] {
				selected = candidate
				break
			}

			if selected == -1 {
				selected = candidate
			}

			if p.grants[candidate] == p.weights[candidate] {
				p.grants[candidate] = 0
			}
		}

		candidate = (candidate + 1) % p.numInPorts
	}

	if selected == -1 {
		return 0, false
	}

	p.last[outPort] = selected
	p.grants[selected]++

	return selected, true
}

// Rollback restores the pointer and the grant counters captured when Pick
// for the output was entered.
func (p *WeightedRoundRobinPolicy) Rollback(outPort int) {
	p.last[outPort] = p.prevLast[outPort]

	if p.prevGrants[outPort] != nil {
		copy(p.grants, p.prevGrants[outPort])
	}
}

// A FixedPriorityPolicy grants only inputs of the highest priority class
// present among the competitors, breaking ties within the class in
// round-robin order. A larger priority value is a higher priority.
type FixedPriorityPolicy struct {
	numInPorts int
	priorities []int

	// lastInClass[class][out] is the input of that class served last at
	// that output.
	lastInClass map[int][]int

	prevClass []int
	prevLast  []int
}

// NewFixedPriorityPolicy creates a fixed-priority policy. The priorities
// slice must have one non-negative entry per input port.
func NewFixedPriorityPolicy(
	numInPorts, numOutPorts int,
	priorities []int,
) *FixedPriorityPolicy {
	mustBeValidShape(numInPorts, numOutPorts)

	if len(priorities) != numInPorts {
		log.Panicf(
			"fixed-priority policy needs %d priorities, got %d",
			numInPorts, len(priorities))
	}

	p := &FixedPriorityPolicy{
		numInPorts:  numInPorts,
		priorities:  append([]int(nil), priorities...),
		lastInClass: make(map[int][]int),
		prevClass:   make([]int, numOutPorts),
		prevLast:    make([]int, numOutPorts),
	}

	for in, pri := range priorities {
		if pri < 0 {
			log.Panicf(
				"fixed-priority priority of input %d must be non-negative",
				in)
		}

		if _, ok := p.lastInClass[pri]; !ok {
			pointers := make([]int, numOutPorts)
			for out := range pointers {
				pointers[out] = -1
			}
			p.lastInClass[pri] = pointers
		}
	}

	for out := range p.prevClass {
		p.prevClass[out] = -1
	}

	return p
}

// Pick filters the candidates down to the highest priority class present,
// then selects within the class in round-robin order.
func (p *FixedPriorityPolicy) Pick(
	candidates []packet.Packet,
	outPort int,
) (int, bool) {
	topClass := -1
	for in, c := range candidates {
		if c != nil && p.priorities[in] > topClass {
			topClass = p.priorities[in]
		}
	}

	if topClass < 0 {
		return 0, false
	}

	pointers := p.lastInClass[topClass]
	start := (pointers[outPort] + 1) % p.numInPorts
	if pointers[outPort] < 0 {
		start = 0
	}

	for i := 0; i < p.numInPorts; i++ {
		in := (start + i) % p.numInPorts
		if candidates[in] != nil && p.priorities[in] == topClass {
			p.prevClass[outPort] = topClass
			p.prevLast[outPort] = pointers[outPort]
			pointers[outPort] = in

			return in, true
		}
	}

	return 0, false
}

// Rollback restores the round-robin pointer of the class that won the
// rolled-back pick.
func (p *FixedPriorityPolicy) Rollback(outPort int) {
	class := p.prevClass[outPort]
	if class < 0 {
		return
	}

	p.lastInClass[class][outPort] = p.prevLast[outPort]
	p.prevClass[outPort] = -1
}

func mustBeValidShape(numInPorts, numOutPorts int) {
	if numInPorts <= 0 || numOutPorts <= 0 {
		log.Panicf(
			"a crossbar policy needs positive port counts, got %dx%d",
			numInPorts, numOutPorts)
	}
}
