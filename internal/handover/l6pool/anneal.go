package l6pool

import (
	"context"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ntnlab/satpool/internal/config"
)

// annealState tracks the working selection and its incremental coverage.
type annealState struct {
	candidates []*candidate
	selected   []bool
	covered    []int
	minVisible int
	size       int
}

func newAnnealState(candidates []*candidate, selected []bool, samples, minVisible int) *annealState {
	st := &annealState{
		candidates: candidates,
		selected:   append([]bool(nil), selected...),
		covered:    make([]int, samples),
		minVisible: minVisible,
	}
	for i, c := range candidates {
		if st.selected[i] {
			st.size++
			for k, v := range c.visible {
				if v {
					st.covered[k]++
				}
			}
		}
	}
	return st
}

// canRemove reports whether dropping candidate i keeps coverage feasible.
func (st *annealState) canRemove(i int) bool {
	for k, v := range st.candidates[i].visible {
		if v && st.covered[k]-1 < st.minVisible {
			return false
		}
	}
	return true
}

// canSwap reports whether replacing out with in keeps coverage feasible.
func (st *annealState) canSwap(out, in int) bool {
	cOut, cIn := st.candidates[out], st.candidates[in]
	for k := range st.covered {
		delta := 0
		if cOut.visible[k] {
			delta--
		}
		if cIn.visible[k] {
			delta++
		}
		if st.covered[k]+delta < st.minVisible {
			return false
		}
	}
	return true
}

func (st *annealState) apply(remove, add int) {
	if remove >= 0 {
		st.selected[remove] = false
		st.size--
		for k, v := range st.candidates[remove].visible {
			if v {
				st.covered[k]--
			}
		}
	}
	if add >= 0 {
		st.selected[add] = true
		st.size++
		for k, v := range st.candidates[add].visible {
			if v {
				st.covered[k]++
			}
		}
	}
}

// objective scores a selection: pool size dominates, with mean RSRP and the
// spread of suitability scores as secondary terms. Lower is better.
func (st *annealState) objective() float64 {
	if st.size == 0 {
		return math.Inf(1)
	}
	var rsrps, scores []float64
	for i, c := range st.candidates {
		if st.selected[i] {
			rsrps = append(rsrps, c.meanRSRPDbm)
			scores = append(scores, c.score)
		}
	}
	meanRSRP := stat.Mean(rsrps, nil)
	spread := 0.0
	if len(scores) > 1 {
		spread = stat.StdDev(scores, nil)
	}
	return 1000*float64(st.size) - meanRSRP + spread
}

// anneal refines the greedy selection in place: seeded random removals and
// swaps, accepted by the usual Metropolis criterion, bounded by iteration
// count, stall rounds and a wall-clock budget. The best feasible selection
// seen wins. Returns the number of iterations executed.
func anneal(ctx context.Context, cfg *config.Config, candidates []*candidate, selected []bool, samples, minVisible int) int {
	iterations := cfg.AnnealIterations()
	if iterations <= 0 || len(candidates) < 2 {
		return 0
	}

	rng := rand.New(rand.NewSource(cfg.AnnealSeed()))
	st := newAnnealState(candidates, selected, samples, minVisible)

	best := append([]bool(nil), st.selected...)
	bestSize := st.size
	bestObj := st.objective()
	cur := bestObj

	deadline := time.Now().Add(time.Duration(cfg.WallClockBudgetSeconds() * float64(time.Second)))
	stall := 0
	temp := 50.0
	const cooling = 0.995

	iter := 0
	for ; iter < iterations; iter++ {
		if stall >= cfg.StallRounds() || time.Now().After(deadline) || ctx.Err() != nil {
			break
		}
		temp *= cooling

		remove, add := proposeMove(rng, st)
		if remove < 0 && add < 0 {
			stall++
			continue
		}

		st.apply(remove, add)
		next := st.objective()
		delta := next - cur
		if delta <= 0 || rng.Float64() < math.Exp(-delta/temp) {
			cur = next
			if next < bestObj {
				bestObj = next
				copy(best, st.selected)
				if st.size < bestSize {
					bestSize = st.size
					stall = 0
					continue
				}
			}
			stall++
		} else {
			// Revert.
			st.apply(add, remove)
			stall++
		}
	}

	copy(selected, best)
	return iter
}

// proposeMove picks a feasibility-preserving removal or swap, each with equal
// odds while non-members exist and always a removal otherwise.
// Returns (-1, -1) when the sampled move is infeasible this round.
func proposeMove(rng *rand.Rand, st *annealState) (remove, add int) {
	var members, outsiders []int
	for i, sel := range st.selected {
		if sel {
			members = append(members, i)
		} else {
			outsiders = append(outsiders, i)
		}
	}
	if len(members) == 0 {
		return -1, -1
	}

	if len(outsiders) == 0 || rng.Float64() < 0.5 {
		i := members[rng.Intn(len(members))]
		if st.canRemove(i) {
			return i, -1
		}
		return -1, -1
	}

	out := members[rng.Intn(len(members))]
	in := outsiders[rng.Intn(len(outsiders))]
	if st.canSwap(out, in) {
		return out, in
	}
	return -1, -1
}
