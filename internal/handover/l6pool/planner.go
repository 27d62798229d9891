// Package l6pool is the sixth and final processing layer: it selects, per
// constellation independently, a minimal satellite pool that keeps at least
// the target number of handover candidates above the handover elevation
// threshold at every sampled instant of the analysis window.
//
// Selection runs a deterministic greedy temporal set-cover first, then a
// seeded simulated-annealing refinement that shrinks the pool and improves
// a secondary objective (mean RSRP and score spread) under a wall-clock
// budget. Selected satellites keep their complete propagation time series,
// below-horizon samples included; the front-end animation depends on the
// full-length series.
package l6pool

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ntnlab/satpool/internal/config"
	"github.com/ntnlab/satpool/internal/handover/l1orbit"
	"github.com/ntnlab/satpool/internal/handover/l3signal"
	"github.com/ntnlab/satpool/internal/handover/l5bundle"
)

// InfeasibleError reports that no subset of the candidates can satisfy the
// coverage constraint. It is fatal and never silently downgraded to a
// smaller guarantee.
type InfeasibleError struct {
	Constellation  string
	MinVisible     int
	ThresholdDeg   float64
	DeficitCount   int
	FirstDeficitAt time.Time
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("l6pool: %s: coverage infeasible: %d instants below min_visible=%d at elevation>=%.1f (first at %s)",
		e.Constellation, e.DeficitCount, e.MinVisible, e.ThresholdDeg, e.FirstDeficitAt.Format(time.RFC3339))
}

// Member is one selected satellite with its retained full-length series.
type Member struct {
	SatelliteID int
	Suitability float64
	// Track is the complete propagation series, borrowed from the first
	// layer. It keeps every sample, below the horizon included.
	Track  *l1orbit.Track
	Signal *l3signal.SatelliteSignal
}

// CoverageProof demonstrates the coverage invariant over the whole window.
type CoverageProof struct {
	ThresholdDeg float64   `json:"threshold_deg"`
	MinVisible   int       `json:"min_visible"`
	PerInstant   []int     `json:"per_instant"`
	WorstCount   int       `json:"worst_count"`
	WorstAt      time.Time `json:"worst_at"`
}

// Holds reports whether every instant meets the constraint.
func (p *CoverageProof) Holds() bool {
	return p.WorstCount >= p.MinVisible
}

// Pool is the final research artefact for one constellation.
type Pool struct {
	Constellation string
	Members       []Member
	Proof         CoverageProof

	// Planning diagnostics.
	GreedySize   int
	FinalSize    int
	AnnealRounds int
}

// MemberIDs returns the selected satellite IDs ascending.
func (p *Pool) MemberIDs() []int {
	ids := make([]int, len(p.Members))
	for i, m := range p.Members {
		ids[i] = m.SatelliteID
	}
	sort.Ints(ids)
	return ids
}

// candidate is the planner's working view of one satellite.
type candidate struct {
	id          int
	score       float64
	meanRangeKm float64
	meanRSRPDbm float64
	visible     []bool // per instant, elevation >= handover threshold
	visCount    int
	track       *l1orbit.Track
	signal      *l3signal.SatelliteSignal
}

// Plan selects the pool for one constellation from the integrated bundle,
// the signal layer, and the full first-layer tracks.
func Plan(ctx context.Context, cfg *config.Config, bundle *l5bundle.Bundle,
	signals *l3signal.Result, tracks map[int]*l1orbit.Track, w l1orbit.Window) (*Pool, error) {

	threshold := cfg.HandoverElevationDeg()
	minVisible := cfg.TargetMinVisible(bundle.Constellation)

	candidates, err := buildCandidates(bundle, signals, tracks, w, threshold)
	if err != nil {
		return nil, err
	}

	// Feasibility gate: the union of every candidate must already cover
	// the window, or no subset can.
	if err := feasible(bundle.Constellation, candidates, w, threshold, minVisible); err != nil {
		return nil, err
	}

	selected := greedyCover(candidates, w.Samples, minVisible)
	greedySize := countSelected(selected)

	rounds := anneal(ctx, cfg, candidates, selected, w.Samples, minVisible)

	pool := &Pool{
		Constellation: bundle.Constellation,
		GreedySize:    greedySize,
		AnnealRounds:  rounds,
	}
	for i, c := range candidates {
		if selected[i] {
			pool.Members = append(pool.Members, Member{
				SatelliteID: c.id,
				Suitability: c.score,
				Track:       c.track,
				Signal:      c.signal,
			})
		}
	}
	sort.Slice(pool.Members, func(i, j int) bool { return pool.Members[i].SatelliteID < pool.Members[j].SatelliteID })
	pool.FinalSize = len(pool.Members)

	pool.Proof = proveCoverage(candidates, selected, w, threshold, minVisible)
	if !pool.Proof.Holds() {
		// The planner never emits a pool that fails its own proof.
		deficits := 0
		var firstAt time.Time
		for k, count := range pool.Proof.PerInstant {
			if count < minVisible {
				if deficits == 0 {
					firstAt = w.At(k)
				}
				deficits++
			}
		}
		return nil, &InfeasibleError{
			Constellation:  bundle.Constellation,
			MinVisible:     minVisible,
			ThresholdDeg:   threshold,
			DeficitCount:   deficits,
			FirstDeficitAt: firstAt,
		}
	}
	return pool, nil
}

func buildCandidates(bundle *l5bundle.Bundle, signals *l3signal.Result,
	tracks map[int]*l1orbit.Track, w l1orbit.Window, threshold float64) ([]*candidate, error) {

	var out []*candidate
	for i := range bundle.Metadata {
		md := &bundle.Metadata[i]
		track, ok := tracks[md.SatelliteID]
		if !ok {
			return nil, fmt.Errorf("l6pool: no track retained for candidate %d", md.SatelliteID)
		}
		if len(track.Samples) != w.Samples {
			return nil, fmt.Errorf("l6pool: candidate %d track length %d, window wants %d",
				md.SatelliteID, len(track.Samples), w.Samples)
		}

		c := &candidate{
			id:          md.SatelliteID,
			score:       md.Suitability.Total,
			meanRangeKm: track.MeanRange(),
			track:       track,
			signal:      signals.SignalByID(md.SatelliteID),
			visible:     make([]bool, w.Samples),
		}
		if c.signal != nil {
			c.meanRSRPDbm = c.signal.MeanVisibleRSRPDbm
		}
		for k := range track.Samples {
			s := &track.Samples[k]
			if s.Valid && s.Topo.ElevationDeg >= threshold {
				c.visible[k] = true
				c.visCount++
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func feasible(constellation string, candidates []*candidate, w l1orbit.Window, threshold float64, minVisible int) error {
	deficits := 0
	var firstAt time.Time
	for k := 0; k < w.Samples; k++ {
		count := 0
		for _, c := range candidates {
			if c.visible[k] {
				count++
			}
		}
		if count < minVisible {
			if deficits == 0 {
				firstAt = w.At(k)
			}
			deficits++
		}
	}
	if deficits > 0 {
		return &InfeasibleError{
			Constellation:  constellation,
			MinVisible:     minVisible,
			ThresholdDeg:   threshold,
			DeficitCount:   deficits,
			FirstDeficitAt: firstAt,
		}
	}
	return nil
}

// greedyCover repeatedly picks the satellite covering the most
// still-deficient instants until every instant is covered minVisible deep.
// Fully deterministic: ties break on higher score, then lower mean range,
// then lower satellite ID.
func greedyCover(candidates []*candidate, samples, minVisible int) []bool {
	selected := make([]bool, len(candidates))
	covered := make([]int, samples)

	for {
		deficit := 0
		for k := 0; k < samples; k++ {
			if covered[k] < minVisible {
				deficit++
			}
		}
		if deficit == 0 {
			return selected
		}

		best := -1
		bestGain := 0
		for i, c := range candidates {
			if selected[i] {
				continue
			}
			gain := 0
			for k := 0; k < samples; k++ {
				if covered[k] < minVisible && c.visible[k] {
					gain++
				}
			}
			if gain == 0 {
				continue
			}
			if best == -1 || gain > bestGain || (gain == bestGain && betterTie(c, candidates[best])) {
				best, bestGain = i, gain
			}
		}
		if best == -1 {
			// Unreachable after the feasibility gate; selecting everything
			// visible is the only honest fallback.
			for i, c := range candidates {
				if c.visCount > 0 {
					selected[i] = true
				}
			}
			return selected
		}

		selected[best] = true
		for k := 0; k < samples; k++ {
			if candidates[best].visible[k] {
				covered[k]++
			}
		}
	}
}

func betterTie(a, b *candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.meanRangeKm != b.meanRangeKm {
		return a.meanRangeKm < b.meanRangeKm
	}
	return a.id < b.id
}

func countSelected(selected []bool) int {
	n := 0
	for _, s := range selected {
		if s {
			n++
		}
	}
	return n
}

func proveCoverage(candidates []*candidate, selected []bool, w l1orbit.Window, threshold float64, minVisible int) CoverageProof {
	proof := CoverageProof{
		ThresholdDeg: threshold,
		MinVisible:   minVisible,
		PerInstant:   make([]int, w.Samples),
		WorstCount:   int(^uint(0) >> 1),
	}
	for k := 0; k < w.Samples; k++ {
		count := 0
		for i, c := range candidates {
			if selected[i] && c.visible[k] {
				count++
			}
		}
		proof.PerInstant[k] = count
		if count < proof.WorstCount {
			proof.WorstCount = count
			proof.WorstAt = w.At(k)
		}
	}
	if len(proof.PerInstant) == 0 {
		proof.WorstCount = 0
	}
	return proof
}
