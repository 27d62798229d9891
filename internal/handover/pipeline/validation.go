package pipeline

import (
	"fmt"
	"time"

	"github.com/ntnlab/satpool/internal/config"
	"github.com/ntnlab/satpool/internal/handover/l1orbit"
	"github.com/ntnlab/satpool/internal/handover/l2select"
	"github.com/ntnlab/satpool/internal/handover/l3signal"
	"github.com/ntnlab/satpool/internal/handover/l4series"
	"github.com/ntnlab/satpool/internal/handover/l6pool"
	"github.com/ntnlab/satpool/internal/tle"
)

// The seven named invariant checks the validation gates evaluate. Every
// snapshot names the subset relevant to its stage.
const (
	CheckTLEIntegrity         = "tle_integrity"
	CheckPropagationYield     = "propagation_yield"
	CheckTrackMonotonicity    = "track_monotonicity"
	CheckSampleRanges         = "sample_ranges"
	CheckSegregation          = "constellation_segregation"
	CheckCandidateSubsetChain = "candidate_subset_chain"
	CheckPoolCoverage         = "pool_coverage"
)

// maxDropRatio bounds the share of satellites the propagation stage may
// lose before the run is considered invalid.
const maxDropRatio = 0.05

// Check is one named validation verdict.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Snapshot is the validation result a stage yields: named checks plus
// aggregate counts. It is a first-class return value; writing it to disk is
// a diagnostic option, never the contract.
type Snapshot struct {
	Stage  string         `json:"stage"`
	Checks []Check        `json:"checks"`
	Counts map[string]int `json:"counts,omitempty"`
}

// OK reports whether every check in the snapshot passed.
func (s *Snapshot) OK() bool {
	for _, c := range s.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// FirstFailure returns the first failed check, if any.
func (s *Snapshot) FirstFailure() (Check, bool) {
	for _, c := range s.Checks {
		if !c.OK {
			return c, true
		}
	}
	return Check{}, false
}

func pass(name string) Check {
	return Check{Name: name, OK: true}
}

func fail(name, format string, args ...interface{}) Check {
	return Check{Name: name, OK: false, Detail: fmt.Sprintf(format, args...)}
}

// validateLoad gates the TLE loading step.
func validateLoad(files map[string]*tle.File, minValidRatio float64) Snapshot {
	snap := Snapshot{Stage: "load", Counts: map[string]int{}}

	check := pass(CheckTLEIntegrity)
	for constellation, f := range files {
		snap.Counts[constellation+"_records"] = len(f.Records)
		snap.Counts[constellation+"_skipped"] = f.Skipped.Total()
		total := len(f.Records) + f.Skipped.Total()
		if total == 0 {
			check = fail(CheckTLEIntegrity, "%s: empty catalogue", constellation)
			break
		}
		if ratio := float64(len(f.Records)) / float64(total); ratio < minValidRatio {
			check = fail(CheckTLEIntegrity, "%s: valid ratio %.3f below %.3f", constellation, ratio, minValidRatio)
			break
		}
	}
	snap.Checks = append(snap.Checks, check)
	return snap
}

// validatePropagation gates stage 1: yield, monotonicity, sample ranges.
func validatePropagation(constellation string, tracks []*l1orbit.Track, stats l1orbit.Stats, w l1orbit.Window) Snapshot {
	snap := Snapshot{
		Stage: "propagate:" + constellation,
		Counts: map[string]int{
			"tracks":          len(tracks),
			"dropped":         stats.Dropped,
			"invalid_samples": stats.InvalidSamples,
		},
	}

	yield := pass(CheckPropagationYield)
	total := len(tracks) + stats.Dropped
	if total == 0 {
		yield = fail(CheckPropagationYield, "no satellites propagated")
	} else if ratio := float64(stats.Dropped) / float64(total); ratio > maxDropRatio {
		yield = fail(CheckPropagationYield, "dropped %d of %d satellites (%.1f%%)", stats.Dropped, total, ratio*100)
	}
	snap.Checks = append(snap.Checks, yield)

	mono := pass(CheckTrackMonotonicity)
	ranges := pass(CheckSampleRanges)
outer:
	for _, track := range tracks {
		if len(track.Samples) != w.Samples {
			mono = fail(CheckTrackMonotonicity, "satellite %d: %d samples, window wants %d",
				track.SatelliteID, len(track.Samples), w.Samples)
			break
		}
		if !track.Samples[0].Timestamp.Equal(w.Start) {
			mono = fail(CheckTrackMonotonicity, "satellite %d: first sample %s, window starts %s",
				track.SatelliteID, track.Samples[0].Timestamp.Format(time.RFC3339), w.Start.Format(time.RFC3339))
			break
		}
		for i := range track.Samples {
			s := &track.Samples[i]
			if i > 0 {
				if got := s.Timestamp.Sub(track.Samples[i-1].Timestamp); got != w.Cadence {
					mono = fail(CheckTrackMonotonicity, "satellite %d: step %s at index %d, cadence %s",
						track.SatelliteID, got, i, w.Cadence)
					break outer
				}
			}
			if !s.Valid {
				continue
			}
			if s.Topo.ElevationDeg < -90 || s.Topo.ElevationDeg > 90 ||
				s.Topo.AzimuthDeg < 0 || s.Topo.AzimuthDeg >= 360 ||
				s.Topo.RangeKm <= 0 {
				ranges = fail(CheckSampleRanges, "satellite %d: sample %d out of range (el=%.2f az=%.2f range=%.1f)",
					track.SatelliteID, i, s.Topo.ElevationDeg, s.Topo.AzimuthDeg, s.Topo.RangeKm)
				break outer
			}
		}
	}
	snap.Checks = append(snap.Checks, mono, ranges)
	return snap
}

// validateFilter gates stage 2.
func validateFilter(cfg *config.Config, res *l2select.Result) Snapshot {
	snap := Snapshot{
		Stage: "filter:" + res.Constellation,
		Counts: map[string]int{
			"input":         res.InputCount,
			"candidates":    len(res.Candidates),
			"never_visible": res.NeverVisible,
			"below_minimum": res.BelowSampleMinimum,
		},
	}

	check := pass(CheckCandidateSubsetChain)
	if len(res.Candidates) == 0 {
		check = fail(CheckCandidateSubsetChain, "empty candidate set")
	} else if len(res.Candidates) > cfg.FilterMaxPoolSize() {
		check = fail(CheckCandidateSubsetChain, "candidate set %d exceeds max pool size %d",
			len(res.Candidates), cfg.FilterMaxPoolSize())
	}
	snap.Checks = append(snap.Checks, check)
	return snap
}

// validateSignals gates stage 3: segregation and timeline order.
func validateSignals(res *l3signal.Result) Snapshot {
	snap := Snapshot{
		Stage: "signal:" + res.Constellation,
		Counts: map[string]int{
			"satellites": len(res.Signals),
			"events":     len(res.Events),
			"pairs":      res.PairsAnalyzed,
		},
	}

	seg := pass(CheckSegregation)
	for _, ev := range res.Events {
		if ev.Constellation != res.Constellation {
			seg = fail(CheckSegregation, "event %d->%d carries constellation %q in %q timeline",
				ev.ServingID, ev.NeighbourID, ev.Constellation, res.Constellation)
			break
		}
	}
	snap.Checks = append(snap.Checks, seg)

	order := pass(CheckTrackMonotonicity)
	for i := 1; i < len(res.Events); i++ {
		if res.Events[i].TriggeredAt.Before(res.Events[i-1].TriggeredAt) {
			order = fail(CheckTrackMonotonicity, "event timeline out of order at index %d", i)
			break
		}
	}
	snap.Checks = append(snap.Checks, order)
	return snap
}

// validateSeries gates stage 4: one series per candidate, aligned lengths.
func validateSeries(candidates *l2select.Result, res *l4series.Result, w l1orbit.Window) Snapshot {
	snap := Snapshot{
		Stage: "series:" + res.Constellation,
		Counts: map[string]int{
			"series":     len(res.Series),
			"aggregates": len(res.Aggregates),
		},
	}

	check := pass(CheckSampleRanges)
	if len(res.Series) != len(candidates.Candidates) {
		check = fail(CheckSampleRanges, "%d series for %d candidates", len(res.Series), len(candidates.Candidates))
	} else if len(res.Aggregates) != w.Samples {
		check = fail(CheckSampleRanges, "%d aggregate instants, window wants %d", len(res.Aggregates), w.Samples)
	} else {
		for _, s := range res.Series {
			if len(s.Points) != w.Samples {
				check = fail(CheckSampleRanges, "satellite %d series has %d points, window wants %d",
					s.SatelliteID, len(s.Points), w.Samples)
				break
			}
		}
	}
	snap.Checks = append(snap.Checks, check)
	return snap
}

// validatePool gates stage 6: subset chain, coverage, full-length series.
func validatePool(candidates *l2select.Result, pool *l6pool.Pool, w l1orbit.Window) Snapshot {
	snap := Snapshot{
		Stage: "pool:" + pool.Constellation,
		Counts: map[string]int{
			"members":     len(pool.Members),
			"greedy_size": pool.GreedySize,
		},
	}

	candidateIDs := make(map[int]bool, len(candidates.Candidates))
	for _, c := range candidates.Candidates {
		candidateIDs[c.Track.SatelliteID] = true
	}
	subset := pass(CheckCandidateSubsetChain)
	for _, m := range pool.Members {
		if !candidateIDs[m.SatelliteID] {
			subset = fail(CheckCandidateSubsetChain, "pool member %d is not a stage-2 candidate", m.SatelliteID)
			break
		}
	}
	snap.Checks = append(snap.Checks, subset)

	coverage := pass(CheckPoolCoverage)
	if !pool.Proof.Holds() {
		coverage = fail(CheckPoolCoverage, "worst instant %s has %d visible, need %d",
			pool.Proof.WorstAt.Format(time.RFC3339), pool.Proof.WorstCount, pool.Proof.MinVisible)
	} else {
		for _, m := range pool.Members {
			if len(m.Track.Samples) != w.Samples {
				coverage = fail(CheckPoolCoverage, "member %d retained %d samples, window wants %d",
					m.SatelliteID, len(m.Track.Samples), w.Samples)
				break
			}
		}
	}
	snap.Checks = append(snap.Checks, coverage)
	return snap
}
