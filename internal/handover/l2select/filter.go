package l2select

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ntnlab/satpool/internal/config"
	"github.com/ntnlab/satpool/internal/handover/l1orbit"
)

// EmptyError reports that filtering eliminated every satellite of a
// constellation. The pipeline stops; an empty candidate set upstream would
// silently void every later layer.
type EmptyError struct {
	Constellation string
	Input         int
}

func (e *EmptyError) Error() string {
	return fmt.Sprintf("l2select: %s: no candidates survived filtering (input %d satellites)", e.Constellation, e.Input)
}

// Score is the weighted multi-criteria suitability of one satellite.
// Components and Total all lie in [0, 100].
type Score struct {
	Inclination   float64 `json:"inclination"`
	Altitude      float64 `json:"altitude"`
	Eccentricity  float64 `json:"eccentricity"`
	PassFrequency float64 `json:"pass_frequency"`
	Constellation float64 `json:"constellation"`
	Total         float64 `json:"total"`
}

// PassStats summarises the visibility passes a satellite makes over the
// window, segmented at the minimum elevation threshold.
type PassStats struct {
	Count               int     `json:"count"`
	TotalVisibleSamples int     `json:"total_visible_samples"`
	LongestPassSamples  int     `json:"longest_pass_samples"`
	MaxElevationDeg     float64 `json:"max_elevation_deg"`
}

// Candidate pairs a borrowed track with its filter-stage derivations. The
// track still belongs to the propagation layer and is never mutated here.
type Candidate struct {
	Track       *l1orbit.Track
	Score       Score
	Passes      PassStats
	MeanRangeKm float64
}

// Result is the candidate set for one constellation.
type Result struct {
	Constellation string
	Candidates    []*Candidate

	// Elimination and sizing bookkeeping for the validation gate.
	InputCount           int
	NeverVisible         int
	BelowSampleMinimum   int
	MedianScore          float64
	CutoffScore          float64
	TrimmedByMaxPoolSize int
}

// CandidateIDs returns the selected satellite IDs in emission order.
func (r *Result) CandidateIDs() []int {
	ids := make([]int, len(r.Candidates))
	for i, c := range r.Candidates {
		ids[i] = c.Track.SatelliteID
	}
	return ids
}

// Filter reduces one constellation's tracks to its candidate set.
func Filter(cfg *config.Config, constellation string, tracks []*l1orbit.Track) (*Result, error) {
	res := &Result{Constellation: constellation, InputCount: len(tracks)}

	minEl := cfg.MinElevationDeg()
	minSamples := cfg.FilterMinVisibleSamples()
	profile := cfg.Profile(constellation)
	weights := cfg.Weights()

	var candidates []*Candidate
	for _, track := range tracks {
		// The partition pass is an identity here, but it is enforced:
		// a track from another constellation is a caller bug.
		if track.Constellation != constellation {
			return nil, fmt.Errorf("l2select: track %d belongs to %q, filtering %q",
				track.SatelliteID, track.Constellation, constellation)
		}

		passes := segmentPasses(track, minEl)
		if passes.TotalVisibleSamples == 0 {
			res.NeverVisible++
			continue
		}
		if passes.TotalVisibleSamples < minSamples {
			res.BelowSampleMinimum++
			continue
		}

		c := &Candidate{
			Track:       track,
			Passes:      passes,
			MeanRangeKm: track.MeanRange(),
		}
		c.Score = scoreTrack(track, passes, profile, weights)
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return nil, &EmptyError{Constellation: constellation, Input: len(tracks)}
	}

	sortCandidates(candidates)

	// Dynamic sizing: keep everything scoring at or above the median plus
	// a guard margin, bounded to the configured pool-size band.
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = c.Score.Total
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	res.MedianScore = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	res.CutoffScore = res.MedianScore + cfg.FilterMedianGuardMargin()

	keep := 0
	for _, c := range candidates {
		if c.Score.Total >= res.CutoffScore {
			keep++
		}
	}
	if minP := cfg.FilterMinPoolSize(); keep < minP {
		keep = minP
	}
	if keep > len(candidates) {
		keep = len(candidates)
	}
	if maxP := cfg.FilterMaxPoolSize(); keep > maxP {
		res.TrimmedByMaxPoolSize = keep - maxP
		keep = maxP
	}

	res.Candidates = candidates[:keep]
	return res, nil
}

// sortCandidates orders by the deterministic tie-break chain: total score
// descending, then max elevation descending, then mean range ascending,
// then satellite ID ascending.
func sortCandidates(cs []*Candidate) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Score.Total != b.Score.Total {
			return a.Score.Total > b.Score.Total
		}
		if a.Passes.MaxElevationDeg != b.Passes.MaxElevationDeg {
			return a.Passes.MaxElevationDeg > b.Passes.MaxElevationDeg
		}
		if a.MeanRangeKm != b.MeanRangeKm {
			return a.MeanRangeKm < b.MeanRangeKm
		}
		return a.Track.SatelliteID < b.Track.SatelliteID
	})
}

// segmentPasses walks the track once and groups contiguous visible samples
// into passes.
func segmentPasses(track *l1orbit.Track, minElevationDeg float64) PassStats {
	var stats PassStats
	stats.MaxElevationDeg = -90

	run := 0
	for i := range track.Samples {
		s := &track.Samples[i]
		visible := s.Valid && s.Topo.ElevationDeg >= minElevationDeg
		if visible {
			if run == 0 {
				stats.Count++
			}
			run++
			stats.TotalVisibleSamples++
			if run > stats.LongestPassSamples {
				stats.LongestPassSamples = run
			}
			if s.Topo.ElevationDeg > stats.MaxElevationDeg {
				stats.MaxElevationDeg = s.Topo.ElevationDeg
			}
		} else {
			run = 0
		}
	}
	return stats
}

// constellationPrior reflects how well a constellation's link geometry
// suits ground handover research from a mid-latitude observer.
var constellationPrior = map[string]float64{
	"starlink": 90,
	"oneweb":   85,
}

// scoreTrack computes the weighted suitability score from the derived
// orbital elements and the window pass statistics.
func scoreTrack(track *l1orbit.Track, passes PassStats, profile config.ResolvedProfile, w config.ResolvedWeights) Score {
	rec := track.TLE

	// Closeness to the constellation's design inclination and altitude.
	inclination := clampScore(100 - 4*math.Abs(rec.InclinationDeg-profile.TargetInclinationDeg))
	altitude := clampScore(100 - 0.2*math.Abs(rec.MeanAltitudeKm-profile.TargetAltitudeKm))

	// Near-circular orbits keep the slant-range model stable.
	eccentricity := clampScore(100 * (1 - math.Min(rec.Eccentricity/0.02, 1)))

	// More and longer passes mean more handover opportunities.
	passFrequency := clampScore(30*float64(passes.Count) + 0.2*float64(passes.TotalVisibleSamples))

	prior, ok := constellationPrior[track.Constellation]
	if !ok {
		prior = 50
	}

	s := Score{
		Inclination:   inclination,
		Altitude:      altitude,
		Eccentricity:  eccentricity,
		PassFrequency: passFrequency,
		Constellation: prior,
	}
	s.Total = w.Inclination*s.Inclination +
		w.Altitude*s.Altitude +
		w.Eccentricity*s.Eccentricity +
		w.PassFrequency*s.PassFrequency +
		w.Constellation*s.Constellation
	return s
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
