// Package l4series is the fourth processing layer: it flattens candidate
// tracks and their signal series into the compact representation the
// visualisation front-end consumes, and derives constellation-level visible
// counts at each layered elevation threshold.
//
// Compression here is about fields, not time density. The 30-second cadence
// is preserved exactly; the pool planner depends on full-length series.
package l4series

import (
	"fmt"
	"time"

	"github.com/ntnlab/satpool/internal/config"
	"github.com/ntnlab/satpool/internal/handover/l2select"
	"github.com/ntnlab/satpool/internal/handover/l3signal"
)

// Point is one animation frame for one satellite.
type Point struct {
	T            time.Time `json:"t"`
	ElevationDeg float64   `json:"elev"`
	AzimuthDeg   float64   `json:"az"`
	RangeKm      float64   `json:"range"`
	RSRPDbm      float64   `json:"rsrp"`
	Visible      bool      `json:"visible"`
}

// Series is the front-end contract for one satellite: the full-cadence
// point list, strictly monotonic, no duplicates.
type Series struct {
	SatelliteID   int     `json:"satellite_id"`
	Constellation string  `json:"constellation"`
	Points        []Point `json:"timeseries"`
}

// ThresholdCounts is the constellation-level aggregate at one instant:
// how many candidates sit at or above each layered threshold.
type ThresholdCounts struct {
	T             time.Time `json:"t"`
	AboveMin      int       `json:"above_min"`
	AboveHandover int       `json:"above_handover"`
	AboveOptimal  int       `json:"above_optimal"`
}

// Result is the shaped output for one constellation.
type Result struct {
	Constellation string
	Series        []*Series
	Aggregates    []ThresholdCounts
}

// SeriesByID returns the series for a satellite, or nil.
func (r *Result) SeriesByID(id int) *Series {
	for _, s := range r.Series {
		if s.SatelliteID == id {
			return s
		}
	}
	return nil
}

// Shape normalises the candidate set into per-satellite series and
// per-instant aggregates. The signal result must align one-to-one with the
// candidate set; a mismatch is an error rather than a silent drop.
func Shape(cfg *config.Config, candidates *l2select.Result, signals *l3signal.Result) (*Result, error) {
	res := &Result{Constellation: candidates.Constellation}

	thresholds := cfg.LayeredThresholds()
	var aggregates []ThresholdCounts

	for _, c := range candidates.Candidates {
		track := c.Track
		sig := signals.SignalByID(track.SatelliteID)
		if sig == nil {
			return nil, fmt.Errorf("l4series: candidate %d has no signal series", track.SatelliteID)
		}
		if len(sig.Samples) != len(track.Samples) {
			return nil, fmt.Errorf("l4series: satellite %d: signal length %d != track length %d",
				track.SatelliteID, len(sig.Samples), len(track.Samples))
		}

		series := &Series{
			SatelliteID:   track.SatelliteID,
			Constellation: track.Constellation,
			Points:        make([]Point, len(track.Samples)),
		}
		if aggregates == nil {
			aggregates = make([]ThresholdCounts, len(track.Samples))
		}

		var prev time.Time
		for i := range track.Samples {
			os := &track.Samples[i]
			ss := &sig.Samples[i]

			if i > 0 && !os.Timestamp.After(prev) {
				return nil, fmt.Errorf("l4series: satellite %d: non-monotonic timestamp at index %d",
					track.SatelliteID, i)
			}
			prev = os.Timestamp

			p := Point{
				T:            os.Timestamp,
				ElevationDeg: os.Topo.ElevationDeg,
				AzimuthDeg:   os.Topo.AzimuthDeg,
				RangeKm:      os.Topo.RangeKm,
				Visible:      os.Valid && os.Topo.ElevationDeg >= thresholds[0],
			}
			if ss.Visible {
				p.RSRPDbm = ss.RSRPDbm
			}
			series.Points[i] = p

			if i < len(aggregates) {
				if aggregates[i].T.IsZero() {
					aggregates[i].T = os.Timestamp
				}
				if os.Valid {
					el := os.Topo.ElevationDeg
					if el >= thresholds[0] {
						aggregates[i].AboveMin++
					}
					if el >= thresholds[1] {
						aggregates[i].AboveHandover++
					}
					if el >= thresholds[2] {
						aggregates[i].AboveOptimal++
					}
				}
			}
		}
		res.Series = append(res.Series, series)
	}

	res.Aggregates = aggregates
	return res, nil
}
