package l1orbit

import (
	"time"

	"github.com/ntnlab/satpool/internal/tle"
)

// Vec3 is a Cartesian vector in km (position) or km/s (velocity), in the
// TEME frame SGP4 emits.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Topocentric holds horizon-frame look angles from the observer.
// Elevation lies in [-90, 90], azimuth in [0, 360).
type Topocentric struct {
	ElevationDeg float64 `json:"elevation_deg"`
	AzimuthDeg   float64 `json:"azimuth_deg"`
	RangeKm      float64 `json:"range_km"`
}

// Subpoint is the point on Earth directly below the satellite.
type Subpoint struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	AltKm  float64 `json:"alt_km"`
}

// Sample is one propagated instant. Valid is false when SGP4 failed for
// this instant only; the satellite stays in the catalogue and the sample
// keeps its slot so track cadence never gaps.
type Sample struct {
	Timestamp time.Time   `json:"t"`
	Position  Vec3        `json:"position"`
	Velocity  Vec3        `json:"velocity"`
	Topo      Topocentric `json:"topo"`
	Sub       Subpoint    `json:"subpoint"`
	Valid     bool        `json:"valid"`
}

// Track is the full propagation result for one satellite: samples strictly
// monotonic in time, first sample at the window start, no gaps.
type Track struct {
	SatelliteID   int
	Constellation string
	TLE           tle.Record
	Samples       []Sample
}

// ValidCount returns the number of samples SGP4 produced successfully.
func (t *Track) ValidCount() int {
	n := 0
	for i := range t.Samples {
		if t.Samples[i].Valid {
			n++
		}
	}
	return n
}

// MaxElevation returns the highest valid elevation in the window, or -90
// when no sample is valid.
func (t *Track) MaxElevation() float64 {
	max := -90.0
	for i := range t.Samples {
		if t.Samples[i].Valid && t.Samples[i].Topo.ElevationDeg > max {
			max = t.Samples[i].Topo.ElevationDeg
		}
	}
	return max
}

// VisibleSamples counts valid samples at or above the elevation threshold.
func (t *Track) VisibleSamples(thresholdDeg float64) int {
	n := 0
	for i := range t.Samples {
		if t.Samples[i].Valid && t.Samples[i].Topo.ElevationDeg >= thresholdDeg {
			n++
		}
	}
	return n
}

// MeanRange returns the mean slant range over valid samples, in km.
func (t *Track) MeanRange() float64 {
	sum, n := 0.0, 0
	for i := range t.Samples {
		if t.Samples[i].Valid {
			sum += t.Samples[i].Topo.RangeKm
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Window is the sampling grid: Samples instants starting at Start, spaced
// by Cadence, covering Start .. Start+(Samples-1)*Cadence inclusive.
type Window struct {
	Start   time.Time
	Cadence time.Duration
	Samples int
}

// NewWindow builds the grid for a duration, inclusive of both endpoints.
func NewWindow(start time.Time, duration, cadence time.Duration) Window {
	return Window{
		Start:   start.UTC(),
		Cadence: cadence,
		Samples: int(duration/cadence) + 1,
	}
}

// At returns the k-th instant of the grid.
func (w Window) At(k int) time.Time {
	return w.Start.Add(time.Duration(k) * w.Cadence)
}

// End returns the final instant of the grid.
func (w Window) End() time.Time {
	return w.At(w.Samples - 1)
}

// NoonOfDataEpoch is the default propagation base time: noon UTC on the
// catalogue's data-epoch date. Using the data epoch rather than the wall
// clock keeps runs reproducible and keeps SGP4 close to the element epochs.
func NoonOfDataEpoch(dataEpoch time.Time) time.Time {
	d := dataEpoch.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, time.UTC)
}
