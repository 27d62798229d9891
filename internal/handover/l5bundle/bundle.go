// Package l5bundle is the fifth processing layer: it consolidates the
// filter, signal and series layers into the boundary records an external
// store persists — per-satellite metadata, layered elevation cuts with
// crossing timestamps, and the typed event timelines — and cross-checks the
// layers against each other before anything leaves the pipeline.
package l5bundle

import (
	"fmt"
	"sort"
	"time"

	"github.com/ntnlab/satpool/internal/config"
	"github.com/ntnlab/satpool/internal/handover/l1orbit"
	"github.com/ntnlab/satpool/internal/handover/l2select"
	"github.com/ntnlab/satpool/internal/handover/l3signal"
	"github.com/ntnlab/satpool/internal/handover/l4series"
)

// ConsistencyError reports a cross-layer disagreement. Fatal; the pipeline
// stops rather than persist records that contradict each other.
type ConsistencyError struct {
	Check  string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("l5bundle: consistency check %q failed: %s", e.Check, e.Detail)
}

// SatelliteMetadata is the store-facing summary record for one candidate.
type SatelliteMetadata struct {
	SatelliteID   int    `json:"satellite_id"`
	Name          string `json:"name"`
	Constellation string `json:"constellation"`

	InclinationDeg float64 `json:"inclination_deg"`
	MeanAltitudeKm float64 `json:"mean_altitude_km"`
	Eccentricity   float64 `json:"eccentricity"`
	PeriodMinutes  float64 `json:"period_minutes"`
	MeanMotion     float64 `json:"mean_motion_rev_day"`

	Suitability l2select.Score     `json:"suitability"`
	Passes      l2select.PassStats `json:"passes"`
}

// Crossing is one threshold transit: the instants a satellite rose above
// and fell back below an elevation cut. Exit is zero when the satellite was
// still above the cut at the window end.
type Crossing struct {
	SatelliteID int       `json:"satellite_id"`
	Enter       time.Time `json:"enter"`
	Exit        time.Time `json:"exit,omitempty"`
}

// ElevationCut is the layered subset at one threshold: which candidates
// ever exceed it, and when they cross.
type ElevationCut struct {
	ThresholdDeg float64    `json:"threshold_deg"`
	Members      []int      `json:"members"`
	Crossings    []Crossing `json:"crossings"`
}

// Bundle is the integrated output for one constellation.
type Bundle struct {
	Constellation string
	Metadata      []SatelliteMetadata
	Cuts          []ElevationCut

	// Event streams, each sorted by trigger time.
	EventsA4 []l3signal.Event
	EventsA5 []l3signal.Event
	EventsD2 []l3signal.Event
}

// MetadataByID returns the metadata record for a satellite, or nil.
func (b *Bundle) MetadataByID(id int) *SatelliteMetadata {
	for i := range b.Metadata {
		if b.Metadata[i].SatelliteID == id {
			return &b.Metadata[i]
		}
	}
	return nil
}

// Integrate builds the boundary records and runs the cross-layer
// consistency checks. Any failed check aborts with a *ConsistencyError.
func Integrate(cfg *config.Config, w l1orbit.Window,
	candidates *l2select.Result, signals *l3signal.Result, series *l4series.Result) (*Bundle, error) {

	if err := checkConsistency(cfg, w, candidates, signals, series); err != nil {
		return nil, err
	}

	b := &Bundle{Constellation: candidates.Constellation}

	for _, c := range candidates.Candidates {
		rec := c.Track.TLE
		b.Metadata = append(b.Metadata, SatelliteMetadata{
			SatelliteID:    c.Track.SatelliteID,
			Name:           rec.Name,
			Constellation:  c.Track.Constellation,
			InclinationDeg: rec.InclinationDeg,
			MeanAltitudeKm: rec.MeanAltitudeKm,
			Eccentricity:   rec.Eccentricity,
			PeriodMinutes:  rec.PeriodMinutes,
			MeanMotion:     rec.MeanMotion,
			Suitability:    c.Score,
			Passes:         c.Passes,
		})
	}

	for _, threshold := range cfg.LayeredThresholds() {
		b.Cuts = append(b.Cuts, buildCut(threshold, candidates))
	}

	for _, ev := range signals.Events {
		switch ev.Type {
		case l3signal.EventA4:
			b.EventsA4 = append(b.EventsA4, ev)
		case l3signal.EventA5:
			b.EventsA5 = append(b.EventsA5, ev)
		case l3signal.EventD2:
			b.EventsD2 = append(b.EventsD2, ev)
		}
	}
	sortEvents(b.EventsA4)
	sortEvents(b.EventsA5)
	sortEvents(b.EventsD2)

	return b, nil
}

func sortEvents(events []l3signal.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TriggeredAt.Before(events[j].TriggeredAt)
	})
}

// buildCut collects the members and threshold crossings at one elevation cut.
func buildCut(thresholdDeg float64, candidates *l2select.Result) ElevationCut {
	cut := ElevationCut{ThresholdDeg: thresholdDeg}

	for _, c := range candidates.Candidates {
		track := c.Track
		above := false
		member := false
		var enter time.Time

		for i := range track.Samples {
			s := &track.Samples[i]
			now := s.Valid && s.Topo.ElevationDeg >= thresholdDeg
			if now && !above {
				enter = s.Timestamp
				member = true
			}
			if !now && above {
				cut.Crossings = append(cut.Crossings, Crossing{
					SatelliteID: track.SatelliteID,
					Enter:       enter,
					Exit:        s.Timestamp,
				})
			}
			above = now
		}
		if above {
			cut.Crossings = append(cut.Crossings, Crossing{SatelliteID: track.SatelliteID, Enter: enter})
		}
		if member {
			cut.Members = append(cut.Members, track.SatelliteID)
		}
	}

	sort.Ints(cut.Members)
	sort.SliceStable(cut.Crossings, func(i, j int) bool {
		if !cut.Crossings[i].Enter.Equal(cut.Crossings[j].Enter) {
			return cut.Crossings[i].Enter.Before(cut.Crossings[j].Enter)
		}
		return cut.Crossings[i].SatelliteID < cut.Crossings[j].SatelliteID
	})
	return cut
}

// checkConsistency enforces the cross-layer contracts:
//   - the analyzed satellite set is a subset of the candidate set;
//   - every event lies inside the analysis window and inside one
//     constellation;
//   - the per-instant visible counts recomputed from the signal layer match
//     the series layer's aggregates.
func checkConsistency(cfg *config.Config, w l1orbit.Window,
	candidates *l2select.Result, signals *l3signal.Result, series *l4series.Result) error {

	candidateIDs := make(map[int]bool, len(candidates.Candidates))
	for _, c := range candidates.Candidates {
		candidateIDs[c.Track.SatelliteID] = true
	}

	for _, sig := range signals.Signals {
		if !candidateIDs[sig.SatelliteID] {
			return &ConsistencyError{
				Check:  "analyzed_subset_of_candidates",
				Detail: fmt.Sprintf("satellite %d analyzed but not a candidate", sig.SatelliteID),
			}
		}
	}

	start, end := w.Start, w.End()
	for _, ev := range signals.Events {
		if ev.TriggeredAt.Before(start) || ev.TriggeredAt.After(end) {
			return &ConsistencyError{
				Check: "events_within_window",
				Detail: fmt.Sprintf("%s event %d->%d at %s outside window [%s, %s]",
					ev.Type, ev.ServingID, ev.NeighbourID,
					ev.TriggeredAt.Format(time.RFC3339), start.Format(time.RFC3339), end.Format(time.RFC3339)),
			}
		}
		if ev.Constellation != candidates.Constellation {
			return &ConsistencyError{
				Check:  "single_constellation_events",
				Detail: fmt.Sprintf("event carries constellation %q, bundle is %q", ev.Constellation, candidates.Constellation),
			}
		}
	}

	// Recompute visible-above-min counts from the signal layer and compare
	// with the shaper's aggregates instant by instant.
	minEl := cfg.MinElevationDeg()
	for k, agg := range series.Aggregates {
		count := 0
		for _, sig := range signals.Signals {
			if k < len(sig.Samples) && sig.Samples[k].Visible && sig.Samples[k].ElevationDeg >= minEl {
				count++
			}
		}
		if count != agg.AboveMin {
			return &ConsistencyError{
				Check: "visible_counts_match",
				Detail: fmt.Sprintf("instant %s: signal layer sees %d visible, series layer %d",
					agg.T.Format(time.RFC3339), count, agg.AboveMin),
			}
		}
	}

	return nil
}
