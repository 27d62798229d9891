package l5bundle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ntnlab/satpool/internal/config"
	"github.com/ntnlab/satpool/internal/handover/l1orbit"
	"github.com/ntnlab/satpool/internal/handover/l2select"
	"github.com/ntnlab/satpool/internal/handover/l3signal"
	"github.com/ntnlab/satpool/internal/handover/l4series"
	"github.com/ntnlab/satpool/internal/handover/l5bundle"
	"github.com/ntnlab/satpool/internal/tle"
)

var windowStart = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func geometryTrack(id int, elevs, ranges []float64) *l1orbit.Track {
	track := &l1orbit.Track{
		SatelliteID:   id,
		Constellation: "starlink",
		TLE: tle.Record{
			SatelliteID:    id,
			Name:           "FIXTURE",
			InclinationDeg: 53,
			MeanAltitudeKm: 550,
			Eccentricity:   0.0001,
			PeriodMinutes:  95.6,
			MeanMotion:     15.06,
		},
		Samples: make([]l1orbit.Sample, len(elevs)),
	}
	for i := range elevs {
		track.Samples[i] = l1orbit.Sample{
			Timestamp: windowStart.Add(time.Duration(i) * 30 * time.Second),
			Topo:      l1orbit.Topocentric{ElevationDeg: elevs[i], AzimuthDeg: 10, RangeKm: ranges[i]},
			Valid:     true,
		}
	}
	return track
}

// buildLayers runs filter surrogates + signal + series for a fixed set of
// tracks so the integrator sees a coherent input.
func buildLayers(t *testing.T, tracks ...*l1orbit.Track) (*config.Config, l1orbit.Window, *l2select.Result, *l3signal.Result, *l4series.Result) {
	t.Helper()
	cfg := config.Empty()
	cand := &l2select.Result{Constellation: "starlink"}
	for _, tr := range tracks {
		cand.Candidates = append(cand.Candidates, &l2select.Candidate{Track: tr})
	}
	signals, err := l3signal.Analyze(context.Background(), cfg, cand)
	if err != nil {
		t.Fatal(err)
	}
	series, err := l4series.Shape(cfg, cand, signals)
	if err != nil {
		t.Fatal(err)
	}
	w := l1orbit.Window{Start: windowStart, Cadence: 30 * time.Second, Samples: len(tracks[0].Samples)}
	return cfg, w, cand, signals, series
}

func TestIntegrateMetadataAndCuts(t *testing.T) {
	// One pass above all three thresholds, then back down.
	cfg, w, cand, signals, series := buildLayers(t,
		geometryTrack(1,
			[]float64{2, 7, 12, 18, 12, 7, 2},
			[]float64{3000, 2500, 2000, 1500, 2000, 2500, 3000}))

	b, err := l5bundle.Integrate(cfg, w, cand, signals, series)
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}

	if len(b.Metadata) != 1 {
		t.Fatalf("metadata = %d", len(b.Metadata))
	}
	md := b.MetadataByID(1)
	if md == nil || md.Name != "FIXTURE" || md.InclinationDeg != 53 {
		t.Errorf("metadata = %+v", md)
	}

	if len(b.Cuts) != 3 {
		t.Fatalf("cuts = %d", len(b.Cuts))
	}
	wantThresholds := []float64{5, 10, 15}
	for i, cut := range b.Cuts {
		if cut.ThresholdDeg != wantThresholds[i] {
			t.Errorf("cut %d threshold = %v", i, cut.ThresholdDeg)
		}
		if diff := cmp.Diff([]int{1}, cut.Members); diff != "" {
			t.Errorf("cut %d members mismatch (-want +got):\n%s", i, diff)
		}
		if len(cut.Crossings) != 1 {
			t.Fatalf("cut %d crossings = %d", i, len(cut.Crossings))
		}
	}

	// The 5-degree cut: rises at sample 1, falls at sample 6.
	c5 := b.Cuts[0].Crossings[0]
	if !c5.Enter.Equal(windowStart.Add(30 * time.Second)) {
		t.Errorf("5-degree enter = %v", c5.Enter)
	}
	if !c5.Exit.Equal(windowStart.Add(6 * 30 * time.Second)) {
		t.Errorf("5-degree exit = %v", c5.Exit)
	}
	// The 15-degree cut covers only sample 3.
	c15 := b.Cuts[2].Crossings[0]
	if !c15.Enter.Equal(windowStart.Add(3 * 30 * time.Second)) {
		t.Errorf("15-degree enter = %v", c15.Enter)
	}
	if !c15.Exit.Equal(windowStart.Add(4 * 30 * time.Second)) {
		t.Errorf("15-degree exit = %v", c15.Exit)
	}
}

func TestIntegrateOpenCrossing(t *testing.T) {
	cfg, w, cand, signals, series := buildLayers(t,
		geometryTrack(1, []float64{2, 20, 25}, []float64{3000, 1500, 1200}))

	b, err := l5bundle.Integrate(cfg, w, cand, signals, series)
	if err != nil {
		t.Fatal(err)
	}
	crossing := b.Cuts[0].Crossings[0]
	if !crossing.Exit.IsZero() {
		t.Errorf("still-above crossing should have zero Exit, got %v", crossing.Exit)
	}
}

func TestIntegrateEventStreams(t *testing.T) {
	cfg, w, cand, signals, series := buildLayers(t,
		geometryTrack(1, []float64{40, 20, 10}, []float64{2000, 4500, 5500}),
		geometryTrack(2, []float64{10, 30, 55}, []float64{2900, 2600, 2300}))

	b, err := l5bundle.Integrate(cfg, w, cand, signals, series)
	if err != nil {
		t.Fatal(err)
	}

	total := len(b.EventsA4) + len(b.EventsA5) + len(b.EventsD2)
	if total != len(signals.Events) {
		t.Errorf("streams carry %d events, timeline has %d", total, len(signals.Events))
	}
	for _, stream := range [][]l3signal.Event{b.EventsA4, b.EventsA5, b.EventsD2} {
		for i := 1; i < len(stream); i++ {
			if stream[i].TriggeredAt.Before(stream[i-1].TriggeredAt) {
				t.Fatal("stream out of order")
			}
		}
	}
	if len(b.EventsD2) == 0 {
		t.Error("expected a D2 event from the far/near geometry")
	}
}

func TestIntegrateRejectsForeignAnalyzedSet(t *testing.T) {
	cfg, w, cand, signals, series := buildLayers(t,
		geometryTrack(1, []float64{10, 20, 30}, []float64{2000, 1500, 1200}))

	signals.Signals = append(signals.Signals, &l3signal.SatelliteSignal{
		SatelliteID:   99,
		Constellation: "starlink",
	})

	_, err := l5bundle.Integrate(cfg, w, cand, signals, series)
	var consistency *l5bundle.ConsistencyError
	if !errors.As(err, &consistency) {
		t.Fatalf("err = %v, want *ConsistencyError", err)
	}
	if consistency.Check != "analyzed_subset_of_candidates" {
		t.Errorf("Check = %q", consistency.Check)
	}
}

func TestIntegrateRejectsEventOutsideWindow(t *testing.T) {
	cfg, w, cand, signals, series := buildLayers(t,
		geometryTrack(1, []float64{10, 20, 30}, []float64{2000, 1500, 1200}),
		geometryTrack(2, []float64{12, 22, 32}, []float64{2100, 1600, 1300}))

	signals.Events = append(signals.Events, l3signal.Event{
		Type:          l3signal.EventA4,
		TriggeredAt:   windowStart.Add(-time.Hour),
		ServingID:     1,
		NeighbourID:   2,
		Constellation: "starlink",
	})

	_, err := l5bundle.Integrate(cfg, w, cand, signals, series)
	var consistency *l5bundle.ConsistencyError
	if !errors.As(err, &consistency) {
		t.Fatalf("err = %v, want *ConsistencyError", err)
	}
	if consistency.Check != "events_within_window" {
		t.Errorf("Check = %q", consistency.Check)
	}
}

func TestIntegrateRejectsCountMismatch(t *testing.T) {
	cfg, w, cand, signals, series := buildLayers(t,
		geometryTrack(1, []float64{10, 20, 30}, []float64{2000, 1500, 1200}))

	series.Aggregates[1].AboveMin++

	_, err := l5bundle.Integrate(cfg, w, cand, signals, series)
	var consistency *l5bundle.ConsistencyError
	if !errors.As(err, &consistency) {
		t.Fatalf("err = %v, want *ConsistencyError", err)
	}
	if consistency.Check != "visible_counts_match" {
		t.Errorf("Check = %q", consistency.Check)
	}
}
