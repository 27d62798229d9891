package l6pool_test

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
	"github.com/ntnlab/satpool/internal/handover/l5bundle"
	"github.com/ntnlab/satpool/internal/handover/l6pool"
	"github.com/ntnlab/satpool/internal/tle"
)

var windowStart = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

// visTrack builds a track whose elevation is 20 degrees over the instants
// marked true and -20 elsewhere. The handover threshold sits between.
func visTrack(id int, visible []bool) *l1orbit.Track {
	track := &l1orbit.Track{
		SatelliteID:   id,
		Constellation: "starlink",
		TLE:           tle.Record{SatelliteID: id},
		Samples:       make([]l1orbit.Sample, len(visible)),
	}
	for i, v := range visible {
		el := -20.0
		if v {
			el = 20.0
		}
		track.Samples[i] = l1orbit.Sample{
			Timestamp: windowStart.Add(time.Duration(i) * 30 * time.Second),
			Topo:      l1orbit.Topocentric{ElevationDeg: el, AzimuthDeg: 200, RangeKm: 1200},
			Valid:     true,
		}
	}
	return track
}

type fixture struct {
	cfg     *config.Config
	bundle  *l5bundle.Bundle
	signals *l3signal.Result
	tracks  map[int]*l1orbit.Track
	window  l1orbit.Window
}

func makeFixture(minVisible int, sats map[int][]bool) *fixture {
	seed := int64(7)
	iters := 500
	stall := 100
	budget := 5.0
	f := &fixture{
		cfg: &config.Config{
			ConstellationTargets: map[string]*config.ConstellationTarget{
				"starlink": {MinVisible: &minVisible},
			},
			Pool: &config.PoolConfig{
				AnnealSeed:             &seed,
				AnnealIterations:       &iters,
				StallRounds:            &stall,
				WallClockBudgetSeconds: &budget,
			},
		},
		bundle:  &l5bundle.Bundle{Constellation: "starlink"},
		signals: &l3signal.Result{Constellation: "starlink"},
		tracks:  map[int]*l1orbit.Track{},
	}

	// Deterministic metadata order: scan IDs ascending.
	samples := 0
	for id := 0; id < 1000; id++ {
		pattern, ok := sats[id]
		if !ok {
			continue
		}
		samples = len(pattern)
		track := visTrack(id, pattern)
		f.tracks[id] = track
		f.bundle.Metadata = append(f.bundle.Metadata, l5bundle.SatelliteMetadata{
			SatelliteID:   id,
			Constellation: "starlink",
			Suitability:   l2select.Score{Total: 70},
		})
		f.signals.Signals = append(f.signals.Signals, &l3signal.SatelliteSignal{
			SatelliteID:        id,
			Constellation:      "starlink",
			MeanVisibleRSRPDbm: -70,
		})
	}
	f.window = l1orbit.Window{Start: windowStart, Cadence: 30 * time.Second, Samples: samples}
	return f
}

func plan(t *testing.T, f *fixture) *l6pool.Pool {
	t.Helper()
	pool, err := l6pool.Plan(context.Background(), f.cfg, f.bundle, f.signals, f.tracks, f.window)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	return pool
}

func TestPlanCoversWindow(t *testing.T) {
	f := makeFixture(1, map[int][]bool{
		1: {true, true, false, false},
		2: {false, false, true, true},
		3: {false, true, true, false},
	})

	pool := plan(t, f)
	if !pool.Proof.Holds() {
		t.Fatalf("proof does not hold: %+v", pool.Proof)
	}
	if pool.Proof.MinVisible != 1 || pool.Proof.ThresholdDeg != 10 {
		t.Errorf("proof parameters = %+v", pool.Proof)
	}
	if len(pool.Proof.PerInstant) != 4 {
		t.Errorf("PerInstant length = %d", len(pool.Proof.PerInstant))
	}
	for k, count := range pool.Proof.PerInstant {
		if count < 1 {
			t.Errorf("instant %d uncovered", k)
		}
	}
	// Satellites 1 and 2 suffice; satellite 3 adds nothing.
	if diff := cmp.Diff([]int{1, 2}, pool.MemberIDs()); diff != "" {
		t.Errorf("members (-want +got):\n%s", diff)
	}
}

func TestPlanDepthRequirement(t *testing.T) {
	// min_visible of 2 forces overlapping coverage everywhere.
	f := makeFixture(2, map[int][]bool{
		1: {true, true, true, true},
		2: {true, true, true, true},
		3: {true, true, true, true},
	})

	pool := plan(t, f)
	for k, count := range pool.Proof.PerInstant {
		if count < 2 {
			t.Errorf("instant %d has depth %d", k, count)
		}
	}
	if pool.FinalSize < 2 {
		t.Errorf("FinalSize = %d, want >= 2", pool.FinalSize)
	}
}

func TestPlanInfeasible(t *testing.T) {
	f := makeFixture(1, map[int][]bool{
		1: {true, true, false, false},
		2: {true, true, false, true},
	})

	_, err := l6pool.Plan(context.Background(), f.cfg, f.bundle, f.signals, f.tracks, f.window)
	var infeasible *l6pool.InfeasibleError
	if !errors.As(err, &infeasible) {
		t.Fatalf("err = %v, want *InfeasibleError", err)
	}
	if infeasible.DeficitCount != 1 {
		t.Errorf("DeficitCount = %d, want 1", infeasible.DeficitCount)
	}
	wantAt := windowStart.Add(2 * 30 * time.Second)
	if !infeasible.FirstDeficitAt.Equal(wantAt) {
		t.Errorf("FirstDeficitAt = %v, want %v", infeasible.FirstDeficitAt, wantAt)
	}
}

func TestPlanDeterministicWithSeed(t *testing.T) {
	build := func() *fixture {
		return makeFixture(2, map[int][]bool{
			1: {true, true, true, false, false, false},
			2: {false, false, true, true, true, false},
			3: {true, false, true, false, true, true},
			4: {false, true, false, true, false, true},
			5: {true, true, true, true, true, true},
			6: {true, true, false, false, true, true},
		})
	}

	first := plan(t, build())
	second := plan(t, build())
	if diff := cmp.Diff(first.MemberIDs(), second.MemberIDs()); diff != "" {
		t.Errorf("seeded reruns differ (-first +second):\n%s", diff)
	}
	if first.FinalSize > first.GreedySize {
		t.Errorf("refinement grew the pool: %d > %d", first.FinalSize, first.GreedySize)
	}
}

func TestPlanRetainsFullSeries(t *testing.T) {
	f := makeFixture(1, map[int][]bool{
		// Visible only briefly; the retained series still spans the window,
		// below-horizon samples included.
		1: {false, true, true, false, false, false},
		2: {true, false, false, true, true, true},
	})

	pool := plan(t, f)
	for _, m := range pool.Members {
		if len(m.Track.Samples) != f.window.Samples {
			t.Errorf("member %d retained %d samples, want %d",
				m.SatelliteID, len(m.Track.Samples), f.window.Samples)
		}
		below := 0
		for _, s := range m.Track.Samples {
			if s.Topo.ElevationDeg < 0 {
				below++
			}
		}
		if below == 0 {
			t.Errorf("member %d lost its below-horizon samples", m.SatelliteID)
		}
	}
}

func TestPlanRejectsTruncatedTrack(t *testing.T) {
	f := makeFixture(1, map[int][]bool{
		1: {true, true, true, true},
	})
	f.tracks[1].Samples = f.tracks[1].Samples[:2]

	_, err := l6pool.Plan(context.Background(), f.cfg, f.bundle, f.signals, f.tracks, f.window)
	if err == nil {
		t.Fatal("Plan accepted a truncated track")
	}
}
