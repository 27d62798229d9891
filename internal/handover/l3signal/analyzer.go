package l3signal

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"github.com/ntnlab/satpool/internal/config"
	"github.com/ntnlab/satpool/internal/handover/l2select"
)

// SatelliteSignal is the per-satellite signal time series, aligned
// sample-for-sample with the underlying orbit track.
type SatelliteSignal struct {
	SatelliteID   int
	Constellation string
	Samples       []Sample

	// MeanVisibleRSRPDbm averages RSRP over visible samples, for pool
	// planning. Zero-visible satellites cannot reach this layer.
	MeanVisibleRSRPDbm float64
	VisibleSamples     int
}

// Result is the signal analysis for one constellation: per-satellite signal
// series plus the merged event timeline sorted by trigger time.
type Result struct {
	Constellation string
	Signals       []*SatelliteSignal
	Events        []Event

	PairsAnalyzed int
}

// SignalByID returns the signal series for a satellite, or nil.
func (r *Result) SignalByID(id int) *SatelliteSignal {
	for _, s := range r.Signals {
		if s.SatelliteID == id {
			return s
		}
	}
	return nil
}

// EventsOfType filters the timeline to one stream, preserving order.
func (r *Result) EventsOfType(t EventType) []Event {
	var out []Event
	for _, ev := range r.Events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Analyze computes the link budget per candidate and detects events over
// every ordered same-constellation candidate pair. Candidates from exactly
// one constellation arrive here; the filter layer guarantees it, and the
// per-track constellation field is checked again before any pair forms, so
// a cross-constellation pair is skipped rather than analysed.
func Analyze(ctx context.Context, cfg *config.Config, candidates *l2select.Result) (*Result, error) {
	budget := LinkBudget{
		FrequencyGHz: cfg.FrequencyGHz(),
		EIRPDbm:      cfg.EIRPDbm(),
		Atmosphere:   atmosphereFromConfig(cfg),
	}

	res := &Result{Constellation: candidates.Constellation}

	for _, c := range candidates.Candidates {
		res.Signals = append(res.Signals, evaluateSatellite(budget, c))
	}

	th := eventThresholds{
		a4ThreshDbm:   cfg.A4ThresholdDbm(),
		a5Thresh1Dbm:  cfg.A5ThresholdServingDbm(),
		a5Thresh2Dbm:  cfg.A5ThresholdNeighbourDbm(),
		d2ServingKm:   cfg.D2ServingKm(),
		d2NeighbourKm: cfg.D2NeighbourKm(),
		hysteresisDb:  cfg.HysteresisDb(),
	}

	events, pairs, err := detectAllPairs(ctx, res.Signals, th)
	if err != nil {
		return nil, err
	}
	res.Events = events
	res.PairsAnalyzed = pairs

	return res, nil
}

func atmosphereFromConfig(cfg *config.Config) AtmosphericLossModel {
	if cfg.AtmosphericModel() == "rain" {
		return RainLoss(cfg.RainRateMmH())
	}
	return ClearSkyLoss
}

// evaluateSatellite fills the signal series for one candidate. Samples
// below the horizon, and instants where SGP4 failed, stay signal-less.
func evaluateSatellite(budget LinkBudget, c *l2select.Candidate) *SatelliteSignal {
	track := c.Track
	sig := &SatelliteSignal{
		SatelliteID:   track.SatelliteID,
		Constellation: track.Constellation,
		Samples:       make([]Sample, len(track.Samples)),
	}

	rsrpSum := 0.0
	for i := range track.Samples {
		os := &track.Samples[i]
		s := Sample{
			Timestamp:    os.Timestamp,
			ElevationDeg: os.Topo.ElevationDeg,
			RangeKm:      os.Topo.RangeKm,
		}
		if os.Valid && os.Topo.ElevationDeg >= 0 {
			s.Visible = true
			s.RSRPDbm, s.RSRQDb, s.SINRDb, s.PathLossDb, s.AtmosphericLossDb =
				budget.Evaluate(os.Topo.ElevationDeg, os.Topo.RangeKm)
			rsrpSum += s.RSRPDbm
			sig.VisibleSamples++
		}
		sig.Samples[i] = s
	}
	if sig.VisibleSamples > 0 {
		sig.MeanVisibleRSRPDbm = rsrpSum / float64(sig.VisibleSamples)
	}
	return sig
}

// detectAllPairs fans the ordered-pair scan out across serving satellites.
// Workers only read the shared signal series; each writes its own event
// slice. The merged timeline is sorted by trigger time with a deterministic
// tie-break so reruns produce identical output.
func detectAllPairs(ctx context.Context, signals []*SatelliteSignal, th eventThresholds) ([]Event, int, error) {
	perServing := make([][]Event, len(signals))

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := runtime.GOMAXPROCS(0)
	if workers > len(signals) && len(signals) > 0 {
		workers = len(signals)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for si := range jobs {
				serving := signals[si]
				var events []Event
				for ni, neighbour := range signals {
					if ni == si {
						continue
					}
					// The filter layer only ever hands over one
					// constellation; a mixed set here is a bug upstream.
					if neighbour.Constellation != serving.Constellation {
						continue
					}
					events = append(events, detectPairEvents(serving, neighbour, th)...)
				}
				perServing[si] = events
			}
		}()
	}

	pairs := 0
loop:
	for i := range signals {
		select {
		case jobs <- i:
			pairs += len(signals) - 1
		case <-ctx.Done():
			break loop
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, pairs, err
	}

	var all []Event
	for _, evs := range perServing {
		all = append(all, evs...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !a.TriggeredAt.Equal(b.TriggeredAt) {
			return a.TriggeredAt.Before(b.TriggeredAt)
		}
		if a.ServingID != b.ServingID {
			return a.ServingID < b.ServingID
		}
		if a.NeighbourID != b.NeighbourID {
			return a.NeighbourID < b.NeighbourID
		}
		return a.Type < b.Type
	})
	return all, pairs, nil
}
