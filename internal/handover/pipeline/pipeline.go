// Package pipeline is the composition root: it wires the processing layers
// into the six-stage run, performs the fail-fast validation gate after
// every stage, and records data lineage.
//
// This is the only package that imports all the layer packages; none of
// the layers import each other's downstream consumers, and none import
// this package.
package pipeline

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ntnlab/satpool/internal/config"
	"github.com/ntnlab/satpool/internal/handover/l1orbit"
	"github.com/ntnlab/satpool/internal/handover/l2select"
	"github.com/ntnlab/satpool/internal/handover/l3signal"
	"github.com/ntnlab/satpool/internal/handover/l4series"
	"github.com/ntnlab/satpool/internal/handover/l5bundle"
	"github.com/ntnlab/satpool/internal/handover/l6pool"
	"github.com/ntnlab/satpool/internal/tle"
)

// Lineage records where a run's data came from and when it was processed.
// The three time fields are deliberately distinct: the calendar date of the
// TLE data, the wall-clock moment processing started, and the base time the
// SGP4 window was anchored to. Conflating them corrupts every downstream
// comparison between runs.
type Lineage struct {
	RunID               string               `json:"run_id"`
	TLEDataEpochs       map[string]time.Time `json:"tle_data_epochs"`
	ProcessingStartedAt time.Time            `json:"processing_started_at"`
	SGP4BaseTime        time.Time            `json:"sgp4_base_time"`
	StagesCompleted     []string             `json:"stages_completed"`
}

// ConstellationResult carries every stage output for one constellation.
// Each stage owns its output; later stages borrow earlier outputs read-only.
type ConstellationResult struct {
	Constellation string
	TLEFile       *tle.File
	Tracks        []*l1orbit.Track
	TrackByID     map[int]*l1orbit.Track
	PropStats     l1orbit.Stats
	Candidates    *l2select.Result
	Signals       *l3signal.Result
	Series        *l4series.Result
	Bundle        *l5bundle.Bundle
	Pool          *l6pool.Pool
}

// Result is a completed run: lineage, the sampling window, per-constellation
// outputs and every validation snapshot in gate order.
type Result struct {
	Lineage        Lineage
	Window         l1orbit.Window
	Constellations map[string]*ConstellationResult
	Snapshots      []Snapshot
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStageDeadline bounds each stage's wall-clock time. Zero disables the
// per-stage deadline.
func WithStageDeadline(d time.Duration) Option {
	return func(p *Pipeline) { p.stageDeadline = d }
}

// WithLogf replaces the stage progress logger.
func WithLogf(logf func(format string, args ...interface{})) Option {
	return func(p *Pipeline) { p.logf = logf }
}

// Pipeline drives the six stages over one TLE tree.
type Pipeline struct {
	cfg           *config.Config
	stageDeadline time.Duration
	logf          func(format string, args ...interface{})
}

// New builds a pipeline around a validated config.
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, logf: log.Printf}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes load + stages 1..6 with a validation gate after each stage.
// asOf is the pipeline's reference date for TLE staleness; it does not
// influence any orbital computation, which is anchored to the data epoch.
func (p *Pipeline) Run(ctx context.Context, tleRoot string, asOf time.Time) (*Result, error) {
	res := &Result{
		Lineage: Lineage{
			RunID:               uuid.NewString(),
			TLEDataEpochs:       map[string]time.Time{},
			ProcessingStartedAt: time.Now().UTC(),
		},
		Constellations: map[string]*ConstellationResult{},
	}

	// Load. I/O happens here and nowhere else until the caller persists.
	files, err := tle.Load(tleRoot, tle.LoaderOptions{
		AsOf:            asOf,
		MaxEpochAgeDays: p.cfg.TLEMaxEpochAgeDays(),
		MinValidRatio:   p.cfg.TLEMinValidRatio(),
	})
	if err != nil {
		return nil, err
	}
	if err := p.gate(res, validateLoad(files, p.cfg.TLEMinValidRatio())); err != nil {
		return res, err
	}

	names := make([]string, 0, len(files))
	var latestEpoch time.Time
	for name, f := range files {
		names = append(names, name)
		res.Lineage.TLEDataEpochs[name] = f.DataEpoch
		if f.DataEpoch.After(latestEpoch) {
			latestEpoch = f.DataEpoch
		}
	}
	sort.Strings(names)

	// One shared window anchored to the data epoch keeps constellations
	// comparable instant-for-instant.
	res.Lineage.SGP4BaseTime = l1orbit.NoonOfDataEpoch(latestEpoch)
	duration := time.Duration(p.cfg.WindowHours() * float64(time.Hour))
	cadence := time.Duration(p.cfg.CadenceSeconds()) * time.Second
	res.Window = l1orbit.NewWindow(res.Lineage.SGP4BaseTime, duration, cadence)

	for _, name := range names {
		res.Constellations[name] = &ConstellationResult{
			Constellation: name,
			TLEFile:       files[name],
		}
	}
	p.complete(res, "load")

	// Stage 1: propagation.
	err = p.runStage(ctx, "propagate", func(stageCtx context.Context) error {
		propagator := l1orbit.NewPropagator(l1orbit.Observer{
			LatitudeDeg:  p.cfg.ObserverLatitude(),
			LongitudeDeg: p.cfg.ObserverLongitude(),
			AltitudeM:    p.cfg.ObserverAltitudeM(),
		})
		for _, name := range names {
			cr := res.Constellations[name]
			tracks, stats, err := propagator.PropagateCatalog(stageCtx, cr.TLEFile, res.Window)
			if err != nil {
				return err
			}
			cr.Tracks = tracks
			cr.PropStats = stats
			cr.TrackByID = make(map[int]*l1orbit.Track, len(tracks))
			for _, t := range tracks {
				cr.TrackByID[t.SatelliteID] = t
			}
			p.logf("propagate: %s: %d tracks, %d dropped, %d invalid samples",
				name, len(tracks), stats.Dropped, stats.InvalidSamples)
			if err := p.gate(res, validatePropagation(name, tracks, stats, res.Window)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	p.complete(res, "propagate")

	// Stage 2: geographic relevance + suitability filter.
	err = p.runStage(ctx, "filter", func(stageCtx context.Context) error {
		for _, name := range names {
			cr := res.Constellations[name]
			candidates, err := l2select.Filter(p.cfg, name, cr.Tracks)
			if err != nil {
				return err
			}
			cr.Candidates = candidates
			p.logf("filter: %s: %d candidates of %d (median score %.1f, cutoff %.1f)",
				name, len(candidates.Candidates), candidates.InputCount,
				candidates.MedianScore, candidates.CutoffScore)
			if err := p.gate(res, validateFilter(p.cfg, candidates)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	p.complete(res, "filter")

	// Stage 3: link budget + event detection.
	err = p.runStage(ctx, "signal", func(stageCtx context.Context) error {
		for _, name := range names {
			cr := res.Constellations[name]
			signals, err := l3signal.Analyze(stageCtx, p.cfg, cr.Candidates)
			if err != nil {
				return err
			}
			cr.Signals = signals
			p.logf("signal: %s: %d events over %d pairs", name, len(signals.Events), signals.PairsAnalyzed)
			if err := p.gate(res, validateSignals(signals)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	p.complete(res, "signal")

	// Stage 4: time-series shaping.
	err = p.runStage(ctx, "series", func(stageCtx context.Context) error {
		for _, name := range names {
			cr := res.Constellations[name]
			series, err := l4series.Shape(p.cfg, cr.Candidates, cr.Signals)
			if err != nil {
				return err
			}
			cr.Series = series
			if err := p.gate(res, validateSeries(cr.Candidates, series, res.Window)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	p.complete(res, "series")

	// Stage 5: cross-stage integration.
	err = p.runStage(ctx, "integrate", func(stageCtx context.Context) error {
		for _, name := range names {
			cr := res.Constellations[name]
			bundle, err := l5bundle.Integrate(p.cfg, res.Window, cr.Candidates, cr.Signals, cr.Series)
			if err != nil {
				return err
			}
			cr.Bundle = bundle
			p.logf("integrate: %s: %d metadata records, A4=%d A5=%d D2=%d",
				name, len(bundle.Metadata), len(bundle.EventsA4), len(bundle.EventsA5), len(bundle.EventsD2))
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	p.complete(res, "integrate")

	// Stage 6: dynamic pool planning.
	err = p.runStage(ctx, "pool", func(stageCtx context.Context) error {
		for _, name := range names {
			cr := res.Constellations[name]
			pool, err := l6pool.Plan(stageCtx, p.cfg, cr.Bundle, cr.Signals, cr.TrackByID, res.Window)
			if err != nil {
				return err
			}
			cr.Pool = pool
			p.logf("pool: %s: %d members (greedy %d), worst coverage %d at %s",
				name, pool.FinalSize, pool.GreedySize, pool.Proof.WorstCount,
				pool.Proof.WorstAt.Format(time.RFC3339))
			if err := p.gate(res, validatePool(cr.Candidates, pool, res.Window)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	p.complete(res, "pool")

	return res, nil
}

// runStage executes one stage under the configured deadline and maps a
// deadline overrun to StageTimeoutError.
func (p *Pipeline) runStage(ctx context.Context, name string, fn func(context.Context) error) error {
	stageCtx := ctx
	cancel := func() {}
	if p.stageDeadline > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, p.stageDeadline)
	}
	defer cancel()

	err := fn(stageCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return &StageTimeoutError{Stage: name}
	}
	return err
}

// gate records a snapshot and converts its first failure into the fatal
// invariant error that stops the run.
func (p *Pipeline) gate(res *Result, snap Snapshot) error {
	res.Snapshots = append(res.Snapshots, snap)
	if c, failed := snap.FirstFailure(); failed {
		return &StageInvariantError{Stage: snap.Stage, Check: c.Name, Detail: c.Detail}
	}
	return nil
}

func (p *Pipeline) complete(res *Result, stage string) {
	res.Lineage.StagesCompleted = append(res.Lineage.StagesCompleted, stage)
}
