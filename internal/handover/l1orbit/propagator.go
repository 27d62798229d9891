package l1orbit

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	gosatellite "github.com/joshuaferrara/go-satellite"

	"github.com/ntnlab/satpool/internal/tle"
)

// Observer is the fixed ground reference all look angles are computed from.
type Observer struct {
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeM    float64
}

// PropagationError is a per-satellite SGP4 failure. It is recovered locally:
// the satellite is dropped and counted, the catalogue run continues.
type PropagationError struct {
	SatelliteID int
	Reason      string
}

func (e *PropagationError) Error() string {
	return fmt.Sprintf("l1orbit: satellite %d: %s", e.SatelliteID, e.Reason)
}

// Stats summarises one catalogue propagation.
type Stats struct {
	Propagated     int // tracks emitted
	Dropped        int // satellites where every instant failed
	InvalidSamples int // individual instants marked invalid
}

// Propagator runs full SGP4 across a catalogue for one observer. Safe for
// concurrent use; it holds only immutable observer state.
type Propagator struct {
	observer Observer

	// obsLatLong is the observer in radians, precomputed for look angles.
	obsLatLong gosatellite.LatLong
	obsAltKm   float64
}

// NewPropagator builds a propagator for the given observer.
func NewPropagator(obs Observer) *Propagator {
	return &Propagator{
		observer: obs,
		obsLatLong: gosatellite.LatLong{
			Latitude:  obs.LatitudeDeg * math.Pi / 180,
			Longitude: obs.LongitudeDeg * math.Pi / 180,
		},
		obsAltKm: obs.AltitudeM / 1000.0,
	}
}

// Observer returns the ground reference this propagator was built with.
func (p *Propagator) Observer() Observer {
	return p.observer
}

// PropagateCatalog propagates every record of a constellation catalogue over
// the window. Work fans out across satellites to a worker pool; sample order
// inside each track is fixed by the window grid regardless of worker
// assignment. Tracks come back sorted by satellite ID.
//
// A satellite is dropped only when every instant fails; isolated failures
// mark that instant invalid and keep the track.
func (p *Propagator) PropagateCatalog(ctx context.Context, file *tle.File, w Window) ([]*Track, Stats, error) {
	type result struct {
		track   *Track
		invalid int
		err     error
	}

	jobs := make(chan tle.Record)
	results := make(chan result)

	workers := runtime.GOMAXPROCS(0)
	if workers > len(file.Records) && len(file.Records) > 0 {
		workers = len(file.Records)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				track, invalid, err := p.propagateOne(rec, file.Constellation, w)
				select {
				case results <- result{track: track, invalid: invalid, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, rec := range file.Records {
			select {
			case jobs <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var tracks []*Track
	var stats Stats
	for {
		select {
		case res, ok := <-results:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, stats, err
				}
				sort.Slice(tracks, func(i, j int) bool { return tracks[i].SatelliteID < tracks[j].SatelliteID })
				stats.Propagated = len(tracks)
				return tracks, stats, nil
			}
			if res.err != nil {
				stats.Dropped++
				continue
			}
			stats.InvalidSamples += res.invalid
			tracks = append(tracks, res.track)
		case <-ctx.Done():
			return nil, stats, ctx.Err()
		}
	}
}

// propagateOne runs the full window for a single record.
func (p *Propagator) propagateOne(rec tle.Record, constellation string, w Window) (*Track, int, error) {
	sat := gosatellite.TLEToSat(rec.Line1, rec.Line2, gosatellite.GravityWGS84)

	track := &Track{
		SatelliteID:   rec.SatelliteID,
		Constellation: constellation,
		TLE:           rec,
		Samples:       make([]Sample, w.Samples),
	}

	invalid := 0
	for k := 0; k < w.Samples; k++ {
		t := w.At(k)
		sample := Sample{Timestamp: t}

		y, mo, d := t.Year(), int(t.Month()), t.Day()
		h, mi, s := t.Hour(), t.Minute(), t.Second()

		pos, vel := gosatellite.Propagate(sat, y, mo, d, h, mi, s)
		if !finiteVec(pos) || (pos.X == 0 && pos.Y == 0 && pos.Z == 0) {
			invalid++
			track.Samples[k] = sample
			continue
		}

		jday := gosatellite.JDay(y, mo, d, h, mi, s)
		gmst := gosatellite.ThetaG_JD(jday)

		sample.Position = Vec3{X: pos.X, Y: pos.Y, Z: pos.Z}
		sample.Velocity = Vec3{X: vel.X, Y: vel.Y, Z: vel.Z}

		look := gosatellite.ECIToLookAngles(pos, p.obsLatLong, p.obsAltKm, jday)
		sample.Topo = Topocentric{
			ElevationDeg: look.El * 180 / math.Pi,
			AzimuthDeg:   normalizeAzimuth(look.Az * 180 / math.Pi),
			RangeKm:      look.Rg,
		}

		altKm, _, latLong := gosatellite.ECIToLLA(pos, gmst)
		lld := gosatellite.LatLongDeg(latLong)
		sample.Sub = Subpoint{
			LatDeg: lld.Latitude,
			LonDeg: normalizeLongitude(lld.Longitude),
			AltKm:  altKm,
		}

		if !sampleSane(sample) {
			invalid++
			track.Samples[k] = Sample{Timestamp: t}
			continue
		}

		sample.Valid = true
		track.Samples[k] = sample
	}

	if invalid == w.Samples {
		return nil, invalid, &PropagationError{SatelliteID: rec.SatelliteID, Reason: "every propagation instant failed"}
	}
	return track, invalid, nil
}

// sampleSane enforces the per-sample invariants: elevation within [-90, 90],
// azimuth within [0, 360), positive range.
func sampleSane(s Sample) bool {
	if math.IsNaN(s.Topo.ElevationDeg) || s.Topo.ElevationDeg < -90 || s.Topo.ElevationDeg > 90 {
		return false
	}
	if math.IsNaN(s.Topo.AzimuthDeg) || s.Topo.AzimuthDeg < 0 || s.Topo.AzimuthDeg >= 360 {
		return false
	}
	if math.IsNaN(s.Topo.RangeKm) || s.Topo.RangeKm <= 0 {
		return false
	}
	return true
}

func finiteVec(v gosatellite.Vector3) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}

func normalizeAzimuth(az float64) float64 {
	az = math.Mod(az, 360)
	if az < 0 {
		az += 360
	}
	return az
}

func normalizeLongitude(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
