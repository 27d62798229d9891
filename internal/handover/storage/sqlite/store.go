// Package sqlite persists the pipeline's boundary records — run lineage,
// satellite metadata, elevation-cut crossings, event timelines and pool
// membership — to a local sqlite database. It is an adapter outside the
// core: the stages never import it, and it only reads their outputs.
package sqlite

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/ntnlab/satpool/internal/handover/l3signal"
	"github.com/ntnlab/satpool/internal/handover/pipeline"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the research database.
type Store struct {
	*sql.DB
}

// Open opens (creating if needed) the database at path and applies any
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	s := &Store{DB: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("sqlite: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("sqlite: migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlite: migrate up: %w", err)
	}
	return nil
}

const timeFormat = time.RFC3339Nano

// SaveResult writes a completed run's boundary records in one transaction.
func (s *Store) SaveResult(res *pipeline.Result) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	lin := res.Lineage
	if _, err := tx.Exec(
		`INSERT INTO runs (run_id, processing_started_at, sgp4_base_time, stages_completed) VALUES (?, ?, ?, ?)`,
		lin.RunID,
		lin.ProcessingStartedAt.UTC().Format(timeFormat),
		lin.SGP4BaseTime.UTC().Format(timeFormat),
		strings.Join(lin.StagesCompleted, ","),
	); err != nil {
		return fmt.Errorf("sqlite: insert run: %w", err)
	}
	for constellation, epoch := range lin.TLEDataEpochs {
		if _, err := tx.Exec(
			`INSERT INTO run_tle_epochs (run_id, constellation, data_epoch) VALUES (?, ?, ?)`,
			lin.RunID, constellation, epoch.UTC().Format("2006-01-02"),
		); err != nil {
			return fmt.Errorf("sqlite: insert tle epoch: %w", err)
		}
	}

	for constellation, cr := range res.Constellations {
		if cr.Bundle == nil {
			continue
		}
		if err := insertBundle(tx, lin.RunID, constellation, cr); err != nil {
			return err
		}
		if cr.Pool != nil {
			if err := insertPool(tx, lin.RunID, constellation, cr); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func insertBundle(tx *sql.Tx, runID, constellation string, cr *pipeline.ConstellationResult) error {
	for _, md := range cr.Bundle.Metadata {
		suitJSON, err := json.Marshal(md.Suitability)
		if err != nil {
			return fmt.Errorf("sqlite: marshal suitability: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO satellite_metadata
			 (run_id, constellation, satellite_id, name, inclination_deg, mean_altitude_km,
			  eccentricity, period_minutes, mean_motion_rev_day, suitability_total,
			  suitability_json, pass_count, max_elevation_deg)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, constellation, md.SatelliteID, md.Name, md.InclinationDeg, md.MeanAltitudeKm,
			md.Eccentricity, md.PeriodMinutes, md.MeanMotion, md.Suitability.Total,
			string(suitJSON), md.Passes.Count, md.Passes.MaxElevationDeg,
		); err != nil {
			return fmt.Errorf("sqlite: insert metadata %d: %w", md.SatelliteID, err)
		}
	}

	for _, cut := range cr.Bundle.Cuts {
		for _, crossing := range cut.Crossings {
			var exit interface{}
			if !crossing.Exit.IsZero() {
				exit = crossing.Exit.UTC().Format(timeFormat)
			}
			if _, err := tx.Exec(
				`INSERT INTO elevation_cut_crossings
				 (run_id, constellation, threshold_deg, satellite_id, enter_at, exit_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				runID, constellation, cut.ThresholdDeg, crossing.SatelliteID,
				crossing.Enter.UTC().Format(timeFormat), exit,
			); err != nil {
				return fmt.Errorf("sqlite: insert crossing: %w", err)
			}
		}
	}

	for _, stream := range [][]l3signal.Event{cr.Bundle.EventsA4, cr.Bundle.EventsA5, cr.Bundle.EventsD2} {
		for _, ev := range stream {
			if _, err := tx.Exec(
				`INSERT INTO handover_events
				 (run_id, constellation, event_type, triggered_at, serving_satellite_id,
				  neighbour_satellite_id, priority, serving_rsrp_dbm, neighbour_rsrp_dbm,
				  serving_range_km, neighbour_range_km)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, constellation, ev.Type.String(), ev.TriggeredAt.UTC().Format(timeFormat),
				ev.ServingID, ev.NeighbourID, ev.Priority.String(),
				ev.ServingRSRPDbm, ev.NeighbourRSRPDbm, ev.ServingRangeKm, ev.NeighbourRangeKm,
			); err != nil {
				return fmt.Errorf("sqlite: insert event: %w", err)
			}
		}
	}
	return nil
}

func insertPool(tx *sql.Tx, runID, constellation string, cr *pipeline.ConstellationResult) error {
	for _, m := range cr.Pool.Members {
		seriesJSON, err := json.Marshal(m.Track.Samples)
		if err != nil {
			return fmt.Errorf("sqlite: marshal series %d: %w", m.SatelliteID, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO pool_members (run_id, constellation, satellite_id, suitability, timeseries_json)
			 VALUES (?, ?, ?, ?, ?)`,
			runID, constellation, m.SatelliteID, m.Suitability, string(seriesJSON),
		); err != nil {
			return fmt.Errorf("sqlite: insert pool member %d: %w", m.SatelliteID, err)
		}
	}
	return nil
}

// PoolMemberRecord is the read-back shape for one stored pool member.
type PoolMemberRecord struct {
	SatelliteID int
	Suitability float64
	SeriesLen   int
}

// PoolMembers returns the stored pool membership for a run, ID ascending.
func (s *Store) PoolMembers(runID, constellation string) ([]PoolMemberRecord, error) {
	rows, err := s.Query(
		`SELECT satellite_id, suitability, timeseries_json
		 FROM pool_members WHERE run_id = ? AND constellation = ? ORDER BY satellite_id`,
		runID, constellation,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query pool members: %w", err)
	}
	defer rows.Close()

	var out []PoolMemberRecord
	for rows.Next() {
		var rec PoolMemberRecord
		var seriesJSON string
		if err := rows.Scan(&rec.SatelliteID, &rec.Suitability, &seriesJSON); err != nil {
			return nil, fmt.Errorf("sqlite: scan pool member: %w", err)
		}
		var series []json.RawMessage
		if err := json.Unmarshal([]byte(seriesJSON), &series); err != nil {
			return nil, fmt.Errorf("sqlite: decode series: %w", err)
		}
		rec.SeriesLen = len(series)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// EventCount returns the number of stored events of one type for a run.
func (s *Store) EventCount(runID, constellation, eventType string) (int, error) {
	var n int
	err := s.QueryRow(
		`SELECT COUNT(*) FROM handover_events WHERE run_id = ? AND constellation = ? AND event_type = ?`,
		runID, constellation, eventType,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count events: %w", err)
	}
	return n, nil
}

// MetadataCount returns the number of stored metadata records for a run.
func (s *Store) MetadataCount(runID, constellation string) (int, error) {
	var n int
	err := s.QueryRow(
		`SELECT COUNT(*) FROM satellite_metadata WHERE run_id = ? AND constellation = ?`,
		runID, constellation,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count metadata: %w", err)
	}
	return n, nil
}
