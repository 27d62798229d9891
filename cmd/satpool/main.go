// Command satpool runs the LEO handover data-preparation pipeline: it loads
// the staged TLE tree, propagates the catalogues, filters and analyses the
// candidates, and emits the dynamic satellite pool. Persistence and chart
// output are optional adapters around the in-memory run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ntnlab/satpool/internal/config"
	"github.com/ntnlab/satpool/internal/handover/monitor"
	"github.com/ntnlab/satpool/internal/handover/pipeline"
	"github.com/ntnlab/satpool/internal/handover/storage/sqlite"
	"github.com/ntnlab/satpool/internal/version"
)

var (
	tleRoot       = flag.String("tle-root", "data/tle", "Root of the staged TLE tree (<root>/<constellation>/tle/)")
	configFile    = flag.String("config", config.DefaultConfigPath, "Path to JSON pipeline configuration file")
	asOfFlag      = flag.String("as-of", "", "Reference date for TLE staleness (YYYY-MM-DD; defaults to today UTC)")
	dbPath        = flag.String("db-path", "", "Optional sqlite path for the research store")
	chartOut      = flag.String("chart-out", "", "Optional HTML path for the coverage chart")
	summaryOut    = flag.String("summary-out", "", "Optional JSON path for the run summary")
	stageDeadline = flag.Duration("stage-deadline", 0, "Optional per-stage deadline (e.g. 5m; 0 disables)")
	seedFlag      = flag.Int64("seed", 0, "Override the annealing seed (0 keeps the configured seed)")
	versionFlag   = flag.Bool("version", false, "Print version information and exit")
	versionShort  = flag.Bool("v", false, "Print version information and exit (shorthand)")
)

func main() {
	flag.Parse()

	if *versionFlag || *versionShort {
		fmt.Printf("satpool %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *seedFlag != 0 {
		if cfg.Pool == nil {
			cfg.Pool = &config.PoolConfig{}
		}
		cfg.Pool.AnnealSeed = seedFlag
	}

	asOf := time.Now().UTC().Truncate(24 * time.Hour)
	if *asOfFlag != "" {
		asOf, err = time.Parse("2006-01-02", *asOfFlag)
		if err != nil {
			log.Fatalf("invalid -as-of %q: %v", *asOfFlag, err)
		}
	}

	p := pipeline.New(cfg, pipeline.WithStageDeadline(*stageDeadline))

	start := time.Now()
	res, err := p.Run(context.Background(), *tleRoot, asOf)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}
	log.Printf("run %s complete in %s", res.Lineage.RunID, time.Since(start).Round(time.Millisecond))

	for name, cr := range res.Constellations {
		if cr.Pool != nil {
			log.Printf("%s: pool of %d satellites, worst coverage %d (need %d)",
				name, cr.Pool.FinalSize, cr.Pool.Proof.WorstCount, cr.Pool.Proof.MinVisible)
		}
	}

	if *dbPath != "" {
		store, err := sqlite.Open(*dbPath)
		if err != nil {
			log.Fatalf("store: %v", err)
		}
		defer store.Close()
		if err := store.SaveResult(res); err != nil {
			log.Fatalf("store: %v", err)
		}
		log.Printf("persisted run %s to %s", res.Lineage.RunID, *dbPath)
	}

	if *chartOut != "" {
		if err := monitor.WriteCoverageChart(*chartOut, res); err != nil {
			log.Fatalf("chart: %v", err)
		}
		log.Printf("wrote coverage chart to %s", *chartOut)
	}

	if *summaryOut != "" {
		if err := writeSummary(*summaryOut, res); err != nil {
			log.Fatalf("summary: %v", err)
		}
		log.Printf("wrote run summary to %s", *summaryOut)
	}
}

// runSummary is the diagnostic JSON shape; it never replaces the in-memory
// stage contracts.
type runSummary struct {
	Lineage   pipeline.Lineage       `json:"lineage"`
	Snapshots []pipeline.Snapshot    `json:"validation_snapshots"`
	Pools     map[string]poolSummary `json:"pools"`
}

type poolSummary struct {
	Members    []int `json:"members"`
	WorstCount int   `json:"worst_coverage"`
	MinVisible int   `json:"min_visible"`
}

func writeSummary(path string, res *pipeline.Result) error {
	summary := runSummary{
		Lineage:   res.Lineage,
		Snapshots: res.Snapshots,
		Pools:     map[string]poolSummary{},
	}
	for name, cr := range res.Constellations {
		if cr.Pool == nil {
			continue
		}
		summary.Pools[name] = poolSummary{
			Members:    cr.Pool.MemberIDs(),
			WorstCount: cr.Pool.Proof.WorstCount,
			MinVisible: cr.Pool.Proof.MinVisible,
		}
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
