// Package monitor renders run diagnostics as standalone HTML charts. It is
// a debugging surface, not part of the stage contracts.
package monitor

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/ntnlab/satpool/internal/handover/pipeline"
)

// WriteCoverageChart renders the per-threshold visible-satellite counts and
// the pool coverage series for every constellation in the run to a single
// HTML file.
func WriteCoverageChart(path string, res *pipeline.Result) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Constellation coverage",
			Width:     "1200px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Visible satellites over the analysis window",
			Subtitle: fmt.Sprintf("run %s, base %s", res.Lineage.RunID, res.Lineage.SGP4BaseTime.Format("2006-01-02 15:04")),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "UTC"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "satellites"}),
	)

	names := make([]string, 0, len(res.Constellations))
	for name := range res.Constellations {
		names = append(names, name)
	}
	sort.Strings(names)

	var axis []string
	for _, name := range names {
		cr := res.Constellations[name]
		if cr.Series == nil {
			continue
		}
		if axis == nil {
			for _, agg := range cr.Series.Aggregates {
				axis = append(axis, agg.T.Format("15:04:05"))
			}
			line.SetXAxis(axis)
		}

		min := make([]opts.LineData, len(cr.Series.Aggregates))
		handover := make([]opts.LineData, len(cr.Series.Aggregates))
		optimal := make([]opts.LineData, len(cr.Series.Aggregates))
		for i, agg := range cr.Series.Aggregates {
			min[i] = opts.LineData{Value: agg.AboveMin}
			handover[i] = opts.LineData{Value: agg.AboveHandover}
			optimal[i] = opts.LineData{Value: agg.AboveOptimal}
		}
		line.AddSeries(name+" above min", min)
		line.AddSeries(name+" above handover", handover)
		line.AddSeries(name+" above optimal", optimal)

		if cr.Pool != nil {
			pool := make([]opts.LineData, len(cr.Pool.Proof.PerInstant))
			for i, count := range cr.Pool.Proof.PerInstant {
				pool[i] = opts.LineData{Value: count}
			}
			line.AddSeries(name+" pool coverage", pool)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("monitor: create %s: %w", path, err)
	}
	defer f.Close()
	if err := line.Render(f); err != nil {
		return fmt.Errorf("monitor: render chart: %w", err)
	}
	return nil
}
