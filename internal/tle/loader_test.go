package tle_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ntnlab/satpool/internal/tle"
	"github.com/ntnlab/satpool/internal/tle/tletest"
)

func writeTree(t *testing.T, root, constellation, stamp, body string) string {
	t.Helper()
	dir := filepath.Join(root, constellation, "tle")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, constellation+"_"+stamp+".tle")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func starlinkEntry(id int, doy float64) string {
	return tletest.Entry("STARLINK-FIXTURE", tletest.Elements{
		SatelliteID: id, EpochYY: 25, EpochDOY: doy,
		InclinationDeg: 53.05, Eccentricity: 0.0001, MeanMotion: 15.06,
	})
}

func defaultOpts() tle.LoaderOptions {
	return tle.LoaderOptions{
		AsOf:            time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC),
		MaxEpochAgeDays: 30,
		MinValidRatio:   0.95,
	}
}

func TestLoadPicksFreshestFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "starlink", "20250301", starlinkEntry(1001, 60.5))
	writeTree(t, root, "starlink", "20250315", starlinkEntry(1002, 74.5))

	files, err := tle.Load(root, defaultOpts())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	f, ok := files["starlink"]
	if !ok {
		t.Fatal("no starlink catalogue")
	}
	want := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	if !f.DataEpoch.Equal(want) {
		t.Errorf("DataEpoch = %v, want %v", f.DataEpoch, want)
	}
	if len(f.Records) != 1 || f.Records[0].SatelliteID != 1002 {
		t.Errorf("Records = %+v, want the 20250315 catalogue", f.Records)
	}
}

func TestLoadPartitionsConstellations(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "starlink", "20250315", starlinkEntry(1001, 74.5))
	writeTree(t, root, "oneweb", "20250315", tletest.Entry("ONEWEB-FIXTURE", tletest.Elements{
		SatelliteID: 2001, EpochYY: 25, EpochDOY: 74.5,
		InclinationDeg: 87.4, Eccentricity: 0.0002, MeanMotion: 13.15,
	}))

	files, err := tle.Load(root, defaultOpts())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d constellations, want 2", len(files))
	}
	if files["starlink"].Records[0].SatelliteID != 1001 {
		t.Error("starlink catalogue mixed up")
	}
	if files["oneweb"].Records[0].SatelliteID != 2001 {
		t.Error("oneweb catalogue mixed up")
	}
}

func TestLoadMissing(t *testing.T) {
	root := t.TempDir()
	_, err := tle.Load(root, defaultOpts())
	var missing *tle.MissingError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want *MissingError", err)
	}
}

func TestLoadStaleEpoch(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "starlink", "20250101", starlinkEntry(1001, 1.5))

	opts := defaultOpts() // as-of 2025-03-16, 74 days later
	_, err := tle.Load(root, opts)
	var stale *tle.StaleEpochError
	if !errors.As(err, &stale) {
		t.Fatalf("err = %v, want *StaleEpochError", err)
	}
	if stale.Constellation != "starlink" {
		t.Errorf("Constellation = %q", stale.Constellation)
	}
}

func TestLoadFormatRatio(t *testing.T) {
	root := t.TempDir()
	// One good record and one with a corrupted element field (checksum no
	// longer matches): 50% valid.
	good := starlinkEntry(1001, 74.5)
	bad := strings.Replace(starlinkEntry(1002, 74.5), "53.05", "54.05", 1)
	writeTree(t, root, "starlink", "20250315", good+bad)

	_, err := tle.Load(root, defaultOpts())
	var format *tle.FormatError
	if !errors.As(err, &format) {
		t.Fatalf("err = %v, want *FormatError", err)
	}
	if format.Valid != 1 || format.Skipped.BadChecksum != 1 {
		t.Errorf("FormatError = %+v", format)
	}
}

func TestLoadSkipsAndCounts(t *testing.T) {
	root := t.TempDir()
	// 20 good records and one bad keeps the ratio above 0.95.
	body := ""
	for i := 0; i < 20; i++ {
		body += starlinkEntry(1000+i, 74.5)
	}
	body += strings.Replace(starlinkEntry(2000, 74.5), "53.05", "54.05", 1)
	writeTree(t, root, "starlink", "20250315", body)

	files, err := tle.Load(root, defaultOpts())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	f := files["starlink"]
	if len(f.Records) != 20 {
		t.Errorf("Records = %d, want 20", len(f.Records))
	}
	if f.Skipped.Total() != 1 {
		t.Errorf("Skipped = %+v, want 1", f.Skipped)
	}
}

func TestLoadRejectsRecordEpochFarFromDataEpoch(t *testing.T) {
	root := t.TempDir()
	// Catalogue stamped March 15 with 20 fresh records plus one whose
	// element epoch is from early January.
	body := ""
	for i := 0; i < 20; i++ {
		body += starlinkEntry(1000+i, 74.5)
	}
	body += starlinkEntry(2000, 4.5)
	writeTree(t, root, "starlink", "20250315", body)

	files, err := tle.Load(root, defaultOpts())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	f := files["starlink"]
	if len(f.Records) != 20 {
		t.Errorf("Records = %d, want 20 (stale element epoch skipped)", len(f.Records))
	}
	if f.Skipped.StaleEpoch != 1 {
		t.Errorf("Skipped.StaleEpoch = %d, want 1", f.Skipped.StaleEpoch)
	}
}
