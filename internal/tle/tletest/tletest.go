// Package tletest builds syntactically valid TLE fixtures for tests:
// correctly padded columns and a computed modulo-10 checksum, with orbital
// elements chosen by the caller.
package tletest

import (
	"fmt"
)

// Elements are the fields a fixture TLE exposes. Zero values are valid.
type Elements struct {
	SatelliteID    int
	EpochYY        int     // two-digit year
	EpochDOY       float64 // fractional day of year
	InclinationDeg float64
	RAANDeg        float64
	Eccentricity   float64 // 0 <= e < 1
	ArgPerigeeDeg  float64
	MeanAnomalyDeg float64
	MeanMotion     float64 // revs/day
}

// checksum computes the NORAD modulo-10 checksum over the first 68 columns.
func checksum(line string) byte {
	sum := 0
	for i := 0; i < 68; i++ {
		c := line[i]
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return byte('0' + sum%10)
}

// Lines renders the two element lines for e, checksums included.
func Lines(e Elements) (line1, line2 string) {
	l1 := fmt.Sprintf("1 %05dU 24001A   %02d%012.8f  .00000000  00000-0  00000-0 0  999",
		e.SatelliteID, e.EpochYY, e.EpochDOY)
	l2 := fmt.Sprintf("2 %05d %8.4f %8.4f %07d %8.4f %8.4f %11.8f%5d",
		e.SatelliteID, e.InclinationDeg, e.RAANDeg, int(e.Eccentricity*1e7+0.5),
		e.ArgPerigeeDeg, e.MeanAnomalyDeg, e.MeanMotion, 100)
	if len(l1) != 68 || len(l2) != 68 {
		panic(fmt.Sprintf("tletest: bad fixture widths %d/%d", len(l1), len(l2)))
	}
	return l1 + string(checksum(l1)), l2 + string(checksum(l2))
}

// Entry renders a full three-line catalogue entry.
func Entry(name string, e Elements) string {
	l1, l2 := Lines(e)
	return name + "\n" + l1 + "\n" + l2 + "\n"
}
