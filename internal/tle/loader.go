package tle

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MissingError reports that no usable TLE file exists for a constellation
// (or for any constellation at all).
type MissingError struct {
	Root          string
	Constellation string
}

func (e *MissingError) Error() string {
	if e.Constellation == "" {
		return fmt.Sprintf("tle: no TLE files found under %s", e.Root)
	}
	return fmt.Sprintf("tle: no TLE files for constellation %q under %s", e.Constellation, e.Root)
}

// FormatError reports that a file failed bulk validation: too large a share
// of its records was rejected.
type FormatError struct {
	Path       string
	Valid      int
	Skipped    SkipCounts
	MinValid   float64
	ValidRatio float64
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("tle: %s: valid-record ratio %.3f below %.3f (valid=%d skipped=%d)",
		e.Path, e.ValidRatio, e.MinValid, e.Valid, e.Skipped.Total())
}

// StaleEpochError reports that a constellation's freshest data epoch is
// older than the configured limit relative to the pipeline's as-of date.
type StaleEpochError struct {
	Constellation string
	DataEpoch     time.Time
	AsOf          time.Time
	MaxAgeDays    int
}

func (e *StaleEpochError) Error() string {
	return fmt.Sprintf("tle: %s data epoch %s is more than %d days before as-of date %s",
		e.Constellation, e.DataEpoch.Format("2006-01-02"), e.MaxAgeDays, e.AsOf.Format("2006-01-02"))
}

// LoaderOptions bound what the loader accepts.
type LoaderOptions struct {
	// AsOf is the pipeline's configured reference date for staleness checks.
	AsOf time.Time
	// MaxEpochAgeDays rejects catalogues whose data epoch is older than
	// this relative to AsOf.
	MaxEpochAgeDays int
	// MinValidRatio fails a file whose valid-record share drops below it.
	MinValidRatio float64
}

// Load scans root for constellation subdirectories, picks the freshest dated
// file per constellation at or before AsOf, and parses it. The result is
// strictly partitioned: one File per constellation, never a shared structure.
func Load(root string, opts LoaderOptions) (map[string]*File, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("tle: read root: %w", err)
	}

	files := make(map[string]*File)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		constellation := entry.Name()
		f, err := loadConstellation(root, constellation, opts)
		if err != nil {
			var missing *MissingError
			if errors.As(err, &missing) {
				// A subdirectory without TLE files is not a constellation.
				continue
			}
			return nil, err
		}
		files[constellation] = f
	}

	if len(files) == 0 {
		return nil, &MissingError{Root: root}
	}
	return files, nil
}

// LoadConstellation loads the freshest catalogue for a single constellation.
func LoadConstellation(root, constellation string, opts LoaderOptions) (*File, error) {
	return loadConstellation(root, constellation, opts)
}

func loadConstellation(root, constellation string, opts LoaderOptions) (*File, error) {
	dir := filepath.Join(root, constellation, "tle")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &MissingError{Root: root, Constellation: constellation}
		}
		return nil, fmt.Errorf("tle: read %s: %w", dir, err)
	}

	type dated struct {
		path  string
		epoch time.Time
	}
	var candidates []dated
	prefix := constellation + "_"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".tle") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".tle")
		epoch, err := time.Parse("20060102", stamp)
		if err != nil {
			continue
		}
		if !opts.AsOf.IsZero() && epoch.After(opts.AsOf) {
			continue
		}
		candidates = append(candidates, dated{path: filepath.Join(dir, name), epoch: epoch})
	}
	if len(candidates) == 0 {
		return nil, &MissingError{Root: root, Constellation: constellation}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].epoch.After(candidates[j].epoch) })
	chosen := candidates[0]

	if opts.MaxEpochAgeDays > 0 && !opts.AsOf.IsZero() {
		if opts.AsOf.Sub(chosen.epoch) > time.Duration(opts.MaxEpochAgeDays)*24*time.Hour {
			return nil, &StaleEpochError{
				Constellation: constellation,
				DataEpoch:     chosen.epoch,
				AsOf:          opts.AsOf,
				MaxAgeDays:    opts.MaxEpochAgeDays,
			}
		}
	}

	f, err := ParseFile(chosen.path, constellation, chosen.epoch, opts)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ParseFile reads one TLE file. Malformed records are skipped and counted;
// the parse fails outright only when the valid-record ratio drops below
// opts.MinValidRatio.
func ParseFile(path, constellation string, dataEpoch time.Time, opts LoaderOptions) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tle: open %s: %w", path, err)
	}
	defer fh.Close()

	f := &File{
		Constellation: constellation,
		DataEpoch:     dataEpoch,
		Path:          path,
	}

	maxAge := opts.MaxEpochAgeDays
	if maxAge <= 0 {
		maxAge = 30
	}

	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 256), 1024)
	var trio []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		trio = append(trio, line)
		if len(trio) < 3 {
			continue
		}

		name, l1, l2 := trio[0], trio[1], trio[2]
		trio = trio[:0]

		rec, err := ParseRecord(name, l1, l2)
		if err != nil {
			classifySkip(&f.Skipped, err)
			continue
		}
		// Record epochs must cluster around the file's data epoch.
		if age := absDuration(dataEpoch.Sub(rec.Epoch)); age > time.Duration(maxAge)*24*time.Hour {
			f.Skipped.StaleEpoch++
			continue
		}
		f.Records = append(f.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("tle: scan %s: %w", path, err)
	}

	total := len(f.Records) + f.Skipped.Total()
	if total == 0 {
		return nil, &MissingError{Root: filepath.Dir(path), Constellation: constellation}
	}
	minValid := opts.MinValidRatio
	if minValid == 0 {
		minValid = 0.95
	}
	ratio := float64(len(f.Records)) / float64(total)
	if ratio < minValid {
		return nil, &FormatError{
			Path:       path,
			Valid:      len(f.Records),
			Skipped:    f.Skipped,
			MinValid:   minValid,
			ValidRatio: ratio,
		}
	}
	return f, nil
}

func classifySkip(s *SkipCounts, err error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "checksum"):
		s.BadChecksum++
	case strings.Contains(msg, "line length"), strings.Contains(msg, "line number"):
		s.BadLength++
	default:
		s.BadFields++
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
