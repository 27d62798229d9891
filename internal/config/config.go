// Package config holds the pipeline configuration: observer coordinates,
// analysis window, elevation thresholds, scoring weights, signal model
// parameters and pool targets. The schema matches config/pipeline.defaults.json
// so the same JSON can be used for both the canonical defaults and partial
// override files.
//
// A loaded Config is never mutated during a run. Stages receive it by
// reference and use the getter methods, which fall back to the documented
// defaults for any field absent from the JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
// This is the single source of truth for all default values.
const DefaultConfigPath = "config/pipeline.defaults.json"

// Default observer: NTPU ground station.
const (
	DefaultObserverLatitude  = 24.9441667
	DefaultObserverLongitude = 121.3713889
	DefaultObserverAltitudeM = 50.0
)

// Default analysis window: 6 hours at a 30-second cadence (721 samples).
const (
	DefaultWindowHours    = 6.0
	DefaultCadenceSeconds = 30
)

// Default layered elevation thresholds in degrees.
const (
	DefaultMinElevationDeg      = 5.0
	DefaultHandoverElevationDeg = 10.0
	DefaultOptimalElevationDeg  = 15.0
)

// ConfigError reports an invalid configuration. It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: invalid %s: %s", e.Field, e.Reason)
}

// ObserverConfig is the fixed ground reference for visibility calculations.
type ObserverConfig struct {
	LatitudeDeg  *float64 `json:"latitude_deg,omitempty"`
	LongitudeDeg *float64 `json:"longitude_deg,omitempty"`
	AltitudeM    *float64 `json:"altitude_m,omitempty"`
}

// WindowConfig describes the contiguous UTC interval the pipeline propagates
// orbits over, and the sample cadence within it.
type WindowConfig struct {
	AnalysisWindowHours  *float64 `json:"analysis_window_hours,omitempty"`
	SampleCadenceSeconds *int     `json:"sample_cadence_seconds,omitempty"`
}

// ThresholdConfig holds the layered elevation thresholds (degrees).
// The three values must be strictly increasing.
type ThresholdConfig struct {
	MinDeg      *float64 `json:"min_deg,omitempty"`
	HandoverDeg *float64 `json:"handover_deg,omitempty"`
	OptimalDeg  *float64 `json:"optimal_deg,omitempty"`
}

// FilterConfig bounds the candidate set retained by the suitability filter.
type FilterConfig struct {
	MinVisibleSamples *int     `json:"min_visible_samples,omitempty"`
	MedianGuardMargin *float64 `json:"median_guard_margin,omitempty"`
	MinPoolSize       *int     `json:"min_pool_size,omitempty"`
	MaxPoolSize       *int     `json:"max_pool_size,omitempty"`
}

// ScoringWeights are the multi-criteria suitability weights. They must sum
// to 1 within a small tolerance.
type ScoringWeights struct {
	Inclination   *float64 `json:"inclination,omitempty"`
	Altitude      *float64 `json:"altitude,omitempty"`
	Eccentricity  *float64 `json:"eccentricity,omitempty"`
	PassFrequency *float64 `json:"pass_frequency,omitempty"`
	Constellation *float64 `json:"constellation,omitempty"`
}

// ConstellationProfile is the per-constellation scoring target: satellites
// near the constellation's design inclination and altitude score highest.
type ConstellationProfile struct {
	TargetInclinationDeg *float64 `json:"target_inclination_deg,omitempty"`
	TargetAltitudeKm     *float64 `json:"target_altitude_km,omitempty"`
}

// ScoringConfig groups the weights and per-constellation profiles.
type ScoringConfig struct {
	Weights  *ScoringWeights                  `json:"weights,omitempty"`
	Profiles map[string]*ConstellationProfile `json:"profiles,omitempty"`
}

// SignalConfig parameterises the Ku-band link budget and the 3GPP event
// thresholds.
type SignalConfig struct {
	FrequencyGHz            *float64 `json:"frequency_ghz,omitempty"`
	EIRPDbm                 *float64 `json:"eirp_dbm,omitempty"`
	AtmosphericModel        *string  `json:"atmospheric_model,omitempty"` // "clear-sky" or "rain"
	RainRateMmH             *float64 `json:"rain_rate_mm_h,omitempty"`
	A4ThresholdDbm          *float64 `json:"a4_threshold_dbm,omitempty"`
	A5ThresholdServingDbm   *float64 `json:"a5_threshold_serving_dbm,omitempty"`
	A5ThresholdNeighbourDbm *float64 `json:"a5_threshold_neighbour_dbm,omitempty"`
	D2ServingKm             *float64 `json:"d2_serving_km,omitempty"`
	D2NeighbourKm           *float64 `json:"d2_neighbour_km,omitempty"`
	HysteresisDb            *float64 `json:"hysteresis_db,omitempty"`
}

// ConstellationTarget is the per-constellation pool sizing goal.
type ConstellationTarget struct {
	PoolSize   *int `json:"pool_size,omitempty"`
	MinVisible *int `json:"min_visible,omitempty"`
}

// PoolConfig tunes the dynamic pool planner's annealing refinement.
type PoolConfig struct {
	AnnealSeed             *int64   `json:"anneal_seed,omitempty"`
	AnnealIterations       *int     `json:"anneal_iterations,omitempty"`
	StallRounds            *int     `json:"stall_rounds,omitempty"`
	WallClockBudgetSeconds *float64 `json:"wall_clock_budget_seconds,omitempty"`
}

// TLEConfig bounds the accepted input data quality.
type TLEConfig struct {
	MaxEpochAgeDays *int     `json:"max_epoch_age_days,omitempty"`
	MinValidRatio   *float64 `json:"min_valid_ratio,omitempty"`
}

// Config is the root configuration object. Fields omitted from the JSON file
// retain their defaults, so partial configs are safe.
type Config struct {
	Observer             *ObserverConfig                 `json:"observer,omitempty"`
	Window               *WindowConfig                   `json:"window,omitempty"`
	ElevationThresholds  *ThresholdConfig                `json:"elevation_thresholds,omitempty"`
	Filter               *FilterConfig                   `json:"filter,omitempty"`
	Scoring              *ScoringConfig                  `json:"scoring,omitempty"`
	Signal               *SignalConfig                   `json:"signal,omitempty"`
	ConstellationTargets map[string]*ConstellationTarget `json:"constellation_targets,omitempty"`
	Pool                 *PoolConfig                     `json:"pool,omitempty"`
	TLE                  *TLEConfig                      `json:"tle,omitempty"`
}

// Empty returns a Config with all fields unset; every getter falls back to
// its default.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file and validates it. Fields omitted from
// the file retain their default values.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, &ConfigError{Field: "path", Reason: fmt.Sprintf("config file must have .json extension, got %q", ext)}
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, &ConfigError{Field: "path", Reason: fmt.Sprintf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)}
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching upward from the current directory. Panics if the file cannot be
// loaded; intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/handover/*
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks cross-field invariants. It returns a *ConfigError naming
// the first offending field.
func (c *Config) Validate() error {
	lat := c.ObserverLatitude()
	if lat < -90 || lat > 90 {
		return &ConfigError{Field: "observer.latitude_deg", Reason: fmt.Sprintf("%v out of range [-90, 90]", lat)}
	}
	lon := c.ObserverLongitude()
	if lon < -180 || lon > 180 {
		return &ConfigError{Field: "observer.longitude_deg", Reason: fmt.Sprintf("%v out of range [-180, 180]", lon)}
	}

	if h := c.WindowHours(); h <= 0 {
		return &ConfigError{Field: "window.analysis_window_hours", Reason: "must be positive"}
	}
	if s := c.CadenceSeconds(); s <= 0 {
		return &ConfigError{Field: "window.sample_cadence_seconds", Reason: "must be positive"}
	}

	minEl, ho, opt := c.MinElevationDeg(), c.HandoverElevationDeg(), c.OptimalElevationDeg()
	if !(minEl < ho && ho < opt) {
		return &ConfigError{
			Field:  "elevation_thresholds",
			Reason: fmt.Sprintf("thresholds must be strictly increasing, got min=%v handover=%v optimal=%v", minEl, ho, opt),
		}
	}
	if minEl < 0 || opt > 90 {
		return &ConfigError{Field: "elevation_thresholds", Reason: "thresholds must lie in [0, 90]"}
	}

	if minP, maxP := c.FilterMinPoolSize(), c.FilterMaxPoolSize(); minP > maxP {
		return &ConfigError{Field: "filter", Reason: fmt.Sprintf("min_pool_size %d > max_pool_size %d", minP, maxP)}
	}
	if v := c.FilterMinVisibleSamples(); v < 1 {
		return &ConfigError{Field: "filter.min_visible_samples", Reason: "must be at least 1"}
	}

	w := c.Weights()
	sum := w.Inclination + w.Altitude + w.Eccentricity + w.PassFrequency + w.Constellation
	if sum < 0.999 || sum > 1.001 {
		return &ConfigError{Field: "scoring.weights", Reason: fmt.Sprintf("weights must sum to 1, got %v", sum)}
	}

	if f := c.FrequencyGHz(); f <= 0 {
		return &ConfigError{Field: "signal.frequency_ghz", Reason: "must be positive"}
	}
	if m := c.AtmosphericModel(); m != "clear-sky" && m != "rain" {
		return &ConfigError{Field: "signal.atmospheric_model", Reason: fmt.Sprintf("unknown model %q", m)}
	}
	if c.D2NeighbourKm() >= c.D2ServingKm() {
		return &ConfigError{Field: "signal", Reason: "d2_neighbour_km must be below d2_serving_km"}
	}

	for name, tgt := range c.ConstellationTargets {
		if tgt == nil {
			continue
		}
		if tgt.MinVisible != nil && *tgt.MinVisible < 1 {
			return &ConfigError{Field: "constellation_targets." + name + ".min_visible", Reason: "must be at least 1"}
		}
		if tgt.PoolSize != nil && *tgt.PoolSize < 1 {
			return &ConfigError{Field: "constellation_targets." + name + ".pool_size", Reason: "must be at least 1"}
		}
	}

	if r := c.TLEMinValidRatio(); r <= 0 || r > 1 {
		return &ConfigError{Field: "tle.min_valid_ratio", Reason: "must lie in (0, 1]"}
	}
	if d := c.TLEMaxEpochAgeDays(); d < 1 {
		return &ConfigError{Field: "tle.max_epoch_age_days", Reason: "must be at least 1 day"}
	}

	return nil
}

// ResolvedWeights is the dereferenced view of ScoringWeights with defaults
// applied.
type ResolvedWeights struct {
	Inclination   float64
	Altitude      float64
	Eccentricity  float64
	PassFrequency float64
	Constellation float64
}

func (c *Config) ObserverLatitude() float64 {
	if c.Observer != nil && c.Observer.LatitudeDeg != nil {
		return *c.Observer.LatitudeDeg
	}
	return DefaultObserverLatitude
}

func (c *Config) ObserverLongitude() float64 {
	if c.Observer != nil && c.Observer.LongitudeDeg != nil {
		return *c.Observer.LongitudeDeg
	}
	return DefaultObserverLongitude
}

func (c *Config) ObserverAltitudeM() float64 {
	if c.Observer != nil && c.Observer.AltitudeM != nil {
		return *c.Observer.AltitudeM
	}
	return DefaultObserverAltitudeM
}

func (c *Config) WindowHours() float64 {
	if c.Window != nil && c.Window.AnalysisWindowHours != nil {
		return *c.Window.AnalysisWindowHours
	}
	return DefaultWindowHours
}

func (c *Config) CadenceSeconds() int {
	if c.Window != nil && c.Window.SampleCadenceSeconds != nil {
		return *c.Window.SampleCadenceSeconds
	}
	return DefaultCadenceSeconds
}

// SampleCount returns the number of samples in the analysis window,
// inclusive of both endpoints: window/cadence + 1.
func (c *Config) SampleCount() int {
	return int(c.WindowHours()*3600)/c.CadenceSeconds() + 1
}

func (c *Config) MinElevationDeg() float64 {
	if c.ElevationThresholds != nil && c.ElevationThresholds.MinDeg != nil {
		return *c.ElevationThresholds.MinDeg
	}
	return DefaultMinElevationDeg
}

func (c *Config) HandoverElevationDeg() float64 {
	if c.ElevationThresholds != nil && c.ElevationThresholds.HandoverDeg != nil {
		return *c.ElevationThresholds.HandoverDeg
	}
	return DefaultHandoverElevationDeg
}

func (c *Config) OptimalElevationDeg() float64 {
	if c.ElevationThresholds != nil && c.ElevationThresholds.OptimalDeg != nil {
		return *c.ElevationThresholds.OptimalDeg
	}
	return DefaultOptimalElevationDeg
}

// LayeredThresholds returns the three elevation cuts in ascending order.
func (c *Config) LayeredThresholds() [3]float64 {
	return [3]float64{c.MinElevationDeg(), c.HandoverElevationDeg(), c.OptimalElevationDeg()}
}

func (c *Config) FilterMinVisibleSamples() int {
	if c.Filter != nil && c.Filter.MinVisibleSamples != nil {
		return *c.Filter.MinVisibleSamples
	}
	return 3
}

func (c *Config) FilterMedianGuardMargin() float64 {
	if c.Filter != nil && c.Filter.MedianGuardMargin != nil {
		return *c.Filter.MedianGuardMargin
	}
	return 2.5
}

func (c *Config) FilterMinPoolSize() int {
	if c.Filter != nil && c.Filter.MinPoolSize != nil {
		return *c.Filter.MinPoolSize
	}
	return 50
}

func (c *Config) FilterMaxPoolSize() int {
	if c.Filter != nil && c.Filter.MaxPoolSize != nil {
		return *c.Filter.MaxPoolSize
	}
	return 1100
}

// Weights returns the suitability weights with defaults applied.
func (c *Config) Weights() ResolvedWeights {
	w := ResolvedWeights{
		Inclination:   0.25,
		Altitude:      0.20,
		Eccentricity:  0.15,
		PassFrequency: 0.20,
		Constellation: 0.20,
	}
	if c.Scoring == nil || c.Scoring.Weights == nil {
		return w
	}
	sw := c.Scoring.Weights
	if sw.Inclination != nil {
		w.Inclination = *sw.Inclination
	}
	if sw.Altitude != nil {
		w.Altitude = *sw.Altitude
	}
	if sw.Eccentricity != nil {
		w.Eccentricity = *sw.Eccentricity
	}
	if sw.PassFrequency != nil {
		w.PassFrequency = *sw.PassFrequency
	}
	if sw.Constellation != nil {
		w.Constellation = *sw.Constellation
	}
	return w
}

// ResolvedProfile is the dereferenced scoring profile for one constellation.
type ResolvedProfile struct {
	TargetInclinationDeg float64
	TargetAltitudeKm     float64
}

// Profile returns the scoring profile for a constellation. Unknown
// constellations inherit the Starlink shell profile.
func (c *Config) Profile(constellation string) ResolvedProfile {
	p := ResolvedProfile{TargetInclinationDeg: 53.0, TargetAltitudeKm: 550.0}
	if constellation == "oneweb" {
		p = ResolvedProfile{TargetInclinationDeg: 87.4, TargetAltitudeKm: 1200.0}
	}
	if c.Scoring == nil {
		return p
	}
	cp, ok := c.Scoring.Profiles[constellation]
	if !ok || cp == nil {
		return p
	}
	if cp.TargetInclinationDeg != nil {
		p.TargetInclinationDeg = *cp.TargetInclinationDeg
	}
	if cp.TargetAltitudeKm != nil {
		p.TargetAltitudeKm = *cp.TargetAltitudeKm
	}
	return p
}

func (c *Config) FrequencyGHz() float64 {
	if c.Signal != nil && c.Signal.FrequencyGHz != nil {
		return *c.Signal.FrequencyGHz
	}
	return 12.0
}

func (c *Config) EIRPDbm() float64 {
	if c.Signal != nil && c.Signal.EIRPDbm != nil {
		return *c.Signal.EIRPDbm
	}
	return 43.0
}

func (c *Config) AtmosphericModel() string {
	if c.Signal != nil && c.Signal.AtmosphericModel != nil {
		return *c.Signal.AtmosphericModel
	}
	return "clear-sky"
}

func (c *Config) RainRateMmH() float64 {
	if c.Signal != nil && c.Signal.RainRateMmH != nil {
		return *c.Signal.RainRateMmH
	}
	return 0.0
}

func (c *Config) A4ThresholdDbm() float64 {
	if c.Signal != nil && c.Signal.A4ThresholdDbm != nil {
		return *c.Signal.A4ThresholdDbm
	}
	return -100.0
}

func (c *Config) A5ThresholdServingDbm() float64 {
	if c.Signal != nil && c.Signal.A5ThresholdServingDbm != nil {
		return *c.Signal.A5ThresholdServingDbm
	}
	return -110.0
}

func (c *Config) A5ThresholdNeighbourDbm() float64 {
	if c.Signal != nil && c.Signal.A5ThresholdNeighbourDbm != nil {
		return *c.Signal.A5ThresholdNeighbourDbm
	}
	return -100.0
}

func (c *Config) D2ServingKm() float64 {
	if c.Signal != nil && c.Signal.D2ServingKm != nil {
		return *c.Signal.D2ServingKm
	}
	return 5000.0
}

func (c *Config) D2NeighbourKm() float64 {
	if c.Signal != nil && c.Signal.D2NeighbourKm != nil {
		return *c.Signal.D2NeighbourKm
	}
	return 3000.0
}

func (c *Config) HysteresisDb() float64 {
	if c.Signal != nil && c.Signal.HysteresisDb != nil {
		return *c.Signal.HysteresisDb
	}
	return 3.0
}

// TargetPoolSize returns the pool sizing goal for a constellation.
func (c *Config) TargetPoolSize(constellation string) int {
	if tgt, ok := c.ConstellationTargets[constellation]; ok && tgt != nil && tgt.PoolSize != nil {
		return *tgt.PoolSize
	}
	if constellation == "oneweb" {
		return 36
	}
	return 120
}

// TargetMinVisible returns the minimum simultaneously-visible candidate
// count the pool must guarantee for a constellation.
func (c *Config) TargetMinVisible(constellation string) int {
	if tgt, ok := c.ConstellationTargets[constellation]; ok && tgt != nil && tgt.MinVisible != nil {
		return *tgt.MinVisible
	}
	if constellation == "oneweb" {
		return 3
	}
	return 10
}

func (c *Config) AnnealSeed() int64 {
	if c.Pool != nil && c.Pool.AnnealSeed != nil {
		return *c.Pool.AnnealSeed
	}
	return 1
}

func (c *Config) AnnealIterations() int {
	if c.Pool != nil && c.Pool.AnnealIterations != nil {
		return *c.Pool.AnnealIterations
	}
	return 2000
}

func (c *Config) StallRounds() int {
	if c.Pool != nil && c.Pool.StallRounds != nil {
		return *c.Pool.StallRounds
	}
	return 50
}

func (c *Config) WallClockBudgetSeconds() float64 {
	if c.Pool != nil && c.Pool.WallClockBudgetSeconds != nil {
		return *c.Pool.WallClockBudgetSeconds
	}
	return 10.0
}

func (c *Config) TLEMaxEpochAgeDays() int {
	if c.TLE != nil && c.TLE.MaxEpochAgeDays != nil {
		return *c.TLE.MaxEpochAgeDays
	}
	return 30
}

func (c *Config) TLEMinValidRatio() float64 {
	if c.TLE != nil && c.TLE.MinValidRatio != nil {
		return *c.TLE.MinValidRatio
	}
	return 0.95
}
