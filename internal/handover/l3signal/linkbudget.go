package l3signal

import (
	"math"
	"time"
)

// 3GPP measurement ranges the derived quantities are clamped to.
const (
	rsrqMinDb = -43.0
	rsrqMaxDb = 20.0
	sinrMinDb = -23.0
	sinrMaxDb = 40.0
)

// maxElevationGainDb is the peak antenna gain credited at zenith.
const maxElevationGainDb = 15.0

// AtmosphericLossModel computes the atmospheric attenuation in dB for a
// given elevation. Models are pure functions so they can be swapped without
// touching the link-budget contract.
type AtmosphericLossModel func(elevationDeg float64) float64

// ClearSkyLoss is the default clear-sky model: attenuation grows as the
// slant path through the troposphere lengthens at low elevation, linear in
// elevation between 2.0 dB at the horizon and 0.5 dB at zenith.
func ClearSkyLoss(elevationDeg float64) float64 {
	if elevationDeg < 0 {
		elevationDeg = 0
	}
	if elevationDeg > 90 {
		elevationDeg = 90
	}
	return 2.0 - 1.5*(elevationDeg/90.0)
}

// RainLoss builds an ITU-R P.618-style rain attenuation model for a rain
// rate in mm/h, stacked on the clear-sky term. Specific attenuation for
// Ku-band downlink uses the P.838 power-law coefficients at 12 GHz, scaled
// by an effective slant path through the rain layer.
func RainLoss(rainRateMmH float64) AtmosphericLossModel {
	// P.838 coefficients for ~12 GHz, circular polarisation.
	const (
		kCoeff     = 0.0188
		alphaCoeff = 1.217
		rainHeight = 4.0 // km, effective rain layer
	)
	gamma := kCoeff * math.Pow(math.Max(rainRateMmH, 0), alphaCoeff) // dB/km
	return func(elevationDeg float64) float64 {
		clear := ClearSkyLoss(elevationDeg)
		if rainRateMmH <= 0 {
			return clear
		}
		el := math.Max(elevationDeg, 5) * math.Pi / 180
		slantKm := rainHeight / math.Sin(el)
		return clear + gamma*slantKm
	}
}

// Sample augments one orbit sample with the received-signal quantities.
// The signal fields are only meaningful when Visible is true.
type Sample struct {
	Timestamp         time.Time `json:"t"`
	ElevationDeg      float64   `json:"elevation_deg"`
	RangeKm           float64   `json:"range_km"`
	Visible           bool      `json:"visible"`
	RSRPDbm           float64   `json:"rsrp_dbm"`
	RSRQDb            float64   `json:"rsrq_db"`
	SINRDb            float64   `json:"sinr_db"`
	PathLossDb        float64   `json:"path_loss_db"`
	AtmosphericLossDb float64   `json:"atmospheric_loss_db"`
}

// LinkBudget evaluates the downlink budget for one geometry sample.
type LinkBudget struct {
	FrequencyGHz float64
	EIRPDbm      float64
	Atmosphere   AtmosphericLossModel
}

// FSPL returns the free-space path loss in dB for a slant range in km at
// the budget's carrier frequency.
func (lb LinkBudget) FSPL(rangeKm float64) float64 {
	return 20*math.Log10(rangeKm) + 20*math.Log10(lb.FrequencyGHz) + 32.45
}

// Evaluate fills in the signal quantities for a visible geometry sample.
func (lb LinkBudget) Evaluate(elevationDeg, rangeKm float64) (rsrp, rsrq, sinr, fspl, atmo float64) {
	fspl = lb.FSPL(rangeKm)
	atmo = lb.Atmosphere(elevationDeg)

	gain := math.Min(elevationDeg/90.0, 1.0) * maxElevationGainDb
	rsrp = lb.EIRPDbm - fspl + gain - atmo

	// RSRQ and SINR track elevation monotonically within the 3GPP
	// measurement ranges: geometry at zenith is both quieter and less
	// interference-loaded than at the horizon.
	frac := math.Min(math.Max(elevationDeg, 0)/90.0, 1.0)
	rsrq = clamp(-19.5+16.5*frac, rsrqMinDb, rsrqMaxDb)
	sinr = clamp(-5.0+30.0*frac, sinrMinDb, sinrMaxDb)
	return rsrp, rsrq, sinr, fspl, atmo
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
