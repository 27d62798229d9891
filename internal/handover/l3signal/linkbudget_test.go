package l3signal

import (
	"math"
	"testing"
)

func TestFSPL(t *testing.T) {
	lb := LinkBudget{FrequencyGHz: 12.0, EIRPDbm: 43, Atmosphere: ClearSkyLoss}

	// 20*log10(1000) + 20*log10(12) + 32.45
	want := 60 + 20*math.Log10(12) + 32.45
	if got := lb.FSPL(1000); math.Abs(got-want) > 1e-9 {
		t.Errorf("FSPL(1000) = %v, want %v", got, want)
	}

	// Doubling the range adds ~6.02 dB.
	if diff := lb.FSPL(2000) - lb.FSPL(1000); math.Abs(diff-20*math.Log10(2)) > 1e-9 {
		t.Errorf("FSPL doubling delta = %v", diff)
	}
}

func TestClearSkyLoss(t *testing.T) {
	if got := ClearSkyLoss(0); got != 2.0 {
		t.Errorf("ClearSkyLoss(0) = %v, want 2", got)
	}
	if got := ClearSkyLoss(90); got != 0.5 {
		t.Errorf("ClearSkyLoss(90) = %v, want 0.5", got)
	}
	if ClearSkyLoss(10) <= ClearSkyLoss(80) {
		t.Error("loss should shrink with elevation")
	}
}

func TestRainLoss(t *testing.T) {
	clear := RainLoss(0)
	if got, want := clear(45), ClearSkyLoss(45); got != want {
		t.Errorf("zero-rain model = %v, want clear-sky %v", got, want)
	}

	rain := RainLoss(25)
	if rain(10) <= ClearSkyLoss(10) {
		t.Error("rain attenuation should exceed clear sky")
	}
	// The slant path through the rain layer shortens at high elevation.
	if rain(10) <= rain(80) {
		t.Error("rain attenuation should shrink with elevation")
	}
}

func TestEvaluateMonotonicAndBounded(t *testing.T) {
	lb := LinkBudget{FrequencyGHz: 12.0, EIRPDbm: 43, Atmosphere: ClearSkyLoss}

	prevRSRQ, prevSINR := math.Inf(-1), math.Inf(-1)
	for el := 0.0; el <= 90; el += 5 {
		rsrp, rsrq, sinr, fspl, atmo := lb.Evaluate(el, 1000)
		if rsrq < rsrqMinDb || rsrq > rsrqMaxDb {
			t.Errorf("rsrq %v out of 3GPP range at el=%v", rsrq, el)
		}
		if sinr < sinrMinDb || sinr > sinrMaxDb {
			t.Errorf("sinr %v out of 3GPP range at el=%v", sinr, el)
		}
		if rsrq < prevRSRQ || sinr < prevSINR {
			t.Errorf("quality not monotonic in elevation at el=%v", el)
		}
		prevRSRQ, prevSINR = rsrq, sinr

		want := 43 - fspl + math.Min(el/90, 1)*15 - atmo
		if math.Abs(rsrp-want) > 1e-9 {
			t.Errorf("rsrp = %v, want %v at el=%v", rsrp, want, el)
		}
	}
}

func TestPriorityRule(t *testing.T) {
	if priorityOf(EventA5) != PriorityHigh {
		t.Error("A5 should be HIGH")
	}
	if priorityOf(EventA4) != PriorityMedium {
		t.Error("A4 should be MEDIUM")
	}
	if priorityOf(EventD2) != PriorityLow {
		t.Error("D2 should be LOW")
	}
	if PriorityHigh.String() != "HIGH" || PriorityNone.String() != "NONE" {
		t.Error("priority labels wrong")
	}
	if EventA4.String() != "A4" || EventA5.String() != "A5" || EventD2.String() != "D2" {
		t.Error("event type labels wrong")
	}
}
