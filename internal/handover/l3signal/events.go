package l3signal

import (
	"fmt"
	"time"
)

// EventType is the 3GPP TS 38.331 measurement event repurposed for NTN
// handover. A tagged type rather than a string so the compiler can police
// the event streams.
type EventType int

const (
	// EventA4 fires when a neighbour rises above an absolute threshold.
	EventA4 EventType = iota
	// EventA5 fires when the serving cell drops below one threshold while
	// a neighbour exceeds another.
	EventA5
	// EventD2 fires on slant-range geometry: serving far, neighbour near.
	EventD2
)

func (e EventType) String() string {
	switch e {
	case EventA4:
		return "A4"
	case EventA5:
		return "A5"
	case EventD2:
		return "D2"
	}
	return fmt.Sprintf("EventType(%d)", int(e))
}

// Priority ranks an event for the downstream handover policy. One rule,
// deterministic: A5 is HIGH, A4 is MEDIUM, D2 is LOW.
type Priority int

const (
	PriorityNone Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	}
	return "NONE"
}

// priorityOf maps each event type to its rank.
func priorityOf(t EventType) Priority {
	switch t {
	case EventA5:
		return PriorityHigh
	case EventA4:
		return PriorityMedium
	case EventD2:
		return PriorityLow
	}
	return PriorityNone
}

// EventParams records the thresholds in force when an event triggered, so a
// timeline is interpretable without the config that produced it.
type EventParams struct {
	ThresholdDbm        float64 `json:"threshold_dbm,omitempty"`
	Threshold1Dbm       float64 `json:"threshold1_dbm,omitempty"`
	Threshold2Dbm       float64 `json:"threshold2_dbm,omitempty"`
	HysteresisDb        float64 `json:"hysteresis_db,omitempty"`
	ServingDistanceKm   float64 `json:"serving_distance_km,omitempty"`
	NeighbourDistanceKm float64 `json:"neighbour_distance_km,omitempty"`
}

// Event is one triggered measurement report.
type Event struct {
	Type          EventType   `json:"type"`
	TriggeredAt   time.Time   `json:"triggered_at"`
	ServingID     int         `json:"serving_satellite_id"`
	NeighbourID   int         `json:"neighbour_satellite_id"`
	Constellation string      `json:"constellation"`
	Priority      Priority    `json:"priority"`
	Params        EventParams `json:"parameters"`

	// Measurements at the trigger instant.
	ServingRSRPDbm   float64 `json:"serving_rsrp_dbm"`
	NeighbourRSRPDbm float64 `json:"neighbour_rsrp_dbm"`
	ServingRangeKm   float64 `json:"serving_range_km"`
	NeighbourRangeKm float64 `json:"neighbour_range_km"`
}

// eventThresholds is the resolved trigger configuration.
type eventThresholds struct {
	a4ThreshDbm   float64
	a5Thresh1Dbm  float64
	a5Thresh2Dbm  float64
	d2ServingKm   float64
	d2NeighbourKm float64
	hysteresisDb  float64
}

// detectPairEvents walks one ordered (serving, neighbour) pair and emits
// edge-triggered events for each stream independently. Both satellites must
// be visible at an instant for the power events to be evaluated; D2 only
// needs valid geometry.
func detectPairEvents(serving, neighbour *SatelliteSignal, th eventThresholds) []Event {
	var events []Event

	var inA4, inA5, inD2 bool
	n := len(serving.Samples)
	if len(neighbour.Samples) < n {
		n = len(neighbour.Samples)
	}

	for k := 0; k < n; k++ {
		sp := &serving.Samples[k]
		np := &neighbour.Samples[k]

		bothVisible := sp.Visible && np.Visible

		// A4: Mn + Ofn + Ocn - Hys > Thresh, offsets zero, strict.
		a4 := bothVisible && np.RSRPDbm-th.hysteresisDb > th.a4ThreshDbm

		// A5: Mp + Hys < Thresh1 and Mn + Ofn + Ocn - Hys > Thresh2.
		a5 := bothVisible &&
			sp.RSRPDbm+th.hysteresisDb < th.a5Thresh1Dbm &&
			np.RSRPDbm-th.hysteresisDb > th.a5Thresh2Dbm

		// D2: serving slant range beyond the far bound while a candidate
		// neighbour sits inside the near bound.
		d2 := sp.RangeKm > th.d2ServingKm && np.RangeKm > 0 && np.RangeKm < th.d2NeighbourKm

		if a4 && !inA4 {
			events = append(events, makeEvent(EventA4, serving, neighbour, sp, np, th))
		}
		if a5 && !inA5 {
			events = append(events, makeEvent(EventA5, serving, neighbour, sp, np, th))
		}
		if d2 && !inD2 {
			events = append(events, makeEvent(EventD2, serving, neighbour, sp, np, th))
		}
		inA4, inA5, inD2 = a4, a5, d2
	}
	return events
}

func makeEvent(t EventType, serving, neighbour *SatelliteSignal, sp, np *Sample, th eventThresholds) Event {
	ev := Event{
		Type:             t,
		TriggeredAt:      sp.Timestamp,
		ServingID:        serving.SatelliteID,
		NeighbourID:      neighbour.SatelliteID,
		Constellation:    serving.Constellation,
		Priority:         priorityOf(t),
		ServingRSRPDbm:   sp.RSRPDbm,
		NeighbourRSRPDbm: np.RSRPDbm,
		ServingRangeKm:   sp.RangeKm,
		NeighbourRangeKm: np.RangeKm,
	}
	switch t {
	case EventA4:
		ev.Params = EventParams{ThresholdDbm: th.a4ThreshDbm, HysteresisDb: th.hysteresisDb}
	case EventA5:
		ev.Params = EventParams{
			Threshold1Dbm: th.a5Thresh1Dbm,
			Threshold2Dbm: th.a5Thresh2Dbm,
			HysteresisDb:  th.hysteresisDb,
		}
	case EventD2:
		ev.Params = EventParams{
			ServingDistanceKm:   th.d2ServingKm,
			NeighbourDistanceKm: th.d2NeighbourKm,
		}
	}
	return ev
}
