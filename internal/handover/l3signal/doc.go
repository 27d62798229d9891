// Package l3signal is the third processing layer: an ITU-R-style Ku-band
// link budget over every candidate track, and 3GPP TS 38.331 measurement
// event detection (A4, A5, D2) over every ordered candidate pair.
//
// Signal quantities are only defined while a satellite sits at or above the
// horizon. Event detection is edge-triggered: an event is emitted at the
// first sampled instant its entering condition holds, and again only after
// the condition has cleared. Pairs always belong to a single constellation;
// the layer never sees two catalogues at once, so cross-constellation
// handover cannot be expressed.
package l3signal
