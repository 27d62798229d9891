// Package l1orbit is the first processing layer: full SGP4 propagation of a
// TLE catalogue over the analysis window for a fixed ground observer.
//
// Every satellite is propagated at the configured cadence; each sample
// carries the ECI state vector, topocentric look angles relative to the
// observer, and the sub-satellite point. Tracks are handed to later layers
// by reference; the full track set is never serialised to a single file.
//
// A simplified circular-orbit model is deliberately not offered. Downstream
// event detection needs sub-kilometre range accuracy, which only the full
// SGP4 theory provides for LEO drag regimes.
package l1orbit
