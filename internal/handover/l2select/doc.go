// Package l2select is the second processing layer: it reduces a propagated
// constellation catalogue to the handover-relevant candidate set.
//
// The cut happens in four passes, per constellation independently: strict
// constellation partition, geographic relevance (any sample at or above the
// minimum elevation threshold), multi-criteria suitability scoring against
// the constellation's design profile, and dynamic sizing around the score
// median. Cross-constellation mixing is forbidden by construction; the
// filter only ever sees one catalogue at a time.
package l2select
