package experiment

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

// Assignment is the result of routing one pseudonym through an experiment.
type Assignment struct {
	InExperiment bool
	VariantID    string
	VariantName  string
}

// AssignVariant deterministically routes a user pseudonym to a variant.
// The pseudonym is hashed together with the experiment ID so the same user
// lands in different buckets across experiments but always in the same
// bucket within one; no server-side session state is needed.
//
// The hash maps to [0,1): the user is in-experiment iff the value falls
// within the rollout fraction. Within the experiment the value is
// re-normalized and walked across cumulative variant traffic shares.
// Growing the rollout only ever admits new users; everyone already in the
// experiment stays in.
func (e *Experiment) AssignVariant(pseudonym string) Assignment {
	e.mu.Lock()
	rollout := e.rolloutPercent
	e.mu.Unlock()

	u := hashToUnit(pseudonym + ":" + e.ID)

	gate := rollout / 100
	if u > gate {
		return Assignment{}
	}

	// Re-normalize the in-experiment portion back to [0,1).
	r := u / gate

	cumulative := 0.0
	for _, v := range e.variants {
		cumulative += v.TrafficShare
		if r <= cumulative {
			return Assignment{InExperiment: true, VariantID: v.ID, VariantName: v.Name}
		}
	}

	// Rounding can leave r a hair above the final cumulative sum; the last
	// variant takes the remainder.
	last := e.variants[len(e.variants)-1]
	return Assignment{InExperiment: true, VariantID: last.ID, VariantName: last.Name}
}

// hashToUnit maps a string to [0,1) via xxhash.
func hashToUnit(s string) float64 {
	return float64(xxhash.Sum64String(s)) / math.Pow(2, 64)
}
