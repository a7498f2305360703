// Package score implements the feedback scoring rules for the trust engine:
// mapping categorical outcomes to numeric observations and folding each
// observation into a source/category rating via the online-mean recurrence.
//
// The fold is O(1) in time and space per observation yet produces the same
// value as recomputing the arithmetic mean over full history:
//
//	m_{n+1} = (m_n * n + x) / (n + 1)
//	        = m_n * (1 - a) + x * a,  a = 1 / (n + 1)
//
// so the store never needs to retain raw observation history.
//
// All values use shopspring/decimal — never float64 for values of record.
package score

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrStarOutOfRange is returned when a star rating falls outside [1, 5].
	// Out-of-range stars are rejected, never clamped, so client bugs surface.
	ErrStarOutOfRange = errors.New("score: star rating must be between 1 and 5")

	// MinRating and MaxRating bound the observation scale. Every observation
	// lies in [0, 10], so the folded mean does too.
	MinRating = decimal.Zero
	MaxRating = decimal.NewFromInt(10)
)

// RatingScale is the number of decimal places ratings are rounded to.
var RatingScale int32 = 6

// outcomeScores maps feedback outcome tokens to base observation scores.
var outcomeScores = map[string]int64{
	"Correct": 10,
	"Partial": 5,
	"Wrong":   0,
}

// neutralScore is used for unrecognized outcome tokens. A malformed label
// must never fail a feedback event; availability wins over precision here.
const neutralScore = 5

// Observation converts a feedback outcome and optional star rating into a
// single observation score on the [0, 10] scale.
//
// The base score comes from the outcome token (unknown tokens score neutral).
// When a star rating is present it is rescaled to [2, 10] (star * 2) and
// averaged with the base score, so the coarse 3-bucket outcome and the
// finer-grained star signal each pull the observation without one fully
// overriding the other.
func Observation(outcome string, star *int64) (decimal.Decimal, error) {
	base, ok := outcomeScores[outcome]
	if !ok {
		base = neutralScore
	}
	obs := decimal.NewFromInt(base)

	if star == nil {
		return obs, nil
	}
	if *star < 1 || *star > 5 {
		return decimal.Decimal{}, ErrStarOutOfRange
	}

	starScore := decimal.NewFromInt(*star * 2)
	two := decimal.NewFromInt(2)
	return obs.Add(starScore).DivRound(two, RatingScale), nil
}

// KnownOutcome reports whether the token maps to a defined base score.
func KnownOutcome(outcome string) bool {
	_, ok := outcomeScores[outcome]
	return ok
}

// Fold returns the rating after absorbing one new observation into a record
// that has already absorbed count observations averaging rating.
//
// A fresh key (count == 0) bootstraps to the observation itself — no blend
// with a nonexistent prior, no divide by zero.
func Fold(rating decimal.Decimal, count int64, obs decimal.Decimal) decimal.Decimal {
	if count <= 0 {
		return obs
	}

	n := decimal.NewFromInt(count)
	next := rating.Mul(n).Add(obs).DivRound(n.Add(decimal.NewFromInt(1)), RatingScale)
	return next
}
