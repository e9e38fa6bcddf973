// Package alerting evaluates operator-defined threshold rules against the
// latest device metrics, under cooldown and maintenance-window suppression,
// records history and hands triggers to the notification dispatcher.
package alerting

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/parapetdev/parapet/internal/models"
)

// equalityTolerance is the float tolerance for == and != comparisons.
const equalityTolerance = 0.01

// Evaluate applies one comparison. An unknown operator evaluates to false
// and logs a warning; validation at the CRUD boundary should make that
// unreachable.
func Evaluate(actual, threshold float64, op string) bool {
	switch op {
	case models.OpGreater:
		return actual > threshold
	case models.OpLess:
		return actual < threshold
	case models.OpGreaterEqual:
		return actual >= threshold
	case models.OpLessEqual:
		return actual <= threshold
	case models.OpEqual:
		return math.Abs(actual-threshold) <= equalityTolerance
	case models.OpNotEqual:
		return math.Abs(actual-threshold) > equalityTolerance
	default:
		log.Warn().Str("operator", op).Msg("Unknown comparison operator, evaluating to false")
		return false
	}
}
