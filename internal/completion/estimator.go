// Package completion derives the progress heuristic shown for an intake case.
package completion

import (
	"math"

	"github.com/GautamJagannath/entrada/internal/cases"
)

// DefaultExpectedFields is the size of the full intake questionnaire inventory.
const DefaultExpectedFields = 95

// Estimator computes completion percentages against a fixed expected field total.
type Estimator struct {
	ExpectedFields int
}

// NewEstimator returns an estimator for the given total; non-positive totals fall back to the default.
func NewEstimator(expectedFields int) Estimator {
	if expectedFields <= 0 {
		expectedFields = DefaultExpectedFields
	}
	return Estimator{ExpectedFields: expectedFields}
}

// Estimate returns min(100, round(100*filled/expected)).
func (e Estimator) Estimate(data cases.FormData) int {
	filled := FilledCount(data)
	if filled == 0 {
		return 0
	}
	expected := e.ExpectedFields
	if expected <= 0 {
		expected = DefaultExpectedFields
	}
	percentage := int(math.Round(100 * float64(filled) / float64(expected)))
	if percentage > 100 {
		return 100
	}
	return percentage
}

// Estimate uses the default questionnaire size.
func Estimate(data cases.FormData) int {
	return NewEstimator(DefaultExpectedFields).Estimate(data)
}

// FilledCount returns the number of answered fields.
func FilledCount(data cases.FormData) int {
	count := 0
	for _, value := range data {
		if value.IsFilled() {
			count++
		}
	}
	return count
}
