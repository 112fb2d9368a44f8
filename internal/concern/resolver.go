package concern

import (
	"errors"

	"ecowatch/internal/model"
)

var ErrEmptyScoreMap = errors.New("empty score map")

// Resolve picks the category with the maximum score. Ties go to the category
// declared first in model.Categories; iterating that slice instead of the map
// keeps the result stable across runs. Categories absent from the map are
// skipped, unknown keys in the map are ignored.
func Resolve(scores model.ConcernScoreMap) (model.ConcernCategory, error) {
	if len(scores) == 0 {
		return "", ErrEmptyScoreMap
	}
	var winner model.ConcernCategory
	var best float64
	found := false
	for _, cat := range model.Categories() {
		score, ok := scores[cat]
		if !ok {
			continue
		}
		if !found || score > best {
			winner = cat
			best = score
			found = true
		}
	}
	if !found {
		return "", ErrEmptyScoreMap
	}
	return winner, nil
}
