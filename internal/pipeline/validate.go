package pipeline

import (
	"errors"
	"fmt"

	"ecowatch/internal/model"
)

// ErrValidation marks a structurally incomplete submission. The API layer
// maps it to a client error; no collaborator is called before it clears.
var ErrValidation = errors.New("invalid submission")

// Validate checks the four required fields. A zero value counts as missing,
// matching the submission contract where every field must carry data.
func Validate(sub model.Submission) error {
	if sub.Value == 0 {
		return fmt.Errorf("%w: value is required", ErrValidation)
	}
	if sub.Type == "" {
		return fmt.Errorf("%w: type is required", ErrValidation)
	}
	if sub.Notes == "" {
		return fmt.Errorf("%w: notes is required", ErrValidation)
	}
	if sub.CollectionDate == "" {
		return fmt.Errorf("%w: collectionDate is required", ErrValidation)
	}
	return nil
}
