package queue

import "errors"

var (
	// ErrValidation marks rejections raised before any state is mutated.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups for identifiers the index does not hold.
	ErrNotFound = errors.New("item not found")
)
