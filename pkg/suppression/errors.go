package suppression

import "fmt"

// ShapeMismatchError indicates that an input or output volume does not
// share the grid shape and voxel-to-physical transform of the reference
// volume. The filter never resamples; mismatched inputs are a usage error
// and must be resampled to a common grid before filtering.
type ShapeMismatchError struct {
	// Reference is the name of the volume the others are compared against.
	Reference string

	// Volume is the name of the volume that disagrees.
	Volume string

	// Detail describes the disagreement (shape or transform).
	Detail string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("geometry of %s does not match %s: %s. "+
		"Double-check your data and re-sample to a common grid if necessary",
		e.Volume, e.Reference, e.Detail)
}

// InvalidParameterError indicates a run parameter outside its valid domain,
// detected before any voxel computation begins.
type InvalidParameterError struct {
	// Name is the parameter name.
	Name string

	// Value is the offending value.
	Value float64

	// Reason describes the constraint that was violated.
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s=%g: %s", e.Name, e.Value, e.Reason)
}
