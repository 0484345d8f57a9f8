// Package noise estimates the background thermal noise level of MP2RAGE
// inversion-recovery volumes. The estimate drives the regularization term
// of the background suppression filter, so it must be computed from a
// region that contains no anatomy.
package noise

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"mp2ragedenoise/internal/models"
)

// DefaultWindowSize is the default 1-d edge length (in voxels) of the cubic
// corner region sampled for noise estimation.
const DefaultWindowSize = 16

// DegenerateInputError indicates that a valid noise estimate could not be
// produced from the given inputs. A zero estimate would silently disable
// suppression, so an unusable sampling region is an error rather than a
// zero result.
type DegenerateInputError struct {
	Reason string
}

func (e *DegenerateInputError) Error() string {
	return fmt.Sprintf("degenerate input for noise estimation: %s", e.Reason)
}

// Estimator computes a background noise estimate by sampling a cubic window
// at the (0,0,0) corner of the volume grid. In typical head acquisitions
// the grid corners lie outside the anatomy and contain pure background
// noise. This is a framing heuristic, not a guarantee: with an unusually
// tight field of view the corner window can intersect anatomy and the
// estimate will be biased high. That limitation is accepted and documented
// rather than guarded against.
type Estimator struct {
	// WindowSize is the edge length of the sampled corner cube in voxels.
	WindowSize int
}

// NewEstimator creates an estimator with the given corner window size.
// A non-positive size selects DefaultWindowSize.
func NewEstimator(windowSize int) *Estimator {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Estimator{WindowSize: windowSize}
}

// EstimateStdDev computes a pooled background noise standard deviation from
// the two inversion volumes. Each channel's corner window is reduced to a
// population standard deviation independently and the two are averaged,
// giving a single scalar representative of both inversion channels.
//
// The estimate is recomputed from scratch on every call: a new volume pair
// invalidates any previous estimate, so nothing is cached.
//
// Returns a DegenerateInputError if either volume is nil or smaller than
// the window in any dimension; a volume too small to contain the corner
// window cannot yield a defensible estimate.
func (e *Estimator) EstimateStdDev(inv1, inv2 *models.Volume) (float64, error) {
	if inv1 == nil || inv2 == nil {
		return 0, &DegenerateInputError{Reason: "inversion volume is nil"}
	}

	sigma1, err := e.windowStdDev(inv1, "INV1")
	if err != nil {
		return 0, err
	}
	sigma2, err := e.windowStdDev(inv2, "INV2")
	if err != nil {
		return 0, err
	}

	return 0.5 * (sigma1 + sigma2), nil
}

// windowStdDev samples the corner window of a single volume and reduces it
// to a population standard deviation.
func (e *Estimator) windowStdDev(v *models.Volume, name string) (float64, error) {
	w := e.WindowSize
	if w <= 0 {
		return 0, &DegenerateInputError{
			Reason: fmt.Sprintf("noise window size %d is not positive", w),
		}
	}
	if v.Width < w || v.Height < w || v.Depth < w {
		return 0, &DegenerateInputError{
			Reason: fmt.Sprintf("%s volume is %dx%dx%d, smaller than the %d-voxel noise window",
				name, v.Width, v.Height, v.Depth, w),
		}
	}

	// Gather the corner cube into a flat sample. The reduction (mean and
	// sum of squared deviations) is associative, so the gather order has
	// no semantic effect.
	sample := make([]float64, 0, w*w*w)
	for z := 0; z < w; z++ {
		for y := 0; y < w; y++ {
			for x := 0; x < w; x++ {
				sample = append(sample, v.At(x, y, z))
			}
		}
	}

	return stat.PopStdDev(sample, nil), nil
}
