package suppression

import (
	"fmt"

	"mp2ragedenoise/internal/models"
	"mp2ragedenoise/pkg/noise"
)

// Suppressor runs the complete background suppression pipeline following
// the two-stage design of the method:
//
// 1. Estimate the background noise level from the corner windows of the
//    two inversion volumes.
// 2. Sweep every voxel with the regularized recombination, writing the
//    result into the caller-provided output volume.
// 3. Measure suppression quality metrics on the result.
//
// The suppressor owns no volumes: inputs and the output buffer belong to
// the caller and no references are retained beyond Process.
type Suppressor struct {
	// params stores the run configuration
	params *Params

	// metrics stores the quality measurements after a successful run
	metrics Metrics
}

// NewSuppressor creates a suppressor instance with the provided
// parameters. Nil selects the defaults.
func NewSuppressor(params *Params) *Suppressor {
	if params == nil {
		params = DefaultParams()
	}
	return &Suppressor{params: params}
}

// Process runs noise estimation followed by the full voxel sweep. The
// output volume must share the geometry of the inputs; its buffer is
// overwritten in full on success and left untouched on any error.
//
// Re-applying the filter to its own output is not idempotent: feeding
// suppressed volumes back in changes the noise estimate, so a second pass
// computes a different beta. Run the filter once per acquisition.
func (s *Suppressor) Process(uni, inv1, inv2, out *models.Volume) error {
	estimator := noise.NewEstimator(s.params.NoiseWindowSize)
	sigma, err := estimator.EstimateStdDev(inv1, inv2)
	if err != nil {
		return fmt.Errorf("noise estimation failed: %w", err)
	}

	engine := NewEngine(s.params)
	if err := engine.Run(uni, inv1, inv2, out, sigma); err != nil {
		return err
	}

	beta := s.params.Strength * sigma
	if s.params.Contrast == ContrastPSIR {
		beta = 0
	}
	s.metrics = computeMetrics(uni, inv2, out, sigma, beta, estimator.WindowSize)

	return nil
}

// GetMetrics returns the quality metrics of the most recent run.
func (s *Suppressor) GetMetrics() Metrics {
	return s.metrics
}
