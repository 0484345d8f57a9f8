package suppression

import (
	"gonum.org/v1/gonum/stat"

	"mp2ragedenoise/internal/models"
)

// Metrics holds quality measurements of a suppression run. They are purely
// informational: the run succeeds or fails on validation alone, and these
// numbers exist so the caller can judge how much background noise was
// removed and how well the anatomy was preserved.
type Metrics struct {
	// NoiseStdDev is the pooled background noise estimate from the two
	// inversion volumes that drove the regularization term.
	NoiseStdDev float64

	// Beta is the regularization term actually used, Strength * NoiseStdDev.
	Beta float64

	// BackgroundStdBefore is the intensity standard deviation of the input
	// UNI over the corner noise window, i.e. the salt-and-pepper noise
	// level the filter set out to remove.
	BackgroundStdBefore float64

	// BackgroundStdAfter is the same measurement on the output volume.
	BackgroundStdAfter float64

	// SuppressionRatio is BackgroundStdBefore / BackgroundStdAfter.
	// Higher values indicate stronger background flattening. Zero when the
	// output background is perfectly flat.
	SuppressionRatio float64

	// ForegroundCorrelation is the Pearson correlation between input and
	// output UNI intensities over high-signal voxels. Values near 1
	// indicate the anatomy survived the filter unchanged.
	ForegroundCorrelation float64

	// OutputMin and OutputMax are the intensity extrema of the output.
	OutputMin float64
	OutputMax float64
}

// computeMetrics measures a completed run. windowSize is the corner window
// edge used for the background measurements; foreground voxels are those
// whose INV2 magnitude clears the noise floor by a wide margin.
func computeMetrics(uni, inv2, out *models.Volume, noiseStdDev, beta float64, windowSize int) Metrics {
	m := Metrics{
		NoiseStdDev:         noiseStdDev,
		Beta:                beta,
		BackgroundStdBefore: cornerStdDev(uni, windowSize),
		BackgroundStdAfter:  cornerStdDev(out, windowSize),
	}
	if m.BackgroundStdAfter > 0 {
		m.SuppressionRatio = m.BackgroundStdBefore / m.BackgroundStdAfter
	}
	m.OutputMin, m.OutputMax = out.MinMax()

	// High-signal voxels: INV2 well above the noise floor. The 10-sigma
	// margin keeps Rician-noise background out of the foreground sample.
	threshold := 10 * noiseStdDev
	var fgIn, fgOut []float64
	for i, v := range inv2.Data {
		if v > threshold {
			fgIn = append(fgIn, uni.Data[i])
			fgOut = append(fgOut, out.Data[i])
		}
	}
	if len(fgIn) > 1 {
		m.ForegroundCorrelation = stat.Correlation(fgIn, fgOut, nil)
	}

	return m
}

// cornerStdDev measures the population standard deviation over the corner
// window, clamping the window to the volume extent. Unlike noise
// estimation this is a descriptive statistic, so a clamped window is
// acceptable here.
func cornerStdDev(v *models.Volume, windowSize int) float64 {
	w := windowSize
	if w > v.Width {
		w = v.Width
	}
	if w > v.Height {
		w = v.Height
	}
	if w > v.Depth {
		w = v.Depth
	}
	if w <= 0 {
		return 0
	}

	sample := make([]float64, 0, w*w*w)
	for z := 0; z < w; z++ {
		for y := 0; y < w; y++ {
			for x := 0; x < w; x++ {
				sample = append(sample, v.At(x, y, z))
			}
		}
	}
	return stat.PopStdDev(sample, nil)
}
