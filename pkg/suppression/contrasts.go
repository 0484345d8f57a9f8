package suppression

import "math"

// The MP2RAGE combination is naturally bounded to [-0.5, 0.5]; scanner
// exports store it linearly rescaled (Siemens uses [0, 4095]). All internal
// contrast math happens in the natural range.
const (
	uniMin = -0.5
	uniMax = 0.5
)

// linearMap returns the scale and shift that map rangeIn onto rangeOut,
// using the 2-point linear equation formula.
func linearMap(inMin, inMax, outMin, outMax float64) (scale, shift float64) {
	scale = (outMax - outMin) / (inMax - inMin)
	shift = outMin - scale*inMin
	return scale, shift
}

// signedINV1 recovers the polarity-corrected (signed) first inversion from
// the unsigned magnitudes and the UNI value rescaled to [-0.5, 0.5].
//
// This assumes the second inversion is all positive, i.e. its
// magnetization has crossed zero and is rising by TI2. That assumption
// holds for all reasonable MP2RAGE acquisition parameters.
func signedINV1(uniScaled, inv1, inv2 float64) float64 {
	if inv2 == 0 {
		return 0
	}
	return uniScaled / math.Abs(inv2) * (inv1*inv1 + inv2*inv2)
}

// mp2rageCombine evaluates the regularized MP2RAGE combination of two
// signed inversions. beta is the background suppression term: where both
// inversions are near zero it dominates the denominator and drives the
// result toward zero, while in high-signal voxels it is negligible and the
// original contrast is preserved. With beta=0 this is the plain MP2RAGE
// contrast.
func mp2rageCombine(s1, s2, beta float64) float64 {
	num := s1*s2 - beta
	den := s1*s1 + s2*s2 + 2*beta
	if den == 0 {
		return 0
	}
	return num / den
}

// psirCombine evaluates the PSIR (phase-sensitive inversion recovery)
// contrast from a signed first inversion and an unsigned second inversion.
// The polarity factor comes from the sign of the signed first inversion.
// Results are clamped to [-2, 2] to clean up edge-case voxels.
func psirCombine(s1, s2 float64) float64 {
	f := 1.0
	if s1 < 0 {
		f = -1.0
	}
	num := math.Abs(s1) * f
	den := math.Abs(num) + math.Abs(s2)
	if den == 0 {
		return 0
	}
	p := num / den
	if p < -2 {
		return -2
	}
	if p > 2 {
		return 2
	}
	return p
}
