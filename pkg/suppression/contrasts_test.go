package suppression

import (
	"math"
	"testing"
)

func TestLinearMap(t *testing.T) {
	// Scanner range [0, 4095] onto the natural contrast range
	scale, shift := linearMap(0, 4095, -0.5, 0.5)

	cases := []struct {
		in   float64
		want float64
	}{
		{0, -0.5},
		{4095, 0.5},
		{2047.5, 0},
	}
	for _, c := range cases {
		got := scale*c.in + shift
		if math.Abs(got-c.want) > 1e-12 {
			t.Errorf("mapping %g: got %g, want %g", c.in, got, c.want)
		}
	}
}

func TestSignedINV1(t *testing.T) {
	// Consistency: if the UNI value was produced by the plain MP2RAGE
	// combination of signed inversions, recovery returns the signed first
	// inversion exactly.
	for _, s1 := range []float64{-300, -5, 5, 800} {
		s2 := 400.0
		u := mp2rageCombine(s1, s2, 0)
		got := signedINV1(u, math.Abs(s1), s2)
		if math.Abs(got-s1) > 1e-9*math.Abs(s1) {
			t.Errorf("s1=%g: recovered %g", s1, got)
		}
	}

	// Zero second inversion carries no polarity information
	if got := signedINV1(0.3, 100, 0); got != 0 {
		t.Errorf("expected 0 for zero INV2, got %g", got)
	}
}

func TestMP2RAGECombineBounds(t *testing.T) {
	// The combination is bounded to [-0.5, 0.5] for any inputs and beta
	for _, c := range []struct{ s1, s2, beta float64 }{
		{0, 0, 0},
		{100, 100, 0},
		{-100, 100, 0},
		{1e-6, 1e-6, 1e9},
		{1e6, 1e-6, 1},
	} {
		got := mp2rageCombine(c.s1, c.s2, c.beta)
		if got < -0.5-1e-12 || got > 0.5+1e-12 {
			t.Errorf("combine(%g,%g,%g) = %g, outside [-0.5, 0.5]", c.s1, c.s2, c.beta, got)
		}
	}

	// Zero denominator maps to the contrast null, not NaN
	if got := mp2rageCombine(0, 0, 0); got != 0 {
		t.Errorf("zero denominator: got %g, want 0", got)
	}
}

func TestMP2RAGECombineSuppression(t *testing.T) {
	// In a background voxel the beta term dominates and drives the value
	// toward -0.5; in a high-signal voxel it is negligible.
	background := mp2rageCombine(0.5, 0.5, 1000)
	if math.Abs(background-(-0.5)) > 0.01 {
		t.Errorf("background voxel %g, want near -0.5", background)
	}

	signal := mp2rageCombine(800, 900, 1000)
	unregularized := mp2rageCombine(800, 900, 0)
	if math.Abs(signal-unregularized) > 0.01 {
		t.Errorf("high-signal voxel moved from %g to %g under beta", unregularized, signal)
	}
}

func TestPSIRCombine(t *testing.T) {
	// Polarity is carried through to the output sign
	if got := psirCombine(-100, 50); got >= 0 {
		t.Errorf("negative s1: got %g, want negative PSIR", got)
	}
	if got := psirCombine(100, 50); got <= 0 {
		t.Errorf("positive s1: got %g, want positive PSIR", got)
	}

	// Bounded to [-1, 1] by construction, clamp never exceeded
	for _, c := range []struct{ s1, s2 float64 }{{1e9, 1e-9}, {-1e9, 1e-9}, {1, 1}} {
		got := psirCombine(c.s1, c.s2)
		if got < -2 || got > 2 {
			t.Errorf("psir(%g,%g) = %g, outside [-2, 2]", c.s1, c.s2, got)
		}
	}

	// Zero denominator maps to zero
	if got := psirCombine(0, 0); got != 0 {
		t.Errorf("zero denominator: got %g, want 0", got)
	}
}
