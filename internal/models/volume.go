package models

// AffineTolerance is the maximum per-element difference allowed between the
// voxel-to-physical transforms of two volumes that are treated as
// co-registered. Transforms loaded from the same acquisition should match
// to machine precision, so the tolerance is deliberately tight.
const AffineTolerance = 1e-15

// Volume represents a 3D scalar image volume, such as one inversion of an
// MP2RAGE acquisition or the combined UNI contrast.
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order,
	// indexed as z*Width*Height + y*Width + x.
	Data []float64

	// Width, Height and Depth are the grid dimensions in voxels.
	Width  int
	Height int
	Depth  int

	// VoxelSize is the physical size of each voxel in mm.
	VoxelSize struct {
		X, Y, Z float64
	}

	// Affine is the voxel-index to physical-space (RAS) transform.
	// Row-major 4x4; the last row is expected to be [0 0 0 1].
	Affine [4][4]float64
}

// NewVolume creates a volume of the given dimensions with an identity
// affine, unit voxel size and a zeroed data buffer.
func NewVolume(width, height, depth int) *Volume {
	v := &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
	v.VoxelSize.X = 1.0
	v.VoxelSize.Y = 1.0
	v.VoxelSize.Z = 1.0
	for i := 0; i < 4; i++ {
		v.Affine[i][i] = 1.0
	}
	return v
}

// NewVolumeLike creates a zeroed volume sharing the geometry (dimensions,
// voxel size and affine) of the reference volume.
func NewVolumeLike(ref *Volume) *Volume {
	v := NewVolume(ref.Width, ref.Height, ref.Depth)
	v.VoxelSize = ref.VoxelSize
	v.Affine = ref.Affine
	return v
}

// NumVoxels returns the total number of voxels in the volume grid.
func (v *Volume) NumVoxels() int {
	return v.Width * v.Height * v.Depth
}

// Index converts voxel coordinates to the flat index into Data.
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the intensity at the given voxel coordinates.
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores an intensity at the given voxel coordinates.
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// SameShape reports whether two volumes have identical grid dimensions.
func (v *Volume) SameShape(o *Volume) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Depth == o.Depth
}

// SameGeometry reports whether two volumes share both grid dimensions and
// the voxel-to-physical transform within AffineTolerance. Volumes that
// fail this check are not co-registered and must be resampled to a common
// grid before processing; this package never resamples.
func (v *Volume) SameGeometry(o *Volume) bool {
	if !v.SameShape(o) {
		return false
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			d := v.Affine[i][j] - o.Affine[i][j]
			if d < 0 {
				d = -d
			}
			if d > AffineTolerance {
				return false
			}
		}
	}
	return true
}

// MinMax returns the smallest and largest intensity in the volume.
// Both return values are 0 for an empty volume.
func (v *Volume) MinMax() (min, max float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	min = v.Data[0]
	max = v.Data[0]
	for _, val := range v.Data {
		if val < min {
			min = val
		}
		if val > max {
			max = val
		}
	}
	return min, max
}
