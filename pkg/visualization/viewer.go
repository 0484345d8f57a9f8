// Package visualization exports 2D slice previews of 3D volumes so that a
// suppression result can be inspected without a DICOM/NIfTI viewer.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/nfnt/resize"

	"mp2ragedenoise/internal/models"
)

// Viewer extracts axis-aligned 2D slices from a volume and saves them as
// grayscale PNG images. Intensities are windowed to the volume's full
// dynamic range once at construction so all slices share one mapping.
type Viewer struct {
	// volume holds the 3D data being viewed
	volume *models.Volume

	// min and max are the intensity window bounds used for display scaling
	min float64
	max float64
}

// NewViewer creates a viewer for the given volume.
func NewViewer(volume *models.Volume) *Viewer {
	min, max := volume.MinMax()
	return &Viewer{
		volume: volume,
		min:    min,
		max:    max,
	}
}

// gray16At maps an intensity onto the 16-bit display range using the
// viewer's window.
func (v *Viewer) gray16At(value float64) color.Gray16 {
	if v.max <= v.min {
		return color.Gray16{Y: 0}
	}
	scaled := (value - v.min) / (v.max - v.min) * 65535
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, scaled)))}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	vol := v.volume
	var img *image.Gray16

	switch axis {
	case "x", "X":
		// Extract slice along YZ plane
		if position >= vol.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, vol.Width)
		}

		img = image.NewGray16(image.Rect(0, 0, vol.Depth, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				img.SetGray16(z, y, v.gray16At(vol.At(position, y, z)))
			}
		}

	case "y", "Y":
		// Extract slice along XZ plane
		if position >= vol.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, vol.Height)
		}

		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Depth))
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, z, v.gray16At(vol.At(x, position, z)))
			}
		}

	case "z", "Z":
		// Extract slice along XY plane
		if position >= vol.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Depth)
		}

		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, y, v.gray16At(vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveSliceSequence extracts and saves a sequence of slices along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.volume.Width
	case "y", "Y":
		maxPos = v.volume.Height
	case "z", "Z":
		maxPos = v.volume.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// SaveComparison saves a side-by-side before/after preview of the middle
// axial slice of two volumes, each downsampled to at most maxWidth pixels
// wide. This is the quickest way to eyeball how much background noise the
// filter removed.
func SaveComparison(before, after *models.Volume, maxWidth int, filename string) error {
	if !before.SameShape(after) {
		return fmt.Errorf("before volume is %dx%dx%d but after volume is %dx%dx%d",
			before.Width, before.Height, before.Depth,
			after.Width, after.Height, after.Depth)
	}

	mid := before.Depth / 2
	left, err := NewViewer(before).ExtractSlice("z", mid)
	if err != nil {
		return err
	}
	right, err := NewViewer(after).ExtractSlice("z", mid)
	if err != nil {
		return err
	}

	if maxWidth > 0 && before.Width > maxWidth {
		left = resize.Resize(uint(maxWidth), 0, left, resize.Lanczos3)
		right = resize.Resize(uint(maxWidth), 0, right, resize.Lanczos3)
	}

	lb := left.Bounds()
	rb := right.Bounds()
	const gap = 4 // separator between the two panels
	combined := image.NewGray16(image.Rect(0, 0, lb.Dx()+gap+rb.Dx(), lb.Dy()))
	draw.Draw(combined, lb, left, lb.Min, draw.Src)
	draw.Draw(combined, image.Rect(lb.Dx()+gap, 0, lb.Dx()+gap+rb.Dx(), rb.Dy()),
		right, rb.Min, draw.Src)

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, combined)
}
