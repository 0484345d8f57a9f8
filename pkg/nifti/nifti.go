// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz). It covers the subset of the format needed for MP2RAGE
// processing: 3D scalar volumes in the common datatypes, with the
// scl_slope/scl_inter intensity scaling applied on read and the sform or
// qform transform mapped onto the volume geometry.
//
// Field layout follows the official nifti1.h definition,
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h
package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"mp2ragedenoise/internal/models"
)

// headerSize is the fixed size of a NIfTI-1 header. A file whose first
// int32 is not 348 in either byte order is not NIfTI-1.
const headerSize = 348

// voxOffset is the voxel data offset this package writes: header, then the
// 4-byte extension indicator, no extensions.
const defaultVoxOffset = 352

// DataType identifies the on-disk voxel storage format.
type DataType int16

// Datatype codes from nifti1.h.
const (
	DTUint8   DataType = 2
	DTInt16   DataType = 4
	DTInt32   DataType = 8
	DTFloat32 DataType = 16
	DTFloat64 DataType = 64
	DTUint16  DataType = 512
)

// bitPix returns the storage size in bits per voxel.
func (d DataType) bitPix() int16 {
	switch d {
	case DTUint8:
		return 8
	case DTInt16, DTUint16:
		return 16
	case DTInt32, DTFloat32:
		return 32
	case DTFloat64:
		return 64
	}
	return 0
}

// Header is the NIfTI-1 file header.
//
// Type translation from the nifti1 C header to Go:
//
//	C     Go
//	-------------
//	int   int32
//	float float32
//	short int16
//	char  int8 / byte
type Header struct {
	SizeOfHdr          int32    // Must be 348
	UnusedDataType     [10]byte // Unused
	UnusedDbName       [18]byte // Unused
	UnusedExtents      int32    // Unused
	UnusedSessionError int16    // Unused
	UnusedRegular      byte     // Unused
	DimInfo            byte     // MRI slice ordering

	Dim           [8]int16   // Data array dimensions
	IntentP1      float32    // 1st intent parameter
	IntentP2      float32    // 2nd intent parameter
	IntentP3      float32    // 3rd intent parameter
	IntentCode    int16      // NIFTI_INTENT_* code
	DataType      int16      // Defines data type
	BitPix        int16      // Number bits/voxel
	SliceStart    int16      // First slice index
	PixDim        [8]float32 // Grid spacing
	VoxOffset     float32    // Offset into .nii file
	SclSlope      float32    // Data scaling: slope
	SclInter      float32    // Data scaling: offset
	SliceEnd      int16      // Last slice index
	SliceCode     byte       // Slice timing order
	XYZTUnits     byte       // Units of pixdim[1..4]
	CalMax        float32    // Max display intensity
	CalMin        float32    // Min display intensity
	SliceDuration float32    // Time for 1 slice
	TOffset       float32    // Time axis shift
	UnusedGlmax   int32      // Unused
	UnusedGlmin   int32      // Unused

	Descrip [80]byte // Any text you like
	AuxFile [24]byte // Auxiliary filename

	QFormCode int16 // NIFTI_XFORM_* code
	SFormCode int16 // NIFTI_XFORM_* code

	QuaternB float32 // Quaternion b param
	QuaternC float32 // Quaternion c param
	QuaternD float32 // Quaternion d param
	QOffsetX float32 // Quaternion x shift
	QOffsetY float32 // Quaternion y shift
	QOffsetZ float32 // Quaternion z shift

	SRowX [4]float32 // 1st row affine transform
	SRowY [4]float32 // 2nd row affine transform
	SRowZ [4]float32 // 3rd row affine transform

	IntentName [16]byte // 'name' or meaning of data

	Magic [4]byte // Must be "ni1\0" or "n+1\0"
}

// ReadFile reads a single-file NIfTI-1 volume. Files ending in .gz are
// decompressed transparently. The returned header preserves the source
// metadata so it can be carried over to a derived output file.
func ReadFile(path string) (*models.Volume, *Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open gzip stream: %v", err)
		}
		defer gz.Close()
		r = gz
	}

	return Read(r)
}

// Read decodes a NIfTI-1 volume from a stream.
func Read(r io.Reader) (*models.Volume, *Header, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %v", err)
	}

	// The header carries no explicit endianness flag; the convention is
	// to try both byte orders on sizeof_hdr.
	var order binary.ByteOrder = binary.LittleEndian
	var hdr Header
	if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
		return nil, nil, fmt.Errorf("failed to decode header: %v", err)
	}
	if hdr.SizeOfHdr != headerSize {
		order = binary.BigEndian
		if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
			return nil, nil, fmt.Errorf("failed to decode header: %v", err)
		}
		if hdr.SizeOfHdr != headerSize {
			return nil, nil, fmt.Errorf("not a NIfTI-1 file: sizeof_hdr is %d, want %d",
				hdr.SizeOfHdr, headerSize)
		}
	}

	magic := string(hdr.Magic[:3])
	if magic == "ni1" {
		return nil, nil, fmt.Errorf("two-file NIfTI (.hdr/.img pairs) is not supported")
	}
	if magic != "n+1" {
		return nil, nil, fmt.Errorf("not a NIfTI-1 file: bad magic %q", magic)
	}

	width, height, depth, err := spatialDims(&hdr)
	if err != nil {
		return nil, nil, err
	}

	// Skip from the end of the header to the voxel data. Extensions may
	// occupy the gap; they carry no geometry so they are discarded.
	offset := int64(hdr.VoxOffset)
	if offset < headerSize {
		return nil, nil, fmt.Errorf("invalid vox_offset %g", hdr.VoxOffset)
	}
	if _, err := io.CopyN(io.Discard, r, offset-headerSize); err != nil {
		return nil, nil, fmt.Errorf("failed to skip to voxel data: %v", err)
	}

	vol := models.NewVolume(width, height, depth)
	vol.VoxelSize.X = float64(hdr.PixDim[1])
	vol.VoxelSize.Y = float64(hdr.PixDim[2])
	vol.VoxelSize.Z = float64(hdr.PixDim[3])
	vol.Affine = affineFromHeader(&hdr)

	if err := readVoxels(r, order, &hdr, vol.Data); err != nil {
		return nil, nil, err
	}

	return vol, &hdr, nil
}

// spatialDims extracts the 3D grid shape, rejecting genuinely
// higher-dimensional data. Trailing singleton dimensions are tolerated
// because many tools write 3D volumes with dim[0]=4 and dim[4]=1.
func spatialDims(hdr *Header) (width, height, depth int, err error) {
	nd := int(hdr.Dim[0])
	if nd < 3 || nd > 7 {
		return 0, 0, 0, fmt.Errorf("expected a 3D volume, got dim[0]=%d", nd)
	}
	for i := 4; i <= nd; i++ {
		if hdr.Dim[i] > 1 {
			return 0, 0, 0, fmt.Errorf("expected a 3D volume, got dim[%d]=%d", i, hdr.Dim[i])
		}
	}
	width = int(hdr.Dim[1])
	height = int(hdr.Dim[2])
	depth = int(hdr.Dim[3])
	if width < 1 || height < 1 || depth < 1 {
		return 0, 0, 0, fmt.Errorf("invalid volume shape %dx%dx%d", width, height, depth)
	}
	return width, height, depth, nil
}

// readVoxels decodes the voxel stream into float64 intensities, applying
// the scl_slope/scl_inter scaling. NIfTI stores voxels with x varying
// fastest, then y, then z, which matches the Volume layout, so the copy is
// linear.
func readVoxels(r io.Reader, order binary.ByteOrder, hdr *Header, out []float64) error {
	dtype := DataType(hdr.DataType)
	bpv := int(dtype.bitPix()) / 8
	if bpv == 0 {
		return fmt.Errorf("unsupported NIfTI datatype code %d", hdr.DataType)
	}

	raw := make([]byte, len(out)*bpv)
	if _, err := io.ReadFull(r, raw); err != nil {
		return fmt.Errorf("failed to read voxel data: %v", err)
	}

	slope := float64(hdr.SclSlope)
	inter := float64(hdr.SclInter)
	if slope == 0 {
		// slope 0 means "no scaling stored"
		slope, inter = 1, 0
	}

	for i := range out {
		var v float64
		b := raw[i*bpv:]
		switch dtype {
		case DTUint8:
			v = float64(b[0])
		case DTInt16:
			v = float64(int16(order.Uint16(b)))
		case DTUint16:
			v = float64(order.Uint16(b))
		case DTInt32:
			v = float64(int32(order.Uint32(b)))
		case DTFloat32:
			v = float64(math.Float32frombits(order.Uint32(b)))
		case DTFloat64:
			v = math.Float64frombits(order.Uint64(b))
		}
		out[i] = slope*v + inter
	}

	return nil
}

// affineFromHeader resolves the voxel-to-physical transform, preferring
// the sform when present, then the qform, then a plain pixdim scaling.
func affineFromHeader(hdr *Header) [4][4]float64 {
	var a [4][4]float64
	a[3][3] = 1

	switch {
	case hdr.SFormCode > 0:
		for j := 0; j < 4; j++ {
			a[0][j] = float64(hdr.SRowX[j])
			a[1][j] = float64(hdr.SRowY[j])
			a[2][j] = float64(hdr.SRowZ[j])
		}

	case hdr.QFormCode > 0:
		a = qformAffine(hdr)

	default:
		a[0][0] = float64(hdr.PixDim[1])
		a[1][1] = float64(hdr.PixDim[2])
		a[2][2] = float64(hdr.PixDim[3])
	}

	return a
}

// qformAffine reconstructs the rotation matrix from the stored quaternion,
// following the "method 2" orientation definition in nifti1.h.
func qformAffine(hdr *Header) [4][4]float64 {
	b := float64(hdr.QuaternB)
	c := float64(hdr.QuaternC)
	d := float64(hdr.QuaternD)
	aa := 1.0 - (b*b + c*c + d*d)
	if aa < 0 {
		aa = 0
	}
	qa := math.Sqrt(aa)

	// pixdim[0] holds qfac, which flips the z column for left-handed grids
	qfac := 1.0
	if hdr.PixDim[0] < 0 {
		qfac = -1.0
	}

	r := [3][3]float64{
		{qa*qa + b*b - c*c - d*d, 2*b*c - 2*qa*d, 2*b*d + 2*qa*c},
		{2*b*c + 2*qa*d, qa*qa + c*c - b*b - d*d, 2*c*d - 2*qa*b},
		{2*b*d - 2*qa*c, 2*c*d + 2*qa*b, qa*qa + d*d - c*c - b*b},
	}

	spacing := [3]float64{
		float64(hdr.PixDim[1]),
		float64(hdr.PixDim[2]),
		float64(hdr.PixDim[3]) * qfac,
	}
	offset := [3]float64{
		float64(hdr.QOffsetX),
		float64(hdr.QOffsetY),
		float64(hdr.QOffsetZ),
	}

	var a [4][4]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a[i][j] = r[i][j] * spacing[j]
		}
		a[i][3] = offset[i]
	}
	a[3][3] = 1
	return a
}

// WriteFile writes a volume as a single-file NIfTI-1 image. Files ending
// in .gz are compressed. The volume geometry is stored through the sform;
// integer datatypes round and clip intensities to the storage range rather
// than letting them wrap.
func WriteFile(path string, vol *models.Volume, dtype DataType) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.Writer = f
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz := gzip.NewWriter(f)
		defer gz.Close()
		w = gz
	}

	return Write(w, vol, dtype)
}

// Write encodes a volume as NIfTI-1 onto a stream in little-endian order.
func Write(w io.Writer, vol *models.Volume, dtype DataType) error {
	bp := dtype.bitPix()
	if bp == 0 {
		return fmt.Errorf("unsupported NIfTI datatype code %d", dtype)
	}

	hdr := Header{
		SizeOfHdr: headerSize,
		DataType:  int16(dtype),
		BitPix:    bp,
		VoxOffset: defaultVoxOffset,
		SclSlope:  1,
		XYZTUnits: 2, // NIFTI_UNITS_MM
		SFormCode: 1, // NIFTI_XFORM_SCANNER_ANAT
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim[0] = 3
	hdr.Dim[1] = int16(vol.Width)
	hdr.Dim[2] = int16(vol.Height)
	hdr.Dim[3] = int16(vol.Depth)
	for i := 4; i < 8; i++ {
		hdr.Dim[i] = 1
	}
	hdr.PixDim[0] = 1
	hdr.PixDim[1] = float32(vol.VoxelSize.X)
	hdr.PixDim[2] = float32(vol.VoxelSize.Y)
	hdr.PixDim[3] = float32(vol.VoxelSize.Z)
	for j := 0; j < 4; j++ {
		hdr.SRowX[j] = float32(vol.Affine[0][j])
		hdr.SRowY[j] = float32(vol.Affine[1][j])
		hdr.SRowZ[j] = float32(vol.Affine[2][j])
	}
	copy(hdr.Descrip[:], "mp2ragedenoise")

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("failed to write header: %v", err)
	}
	// Extension indicator: four zero bytes mean "no extensions".
	if _, err := w.Write(make([]byte, defaultVoxOffset-headerSize)); err != nil {
		return fmt.Errorf("failed to write extension indicator: %v", err)
	}

	return writeVoxels(w, vol.Data, dtype)
}

// writeVoxels encodes the intensity buffer in the requested storage
// format. Integer formats round to nearest and clip to the representable
// range so out-of-range values never overflow or wrap.
func writeVoxels(w io.Writer, data []float64, dtype DataType) error {
	bpv := int(dtype.bitPix()) / 8
	raw := make([]byte, len(data)*bpv)
	order := binary.LittleEndian

	for i, v := range data {
		b := raw[i*bpv:]
		switch dtype {
		case DTUint8:
			b[0] = uint8(roundClip(v, 0, math.MaxUint8))
		case DTInt16:
			order.PutUint16(b, uint16(int16(roundClip(v, math.MinInt16, math.MaxInt16))))
		case DTUint16:
			order.PutUint16(b, uint16(roundClip(v, 0, math.MaxUint16)))
		case DTInt32:
			order.PutUint32(b, uint32(int32(roundClip(v, math.MinInt32, math.MaxInt32))))
		case DTFloat32:
			order.PutUint32(b, math.Float32bits(float32(v)))
		case DTFloat64:
			order.PutUint64(b, math.Float64bits(v))
		}
	}

	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("failed to write voxel data: %v", err)
	}
	return nil
}

// roundClip rounds to the nearest integer and clips into [min, max].
// NaN maps to min so that conversion to an integer type stays defined.
func roundClip(v, min, max float64) float64 {
	if math.IsNaN(v) {
		return min
	}
	v = math.Round(v)
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
