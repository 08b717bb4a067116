package probe

// Datatype codes (NIFTI_TYPE_*) the pipeline inspects.
const (
	DTUnsignedChar int16 = 2
	DTSignedShort  int16 = 4
	DTSignedInt    int16 = 8
	DTFloat        int16 = 16
	DTDouble       int16 = 64
	DTRGB          int16 = 128
	DTRGBA         int16 = 2304
)

// Header is the on-disk NIfTI-1 header, field for field.
//
//	C     Go
//	int   int32
//	float float32
//	short int16
//	char  int8
type Header struct {
	SizeOfHdr          int32
	UnusedDataType     [10]int8
	UnusedDbName       [18]int8
	UnusedExtents      int32
	UnusedSessionError int16
	UnusedRegular      int8
	DimInfo            int8

	Dim           [8]int16 // dim[0] = ndim, dim[1..3] = x,y,z, dim[4] = t
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	DataType      int16
	BitPix        int16
	SliceStart    int16
	PixDim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     int8
	XYZTUnits     int8
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	UnusedGlmax   int32
	UnusedGlmin   int32

	Descrip [80]int8
	AuxFile [24]int8

	QFormCode int16
	SFormCode int16

	QuaternB float32
	QuaternC float32
	QuaternD float32
	QOffsetX float32
	QOffsetY float32
	QOffsetZ float32

	SRowX [4]float32
	SRowY [4]float32
	SRowZ [4]float32

	IntentName [16]int8

	Magic [4]int8 // "n+1\0" (single file) or "ni1\0" (hdr/img pair)
}
