// Package sim holds the plain value types shared by the simulation, the
// save/load codec and the network command layer.
package sim

// ObjectID identifies a live game object. Zero means "no object".
type ObjectID uint32

// DrawableID identifies a client-side drawable. Zero means "no drawable".
type DrawableID uint32

const (
	InvalidObjectID   ObjectID   = 0
	InvalidDrawableID DrawableID = 0
)

// Coord3D is a world-space position.
type Coord3D struct {
	X, Y, Z float32
}

// ICoord3D is an integer world-space position.
type ICoord3D struct {
	X, Y, Z int32
}

// Region3D is an axis-aligned box.
type Region3D struct {
	Lo, Hi Coord3D
}

// Coord2D is a 2D position.
type Coord2D struct {
	X, Y float32
}

// ICoord2D is an integer 2D position, typically a screen pixel.
type ICoord2D struct {
	X, Y int32
}

// Region2D is an axis-aligned rectangle.
type Region2D struct {
	Lo, Hi Coord2D
}

// IRegion2D is an integer rectangle, typically a screen selection box.
type IRegion2D struct {
	Lo, Hi ICoord2D
}

// RealRange is an inclusive float range.
type RealRange struct {
	Lo, Hi float32
}

// Color is a packed ARGB color.
type Color int32

// RGBColor is an unpacked color with float channels.
type RGBColor struct {
	Red, Green, Blue float32
}

// RGBAColorReal is an unpacked color with float channels and alpha.
type RGBAColorReal struct {
	Red, Green, Blue, Alpha float32
}

// RGBAColorInt is an unpacked color with integer channels and alpha.
type RGBAColorInt struct {
	Red, Green, Blue, Alpha uint32
}

// Matrix3D is a 3x4 row-major transform.
type Matrix3D [3][4]float32

// IdentityMatrix returns the identity transform.
func IdentityMatrix() Matrix3D {
	return Matrix3D{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
}

// KindOf is a single object classification bit. Its numeric value is only
// meaningful within one build's KindOf name table.
type KindOf int32

// Science is a general's-ability identifier. Like KindOf, its numeric value
// is assigned by the science name table.
type Science int32

const (
	InvalidKindOf  KindOf  = -1
	InvalidScience Science = -1
)
