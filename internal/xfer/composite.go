package xfer

import (
	"fmt"
	"math"

	"generals-net/internal/sim"
)

const (
	matrixVersion Version = 1
	listVersion   Version = 1
)

// Coord3D transfers a world position.
func (x *Xfer) Coord3D(c *sim.Coord3D) error {
	x.Real(&c.X)
	x.Real(&c.Y)
	x.Real(&c.Z)
	return x.err
}

// ICoord3D transfers an integer world position.
func (x *Xfer) ICoord3D(c *sim.ICoord3D) error {
	x.Int(&c.X)
	x.Int(&c.Y)
	x.Int(&c.Z)
	return x.err
}

// Region3D transfers a box.
func (x *Xfer) Region3D(r *sim.Region3D) error {
	x.Coord3D(&r.Lo)
	x.Coord3D(&r.Hi)
	return x.err
}

// Coord2D transfers a 2D position.
func (x *Xfer) Coord2D(c *sim.Coord2D) error {
	x.Real(&c.X)
	x.Real(&c.Y)
	return x.err
}

// ICoord2D transfers an integer 2D position.
func (x *Xfer) ICoord2D(c *sim.ICoord2D) error {
	x.Int(&c.X)
	x.Int(&c.Y)
	return x.err
}

// Region2D transfers a rectangle.
func (x *Xfer) Region2D(r *sim.Region2D) error {
	x.Coord2D(&r.Lo)
	x.Coord2D(&r.Hi)
	return x.err
}

// IRegion2D transfers an integer rectangle.
func (x *Xfer) IRegion2D(r *sim.IRegion2D) error {
	x.ICoord2D(&r.Lo)
	x.ICoord2D(&r.Hi)
	return x.err
}

// RealRange transfers a float range.
func (x *Xfer) RealRange(r *sim.RealRange) error {
	x.Real(&r.Lo)
	x.Real(&r.Hi)
	return x.err
}

// Color transfers a packed color.
func (x *Xfer) Color(c *sim.Color) error {
	v := int32(*c)
	if err := x.Int(&v); err != nil {
		return err
	}
	*c = sim.Color(v)
	return nil
}

// RGBColor transfers a float RGB color.
func (x *Xfer) RGBColor(c *sim.RGBColor) error {
	x.Real(&c.Red)
	x.Real(&c.Green)
	x.Real(&c.Blue)
	return x.err
}

// RGBAColorReal transfers a float RGBA color.
func (x *Xfer) RGBAColorReal(c *sim.RGBAColorReal) error {
	x.Real(&c.Red)
	x.Real(&c.Green)
	x.Real(&c.Blue)
	x.Real(&c.Alpha)
	return x.err
}

// RGBAColorInt transfers an integer RGBA color.
func (x *Xfer) RGBAColorInt(c *sim.RGBAColorInt) error {
	x.Uint(&c.Red)
	x.Uint(&c.Green)
	x.Uint(&c.Blue)
	x.Uint(&c.Alpha)
	return x.err
}

// Matrix3D transfers a versioned 3x4 transform.
func (x *Xfer) Matrix3D(m *sim.Matrix3D) error {
	version := matrixVersion
	if err := x.Version(&version, matrixVersion); err != nil {
		return err
	}
	for row := range m {
		for col := range m[row] {
			x.Real(&m[row][col])
		}
	}
	return x.err
}

// ObjectID transfers an object id.
func (x *Xfer) ObjectID(id *sim.ObjectID) error {
	v := uint32(*id)
	if err := x.Uint(&v); err != nil {
		return err
	}
	*id = sim.ObjectID(v)
	return nil
}

// DrawableID transfers a drawable id.
func (x *Xfer) DrawableID(id *sim.DrawableID) error {
	v := uint32(*id)
	if err := x.Uint(&v); err != nil {
		return err
	}
	*id = sim.DrawableID(v)
	return nil
}

// listHeader transfers the version and element count shared by the list
// helpers. On load the destination must be empty.
func (x *Xfer) listHeader(name string, length int) (uint16, error) {
	version := listVersion
	if err := x.Version(&version, listVersion); err != nil {
		return 0, err
	}
	if !x.decoding() && length > math.MaxUint16 {
		return 0, x.fail(fmt.Errorf("%w: %s has %d entries", ErrListTooLong, name, length))
	}
	count := uint16(length)
	if err := x.Ushort(&count); err != nil {
		return 0, err
	}
	if x.decoding() && length != 0 {
		return 0, x.fail(fmt.Errorf("%w: %s already holds %d entries", ErrListNotEmpty, name, length))
	}
	return count, nil
}

// ObjectIDList transfers a list of object ids.
func (x *Xfer) ObjectIDList(ids *[]sim.ObjectID) error {
	count, err := x.listHeader("object id list", len(*ids))
	if err != nil {
		return err
	}
	if x.decoding() {
		for i := uint16(0); i < count; i++ {
			var id sim.ObjectID
			if err := x.ObjectID(&id); err != nil {
				return err
			}
			*ids = append(*ids, id)
		}
		return nil
	}
	for i := range *ids {
		if err := x.ObjectID(&(*ids)[i]); err != nil {
			return err
		}
	}
	return nil
}

// ObjectIDVector has the same encoding as ObjectIDList.
func (x *Xfer) ObjectIDVector(ids *[]sim.ObjectID) error {
	return x.ObjectIDList(ids)
}

// IntList transfers a list of int32 values.
func (x *Xfer) IntList(values *[]int32) error {
	count, err := x.listHeader("int list", len(*values))
	if err != nil {
		return err
	}
	if x.decoding() {
		for i := uint16(0); i < count; i++ {
			var v int32
			if err := x.Int(&v); err != nil {
				return err
			}
			*values = append(*values, v)
		}
		return nil
	}
	for i := range *values {
		if err := x.Int(&(*values)[i]); err != nil {
			return err
		}
	}
	return nil
}
