package xfer

import (
	"fmt"

	"generals-net/internal/sim"

	"github.com/bits-and-blooms/bitset"
)

const (
	kindOfVersion      Version = 1
	upgradeMaskVersion Version = 1
	scienceVecVersion  Version = 1
)

// NameTable maps between stable names and the bit or enum index a build
// assigned to them. Indices may be reordered between builds; names may not.
type NameTable interface {
	Name(bit int) (string, bool)
	Bit(name string) (int, bool)
}

// Names groups the tables consumed by the name-keyed transfers.
type Names struct {
	KindOf   NameTable
	Upgrades NameTable
	Sciences NameTable
}

// Catalog is an ordered NameTable: the n-th name owns bit n.
type Catalog struct {
	names []string
	index map[string]int
}

// NewCatalog builds a catalog in the given order.
func NewCatalog(names ...string) *Catalog {
	c := &Catalog{
		names: append([]string(nil), names...),
		index: make(map[string]int, len(names)),
	}
	for i, n := range c.names {
		c.index[n] = i
	}
	return c
}

// Name returns the name owning bit.
func (c *Catalog) Name(bit int) (string, bool) {
	if bit < 0 || bit >= len(c.names) {
		return "", false
	}
	return c.names[bit], true
}

// Bit returns the bit owned by name.
func (c *Catalog) Bit(name string) (int, bool) {
	bit, ok := c.index[name]
	return bit, ok
}

// Len returns the number of names.
func (c *Catalog) Len() int { return len(c.names) }

func (x *Xfer) table(t NameTable, what string) (NameTable, error) {
	if t == nil {
		return nil, x.fail(fmt.Errorf("%w: %s", ErrNoNameTable, what))
	}
	return t, nil
}

// KindOf transfers a single classification bit by name.
func (x *Xfer) KindOf(k *sim.KindOf) error {
	version := kindOfVersion
	if err := x.Version(&version, kindOfVersion); err != nil {
		return err
	}

	switch x.Mode() {
	case ModeSave:
		t, err := x.table(x.names.KindOf, "kindof")
		if err != nil {
			return err
		}
		name, ok := t.Name(int(*k))
		if !ok {
			return x.fail(fmt.Errorf("%w: kindof bit %d has no name", ErrUnknownString, *k))
		}
		return x.AsciiString(&name)
	case ModeLoad:
		t, err := x.table(x.names.KindOf, "kindof")
		if err != nil {
			return err
		}
		var name string
		if err := x.AsciiString(&name); err != nil {
			return err
		}
		bit, ok := t.Bit(name)
		if !ok {
			return x.fail(fmt.Errorf("%w: kindof %q", ErrUnknownString, name))
		}
		*k = sim.KindOf(bit)
		return nil
	case ModeCRC:
		v := int32(*k)
		return x.Int(&v)
	default:
		return x.fail(ErrModeUnknown)
	}
}

// UpgradeMask transfers a set of upgrades as a count followed by names.
func (x *Xfer) UpgradeMask(mask *bitset.BitSet) error {
	version := upgradeMaskVersion
	if err := x.Version(&version, upgradeMaskVersion); err != nil {
		return err
	}

	switch x.Mode() {
	case ModeSave:
		t, err := x.table(x.names.Upgrades, "upgrades")
		if err != nil {
			return err
		}
		var names []string
		for bit, ok := mask.NextSet(0); ok; bit, ok = mask.NextSet(bit + 1) {
			name, known := t.Name(int(bit))
			if !known {
				return x.fail(fmt.Errorf("%w: upgrade bit %d has no name", ErrUnknownString, bit))
			}
			names = append(names, name)
		}
		count := uint16(len(names))
		x.Ushort(&count)
		for i := range names {
			x.AsciiString(&names[i])
		}
		return x.err
	case ModeLoad:
		t, err := x.table(x.names.Upgrades, "upgrades")
		if err != nil {
			return err
		}
		var count uint16
		if err := x.Ushort(&count); err != nil {
			return err
		}
		mask.ClearAll()
		for i := uint16(0); i < count; i++ {
			var name string
			if err := x.AsciiString(&name); err != nil {
				return err
			}
			bit, ok := t.Bit(name)
			if !ok {
				return x.fail(fmt.Errorf("%w: upgrade %q", ErrUnknownString, name))
			}
			mask.Set(uint(bit))
		}
		return nil
	case ModeCRC:
		// set bits only, so capacity never changes the sum
		count := uint32(mask.Count())
		x.Uint(&count)
		for bit, ok := mask.NextSet(0); ok; bit, ok = mask.NextSet(bit + 1) {
			idx := int32(bit)
			x.Int(&idx)
		}
		return x.err
	default:
		return x.fail(ErrModeUnknown)
	}
}

// ScienceType transfers one science by name.
func (x *Xfer) ScienceType(s *sim.Science) error {
	switch x.Mode() {
	case ModeSave:
		t, err := x.table(x.names.Sciences, "sciences")
		if err != nil {
			return err
		}
		name, ok := t.Name(int(*s))
		if !ok {
			return x.fail(fmt.Errorf("%w: science %d has no name", ErrUnknownString, *s))
		}
		return x.AsciiString(&name)
	case ModeLoad:
		t, err := x.table(x.names.Sciences, "sciences")
		if err != nil {
			return err
		}
		var name string
		if err := x.AsciiString(&name); err != nil {
			return err
		}
		bit, ok := t.Bit(name)
		if !ok {
			return x.fail(fmt.Errorf("%w: science %q", ErrUnknownString, name))
		}
		*s = sim.Science(bit)
		return nil
	case ModeCRC:
		v := int32(*s)
		return x.Int(&v)
	default:
		return x.fail(ErrModeUnknown)
	}
}

// ScienceVec transfers a list of sciences. Unlike the other list helpers a
// non-empty destination is cleared on load, since objects can be granted
// sciences on creation.
func (x *Xfer) ScienceVec(v *[]sim.Science) error {
	version := scienceVecVersion
	if err := x.Version(&version, scienceVecVersion); err != nil {
		return err
	}
	count := uint16(len(*v))
	if err := x.Ushort(&count); err != nil {
		return err
	}
	if x.decoding() {
		*v = (*v)[:0]
		for i := uint16(0); i < count; i++ {
			var s sim.Science
			if err := x.ScienceType(&s); err != nil {
				return err
			}
			*v = append(*v, s)
		}
		return nil
	}
	for i := range *v {
		if err := x.ScienceType(&(*v)[i]); err != nil {
			return err
		}
	}
	return nil
}
