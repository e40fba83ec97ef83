package xfer

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"generals-net/internal/sim"

	"github.com/bits-and-blooms/bitset"
)

// unit is a small snapshot exercising most primitives
type unit struct {
	Name      string
	Label     string
	Health    float32
	Veteran   bool
	Level     uint8
	Kills     int32
	Score     int64
	Position  sim.Coord3D
	Transform sim.Matrix3D
	Color     sim.Color
	Target    sim.ObjectID
	Guards    []sim.ObjectID

	postProcessed int
}

const unitVersion Version = 2

func (u *unit) CRC(x *Xfer) error { return u.Xfer(x) }

func (u *unit) Xfer(x *Xfer) error {
	version := unitVersion
	if err := x.Version(&version, unitVersion); err != nil {
		return err
	}
	x.AsciiString(&u.Name)
	x.UnicodeString(&u.Label)
	x.Real(&u.Health)
	x.Bool(&u.Veteran)
	x.Uint8(&u.Level)
	x.Int(&u.Kills)
	x.Int64(&u.Score)
	x.Coord3D(&u.Position)
	x.Matrix3D(&u.Transform)
	x.Color(&u.Color)
	x.ObjectID(&u.Target)
	x.ObjectIDList(&u.Guards)
	return x.Err()
}

func (u *unit) LoadPostProcess() error {
	u.postProcessed++
	return nil
}

type registry struct {
	snapshots []Snapshot
}

func (r *registry) AddPostProcessSnapshot(s Snapshot) {
	r.snapshots = append(r.snapshots, s)
}

func sampleUnit() *unit {
	return &unit{
		Name:      "Alpha",
		Label:     "Überlord ☢",
		Health:    87.5,
		Veteran:   true,
		Level:     3,
		Kills:     -12,
		Score:     1 << 40,
		Position:  sim.Coord3D{X: 1.5, Y: -2.25, Z: 100},
		Transform: sim.IdentityMatrix(),
		Color:     sim.Color(-16776961),
		Target:    sim.ObjectID(42),
		Guards:    []sim.ObjectID{7, 8, 9},
	}
}

// TestSnapshotRoundTrip tests that save followed by load reproduces every field
func TestSnapshotRoundTrip(t *testing.T) {
	original := sampleUnit()

	var buf bytes.Buffer
	save := NewSave(&buf)
	if err := save.Snapshot(original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reg := &registry{}
	loaded := &unit{}
	load := NewLoad(&buf, WithPostProcess(reg))
	if err := load.Snapshot(loaded); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Name != original.Name || loaded.Label != original.Label {
		t.Errorf("Expected strings %q/%q, got %q/%q", original.Name, original.Label, loaded.Name, loaded.Label)
	}
	if loaded.Health != original.Health || loaded.Kills != original.Kills || loaded.Score != original.Score {
		t.Errorf("Expected numbers to survive, got %+v", loaded)
	}
	if loaded.Position != original.Position || loaded.Transform != original.Transform {
		t.Errorf("Expected geometry to survive, got %+v %+v", loaded.Position, loaded.Transform)
	}
	if loaded.Color != original.Color || loaded.Target != original.Target || !loaded.Veteran || loaded.Level != 3 {
		t.Errorf("Expected scalars to survive, got %+v", loaded)
	}
	if len(loaded.Guards) != 3 || loaded.Guards[2] != 9 {
		t.Errorf("Expected guards [7 8 9], got %v", loaded.Guards)
	}
	if len(reg.snapshots) != 1 {
		t.Errorf("Expected 1 post-process registration, got %d", len(reg.snapshots))
	}
}

// TestNoPostProcessingOption tests that the option keeps snapshots off the registry
func TestNoPostProcessingOption(t *testing.T) {
	var buf bytes.Buffer
	NewSave(&buf).Snapshot(sampleUnit())

	reg := &registry{}
	load := NewLoad(&buf, WithPostProcess(reg), WithOptions(NoPostProcessing))
	if err := load.Snapshot(&unit{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(reg.snapshots) != 0 {
		t.Errorf("Expected no registrations, got %d", len(reg.snapshots))
	}
}

// TestStringBoundaries tests empty, maximum and over-long strings
func TestStringBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr error
	}{
		{"empty", "", nil},
		{"single", "a", nil},
		{"max length", strings.Repeat("x", MaxStringLength), nil},
		{"too long", strings.Repeat("x", MaxStringLength+1), ErrStringTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			value := tt.value
			err := NewSave(&buf).AsciiString(&value)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr != nil {
				return
			}
			if buf.Len() != len(tt.value)+1 {
				t.Errorf("Expected %d bytes, got %d", len(tt.value)+1, buf.Len())
			}

			got := "stale"
			if err := NewLoad(&buf).AsciiString(&got); err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if got != tt.value {
				t.Errorf("Expected %q, got %q", tt.value, got)
			}
		})
	}
}

// TestUnicodeStringLimit tests that the limit counts UTF-16 units
func TestUnicodeStringLimit(t *testing.T) {
	value := strings.Repeat("é", MaxStringLength)
	var buf bytes.Buffer
	if err := NewSave(&buf).UnicodeString(&value); err != nil {
		t.Fatalf("Expected 255 units to fit, got %v", err)
	}
	if buf.Len() != 1+2*MaxStringLength {
		t.Errorf("Expected %d bytes, got %d", 1+2*MaxStringLength, buf.Len())
	}

	tooLong := value + "é"
	if err := NewSave(&bytes.Buffer{}).UnicodeString(&tooLong); !errors.Is(err, ErrStringTooLong) {
		t.Errorf("Expected ErrStringTooLong, got %v", err)
	}
}

// TestVersionMonotonicity tests that newer stored versions are rejected
func TestVersionMonotonicity(t *testing.T) {
	for _, stored := range []Version{1, 2, 3, 200} {
		var buf bytes.Buffer
		v := stored
		NewSave(&buf).Version(&v, stored)

		got := Version(0)
		err := NewLoad(&buf).Version(&got, 2)
		if stored <= 2 {
			if err != nil || got != stored {
				t.Errorf("Version %d: expected success, got %d/%v", stored, got, err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidVersion) {
			t.Errorf("Version %d: expected ErrInvalidVersion, got %v", stored, err)
		}
	}
}

// TestErrorsAreSticky tests that primitives after a failure do nothing
func TestErrorsAreSticky(t *testing.T) {
	load := NewLoad(bytes.NewReader([]byte{1}))
	var v int32
	if err := load.Int(&v); !errors.Is(err, ErrReadError) {
		t.Fatalf("Expected ErrReadError, got %v", err)
	}
	var b uint8 = 9
	if err := load.Uint8(&b); !errors.Is(err, ErrReadError) {
		t.Errorf("Expected sticky ErrReadError, got %v", err)
	}
	if b != 9 {
		t.Errorf("Expected value untouched after failure, got %d", b)
	}
}

// TestZeroXferIsModeUnknown tests the zero value fails cleanly
func TestZeroXferIsModeUnknown(t *testing.T) {
	var x Xfer
	var v int32
	if err := x.Int(&v); !errors.Is(err, ErrModeUnknown) {
		t.Errorf("Expected ErrModeUnknown, got %v", err)
	}
	if x.Mode() != ModeInvalid {
		t.Errorf("Expected invalid mode, got %s", x.Mode())
	}
}

// TestListNotEmpty tests that loading into a populated list fails
func TestListNotEmpty(t *testing.T) {
	ids := []sim.ObjectID{1, 2}
	var buf bytes.Buffer
	NewSave(&buf).ObjectIDList(&ids)

	dest := []sim.ObjectID{99}
	if err := NewLoad(&buf).ObjectIDList(&dest); !errors.Is(err, ErrListNotEmpty) {
		t.Errorf("Expected ErrListNotEmpty, got %v", err)
	}
}

// TestIntListAndEmptyList tests the int list and the zero-length case
func TestIntListAndEmptyList(t *testing.T) {
	values := []int32{-1, 0, 1 << 30}
	var empty []sim.ObjectID
	var buf bytes.Buffer
	save := NewSave(&buf)
	save.IntList(&values)
	save.ObjectIDList(&empty)
	if save.Err() != nil {
		t.Fatalf("Save failed: %v", save.Err())
	}

	var gotValues []int32
	var gotIDs []sim.ObjectID
	load := NewLoad(&buf)
	load.IntList(&gotValues)
	load.ObjectIDList(&gotIDs)
	if load.Err() != nil {
		t.Fatalf("Load failed: %v", load.Err())
	}
	if len(gotValues) != 3 || gotValues[2] != 1<<30 {
		t.Errorf("Expected %v, got %v", values, gotValues)
	}
	if len(gotIDs) != 0 {
		t.Errorf("Expected empty list, got %v", gotIDs)
	}
}

// TestNameStability tests that name-keyed values survive a reordered table
func TestNameStability(t *testing.T) {
	saveNames := Names{
		KindOf:   NewCatalog("STRUCTURE", "INFANTRY", "VEHICLE", "AIRCRAFT"),
		Upgrades: NewCatalog("Upgrade_Radar", "Upgrade_Armor", "Upgrade_Nuke"),
		Sciences: NewCatalog("SCIENCE_Paradrop", "SCIENCE_Artillery", "SCIENCE_Emp"),
	}
	loadNames := Names{
		KindOf:   NewCatalog("AIRCRAFT", "VEHICLE", "INFANTRY", "STRUCTURE"),
		Upgrades: NewCatalog("Upgrade_Nuke", "Upgrade_Extra", "Upgrade_Radar", "Upgrade_Armor"),
		Sciences: NewCatalog("SCIENCE_Emp", "SCIENCE_Paradrop", "SCIENCE_Artillery"),
	}

	kind := sim.KindOf(2) // VEHICLE
	mask := bitset.New(8)
	mask.Set(0).Set(2) // Radar, Nuke
	science := sim.Science(1) // Artillery
	sciences := []sim.Science{0, 2}

	var buf bytes.Buffer
	save := NewSave(&buf, WithNames(saveNames))
	save.KindOf(&kind)
	save.UpgradeMask(mask)
	save.ScienceType(&science)
	save.ScienceVec(&sciences)
	if save.Err() != nil {
		t.Fatalf("Save failed: %v", save.Err())
	}

	var gotKind sim.KindOf
	gotMask := bitset.New(8)
	gotMask.Set(5)
	var gotScience sim.Science
	gotSciences := []sim.Science{2}
	load := NewLoad(&buf, WithNames(loadNames))
	load.KindOf(&gotKind)
	load.UpgradeMask(gotMask)
	load.ScienceType(&gotScience)
	load.ScienceVec(&gotSciences)
	if load.Err() != nil {
		t.Fatalf("Load failed: %v", load.Err())
	}

	if name, _ := loadNames.KindOf.Name(int(gotKind)); name != "VEHICLE" {
		t.Errorf("Expected VEHICLE, got %s", name)
	}
	var upgrades []string
	for bit, ok := gotMask.NextSet(0); ok; bit, ok = gotMask.NextSet(bit + 1) {
		name, _ := loadNames.Upgrades.Name(int(bit))
		upgrades = append(upgrades, name)
	}
	if len(upgrades) != 2 || upgrades[0] != "Upgrade_Nuke" || upgrades[1] != "Upgrade_Radar" {
		t.Errorf("Expected [Upgrade_Nuke Upgrade_Radar], got %v", upgrades)
	}
	if name, _ := loadNames.Sciences.Name(int(gotScience)); name != "SCIENCE_Artillery" {
		t.Errorf("Expected SCIENCE_Artillery, got %s", name)
	}
	if len(gotSciences) != 2 {
		t.Fatalf("Expected 2 sciences, got %v", gotSciences)
	}
	first, _ := loadNames.Sciences.Name(int(gotSciences[0]))
	second, _ := loadNames.Sciences.Name(int(gotSciences[1]))
	if first != "SCIENCE_Paradrop" || second != "SCIENCE_Emp" {
		t.Errorf("Expected [SCIENCE_Paradrop SCIENCE_Emp], got [%s %s]", first, second)
	}
}

// TestUnknownNameOnLoad tests that a name missing from the table is fatal
func TestUnknownNameOnLoad(t *testing.T) {
	science := sim.Science(0)
	var buf bytes.Buffer
	NewSave(&buf, WithNames(Names{Sciences: NewCatalog("SCIENCE_Removed")})).ScienceType(&science)

	var got sim.Science
	err := NewLoad(&buf, WithNames(Names{Sciences: NewCatalog("SCIENCE_Other")})).ScienceType(&got)
	if !errors.Is(err, ErrUnknownString) {
		t.Errorf("Expected ErrUnknownString, got %v", err)
	}
}

// TestCRCDeterminism tests that equal graphs fold to equal checksums
func TestCRCDeterminism(t *testing.T) {
	a, b := NewCRC(), NewCRC()
	a.Snapshot(sampleUnit())
	b.Snapshot(sampleUnit())
	if a.CRC() != b.CRC() {
		t.Errorf("Expected equal CRCs, got %08x and %08x", a.CRC(), b.CRC())
	}
	if a.CRC() == 0 {
		t.Error("Expected a non-zero CRC")
	}

	changed := sampleUnit()
	changed.Kills++
	c := NewCRC()
	c.Snapshot(changed)
	if c.CRC() == a.CRC() {
		t.Error("Expected CRC to change with the data")
	}
}

// TestUpgradeMaskCRCIgnoresCapacity tests that equal masks checksum the same
// whatever their allocated length
func TestUpgradeMaskCRCIgnoresCapacity(t *testing.T) {
	small := bitset.New(1)
	small.Set(0)
	large := bitset.New(256)
	large.Set(0)

	a, b := NewCRC(), NewCRC()
	a.UpgradeMask(small)
	b.UpgradeMask(large)
	if a.Err() != nil || b.Err() != nil {
		t.Fatalf("CRC failed: %v, %v", a.Err(), b.Err())
	}
	if a.CRC() != b.CRC() {
		t.Errorf("Expected equal CRCs, got %08x and %08x", a.CRC(), b.CRC())
	}

	large.Set(200)
	c := NewCRC()
	c.UpgradeMask(large)
	if c.CRC() == a.CRC() {
		t.Error("Expected CRC to change with the set bits")
	}
}

// TestCRCFold tests the rotate-and-add arithmetic directly
func TestCRCFold(t *testing.T) {
	x := NewCRC()
	x.User([]byte{0x80, 0, 0, 0})
	if x.CRC() != 0x80000000 {
		t.Fatalf("Expected 0x80000000, got %08x", x.CRC())
	}
	x.User([]byte{0, 0, 0, 1})
	// high bit rotates into bit 0: (0x80000000<<1) + 1 + 1
	if x.CRC() != 2 {
		t.Errorf("Expected 2, got %08x", x.CRC())
	}
	x.User([]byte{0xAB})
	if x.CRC() != 4+0xAB000000 {
		t.Errorf("Expected padded tail, got %08x", x.CRC())
	}
}

// TestBlocksAndSkip tests size-prefixed blocks and skipping an unknown one
func TestBlocksAndSkip(t *testing.T) {
	var buf bytes.Buffer
	save := NewSave(&buf)
	save.BeginBlock()
	first := "skip me"
	save.AsciiString(&first)
	save.BeginBlock()
	nested := int32(5)
	save.Int(&nested)
	save.EndBlock()
	save.EndBlock()
	second := "keep me"
	save.AsciiString(&second)
	if save.Err() != nil {
		t.Fatalf("Save failed: %v", save.Err())
	}

	load := NewLoad(&buf)
	size, err := load.BeginBlock()
	if err != nil {
		t.Fatalf("BeginBlock failed: %v", err)
	}
	wantSize := int32(1 + len(first) + 4 + 4)
	if size != wantSize {
		t.Errorf("Expected block size %d, got %d", wantSize, size)
	}
	load.Skip(size)
	var got string
	load.AsciiString(&got)
	if load.Err() != nil || got != second {
		t.Errorf("Expected %q after skip, got %q (%v)", second, got, load.Err())
	}
}

// TestEndBlockWithoutBegin tests unbalanced block calls
func TestEndBlockWithoutBegin(t *testing.T) {
	save := NewSave(&bytes.Buffer{})
	if err := save.EndBlock(); !errors.Is(err, ErrBlockMismatch) {
		t.Errorf("Expected ErrBlockMismatch, got %v", err)
	}
}

// TestFileOpenErrors tests missing files and double opens
func TestFileOpenErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := OpenLoad(filepath.Join(dir, "missing.sav")); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}

	path := filepath.Join(dir, "one.sav")
	save, err := CreateSave(path, false)
	if err != nil {
		t.Fatalf("CreateSave failed: %v", err)
	}
	v := int32(1)
	save.Int(&v)
	if err := save.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	load, err := OpenLoad(path)
	if err != nil {
		t.Fatalf("OpenLoad failed: %v", err)
	}
	defer load.Close()
	if err := load.Open(path); !errors.Is(err, ErrFileAlreadyOpen) {
		t.Errorf("Expected ErrFileAlreadyOpen, got %v", err)
	}
}

// TestCompressedFileRoundTrip tests lz4 save files are detected on load
func TestCompressedFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packed.sav")

	save, err := CreateSave(path, true)
	if err != nil {
		t.Fatalf("CreateSave failed: %v", err)
	}
	save.Snapshot(sampleUnit())
	if err := save.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	load, err := OpenLoad(path)
	if err != nil {
		t.Fatalf("OpenLoad failed: %v", err)
	}
	defer load.Close()
	got := &unit{}
	if err := load.Snapshot(got); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Name != "Alpha" {
		t.Errorf("Expected Alpha, got %q", got.Name)
	}
}

type fakePaths struct{}

func (fakePaths) RealMapPathToPortableMapPath(p string) string {
	return "maps\\" + strings.ToLower(filepath.Base(p))
}

func (fakePaths) PortableMapPathToRealMapPath(p string) string {
	return filepath.Join("/games/maps", strings.TrimPrefix(p, "maps\\"))
}

// TestMapNameTranslation tests that map names are stored portably
func TestMapNameTranslation(t *testing.T) {
	name := "/home/user/Maps/Tournament Desert.map"
	var buf bytes.Buffer
	NewSave(&buf, WithPaths(fakePaths{})).MapName(&name)

	var stored string
	NewLoad(bytes.NewReader(buf.Bytes())).AsciiString(&stored)
	if stored != "maps\\tournament desert.map" {
		t.Errorf("Expected portable name, got %q", stored)
	}

	var got string
	NewLoad(&buf, WithPaths(fakePaths{})).MapName(&got)
	if got != filepath.Join("/games/maps", "tournament desert.map") {
		t.Errorf("Expected real path, got %q", got)
	}
}
