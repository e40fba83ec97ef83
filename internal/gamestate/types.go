package gamestate

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveCode is the outcome of a save directory operation. Expected failures
// are reported here instead of as errors so callers can branch on them.
type SaveCode int

const (
	SCOk SaveCode = iota
	SCNoFileAvailable
	SCFileNotFound
	SCUnableToOpenFile
	SCInvalidXfer
	SCUnknownBlock
	SCInvalidData
	SCError
)

// String returns the save code name
func (c SaveCode) String() string {
	switch c {
	case SCOk:
		return "ok"
	case SCNoFileAvailable:
		return "no_file_available"
	case SCFileNotFound:
		return "file_not_found"
	case SCUnableToOpenFile:
		return "unable_to_open_file"
	case SCInvalidXfer:
		return "invalid_xfer"
	case SCUnknownBlock:
		return "unknown_block"
	case SCInvalidData:
		return "invalid_data"
	case SCError:
		return "error"
	default:
		return fmt.Sprintf("save_code(%d)", int(c))
	}
}

// SnapshotType selects which registered block list a pass walks.
type SnapshotType int

const (
	// SnapshotSaveLoad is the full save game.
	SnapshotSaveLoad SnapshotType = iota
	// SnapshotDeepCRCLogicOnly covers only simulation state.
	SnapshotDeepCRCLogicOnly
	// SnapshotDeepCRC covers simulation and client state.
	SnapshotDeepCRC

	snapshotTypeCount
)

// String returns the snapshot type name
func (s SnapshotType) String() string {
	switch s {
	case SnapshotSaveLoad:
		return "saveload"
	case SnapshotDeepCRCLogicOnly:
		return "deepcrc_logic"
	case SnapshotDeepCRC:
		return "deepcrc"
	default:
		return "invalid"
	}
}

// Valid reports whether s names a block list.
func (s SnapshotType) Valid() bool {
	return s >= 0 && s < snapshotTypeCount
}

// SaveFileType distinguishes player saves from automatic mission saves.
type SaveFileType int32

const (
	SaveFileNormal SaveFileType = iota
	SaveFileMission
)

// SaveDate is the wall-clock time a save was written, stored field by field.
type SaveDate struct {
	Year         uint16
	Month        uint16
	Day          uint16
	DayOfWeek    uint16
	Hour         uint16
	Minute       uint16
	Second       uint16
	Milliseconds uint16
}

// DateFromTime converts t to a SaveDate.
func DateFromTime(t time.Time) SaveDate {
	return SaveDate{
		Year:         uint16(t.Year()),
		Month:        uint16(t.Month()),
		Day:          uint16(t.Day()),
		DayOfWeek:    uint16(t.Weekday()),
		Hour:         uint16(t.Hour()),
		Minute:       uint16(t.Minute()),
		Second:       uint16(t.Second()),
		Milliseconds: uint16(t.Nanosecond() / int(time.Millisecond)),
	}
}

// Time returns the date as a time in loc.
func (d SaveDate) Time(loc *time.Location) time.Time {
	return time.Date(int(d.Year), time.Month(d.Month), int(d.Day),
		int(d.Hour), int(d.Minute), int(d.Second), int(d.Milliseconds)*int(time.Millisecond), loc)
}

// IsNewerThan reports whether d is strictly later than other.
func (d SaveDate) IsNewerThan(other SaveDate) bool {
	a := [...]uint16{d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second, d.Milliseconds}
	b := [...]uint16{other.Year, other.Month, other.Day, other.Hour, other.Minute, other.Second, other.Milliseconds}
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// SaveGameInfo is the metadata stored in a save's game state block.
type SaveGameInfo struct {
	SaveID         uuid.UUID
	SaveFileType   SaveFileType
	MissionMapName string
	Date           SaveDate
	Description    string
	MapLabel       string
	CampaignSide   string
	MissionNumber  int32
}

// AvailableGameInfo describes one save file on disk.
type AvailableGameInfo struct {
	Filename     string
	SaveGameInfo SaveGameInfo
}
